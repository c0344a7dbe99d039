package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/store"
)

// Aggregator assembles the final manifest for a document believed complete.
// It is safe under duplicate and concurrent invocation: the AGGREGATING
// compare-and-swap admits one attempt at a time, the page re-verification
// guard handles the counter outrunning row visibility, and the manifest write
// is a full overwrite of a deterministic key.
type Aggregator struct {
	store store.StatusStore
	blobs blob.Store
}

// NewAggregator creates an Aggregator.
func NewAggregator(s store.StatusStore, b blob.Store) *Aggregator {
	return &Aggregator{store: s, blobs: b}
}

// AggregateResults verifies completeness, builds the manifest, persists it,
// and performs the terminal transition. A nil return does not imply the
// document completed: losing the status swap or hitting the visibility guard
// are clean no-ops, retried by a later trigger.
func (a *Aggregator) AggregateResults(ctx context.Context, docID, tenantID string, totalPages int) error {
	logCtx := slog.With("documentId", docID, "tenantId", tenantID)

	// --- 1. Claim the document. Losing the swap means another trigger is
	// already aggregating, or the document reached a terminal state. ---
	err := a.store.TransitionStatus(ctx, docID, models.StatusProcessing, models.StatusAggregating, nil)
	if errors.Is(err, store.ErrPreconditionFailed) {
		logCtx.Info("Aggregation already claimed or document terminal. Skipping duplicate trigger.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim document for aggregation: %w", err)
	}
	logCtx.Info("Starting aggregation.", "totalPages", totalPages)

	// --- 2. Fetch the page rows the counter claims exist. ---
	pages, err := a.store.GetPages(ctx, docID)
	if err != nil {
		return a.failAggregation(ctx, logCtx, docID, "failed to fetch page records", err)
	}

	// --- 3. Re-verification guard: the counter is a liveness signal, not
	// proof of durability. If fewer rows are visible than the total, the
	// counter outran the page writes; slide back to PROCESSING and let a
	// later poll or feed event retry once the rows land. ---
	if len(pages) < totalPages {
		logCtx.Warn("Page rows not yet all visible. Deferring aggregation.",
			"visiblePages", len(pages), "totalPages", totalPages)
		if err := a.store.TransitionStatus(ctx, docID, models.StatusAggregating, models.StatusProcessing, nil); err != nil {
			return a.failAggregation(ctx, logCtx, docID, "failed to release aggregation claim", err)
		}
		return nil
	}

	// --- 4. Build the manifest, ordered by page number. ---
	manifest := buildManifest(docID, tenantID, totalPages, pages)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return a.failAggregation(ctx, logCtx, docID, "failed to marshal manifest", err)
	}

	// --- 5. Persist to the deterministic result key. Duplicate writers
	// produce identical content, so last write wins harmlessly. ---
	resultKey := models.ManifestKey(tenantID, docID)
	if err := a.blobs.Put(ctx, resultKey, data, "application/json"); err != nil {
		return a.failAggregation(ctx, logCtx, docID, "failed to persist manifest", err)
	}

	// --- 6. Terminal transition. ---
	fields := &store.StatusFields{ResultKey: resultKey}
	if err := a.store.UpdateOverallStatus(ctx, docID, models.StatusCompleted, fields); err != nil {
		return a.failAggregation(ctx, logCtx, docID, "failed to record completion", err)
	}
	if err := a.store.UpdateFileStatus(ctx, docID, models.FileStatusCompleted); err != nil {
		logCtx.Warn("Failed to advance file record status.", "error", err)
	}

	logCtx.Info("Aggregation complete.",
		"resultKey", resultKey,
		"successCount", manifest.SuccessCount,
		"failedCount", manifest.FailedCount,
	)
	return nil
}

func buildManifest(docID, tenantID string, totalPages int, pages []*models.PageRecord) *models.Manifest {
	manifest := &models.Manifest{
		DocumentID:  docID,
		TenantID:    tenantID,
		TotalPages:  totalPages,
		CompletedAt: time.Now().UTC(),
		Pages:       make([]models.ManifestEntry, 0, len(pages)),
	}
	for _, page := range pages {
		entry := models.ManifestEntry{
			PageNumber: page.PageNumber,
			Succeeded:  page.Outcome.Succeeded,
			Analysis:   page.Outcome.Analysis,
			Failure:    page.Outcome.Failure,
		}
		if entry.Succeeded {
			manifest.SuccessCount++
		} else {
			manifest.FailedCount++
		}
		manifest.Pages = append(manifest.Pages, entry)
	}
	return manifest
}

// failAggregation records the failure on the status record and re-raises the
// error for operator visibility.
func (a *Aggregator) failAggregation(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	fields := &store.StatusFields{ErrorDetails: fullError}
	if err := a.store.UpdateOverallStatus(ctx, docID, models.StatusFailed, fields); err != nil {
		logCtx.Error("CRITICAL: Failed to update status to FAILED after an aggregation error.", "updateError", err)
	}
	if err := a.store.UpdateFileStatus(ctx, docID, models.FileStatusFailed); err != nil {
		logCtx.Error("Failed to update file record to FAILED.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}
