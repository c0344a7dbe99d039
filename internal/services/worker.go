package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pagewise/analysisflow/internal/analysis"
	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/extract"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/queue"
	"github.com/pagewise/analysisflow/internal/store"
)

// WorkerConfig holds the tuning knobs for page processing.
type WorkerConfig struct {
	// MaxAnalysisAttempts bounds the retry budget per page. Only rate-limit
	// signals are retried.
	MaxAnalysisAttempts int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	// PageConcurrency bounds parallel page analysis. 1 processes pages
	// sequentially in page-number order.
	PageConcurrency int
	// InterPageDelay optionally spaces sequential page calls to respect
	// external rate limits.
	InterPageDelay time.Duration
}

// DefaultWorkerConfig returns the worker defaults: three attempts starting at
// one second, sequential pages.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxAnalysisAttempts: 3,
		RetryBaseDelay:      time.Second,
		PageConcurrency:     1,
	}
}

// ChunkWorker consumes document submissions, fans out per page, and advances
// the shared processed counter. Many workers may run concurrently; none holds
// a lock on a document, the atomic counter is the only coordination point.
type ChunkWorker struct {
	store     store.StatusStore
	blobs     blob.Store
	extractor extract.PageExtractor
	analyzer  analysis.Analyzer
	config    WorkerConfig
}

// NewChunkWorker creates a ChunkWorker.
func NewChunkWorker(s store.StatusStore, b blob.Store, e extract.PageExtractor, a analysis.Analyzer, cfg WorkerConfig) *ChunkWorker {
	if cfg.MaxAnalysisAttempts < 1 {
		cfg.MaxAnalysisAttempts = 1
	}
	if cfg.PageConcurrency < 1 {
		cfg.PageConcurrency = 1
	}
	return &ChunkWorker{store: s, blobs: b, extractor: e, analyzer: a, config: cfg}
}

// Handler adapts the worker to the submit log consumer.
func (w *ChunkWorker) Handler() queue.Handler {
	return func(ctx context.Context, ev *models.DocumentSubmittedEvent) error {
		return w.ProcessDocument(ctx, ev.DocumentID, ev.TenantID, ev.BlobKey)
	}
}

// ProcessDocument runs one document end to end: download, extract, analyze
// each page, record outcomes, advance the counter. It never performs the
// completion transition itself; that belongs to the aggregator.
func (w *ChunkWorker) ProcessDocument(ctx context.Context, docID, tenantID, blobKey string) error {
	logCtx := slog.With("documentId", docID, "tenantId", tenantID)
	logCtx.Info("Processing submitted document.", "blobKey", blobKey)

	// Redelivered submissions for a document that already ran to a terminal
	// state are acknowledged without reprocessing.
	if rec, err := w.store.GetDocument(ctx, docID); err == nil && models.IsTerminalStatus(rec.OverallStatus) {
		logCtx.Info("Document already terminal. Skipping redelivery.", "status", rec.OverallStatus)
		return nil
	}

	if err := w.store.UpdateOverallStatus(ctx, docID, models.StatusProcessing, nil); err != nil {
		logCtx.Error("Failed to transition document to PROCESSING", "error", err)
		return err
	}
	if err := w.store.UpdateFileStatus(ctx, docID, models.FileStatusProcessing); err != nil {
		logCtx.Warn("Failed to advance file record status.", "error", err)
	}

	// Download and extraction failures are catastrophic: no page was
	// enumerated, the counter is never touched, so no aggregation can be
	// falsely triggered.
	data, err := w.blobs.Get(ctx, blobKey)
	if err != nil {
		return w.failDocument(ctx, logCtx, docID, "failed to download source blob", err)
	}

	pages, err := w.extractor.ExtractPages(ctx, data)
	if err != nil {
		return w.failDocument(ctx, logCtx, docID, "failed to extract pages", err)
	}
	if len(pages) == 0 {
		return w.failDocument(ctx, logCtx, docID, "document contains no pages", errors.New("empty extraction result"))
	}

	// Set, not add: extraction retries after redelivery land on the same
	// total.
	if err := w.store.SetTotalPages(ctx, docID, len(pages)); err != nil {
		return w.failDocument(ctx, logCtx, docID, "failed to record total pages", err)
	}
	logCtx.Info("Pages extracted.", "totalPages", len(pages))

	if w.config.PageConcurrency <= 1 {
		for i, page := range pages {
			w.processPage(ctx, logCtx, docID, tenantID, page)
			if w.config.InterPageDelay > 0 && i < len(pages)-1 {
				select {
				case <-time.After(w.config.InterPageDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.config.PageConcurrency)
	for _, page := range pages {
		eg.Go(func() error {
			w.processPage(gctx, logCtx, docID, tenantID, page)
			return nil
		})
	}
	return eg.Wait()
}

// processPage analyzes one page and records its outcome. Per-page failures
// are absorbed into an explicit failure marker, never propagated past this
// loop. The processed counter advances on every path, so the total is always
// eventually reached and the document cannot hang in PROCESSING.
func (w *ChunkWorker) processPage(ctx context.Context, logCtx *slog.Logger, docID, tenantID string, page extract.PageContent) {
	defer func() {
		if _, err := w.store.IncrementProcessed(ctx, docID); err != nil {
			logCtx.Error("CRITICAL: Failed to advance processed counter; completion detection for this document may stall.",
				"pageNumber", page.PageNumber, "error", err)
		}
	}()

	var outcome models.PageOutcome
	payload, err := w.analyzeWithRetry(ctx, page.Data)
	if err != nil {
		logCtx.Warn("Page analysis failed. Recording failure marker.", "pageNumber", page.PageNumber, "error", err)
		outcome = models.FailureOutcome(err.Error(), time.Now().UTC())
		if ferr := w.store.IncrementFailed(ctx, docID); ferr != nil {
			logCtx.Error("Failed to advance failed-page counter.", "pageNumber", page.PageNumber, "error", ferr)
		}
	} else {
		outcome = models.SuccessOutcome(payload)
	}

	rec := &models.PageRecord{
		DocumentID: docID,
		TenantID:   tenantID,
		PageNumber: page.PageNumber,
		Outcome:    outcome,
	}
	if err := w.store.RecordPage(ctx, rec); err != nil {
		// Absorbed: the counter still advances and the aggregator's
		// re-verification guard keeps the document in PROCESSING until a
		// retry lands the row.
		logCtx.Error("Failed to record page outcome.", "pageNumber", page.PageNumber, "error", err)
	}
}

// analyzeWithRetry calls the analysis service with a bounded retry budget.
// Only the rate-limit signal is retried, with a doubling backoff.
func (w *ChunkWorker) analyzeWithRetry(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
	backoff := w.config.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= w.config.MaxAnalysisAttempts; attempt++ {
		payload, err := w.analyzer.AnalyzePage(ctx, pageData)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, analysis.ErrRateLimited) {
			return nil, err
		}
		lastErr = err
		if attempt == w.config.MaxAnalysisAttempts {
			break
		}
		slog.Warn("Analysis rate limited, will retry.",
			"attempt", attempt,
			"maxAttempts", w.config.MaxAnalysisAttempts,
			"backoff", backoff.String(),
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("analysis rate limited after %d attempts: %w", w.config.MaxAnalysisAttempts, lastErr)
}

// failDocument marks the document and its file record FAILED and returns the
// wrapped error for the caller to surface.
func (w *ChunkWorker) failDocument(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	fields := &store.StatusFields{ErrorDetails: fullError}
	if err := w.store.UpdateOverallStatus(ctx, docID, models.StatusFailed, fields); err != nil {
		logCtx.Error("CRITICAL: Failed to update status to FAILED after a processing error.", "updateError", err)
	}
	if err := w.store.UpdateFileStatus(ctx, docID, models.FileStatusFailed); err != nil {
		logCtx.Error("Failed to update file record to FAILED.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}
