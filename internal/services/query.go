package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/store"
)

// ErrResultNotReady is returned by Result until the document reaches
// COMPLETED.
var ErrResultNotReady = errors.New("result not ready")

// StatusQuery serves the read-only surface over the pipeline's output: job
// status, tenant job listings, and manifest download. It is a pure reader and
// imposes no contract on the coordination core.
type StatusQuery struct {
	store store.StatusStore
	blobs blob.Store
}

// NewStatusQuery creates a StatusQuery.
func NewStatusQuery(s store.StatusStore, b blob.Store) *StatusQuery {
	return &StatusQuery{store: s, blobs: b}
}

// JobStatus returns the status record for a document. The status is always
// one of the finite state set; absence surfaces as store.ErrNotFound.
func (q *StatusQuery) JobStatus(ctx context.Context, docID string) (*models.DocumentStatusRecord, error) {
	return q.store.GetDocument(ctx, docID)
}

// ListJobs returns a tenant's uploads, most recent first.
func (q *StatusQuery) ListJobs(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error) {
	return q.store.ListFilesByTenant(ctx, tenantID, limit)
}

// Result returns the manifest bytes for a completed document, or
// ErrResultNotReady while the document is still in flight.
func (q *StatusQuery) Result(ctx context.Context, docID string) ([]byte, error) {
	rec, err := q.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if rec.OverallStatus != models.StatusCompleted || rec.ResultKey == "" {
		return nil, fmt.Errorf("document %s is %s: %w", docID, rec.OverallStatus, ErrResultNotReady)
	}
	return q.blobs.Get(ctx, rec.ResultKey)
}
