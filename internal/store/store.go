// Package store holds the durable progress records for documents and pages.
// The DocumentStatusRecord counter is the only resource in the system that
// needs true multi-writer atomicity, so IncrementProcessed is required to be
// a single server-side add, never a client-side read-modify-write.
package store

import (
	"context"
	"errors"

	"github.com/pagewise/analysisflow/internal/models"
)

var (
	// ErrAlreadyExists is returned by CreateStatus when a status record for
	// the document id was already inserted.
	ErrAlreadyExists = errors.New("store: record already exists")

	// ErrNotFound is returned by point reads for absent records.
	ErrNotFound = errors.New("store: record not found")

	// ErrPreconditionFailed is returned by TransitionStatus when the record's
	// current status does not match the expected prior status.
	ErrPreconditionFailed = errors.New("store: status precondition failed")

	// ErrUnavailable wraps transport-level failures. Operations are atomic at
	// the single-record level, so an unavailable store never leaves a partial
	// write behind.
	ErrUnavailable = errors.New("store: unavailable")
)

// StatusFields carries the optional fields written alongside a status
// transition.
type StatusFields struct {
	ResultKey    string
	ErrorDetails string
}

// StatusStore is the durable record store for document-level and page-level
// progress.
type StatusStore interface {
	// CreateStatus inserts a fresh DocumentStatusRecord in PENDING with zero
	// counters. It fails with ErrAlreadyExists on a second insert for the
	// same id; the caller owns that idempotency boundary.
	CreateStatus(ctx context.Context, docID, tenantID string) (*models.DocumentStatusRecord, error)

	// SetTotalPages records the extracted page count. It is a set, not an
	// add, so extraction retries are idempotent.
	SetTotalPages(ctx context.Context, docID string, n int) error

	// RecordPage upserts one page's outcome, overwriting any prior value for
	// that page number. No ordering is guaranteed relative to the counter
	// increment; callers must not assume the page write is visible before a
	// counter update that references it.
	RecordPage(ctx context.Context, rec *models.PageRecord) error

	// IncrementProcessed atomically adds one to the processed-page counter
	// and returns the observed count afterwards. N concurrently completing
	// pages contribute exactly +N.
	IncrementProcessed(ctx context.Context, docID string) (int, error)

	// IncrementFailed atomically adds one to the failed-page counter.
	IncrementFailed(ctx context.Context, docID string) error

	// UpdateOverallStatus unconditionally sets the overall status and any
	// extra fields.
	UpdateOverallStatus(ctx context.Context, docID, status string, fields *StatusFields) error

	// TransitionStatus sets the overall status only if the current status
	// equals from, returning ErrPreconditionFailed otherwise. This is the
	// mutual-exclusion guard for the PROCESSING -> AGGREGATING step.
	TransitionStatus(ctx context.Context, docID, from, to string, fields *StatusFields) error

	// GetDocument returns the status record, or ErrNotFound.
	GetDocument(ctx context.Context, docID string) (*models.DocumentStatusRecord, error)

	// GetPages returns all page records for a document, ordered by page
	// number.
	GetPages(ctx context.Context, docID string) ([]*models.PageRecord, error)

	// ScanReadyForAggregation returns status records where processed == total,
	// total > 0 and the overall status is still PROCESSING. Poll fallback for
	// environments without push delivery of the change feed.
	ScanReadyForAggregation(ctx context.Context) ([]*models.DocumentStatusRecord, error)

	// CreateFile inserts the FileRecord for an upload.
	CreateFile(ctx context.Context, rec *models.FileRecord) error

	// UpdateFileStatus advances a FileRecord's lifecycle status.
	UpdateFileStatus(ctx context.Context, docID, status string) error

	// GetFile returns the FileRecord, or ErrNotFound.
	GetFile(ctx context.Context, docID string) (*models.FileRecord, error)

	// FindFileByHash returns the FileRecord carrying the content hash, or
	// ErrNotFound. Used for duplicate upload suppression.
	FindFileByHash(ctx context.Context, fileHash string) (*models.FileRecord, error)

	// ListFilesByTenant returns a tenant's FileRecords, most recent first.
	ListFilesByTenant(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error)
}
