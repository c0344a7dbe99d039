package models

import "time"

// Lifecycle states for a FileRecord.
const (
	FileStatusUploaded   = "UPLOADED"
	FileStatusProcessing = "PROCESSING"
	FileStatusCompleted  = "COMPLETED"
	FileStatusFailed     = "FAILED"
)

// Overall states for a DocumentStatusRecord. COMPLETED and FAILED are
// terminal; AGGREGATING may slide back to PROCESSING when the page rows are
// not yet all visible to a query.
const (
	StatusPending     = "PENDING"
	StatusProcessing  = "PROCESSING"
	StatusAggregating = "AGGREGATING"
	StatusCompleted   = "COMPLETED"
	StatusFailed      = "FAILED"
)

// Processing modes recorded on a FileRecord.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// IsTerminalStatus reports whether no further status transitions are meaningful.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// FileRecord is the per-upload record. It is created once at ingest and
// mutated only to advance its lifecycle status.
type FileRecord struct {
	DocumentID       string    `firestore:"documentId" json:"documentId"`
	TenantID         string    `firestore:"tenantId" json:"tenantId"`
	OriginalFilename string    `firestore:"originalFilename" json:"originalFilename"`
	SizeBytes        int64     `firestore:"sizeBytes" json:"sizeBytes"`
	FileHash         string    `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	BlobKey          string    `firestore:"blobKey" json:"blobKey"`
	Mode             string    `firestore:"mode" json:"mode"`
	Status           string    `firestore:"status" json:"status"`
	CreatedAt        time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// DocumentStatusRecord is the single coordination point for a document.
// Every completion decision derives from comparing ProcessedPages against
// TotalPages on this record. TotalPages stays zero until extraction finishes,
// and a zero total must never satisfy a completion check.
type DocumentStatusRecord struct {
	DocumentID     string    `firestore:"documentId" json:"documentId"`
	TenantID       string    `firestore:"tenantId" json:"tenantId"`
	TotalPages     int       `firestore:"totalPages" json:"totalPages"`
	ProcessedPages int       `firestore:"processedPages" json:"processedPages"`
	FailedPages    int       `firestore:"failedPages" json:"failedPages"`
	OverallStatus  string    `firestore:"overallStatus" json:"overallStatus"`
	ResultKey      string    `firestore:"resultKey,omitempty" json:"resultKey,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt" json:"updatedAt"`
	CompletedAt    time.Time `firestore:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// ReadyForAggregation reports whether this record satisfies the completion
// predicate: a known non-zero total, every enumerated page counted, and the
// document still in PROCESSING. The counter is a liveness signal, not proof
// that every page row is durably visible; the aggregator re-verifies.
func (r *DocumentStatusRecord) ReadyForAggregation() bool {
	return r.TotalPages > 0 &&
		r.ProcessedPages == r.TotalPages &&
		r.OverallStatus == StatusProcessing
}

// PageRecord is one page's analysis outcome. It is written exactly once per
// page by the worker that processed it (last write wins on redelivery); a
// page is visible only once its outcome is fully written.
type PageRecord struct {
	DocumentID string      `firestore:"documentId" json:"documentId"`
	TenantID   string      `firestore:"tenantId" json:"tenantId"`
	PageNumber int         `firestore:"pageNumber" json:"pageNumber"`
	Outcome    PageOutcome `firestore:"outcome" json:"outcome"`
}
