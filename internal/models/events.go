package models

// These structs define the JSON payloads carried between the ingest function,
// the submit log, and the completion trigger.

// DocumentSubmittedEvent is published to the submit log once an upload has
// been registered and its source blob is in place.
type DocumentSubmittedEvent struct {
	DocumentID string `json:"documentId"`
	TenantID   string `json:"tenantId"`
	BlobKey    string `json:"blobKey"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// StatusChangeEvent is the change-feed entry for a DocumentStatusRecord
// mutation: before and after images with at-least-once, possibly duplicate
// delivery. Before is nil for a freshly created record.
type StatusChangeEvent struct {
	DocumentID string                `json:"documentId"`
	Before     *DocumentStatusRecord `json:"before,omitempty"`
	After      *DocumentStatusRecord `json:"after,omitempty"`
}

// GCSEvent is the storage object notification that drives the upload
// ingestor.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
	Size   int64  `json:"size,string,omitempty"`
}
