package models

import (
	"fmt"
	"time"
)

// Manifest is the single aggregated result for a document, listing every
// page outcome ordered by page number. It is written in full to a
// deterministic key, so concurrent aggregation attempts overwrite each other
// with identical content.
type Manifest struct {
	DocumentID   string          `json:"documentId"`
	TenantID     string          `json:"tenantId"`
	TotalPages   int             `json:"totalPages"`
	SuccessCount int             `json:"successCount"`
	FailedCount  int             `json:"failedCount"`
	CompletedAt  time.Time       `json:"completedAt"`
	Pages        []ManifestEntry `json:"pages"`
}

// ManifestEntry is one page's line in the manifest.
type ManifestEntry struct {
	PageNumber int              `json:"pageNumber"`
	Succeeded  bool             `json:"succeeded"`
	Analysis   *AnalysisPayload `json:"analysis,omitempty"`
	Failure    *FailureMarker   `json:"failure,omitempty"`
}

// ManifestKey is the deterministic, tenant-scoped blob location for a
// document's manifest.
func ManifestKey(tenantID, documentID string) string {
	return fmt.Sprintf("%s/%s/results.json", tenantID, documentID)
}
