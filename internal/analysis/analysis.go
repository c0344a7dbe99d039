// Package analysis wraps the external page-analysis service. The only error
// callers are allowed to retry on is ErrRateLimited; everything else is
// terminal for the page.
package analysis

import (
	"context"
	"errors"

	"github.com/pagewise/analysisflow/internal/models"
)

// ErrRateLimited signals the service shed the request and a bounded backoff
// retry is appropriate.
var ErrRateLimited = errors.New("analysis: rate limited")

// Analyzer produces a structured analysis for one page, handed over as a
// standalone single-page document.
type Analyzer interface {
	AnalyzePage(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error)
}
