package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/analysisflow/internal/analysis"
	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/extract"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/store"
)

// stubExtractor fabricates one page per line of the source blob.
type stubExtractor struct {
	err error
}

func (e *stubExtractor) ExtractPages(ctx context.Context, data []byte) ([]extract.PageContent, error) {
	if e.err != nil {
		return nil, e.err
	}
	var pages []extract.PageContent
	for i, line := range splitLines(string(data)) {
		pages = append(pages, extract.PageContent{PageNumber: i + 1, Data: []byte(line)})
	}
	return pages, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// analyzerFunc adapts a function to the Analyzer interface.
type analyzerFunc func(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error)

func (f analyzerFunc) AnalyzePage(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
	return f(ctx, pageData)
}

func okAnalyzer() analyzerFunc {
	return func(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
		return &models.AnalysisPayload{Summary: "summary of " + string(pageData), Sentiment: "neutral"}, nil
	}
}

func fastConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

// registerDocument mirrors what the ingestor does before a submission lands.
func registerDocument(t *testing.T, s *store.MemoryStore, b *blob.MemoryStore, docID, tenantID, content string) string {
	t.Helper()
	ctx := context.Background()
	blobKey := fmt.Sprintf("%s/%s/source.pdf", tenantID, docID)
	require.NoError(t, b.Put(ctx, blobKey, []byte(content), "application/pdf"))
	require.NoError(t, s.CreateFile(ctx, &models.FileRecord{
		DocumentID: docID, TenantID: tenantID, BlobKey: blobKey,
		Status: models.FileStatusUploaded, CreatedAt: time.Now().UTC(),
	}))
	_, err := s.CreateStatus(ctx, docID, tenantID)
	require.NoError(t, err)
	return blobKey
}

func TestProcessDocument_AllPagesSucceed(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a", "page one\npage two\npage three")

	w := NewChunkWorker(s, b, &stubExtractor{}, okAnalyzer(), fastConfig())
	require.NoError(t, w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey))

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.TotalPages)
	assert.Equal(t, 3, rec.ProcessedPages)
	assert.Equal(t, 0, rec.FailedPages)
	assert.Equal(t, models.StatusProcessing, rec.OverallStatus)

	pages, err := s.GetPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for _, p := range pages {
		assert.True(t, p.Outcome.Succeeded)
		require.NotNil(t, p.Outcome.Analysis)
	}
}

func TestProcessDocument_ExhaustedRetriesBecomeFailureMarker(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a", "page one\npage two\npage three")

	// Page two is rate limited on every attempt; the others succeed.
	analyzer := analyzerFunc(func(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
		if string(pageData) == "page two" {
			return nil, fmt.Errorf("generate content: %w", analysis.ErrRateLimited)
		}
		return &models.AnalysisPayload{Summary: string(pageData)}, nil
	})

	w := NewChunkWorker(s, b, &stubExtractor{}, analyzer, fastConfig())
	require.NoError(t, w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey))

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	// The counter reaches the total even though a page failed: the failure is
	// a page-level marker, not a job failure.
	assert.Equal(t, 3, rec.ProcessedPages)
	assert.Equal(t, 1, rec.FailedPages)
	assert.Equal(t, models.StatusProcessing, rec.OverallStatus)

	pages, err := s.GetPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.True(t, pages[0].Outcome.Succeeded)
	assert.False(t, pages[1].Outcome.Succeeded)
	require.NotNil(t, pages[1].Outcome.Failure)
	assert.Contains(t, pages[1].Outcome.Failure.Reason, "rate limited after 3 attempts")
	assert.False(t, pages[1].Outcome.Failure.FailedAt.IsZero())
	assert.True(t, pages[2].Outcome.Succeeded)
}

func TestProcessDocument_RateLimitRecoversWithinBudget(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a", "only page")

	attempts := 0
	analyzer := analyzerFunc(func(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
		attempts++
		if attempts < 3 {
			return nil, analysis.ErrRateLimited
		}
		return &models.AnalysisPayload{Summary: "made it"}, nil
	})

	w := NewChunkWorker(s, b, &stubExtractor{}, analyzer, fastConfig())
	require.NoError(t, w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey))

	assert.Equal(t, 3, attempts)
	pages, err := s.GetPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Outcome.Succeeded)
}

func TestProcessDocument_NonRetryableErrorNotRetried(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a", "only page")

	attempts := 0
	analyzer := analyzerFunc(func(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
		attempts++
		return nil, errors.New("model refused")
	})

	w := NewChunkWorker(s, b, &stubExtractor{}, analyzer, fastConfig())
	require.NoError(t, w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey))

	assert.Equal(t, 1, attempts)
	pages, err := s.GetPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.False(t, pages[0].Outcome.Succeeded)
	assert.Contains(t, pages[0].Outcome.Failure.Reason, "model refused")
}

func TestProcessDocument_DownloadFailureIsCatastrophic(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateStatus(ctx, "doc-1", "tenant-a")
	require.NoError(t, err)
	require.NoError(t, s.CreateFile(ctx, &models.FileRecord{
		DocumentID: "doc-1", TenantID: "tenant-a", Status: models.FileStatusUploaded,
	}))

	w := NewChunkWorker(s, b, &stubExtractor{}, okAnalyzer(), fastConfig())
	err = w.ProcessDocument(ctx, "doc-1", "tenant-a", "tenant-a/doc-1/missing.pdf")
	require.Error(t, err)

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	// pending -> processing -> failed, counter untouched, total unknown: no
	// aggregation can ever fire for this document.
	assert.Equal(t, models.StatusFailed, rec.OverallStatus)
	assert.Equal(t, 0, rec.TotalPages)
	assert.Equal(t, 0, rec.ProcessedPages)
	assert.NotEmpty(t, rec.ErrorDetails)

	pages, err := s.GetPages(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, pages)

	file, err := s.GetFile(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, file.Status)
}

func TestProcessDocument_ExtractionFailureIsCatastrophic(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a", "garbage")

	w := NewChunkWorker(s, b, &stubExtractor{err: errors.New("corrupt file")}, okAnalyzer(), fastConfig())
	err := w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey)
	require.Error(t, err)

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.OverallStatus)
	assert.Equal(t, 0, rec.TotalPages)
	assert.Equal(t, 0, rec.ProcessedPages)
}

func TestProcessDocument_TerminalRedeliverySkipped(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a", "page one")
	require.NoError(t, s.UpdateOverallStatus(ctx, "doc-1", models.StatusCompleted, nil))

	calls := 0
	analyzer := analyzerFunc(func(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
		calls++
		return &models.AnalysisPayload{Summary: string(pageData)}, nil
	})

	w := NewChunkWorker(s, b, &stubExtractor{}, analyzer, fastConfig())
	require.NoError(t, w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey))

	assert.Equal(t, 0, calls)
	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ProcessedPages)
}

func TestProcessDocument_AnalyzerReceivesPageBytes(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a", "page one\npage two")

	var received []string
	analyzer := analyzerFunc(func(ctx context.Context, pageData []byte) (*models.AnalysisPayload, error) {
		received = append(received, string(pageData))
		return &models.AnalysisPayload{Summary: "ok"}, nil
	})

	w := NewChunkWorker(s, b, &stubExtractor{}, analyzer, fastConfig())
	require.NoError(t, w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey))

	// The analyzer gets each page exactly as the extractor cut it.
	assert.Equal(t, []string{"page one", "page two"}, received)
}

func TestProcessDocument_BoundedParallelismCountsEveryPage(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	blobKey := registerDocument(t, s, b, "doc-1", "tenant-a",
		"p1\np2\np3\np4\np5\np6\np7\np8")

	cfg := fastConfig()
	cfg.PageConcurrency = 4
	w := NewChunkWorker(s, b, &stubExtractor{}, okAnalyzer(), cfg)
	require.NoError(t, w.ProcessDocument(ctx, "doc-1", "tenant-a", blobKey))

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.TotalPages)
	assert.Equal(t, 8, rec.ProcessedPages)

	pages, err := s.GetPages(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, pages, 8)
}
