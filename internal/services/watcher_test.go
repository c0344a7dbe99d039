package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/store"
)

func newWatcherFixture(t *testing.T) (*store.MemoryStore, *blob.MemoryStore, *CompletionWatcher) {
	t.Helper()
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	w := NewCompletionWatcher(s, NewAggregator(s, b), 10*time.Millisecond)
	return s, b, w
}

func TestHandleChange_TriggersOnThresholdCross(t *testing.T) {
	s, b, w := newWatcherFixture(t)
	ctx := context.Background()
	seedCompletedDocument(t, s, "doc-1", "tenant-a", 2, 0)

	before, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	before.ProcessedPages-- // the image prior to the final increment

	after, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)

	ev := &models.StatusChangeEvent{DocumentID: "doc-1", Before: before, After: after}
	require.NoError(t, w.HandleChange(ctx, ev))

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.OverallStatus)

	exists, err := b.Exists(ctx, models.ManifestKey("tenant-a", "doc-1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandleChange_ZeroTotalNeverTriggers(t *testing.T) {
	s, b, w := newWatcherFixture(t)
	ctx := context.Background()

	// Extraction has not finished: counter moved but the total is unknown.
	_, err := s.CreateStatus(ctx, "doc-1", "tenant-a")
	require.NoError(t, err)
	require.NoError(t, s.UpdateOverallStatus(ctx, "doc-1", models.StatusProcessing, nil))
	after, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	after.ProcessedPages = 5 // arbitrary counter noise, total still 0

	require.NoError(t, w.HandleChange(ctx, &models.StatusChangeEvent{DocumentID: "doc-1", After: after}))

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, rec.OverallStatus)
	exists, err := b.Exists(ctx, models.ManifestKey("tenant-a", "doc-1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandleChange_IgnoresDeletionsAndNonReady(t *testing.T) {
	_, _, w := newWatcherFixture(t)
	ctx := context.Background()

	require.NoError(t, w.HandleChange(ctx, &models.StatusChangeEvent{DocumentID: "doc-1"}))

	require.NoError(t, w.HandleChange(ctx, &models.StatusChangeEvent{
		DocumentID: "doc-1",
		After: &models.DocumentStatusRecord{
			DocumentID: "doc-1", TenantID: "tenant-a",
			TotalPages: 3, ProcessedPages: 2,
			OverallStatus: models.StatusProcessing,
		},
	}))
}

func TestPollOnce_CompletesReadyDocuments(t *testing.T) {
	s, _, w := newWatcherFixture(t)
	ctx := context.Background()
	seedCompletedDocument(t, s, "doc-1", "tenant-a", 1, 1)
	seedCompletedDocument(t, s, "doc-2", "tenant-b", 2, 0)

	w.PollOnce(ctx)

	for _, docID := range []string{"doc-1", "doc-2"} {
		rec, err := s.GetDocument(ctx, docID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, rec.OverallStatus, docID)
	}
}

func TestPushAndPollRace_SingleLogicalCompletion(t *testing.T) {
	s, b, w := newWatcherFixture(t)
	ctx := context.Background()
	seedCompletedDocument(t, s, "doc-1", "tenant-a", 2, 0)

	after, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)

	// Push event and poll tick both observe the ready record. The second
	// trigger loses the aggregating swap and no-ops.
	require.NoError(t, w.HandleChange(ctx, &models.StatusChangeEvent{DocumentID: "doc-1", After: after}))
	w.PollOnce(ctx)

	rec, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.OverallStatus)

	data, err := b.Get(ctx, models.ManifestKey("tenant-a", "doc-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestStartStop_PollLoopLifecycle(t *testing.T) {
	s, _, w := newWatcherFixture(t)
	ctx := context.Background()
	seedCompletedDocument(t, s, "doc-1", "tenant-a", 1, 0)

	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		rec, err := s.GetDocument(ctx, "doc-1")
		return err == nil && rec.OverallStatus == models.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	// Stop is idempotent and a second Start after Stop is allowed.
	w.Stop()
	w.Start(ctx)
	w.Stop()
}
