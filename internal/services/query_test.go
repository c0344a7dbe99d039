package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/analysisflow/internal/blob"
	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/store"
)

func TestResult_NotReadyUntilCompleted(t *testing.T) {
	s := store.NewMemoryStore()
	b := blob.NewMemoryStore()
	ctx := context.Background()
	seedCompletedDocument(t, s, "doc-1", "tenant-a", 2, 0)

	q := NewStatusQuery(s, b)

	_, err := q.Result(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrResultNotReady)

	require.NoError(t, NewAggregator(s, b).AggregateResults(ctx, "doc-1", "tenant-a", 2))

	data, err := q.Result(ctx, "doc-1")
	require.NoError(t, err)
	var manifest models.Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, 2, manifest.SuccessCount)
}

func TestJobStatus_AbsentDocument(t *testing.T) {
	q := NewStatusQuery(store.NewMemoryStore(), blob.NewMemoryStore())
	_, err := q.JobStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
