package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutIfAbsent_LeavesExistingObjectUntouched(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "tenant-a/doc-1/source.pdf", []byte("first"), "application/pdf"))
	require.NoError(t, s.PutIfAbsent(ctx, "tenant-a/doc-1/source.pdf", []byte("second"), "application/pdf"))

	data, err := s.Get(ctx, "tenant-a/doc-1/source.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestPut_OverwritesUnconditionally(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "tenant-a/doc-1/results.json", []byte("v1"), "application/json"))
	require.NoError(t, s.Put(ctx, "tenant-a/doc-1/results.json", []byte("v2"), "application/json"))

	data, err := s.Get(ctx, "tenant-a/doc-1/results.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestGet_AbsentKeyIsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
