package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/analysisflow/internal/models"
)

func submit(t *testing.T, l *MemoryLog, docID string) {
	t.Helper()
	err := l.Publish(context.Background(), &models.DocumentSubmittedEvent{
		DocumentID: docID,
		TenantID:   "tenant-a",
		BlobKey:    "tenant-a/" + docID + "/source.pdf",
		SizeBytes:  1024,
	})
	require.NoError(t, err)
}

func TestPull_Batches(t *testing.T) {
	l := NewMemoryLog(1, time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		submit(t, l, id)
	}

	cur, err := l.AcquireCursor(0)
	require.NoError(t, err)

	batch, err := l.Pull(cur, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].DocumentID)
	assert.Equal(t, "b", batch[1].DocumentID)

	batch, err = l.Pull(cur, 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "c", batch[0].DocumentID)

	batch, err = l.Pull(cur, 2)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestPull_ExpiredCursorMustBeReacquired(t *testing.T) {
	l := NewMemoryLog(1, 10*time.Millisecond)
	submit(t, l, "a")

	cur, err := l.AcquireCursor(0)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	_, err = l.Pull(cur, 1)
	assert.ErrorIs(t, err, ErrCursorExpired)

	// Reacquiring resumes from the committed offset: nothing was lost.
	cur, err = l.AcquireCursor(0)
	require.NoError(t, err)
	batch, err := l.Pull(cur, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "a", batch[0].DocumentID)
}

func TestPartitioning_SameDocumentSamePartition(t *testing.T) {
	l := NewMemoryLog(4, time.Minute)
	assert.Equal(t, l.partitionFor("doc-1"), l.partitionFor("doc-1"))
}

func TestReceive_HandlerFailureDoesNotStopDispatch(t *testing.T) {
	l := NewMemoryLog(1, time.Minute)
	submit(t, l, "a")
	submit(t, l, "b")

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var seen []string

	done := make(chan error, 1)
	go func() {
		done <- l.Receive(ctx, func(ctx context.Context, ev *models.DocumentSubmittedEvent) error {
			mu.Lock()
			seen = append(seen, ev.DocumentID)
			complete := len(seen) == 2
			mu.Unlock()
			if complete {
				cancel()
			}
			return errors.New("handler boom")
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not exit after cancel")
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestReceive_DispatchesAndStopsOnCancel(t *testing.T) {
	l := NewMemoryLog(2, time.Minute)
	for _, id := range []string{"a", "b", "c", "d"} {
		submit(t, l, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	seen := make(map[string]bool)

	done := make(chan error, 1)
	go func() {
		done <- l.Receive(ctx, func(ctx context.Context, ev *models.DocumentSubmittedEvent) error {
			mu.Lock()
			seen[ev.DocumentID] = true
			complete := len(seen) == 4
			mu.Unlock()
			if complete {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not exit after cancel")
	}
	assert.Len(t, seen, 4)
}
