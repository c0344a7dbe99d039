package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pagewise/analysisflow/internal/models"
)

// MemoryLog is an in-process partitioned log for tests and local runs. It
// models the cursor semantics of the production log: consumers pull batches
// through a cursor handle that expires after a TTL and must be reacquired
// from the last committed offset.
type MemoryLog struct {
	mu         sync.Mutex
	partitions [][]*models.DocumentSubmittedEvent
	committed  []int
	cursors    map[string]*memoryCursor
	cursorTTL  time.Duration
}

type memoryCursor struct {
	partition int
	offset    int
	expiresAt time.Time
}

// NewMemoryLog creates a log with the given partition count and cursor TTL.
func NewMemoryLog(partitions int, cursorTTL time.Duration) *MemoryLog {
	if partitions < 1 {
		partitions = 1
	}
	return &MemoryLog{
		partitions: make([][]*models.DocumentSubmittedEvent, partitions),
		committed:  make([]int, partitions),
		cursors:    make(map[string]*memoryCursor),
		cursorTTL:  cursorTTL,
	}
}

func (l *MemoryLog) partitionFor(docID string) int {
	h := fnv.New32a()
	h.Write([]byte(docID))
	return int(h.Sum32()) % len(l.partitions)
}

// Publish appends the event to the partition owned by its document id.
func (l *MemoryLog) Publish(ctx context.Context, ev *models.DocumentSubmittedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *ev
	p := l.partitionFor(ev.DocumentID)
	l.partitions[p] = append(l.partitions[p], &cp)
	return nil
}

// AcquireCursor returns a cursor handle positioned at the partition's last
// committed offset.
func (l *MemoryLog) AcquireCursor(partition int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if partition < 0 || partition >= len(l.partitions) {
		return "", fmt.Errorf("acquire cursor: partition %d out of range", partition)
	}
	id := uuid.NewString()
	l.cursors[id] = &memoryCursor{
		partition: partition,
		offset:    l.committed[partition],
		expiresAt: time.Now().Add(l.cursorTTL),
	}
	return id, nil
}

// Pull returns up to max events past the cursor's offset and advances the
// committed offset for the partition. An expired or unknown handle yields
// ErrCursorExpired; the caller reacquires and resumes from the committed
// offset, so events pulled-but-unprocessed are redelivered (at-least-once).
func (l *MemoryLog) Pull(cursorID string, max int) ([]*models.DocumentSubmittedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.cursors[cursorID]
	if !ok || time.Now().After(cur.expiresAt) {
		delete(l.cursors, cursorID)
		return nil, ErrCursorExpired
	}
	events := l.partitions[cur.partition]
	if cur.offset >= len(events) {
		cur.expiresAt = time.Now().Add(l.cursorTTL)
		return nil, nil
	}
	end := cur.offset + max
	if end > len(events) {
		end = len(events)
	}
	batch := make([]*models.DocumentSubmittedEvent, 0, end-cur.offset)
	for _, ev := range events[cur.offset:end] {
		cp := *ev
		batch = append(batch, &cp)
	}
	cur.offset = end
	cur.expiresAt = time.Now().Add(l.cursorTTL)
	l.committed[cur.partition] = end
	return batch, nil
}

// Partitions returns the partition count.
func (l *MemoryLog) Partitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.partitions)
}

// Receive round-robins the partitions, pulling batches and dispatching each
// event to h. Expired cursors are reacquired transparently. The loop is
// cooperative: it exits after the current iteration once ctx is done.
func (l *MemoryLog) Receive(ctx context.Context, h Handler) error {
	cursors := make([]string, l.Partitions())
	for {
		idle := true
		for p := range cursors {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if cursors[p] == "" {
				id, err := l.AcquireCursor(p)
				if err != nil {
					return err
				}
				cursors[p] = id
			}
			batch, err := l.Pull(cursors[p], 16)
			if err == ErrCursorExpired {
				cursors[p] = ""
				continue
			}
			if err != nil {
				return err
			}
			for _, ev := range batch {
				idle = false
				// The committed offset already moved, so a handler failure is
				// not redelivered here; callers park failures in the status
				// record instead.
				if err := h(ctx, ev); err != nil {
					slog.Error("Submit handler failed. Event will not be redelivered.",
						"documentId", ev.DocumentID, "error", err)
				}
			}
		}
		if idle {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
