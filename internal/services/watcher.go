package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pagewise/analysisflow/internal/models"
	"github.com/pagewise/analysisflow/internal/store"
)

// CompletionWatcher decides when a document has just become eligible for
// aggregation. It serves two delivery paths: change-feed events (push) and a
// periodic scan of the store (poll fallback). Both can fire for the same
// document; the aggregator is safe under duplicate invocation, so the watcher
// triggers without deduplicating.
type CompletionWatcher struct {
	store      store.StatusStore
	aggregator *Aggregator
	interval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCompletionWatcher creates a watcher polling at the given interval.
func NewCompletionWatcher(s store.StatusStore, a *Aggregator, interval time.Duration) *CompletionWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &CompletionWatcher{store: s, aggregator: a, interval: interval}
}

// HandleChange is the push path: one change-feed entry with before/after
// images of a status record mutation. Delivery is at-least-once and possibly
// duplicated.
func (w *CompletionWatcher) HandleChange(ctx context.Context, ev *models.StatusChangeEvent) error {
	after := ev.After
	if after == nil {
		// Deletions carry no after image and never trigger aggregation.
		return nil
	}
	if !after.ReadyForAggregation() {
		return nil
	}
	slog.Info("Document crossed completion threshold.",
		"documentId", after.DocumentID,
		"totalPages", after.TotalPages,
	)
	return w.aggregator.AggregateResults(ctx, after.DocumentID, after.TenantID, after.TotalPages)
}

// Start launches the poll fallback loop. Stop cancels it and waits for the
// current iteration to finish; in-flight aggregations are awaited, never
// aborted.
func (w *CompletionWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return // already running
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
}

// Stop terminates the poll loop and blocks until it exits.
func (w *CompletionWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *CompletionWatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Completion poll loop started.", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("Completion poll loop stopped.")
			return
		case <-ticker.C:
			w.PollOnce(ctx)
		}
	}
}

// PollOnce runs one scan cycle, triggering aggregation for every record that
// satisfies the completion predicate. Errors are logged per document and do
// not stop the cycle.
func (w *CompletionWatcher) PollOnce(ctx context.Context) {
	ready, err := w.store.ScanReadyForAggregation(ctx)
	if err != nil {
		slog.Error("Completion scan failed.", "error", err)
		return
	}
	for _, rec := range ready {
		if ctx.Err() != nil {
			return
		}
		if err := w.aggregator.AggregateResults(ctx, rec.DocumentID, rec.TenantID, rec.TotalPages); err != nil {
			slog.Error("Aggregation failed.", "documentId", rec.DocumentID, "error", err)
		}
	}
}
