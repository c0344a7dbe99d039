// Package queue is the partitioned log carrying "document submitted" events
// from the ingestor to the chunk workers. Delivery is at-least-once; workers
// tolerate redelivery because page writes are upserts and the status record
// owns the idempotency boundary.
package queue

import (
	"context"
	"errors"

	"github.com/pagewise/analysisflow/internal/models"
)

// ErrCursorExpired is returned by Pull when the consumer's cursor handle has
// lapsed and must be reacquired.
var ErrCursorExpired = errors.New("queue: cursor expired")

// Handler processes one submitted document. Whether a returned error leads
// to redelivery depends on the log implementation; workers park failures in
// the status record rather than relying on it.
type Handler func(ctx context.Context, ev *models.DocumentSubmittedEvent) error

// Publisher is the producer side of the submit log.
type Publisher interface {
	Publish(ctx context.Context, ev *models.DocumentSubmittedEvent) error
}

// Consumer pulls submitted documents and dispatches them to a handler until
// the context is cancelled. In-flight handlers are awaited, never aborted.
type Consumer interface {
	Receive(ctx context.Context, h Handler) error
}
