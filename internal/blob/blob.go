// Package blob is the byte-storage collaborator. Keys are namespaced
// {tenant}/{document}/... and manifest writes go to a deterministic key, so
// concurrent aggregation attempts overwrite each other with identical
// content.
package blob

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get for absent objects.
	ErrNotFound = errors.New("blob: object not found")

	// ErrUnavailable wraps transport-level failures.
	ErrUnavailable = errors.New("blob: unavailable")
)

// Store is the blob store collaborator interface.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PutIfAbsent writes the object only if the key does not exist yet. An
	// existing object is left untouched and is not an error; redelivered
	// events writing the same key skip cleanly.
	PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}
