// Package queue provides the named FIFO channels that connect the analysis
// and fix stages.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jacklau/autofix/internal/config"
	"github.com/jacklau/autofix/internal/store"
)

// ErrUnknownBackend is returned by New for an unrecognized queue.backend.
var ErrUnknownBackend = errors.New("unknown queue backend")

// Queue is an at-least-once FIFO of opaque payloads keyed by queue name.
// Implementations connect lazily on first use.
type Queue interface {
	// Enqueue appends payload to the tail of the named queue.
	Enqueue(ctx context.Context, name string, payload []byte) error
	// Dequeue removes the head of the named queue. ok is false when empty.
	Dequeue(ctx context.Context, name string) (payload []byte, ok bool, err error)
	// Len returns the number of payloads waiting in the named queue.
	Len(ctx context.Context, name string) (int64, error)
	// Close releases the connection, if one was opened.
	Close() error
}

// Push JSON-encodes v and enqueues it.
func Push[T any](ctx context.Context, q Queue, name string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s job: %w", name, err)
	}
	return q.Enqueue(ctx, name, data)
}

// Pop dequeues and JSON-decodes the head of the named queue. A payload that
// fails to decode has already been removed and is reported as an error.
func Pop[T any](ctx context.Context, q Queue, name string) (T, bool, error) {
	var v T
	data, ok, err := q.Dequeue(ctx, name)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("%w: %s: %v", ErrMalformedJob, name, err)
	}
	return v, true, nil
}

// ErrMalformedJob is returned by Pop for a payload that is not a valid job.
var ErrMalformedJob = errors.New("malformed job payload")

// New builds the backend selected by cfg. The sqlite backend stores items in
// db; the others connect to cfg.URL on first use.
func New(cfg config.QueueConfig, db store.QueueStore) (Queue, error) {
	switch cfg.Backend {
	case "sqlite", "":
		if db == nil {
			return nil, errors.New("sqlite queue requires a store")
		}
		return NewSQLite(db), nil
	case "redis":
		return NewRedis(cfg.URL), nil
	case "postgres":
		return NewPostgres(cfg.URL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
