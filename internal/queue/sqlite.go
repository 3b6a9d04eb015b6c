package queue

import (
	"context"

	"github.com/jacklau/autofix/internal/store"
)

// SQLite is a Queue stored in the registry database's queue_items table.
type SQLite struct {
	db store.QueueStore
}

// NewSQLite wraps a table-backed queue store.
func NewSQLite(db store.QueueStore) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Enqueue(ctx context.Context, name string, payload []byte) error {
	return s.db.PushQueue(ctx, name, payload)
}

func (s *SQLite) Dequeue(ctx context.Context, name string) ([]byte, bool, error) {
	return s.db.PopQueue(ctx, name)
}

func (s *SQLite) Len(ctx context.Context, name string) (int64, error) {
	return s.db.QueueLen(ctx, name)
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLite) Close() error { return nil }
