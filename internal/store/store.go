package store

import (
	"context"
	"time"
)

// Store defines the storage operations used by the server, scheduler and
// delivery service. It is satisfied by *DB and can be replaced with a mock
// for testing.
type Store interface {
	// UpsertInstallation records a GitHub App installation.
	UpsertInstallation(id int64, account string) error

	// DeleteInstallation removes an installation and its repositories.
	DeleteInstallation(id int64) error

	// AddRepository registers a repository under an installation.
	AddRepository(installationID int64, owner, name string) (*Repository, error)

	// RemoveRepository unregisters a repository.
	RemoveRepository(owner, name string) error

	// ListRepositories returns all registered repositories.
	ListRepositories() ([]Repository, error)

	// MarkAnalyzed records the last analysis time of a repository.
	MarkAnalyzed(owner, name string, at time.Time) error

	// RecordDelivery inserts a terminal fix job outcome.
	RecordDelivery(rec *Delivery) error

	// HasDelivered reports whether a change request exists for a fingerprint.
	HasDelivered(fingerprint string) (bool, error)
}

// QueueStore is the table-backed FIFO used by the sqlite queue backend.
type QueueStore interface {
	PushQueue(ctx context.Context, queue string, payload []byte) error
	PopQueue(ctx context.Context, queue string) ([]byte, bool, error)
	QueueLen(ctx context.Context, queue string) (int64, error)
}

// Compile-time checks that *DB satisfies the interfaces.
var (
	_ Store      = (*DB)(nil)
	_ QueueStore = (*DB)(nil)
)
