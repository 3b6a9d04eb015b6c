package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PushQueue appends a payload to the tail of the named queue.
func (d *DB) PushQueue(ctx context.Context, queue string, payload []byte) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO queue_items (queue, payload) VALUES (?, ?)`,
		queue, payload,
	)
	if err != nil {
		return fmt.Errorf("pushing to queue %s: %w", queue, err)
	}
	return nil
}

// PopQueue removes and returns the oldest payload of the named queue. The
// boolean is false when the queue is empty.
func (d *DB) PopQueue(ctx context.Context, queue string) ([]byte, bool, error) {
	var payload []byte
	err := d.db.QueryRowContext(ctx, `
		DELETE FROM queue_items
		WHERE id = (SELECT id FROM queue_items WHERE queue = ? ORDER BY id LIMIT 1)
		RETURNING payload`,
		queue,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("popping from queue %s: %w", queue, err)
	}
	return payload, true, nil
}

// QueueLen returns the number of payloads waiting in the named queue.
func (d *DB) QueueLen(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE queue = ?`, queue,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting queue %s: %w", queue, err)
	}
	return n, nil
}
