package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS autofix_queue (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	payload BYTEA NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS autofix_queue_queue_id ON autofix_queue (queue, id)`

// Postgres is a Queue over a single table. Concurrent consumers skip rows
// locked by each other, so every item is handed out once.
type Postgres struct {
	url string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgres returns a queue that connects to url on first use.
func NewPostgres(url string) *Postgres {
	return &Postgres{url: url}
}

func (p *Postgres) connect(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}

	pool, err := pgxpool.New(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating queue table: %w", err)
	}
	p.pool = pool
	return pool, nil
}

func (p *Postgres) Enqueue(ctx context.Context, name string, payload []byte) error {
	pool, err := p.connect(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `INSERT INTO autofix_queue (queue, payload) VALUES ($1, $2)`, name, payload)
	if err != nil {
		return fmt.Errorf("postgres enqueue %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) Dequeue(ctx context.Context, name string) ([]byte, bool, error) {
	pool, err := p.connect(ctx)
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = pool.QueryRow(ctx, `
		DELETE FROM autofix_queue
		WHERE id = (
			SELECT id FROM autofix_queue WHERE queue = $1
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING payload`, name,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres dequeue %s: %w", name, err)
	}
	return payload, true, nil
}

func (p *Postgres) Len(ctx context.Context, name string) (int64, error) {
	pool, err := p.connect(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM autofix_queue WHERE queue = $1`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres length %s: %w", name, err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}
