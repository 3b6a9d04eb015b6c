package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a Queue over Redis lists. Producers LPUSH and consumers RPOP, so
// each list is FIFO.
type Redis struct {
	url string

	mu     sync.Mutex
	client *redis.Client
}

// NewRedis returns a queue that connects to url on first use.
func NewRedis(url string) *Redis {
	return &Redis{url: url}
}

// connect is idempotent; a failed attempt is retried on the next call.
func (r *Redis) connect(ctx context.Context) (*redis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	opts, err := redis.ParseURL(r.url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	r.client = client
	return client, nil
}

func (r *Redis) Enqueue(ctx context.Context, name string, payload []byte) error {
	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	if err := client.LPush(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", name, err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context, name string) ([]byte, bool, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return nil, false, err
	}
	data, err := client.RPop(ctx, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis rpop %s: %w", name, err)
	}
	return data, true, nil
}

func (r *Redis) Len(ctx context.Context, name string) (int64, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return 0, err
	}
	n, err := client.LLen(ctx, name).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", name, err)
	}
	return n, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
