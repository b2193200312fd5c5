package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient parses a redis:// or rediss:// URL, builds the process-wide client and
// verifies connectivity. Reconnects after a failure are handled by the client's pool.
// Caller must Close the client at shutdown.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: ping: %w", err)
	}
	return client, nil
}

// Pinger adapts a client for readiness checks.
type Pinger struct {
	Client redis.UniversalClient
}

// Ping returns nil when the store answers PING.
func (p Pinger) Ping(ctx context.Context) error {
	if p.Client == nil {
		return fmt.Errorf("kv: no client")
	}
	return p.Client.Ping(ctx).Err()
}
