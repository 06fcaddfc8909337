package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultReplayWindow = 24 * time.Hour

// ReplayGuard drops repeated deliveries of the same signed event inside a
// bounded window. Unsigned events are never deduplicated.
type ReplayGuard interface {
	Seen(ctx context.Context, n *Notification) (bool, error)
	// Release forgets n so a redelivery after a failed attempt is processed.
	Release(ctx context.Context, n *Notification) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisReplayGuard struct {
	client redisStore
	window time.Duration
}

func NewRedisReplayGuard(client *redis.Client, window time.Duration) ReplayGuard {
	return newRedisReplayGuard(client, window)
}

func newRedisReplayGuard(client redisStore, window time.Duration) *redisReplayGuard {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &redisReplayGuard{client: client, window: window}
}

func (g *redisReplayGuard) Seen(ctx context.Context, n *Notification) (bool, error) {
	if !n.Signed() {
		return false, nil
	}

	set, err := g.client.SetNX(ctx, n.ReplayKey(), time.Now().Unix(), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	return !set, nil
}

func (g *redisReplayGuard) Release(ctx context.Context, n *Notification) error {
	if !n.Signed() {
		return nil
	}
	if err := g.client.Del(ctx, n.ReplayKey()).Err(); err != nil {
		return fmt.Errorf("redis DEL error: %w", err)
	}
	return nil
}
