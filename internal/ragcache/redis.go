package ragcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the Cache backed by a Redis instance, shared across service
// replicas. Bundles are stored as JSON under "rag_context:{queryID}" with the
// TTL enforced server-side.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*Redis)(nil)

// NewRedis wraps an existing Redis client. A non-positive ttl means
// DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Put implements [Cache].
func (r *Redis) Put(ctx context.Context, queryID string, b Bundle) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("ragcache: marshal bundle: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+queryID, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("ragcache: put %s: %w", queryID, err)
	}
	return nil
}

// Get implements [Cache].
func (r *Redis) Get(ctx context.Context, queryID string) (*Bundle, error) {
	payload, err := r.client.Get(ctx, keyPrefix+queryID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("ragcache: get %s: %w", queryID, err)
	}
	var b Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("ragcache: unmarshal bundle %s: %w", queryID, err)
	}
	return &b, nil
}

// Delete implements [Cache].
func (r *Redis) Delete(ctx context.Context, queryID string) error {
	if err := r.client.Del(ctx, keyPrefix+queryID).Err(); err != nil {
		return fmt.Errorf("ragcache: delete %s: %w", queryID, err)
	}
	return nil
}

// Ping reports Redis reachability.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ragcache: ping: %w", err)
	}
	return nil
}
