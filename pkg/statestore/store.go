// Package statestore wraps the Redis client with the ephemeral state
// primitives the pipeline relies on: atomic counters with TTL-on-first,
// flags with deterministic expiry, and persistent sets.
package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the process-wide handle to ephemeral pipeline state.
// One Store (one connection pool) is created at startup and injected
// into every component that needs it.
type Store struct {
	client *redis.Client
}

// New connects to Redis using a redis:// URL and verifies the connection.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opt.DialTimeout = 3 * time.Second
	opt.ReadTimeout = 2 * time.Second
	opt.WriteTimeout = 2 * time.Second
	opt.PoolSize = 20

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests that run against
// an embedded Redis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying connection for stream consumers that
// share this pool.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// IncrWithTTLOnFirst atomically increments a counter and sets its TTL when
// this increment created the key. Two workers racing on the first
// observation may both set the TTL; the value is deterministic so the
// outcome is identical.
func (s *Store) IncrWithTTLOnFirst(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("setting ttl on %s: %w", key, err)
		}
	}
	return count, nil
}

// SetFlag writes a value with a fixed TTL (SETEX semantics).
func (s *Store) SetFlag(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return n > 0, nil
}

// Get returns a key's value, with found=false for a missing key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting %s: %w", key, err)
	}
	return val, true, nil
}

// GetInt returns a counter's value, or 0 for a missing key.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting %s: %w", key, err)
	}
	return n, nil
}

// AddToSet adds a member, reporting whether it was newly added.
func (s *Store) AddToSet(ctx context.Context, key, member string) (bool, error) {
	added, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("adding to set %s: %w", key, err)
	}
	return added > 0, nil
}

// IsSetMember reports set membership.
func (s *Store) IsSetMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("checking set %s: %w", key, err)
	}
	return ok, nil
}

// TTL returns the remaining lifetime of a key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("reading ttl of %s: %w", key, err)
	}
	return d, nil
}

// ResetState deletes all pipeline state keys: rate-limit counters, risk
// flags and counters, blocklist entries, and learned sets. Used between
// verification runs; never called by the pipeline itself.
func (s *Store) ResetState(ctx context.Context) error {
	for _, pattern := range []string{"rate_limit:*", "risk:*", "blocked:*", "state:*"} {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting %s keys: %w", pattern, err)
			}
		}
	}
	return nil
}
