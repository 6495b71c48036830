// Package idempotency remembers which order an Idempotency-Key produced so a
// retried POST /orders returns the original order.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	Header       = "Idempotency-Key"
	maxKeyLength = 255
	keyPrefix    = "storefront:idempotency:order:"

	// pendingMarker holds a key while its order is being placed.
	pendingMarker = "pending"
	pendingTTL    = time.Minute
)

// Store claims a key before its order is placed, so concurrent retries with
// the same key cannot both place an order.
type Store interface {
	// Reserve claims key. When the key is already taken it reports false with
	// the order id stored under it, or "" while that order is still pending.
	Reserve(ctx context.Context, key string) (bool, string, error)
	// Complete records the order placed under a reserved key.
	Complete(ctx context.Context, key, orderID string) error
	// Release frees a reserved key whose order was not placed.
	Release(ctx context.Context, key string) error
}

// Key returns the trimmed Idempotency-Key of r, or "" when the header is
// absent or longer than maxKeyLength.
func Key(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(Header))
	if len(key) > maxKeyLength {
		return ""
	}
	return key
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (bool, string, error) {
	reserved, err := s.client.SetNX(ctx, keyPrefix+key, pendingMarker, pendingTTL).Result()
	if err != nil {
		return false, "", fmt.Errorf("idempotency: failed to reserve key: %w", err)
	}
	if reserved {
		return true, "", nil
	}

	orderID, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Released or expired since SetNX; treat it as still in flight.
			return false, "", nil
		}
		return false, "", fmt.Errorf("idempotency: failed to read key: %w", err)
	}
	if orderID == pendingMarker {
		return false, "", nil
	}
	return false, orderID, nil
}

// Complete keeps orderID under key until the TTL expires.
func (s *RedisStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.client.Set(ctx, keyPrefix+key, orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to store key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to release key: %w", err)
	}
	return nil
}
