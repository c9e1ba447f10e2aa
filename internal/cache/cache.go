// Package cache defines the key-value store consumed by the recovery
// manager, with in-memory and Redis implementations.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache is a TTL-aware key-value store holding opaque values. TTL
// enforcement belongs to the implementation; a ttl of zero means the
// implementation's default retention.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
