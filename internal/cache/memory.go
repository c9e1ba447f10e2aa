package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultMemorySize caps the number of entries held in memory.
	DefaultMemorySize = 4096
	// DefaultMemoryTTL is the retention ceiling for in-memory entries.
	DefaultMemoryTTL = time.Hour
)

// entry carries the value plus its own deadline, since the underlying
// LRU enforces a single cache-wide TTL ceiling.
type entry struct {
	value    []byte
	deadline time.Time
}

// Memory is an in-process Cache backed by an expirable LRU. Entries
// are bounded by size and by the cache-wide TTL ceiling; per-key TTLs
// shorter than the ceiling are enforced lazily on read.
type Memory struct {
	lru *expirable.LRU[string, entry]
}

// NewMemory creates an in-memory cache. Zero values select the
// defaults.
func NewMemory(size int, maxTTL time.Duration) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if maxTTL <= 0 {
		maxTTL = DefaultMemoryTTL
	}
	return &Memory{
		lru: expirable.NewLRU[string, entry](size, nil, maxTTL),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		m.lru.Remove(key)
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
