// Package cache holds the in-process Cache Store and the Cached Fetcher that
// every provider call goes through.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value  []byte
	expiry time.Time
}

// MemoryStore is an in-process CacheStore. Expiry is checked on read; there is
// no background sweep, expired entries are dropped lazily by Get.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expiry) {
		m.mu.Lock()
		// re-check: a concurrent Set may have refreshed the key
		if cur, ok := m.entries[key]; ok && !m.now().Before(cur.expiry) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiry: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *MemoryStore) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Ping always succeeds; it lets the store stand in for Redis in health checks.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
