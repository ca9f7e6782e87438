// Package cache holds encoded snapshots for a bounded time.
package cache

import (
	"context"
	"sync"
	"time"
)

// SnapshotKey is the key under which the live snapshot is cached.
const SnapshotKey = "netstats:snapshot"

// Cache stores byte values with a fixed time-to-live.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, value []byte)
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local TTL cache.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewMemory returns an in-process cache. A nil clock defaults to time.Now.
func NewMemory(ttl time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{ttl: ttl, now: now, entries: make(map[string]entry)}
}

// Get returns a live value; expired entries are evicted.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put stores value until the TTL elapses. A non-positive TTL disables caching.
func (m *Memory) Put(_ context.Context, key string, value []byte) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

var _ Cache = (*Memory)(nil)
