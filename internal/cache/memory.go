package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"storefront-assistant/internal/common/metrics"
)

// Memory is an in-process Store with lazy expiry on read.
type Memory[T any] struct {
	name       string
	defaultTTL time.Duration
	now        func() time.Time

	mu     sync.Mutex
	items  map[string]Entry[T]
	hits   int64
	misses int64
}

// MemoryOption customizes a Memory cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now func() time.Time
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// NewMemory creates an empty cache. name labels its metrics.
func NewMemory[T any](name string, defaultTTL time.Duration, opts ...MemoryOption) *Memory[T] {
	o := memoryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultResultTTL
	}
	return &Memory[T]{
		name:       name,
		defaultTTL: defaultTTL,
		now:        o.now,
		items:      make(map[string]Entry[T]),
	}
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	entry, ok := m.items[key]
	if !ok {
		m.miss()
		return zero, false, nil
	}
	if entry.Expired(m.now()) {
		delete(m.items, key)
		m.miss()
		return zero, false, nil
	}

	m.hits++
	metrics.CacheLookups.WithLabelValues(m.name, "hit").Inc()
	return entry.Data, true, nil
}

func (m *Memory[T]) miss() {
	m.misses++
	metrics.CacheLookups.WithLabelValues(m.name, "miss").Inc()
}

func (m *Memory[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = Entry[T]{Data: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	return nil
}

func (m *Memory[T]) ClearPrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
			removed++
		}
	}
	return removed, nil
}

// Stats returns the counters. Size includes expired entries not yet evicted.
func (m *Memory[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Hits: m.hits, Misses: m.misses, Size: len(m.items)}
}
