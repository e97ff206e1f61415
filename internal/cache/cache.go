// Package cache provides the TTL caches used for pipeline results and catalog reads.
package cache

import (
	"context"
	"time"
)

const (
	// DefaultResultTTL applies to recommendation results.
	DefaultResultTTL = 2 * time.Minute
	// DefaultCatalogTTL applies to product and category reads.
	DefaultCatalogTTL = 5 * time.Minute
)

// Store is a TTL key-value cache. Get reports false for absent or expired keys.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores value; ttl <= 0 uses the store's default TTL.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	// ClearPrefix deletes every key starting with prefix and returns how many were removed.
	ClearPrefix(ctx context.Context, prefix string) (int, error)
}

// Entry is one stored value.
type Entry[T any] struct {
	Data      T         `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is logically absent at now.
func (e Entry[T]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats are hit/miss counters for a cache instance.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// HitRate is hits over total lookups, or 0 when there were none.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
