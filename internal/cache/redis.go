package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-assistant/internal/common/metrics"
)

const scanBatch = 200

// RedisStore is a Store shared between processes. Values are JSON encoded and
// expiry is delegated to Redis.
type RedisStore[T any] struct {
	client     redis.Cmdable
	name       string
	namespace  string
	defaultTTL time.Duration
}

// NewRedisStore keeps every key under namespace (for example "assistant:").
func NewRedisStore[T any](client redis.Cmdable, name, namespace string, defaultTTL time.Duration) *RedisStore[T] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultResultTTL
	}
	return &RedisStore[T]{
		client:     client,
		name:       name,
		namespace:  namespace,
		defaultTTL: defaultTTL,
	}
}

func (r *RedisStore[T]) key(k string) string {
	return r.namespace + k
}

func (r *RedisStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues(r.name, "miss").Inc()
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		// an undecodable entry is treated as absent
		metrics.CacheLookups.WithLabelValues(r.name, "miss").Inc()
		return zero, false, nil
	}
	metrics.CacheLookups.WithLabelValues(r.name, "hit").Inc()
	return value, true, nil
}

func (r *RedisStore[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// ClearPrefix walks matching keys with SCAN and deletes them in batches.
func (r *RedisStore[T]) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	pattern := globEscape(r.key(prefix)) + "*"

	removed := 0
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string {
	return globReplacer.Replace(s)
}
