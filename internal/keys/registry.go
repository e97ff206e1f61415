// Package keys tracks per-provider API key health and decides which credential to use.
package keys

import (
	"sync"
	"time"

	apperrors "storefront-assistant/internal/common/errors"
	"storefront-assistant/internal/common/logger"
	"storefront-assistant/internal/common/metrics"
)

const (
	DefaultFailureThreshold  = 3
	DefaultFailureCooldown   = 30 * time.Second
	DefaultRateLimitCooldown = 60 * time.Second
)

// APIKeyRecord is one credential in a provider pool.
type APIKeyRecord struct {
	Key                   string
	ProviderID            string
	Index                 int
	CallCount             int64
	ConsecutiveErrorCount int
	RateLimited           bool
	CooldownUntil         *time.Time
}

// Policy holds the cooldown thresholds.
type Policy struct {
	FailureThreshold  int
	FailureCooldown   time.Duration
	RateLimitCooldown time.Duration
}

// DefaultPolicy returns the standard thresholds (3 failures / 30s, 429 / 60s).
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold:  DefaultFailureThreshold,
		FailureCooldown:   DefaultFailureCooldown,
		RateLimitCooldown: DefaultRateLimitCooldown,
	}
}

type pool struct {
	mu           sync.Mutex
	keys         []*APIKeyRecord
	activeIndex  int
	lastRotation time.Time
}

// Registry is the KeyHealthRegistry. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*pool
	order  []string
	policy Policy
	now    func() time.Time
	logger logger.Logger
}

// Option customizes the registry.
type Option func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithPolicy overrides the cooldown thresholds. Zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(r *Registry) {
		if p.FailureThreshold > 0 {
			r.policy.FailureThreshold = p.FailureThreshold
		}
		if p.FailureCooldown > 0 {
			r.policy.FailureCooldown = p.FailureCooldown
		}
		if p.RateLimitCooldown > 0 {
			r.policy.RateLimitCooldown = p.RateLimitCooldown
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		pools:  make(map[string]*pool),
		policy: DefaultPolicy(),
		now:    time.Now,
		logger: log.With(map[string]interface{}{"component": "key-registry"}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register sets the key list for a provider, creating its pool on first use.
func (r *Registry) Register(providerID string, keys []string) {
	r.MergeKeyList(providerID, keys)
}

// Providers returns provider ids in registration order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) pool(providerID string) *pool {
	r.mu.RLock()
	p := r.pools[providerID]
	r.mu.RUnlock()
	return p
}

func (r *Registry) poolOrCreate(providerID string) *pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[providerID]
	if !ok {
		p = &pool{}
		r.pools[providerID] = p
		r.order = append(r.order, providerID)
	}
	return p
}

// usable reports whether rec can be used at now. A key whose cooldown has
// elapsed is reset in place.
func usable(rec *APIKeyRecord, now time.Time) bool {
	if rec.CooldownUntil == nil {
		return !rec.RateLimited
	}
	if now.Before(*rec.CooldownUntil) {
		return false
	}
	rec.RateLimited = false
	rec.CooldownUntil = nil
	rec.ConsecutiveErrorCount = 0
	return true
}

// SelectActiveKey returns a copy of the first usable key, preferring the current one.
func (r *Registry) SelectActiveKey(providerID string) (APIKeyRecord, error) {
	p := r.pool(providerID)
	if p == nil {
		return APIKeyRecord{}, apperrors.NewKeysExhaustedError(providerID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return APIKeyRecord{}, apperrors.NewKeysExhaustedError(providerID)
	}

	now := r.now()
	if p.activeIndex < len(p.keys) && usable(p.keys[p.activeIndex], now) {
		return *p.keys[p.activeIndex], nil
	}

	for i, rec := range p.keys {
		if !usable(rec, now) {
			continue
		}
		if i != p.activeIndex {
			r.logger.Info("rotating api key", map[string]interface{}{
				"provider":  providerID,
				"fromIndex": p.activeIndex,
				"toIndex":   i,
				"key":       MaskKey(rec.Key),
			})
			p.activeIndex = i
			p.lastRotation = now
			metrics.KeyRotations.WithLabelValues(providerID).Inc()
		}
		return *rec, nil
	}

	r.logger.Warn("all api keys unavailable", map[string]interface{}{
		"provider":  providerID,
		"totalKeys": len(p.keys),
	})
	return APIKeyRecord{}, apperrors.NewKeysExhaustedError(providerID)
}

func (p *pool) find(key string) *APIKeyRecord {
	for _, rec := range p.keys {
		if rec.Key == key {
			return rec
		}
	}
	return nil
}

// RecordSuccess counts the call and clears the consecutive error streak.
func (r *Registry) RecordSuccess(providerID, key string) {
	p := r.pool(providerID)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec := p.find(key); rec != nil {
		rec.CallCount++
		rec.ConsecutiveErrorCount = 0
	}
}

// RecordFailure counts a soft failure. Reaching the threshold starts a cooldown;
// further failures while cooling leave the cooldown unchanged.
func (r *Registry) RecordFailure(providerID, key string) {
	p := r.pool(providerID)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.find(key)
	if rec == nil {
		return
	}
	rec.ConsecutiveErrorCount++

	now := r.now()
	cooling := rec.CooldownUntil != nil && now.Before(*rec.CooldownUntil)
	if rec.ConsecutiveErrorCount >= r.policy.FailureThreshold && !cooling {
		until := now.Add(r.policy.FailureCooldown)
		rec.CooldownUntil = &until
		r.logger.Warn("api key cooling down after consecutive errors", map[string]interface{}{
			"provider":          providerID,
			"key":               MaskKey(key),
			"consecutiveErrors": rec.ConsecutiveErrorCount,
			"cooldownUntil":     until,
		})
	}
}

// RecordRateLimited marks the key rate limited with the longer cooldown.
func (r *Registry) RecordRateLimited(providerID, key string) {
	p := r.pool(providerID)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.find(key)
	if rec == nil {
		return
	}
	until := r.now().Add(r.policy.RateLimitCooldown)
	rec.RateLimited = true
	rec.CooldownUntil = &until

	r.logger.Warn("api key rate limited", map[string]interface{}{
		"provider":      providerID,
		"key":           MaskKey(key),
		"cooldownUntil": until,
	})
}

// MergeKeyList reconciles the provider's pool against newKeys by secret value.
// Counters survive for keys still present; removed keys are dropped.
func (r *Registry) MergeKeyList(providerID string, newKeys []string) {
	p := r.poolOrCreate(providerID)

	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]*APIKeyRecord, len(p.keys))
	for _, rec := range p.keys {
		existing[rec.Key] = rec
	}

	merged := make([]*APIKeyRecord, 0, len(newKeys))
	seen := make(map[string]bool, len(newKeys))
	added := 0
	for _, key := range newKeys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		rec, ok := existing[key]
		if !ok {
			rec = &APIKeyRecord{Key: key, ProviderID: providerID}
			added++
		}
		rec.Index = len(merged)
		merged = append(merged, rec)
	}

	removed := len(p.keys) - (len(merged) - added)
	p.keys = merged
	if p.activeIndex >= len(p.keys) {
		p.activeIndex = 0
	}

	r.logger.Info("api key list merged", map[string]interface{}{
		"provider":  providerID,
		"totalKeys": len(merged),
		"added":     added,
		"removed":   removed,
	})
}
