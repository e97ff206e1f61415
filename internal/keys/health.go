package keys

import (
	"math"
	"time"
)

// KeyHealth is the observable state of one key. The secret is masked.
type KeyHealth struct {
	MaskedKey                string `json:"maskedKey"`
	Index                    int    `json:"index"`
	CallCount                int64  `json:"callCount"`
	ConsecutiveErrors        int    `json:"consecutiveErrors"`
	Healthy                  bool   `json:"healthy"`
	RateLimited              bool   `json:"rateLimited"`
	CooldownRemainingSeconds int    `json:"cooldownRemainingSeconds"`
}

// HealthSnapshot is a read-only projection of a provider pool.
type HealthSnapshot struct {
	ProviderID   string      `json:"providerId"`
	TotalKeys    int         `json:"totalKeys"`
	ActiveIndex  int         `json:"activeIndex"`
	LastRotation *time.Time  `json:"lastRotation,omitempty"`
	Keys         []KeyHealth `json:"keys"`
}

// HealthSnapshot reports the pool state without mutating it.
func (r *Registry) HealthSnapshot(providerID string) HealthSnapshot {
	snap := HealthSnapshot{ProviderID: providerID, Keys: []KeyHealth{}}

	p := r.pool(providerID)
	if p == nil {
		return snap
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := r.now()
	snap.TotalKeys = len(p.keys)
	snap.ActiveIndex = p.activeIndex
	if !p.lastRotation.IsZero() {
		rotated := p.lastRotation
		snap.LastRotation = &rotated
	}

	for _, rec := range p.keys {
		remaining := 0
		cooling := false
		if rec.CooldownUntil != nil && now.Before(*rec.CooldownUntil) {
			cooling = true
			remaining = int(math.Ceil(rec.CooldownUntil.Sub(now).Seconds()))
		}
		healthy := !cooling && (!rec.RateLimited || rec.CooldownUntil != nil)

		snap.Keys = append(snap.Keys, KeyHealth{
			MaskedKey:                MaskKey(rec.Key),
			Index:                    rec.Index,
			CallCount:                rec.CallCount,
			ConsecutiveErrors:        rec.ConsecutiveErrorCount,
			Healthy:                  healthy,
			RateLimited:              rec.RateLimited && cooling,
			CooldownRemainingSeconds: remaining,
		})
	}
	return snap
}

// MaskKey keeps the first and last four characters of a secret.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
