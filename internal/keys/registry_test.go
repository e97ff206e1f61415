package keys

import (
	"sync"
	"testing"
	"time"

	apperrors "storefront-assistant/internal/common/errors"
	"storefront-assistant/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func createTestRegistry(t *testing.T, keys ...string) (*Registry, *fakeClock) {
	clock := newFakeClock()
	r := NewRegistry(logger.NewTestLogger(t), WithClock(clock.Now))
	if len(keys) > 0 {
		r.Register("groq", keys)
	}
	return r, clock
}

// ==========================
// Selection Tests
// ==========================

func TestSelectActiveKey_PrefersActiveIndex(t *testing.T) {
	r, _ := createTestRegistry(t, "gsk_key_aaaa1111", "gsk_key_bbbb2222")

	first, err := r.SelectActiveKey("groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk_key_aaaa1111", first.Key)
	assert.Equal(t, 0, first.Index)

	again, err := r.SelectActiveKey("groq")
	require.NoError(t, err)
	assert.Equal(t, first.Key, again.Key)
	assert.Nil(t, r.HealthSnapshot("groq").LastRotation)
}

func TestSelectActiveKey_UnknownOrEmptyProvider(t *testing.T) {
	r, _ := createTestRegistry(t)

	_, err := r.SelectActiveKey("missing")
	assert.ErrorIs(t, err, apperrors.ErrKeysExhausted)

	r.Register("gemini", nil)
	_, err = r.SelectActiveKey("gemini")
	assert.ErrorIs(t, err, apperrors.ErrKeysExhausted)
}

func TestRecordRateLimited_RotatesToHealthyKey(t *testing.T) {
	r, clock := createTestRegistry(t, "gsk_key_aaaa1111", "gsk_key_bbbb2222")

	r.RecordRateLimited("groq", "gsk_key_aaaa1111")

	next, err := r.SelectActiveKey("groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk_key_bbbb2222", next.Key)

	snap := r.HealthSnapshot("groq")
	assert.Equal(t, 1, snap.ActiveIndex)
	require.NotNil(t, snap.LastRotation)
	assert.Equal(t, clock.Now(), *snap.LastRotation)
	assert.True(t, snap.Keys[0].RateLimited)
	assert.False(t, snap.Keys[0].Healthy)
	assert.Equal(t, 60, snap.Keys[0].CooldownRemainingSeconds)
}

func TestRecordRateLimited_SingleKeyExhausts(t *testing.T) {
	r, _ := createTestRegistry(t, "gsk_only_key_9999")

	r.RecordRateLimited("groq", "gsk_only_key_9999")

	_, err := r.SelectActiveKey("groq")
	assert.ErrorIs(t, err, apperrors.ErrKeysExhausted)
}

func TestSelectActiveKey_ResetsAfterCooldownElapses(t *testing.T) {
	r, clock := createTestRegistry(t, "gsk_only_key_9999")

	for i := 0; i < 2; i++ {
		r.RecordFailure("groq", "gsk_only_key_9999")
	}
	r.RecordRateLimited("groq", "gsk_only_key_9999")

	clock.Advance(59 * time.Second)
	_, err := r.SelectActiveKey("groq")
	require.Error(t, err)

	clock.Advance(2 * time.Second)
	rec, err := r.SelectActiveKey("groq")
	require.NoError(t, err)
	assert.False(t, rec.RateLimited)
	assert.Nil(t, rec.CooldownUntil)
	assert.Equal(t, 0, rec.ConsecutiveErrorCount)
}

func TestSelectActiveKey_NeverReturnsCoolingKey(t *testing.T) {
	r, clock := createTestRegistry(t, "gsk_key_aaaa1111", "gsk_key_bbbb2222", "gsk_key_cccc3333")

	r.RecordRateLimited("groq", "gsk_key_aaaa1111")
	r.RecordRateLimited("groq", "gsk_key_cccc3333")

	for i := 0; i < 10; i++ {
		rec, err := r.SelectActiveKey("groq")
		require.NoError(t, err)
		assert.Equal(t, "gsk_key_bbbb2222", rec.Key)
		clock.Advance(time.Second)
	}
}

// ==========================
// Failure Cooldown Tests
// ==========================

func TestRecordFailure_ThresholdStartsCooldown(t *testing.T) {
	r, clock := createTestRegistry(t, "gsk_key_aaaa1111", "gsk_key_bbbb2222")

	r.RecordFailure("groq", "gsk_key_aaaa1111")
	r.RecordFailure("groq", "gsk_key_aaaa1111")

	rec, err := r.SelectActiveKey("groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk_key_aaaa1111", rec.Key)
	assert.Equal(t, 2, rec.ConsecutiveErrorCount)

	r.RecordFailure("groq", "gsk_key_aaaa1111")

	snap := r.HealthSnapshot("groq")
	assert.False(t, snap.Keys[0].Healthy)
	assert.False(t, snap.Keys[0].RateLimited)
	assert.Equal(t, 30, snap.Keys[0].CooldownRemainingSeconds)

	rec, err = r.SelectActiveKey("groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk_key_bbbb2222", rec.Key)

	// a fourth failure inside the window leaves the cooldown unchanged
	clock.Advance(10 * time.Second)
	r.RecordFailure("groq", "gsk_key_aaaa1111")
	snap = r.HealthSnapshot("groq")
	assert.Equal(t, 20, snap.Keys[0].CooldownRemainingSeconds)
	assert.Equal(t, 4, snap.Keys[0].ConsecutiveErrors)
}

func TestRecordSuccess_ResetsStreak(t *testing.T) {
	r, _ := createTestRegistry(t, "gsk_key_aaaa1111")

	r.RecordFailure("groq", "gsk_key_aaaa1111")
	r.RecordFailure("groq", "gsk_key_aaaa1111")
	r.RecordSuccess("groq", "gsk_key_aaaa1111")
	r.RecordFailure("groq", "gsk_key_aaaa1111")

	snap := r.HealthSnapshot("groq")
	assert.Equal(t, int64(1), snap.Keys[0].CallCount)
	assert.Equal(t, 1, snap.Keys[0].ConsecutiveErrors)
	assert.True(t, snap.Keys[0].Healthy)
}

func TestWithPolicy_OverridesThresholds(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(logger.NewNoOpLogger(), WithClock(clock.Now), WithPolicy(Policy{
		FailureThreshold: 1,
		FailureCooldown:  5 * time.Second,
	}))
	r.Register("groq", []string{"gsk_key_aaaa1111"})

	r.RecordFailure("groq", "gsk_key_aaaa1111")
	snap := r.HealthSnapshot("groq")
	assert.Equal(t, 5, snap.Keys[0].CooldownRemainingSeconds)

	r.RecordRateLimited("groq", "gsk_key_aaaa1111")
	snap = r.HealthSnapshot("groq")
	assert.Equal(t, 60, snap.Keys[0].CooldownRemainingSeconds)
}

// ==========================
// Merge Tests
// ==========================

func TestMergeKeyList_PreservesCountersByValue(t *testing.T) {
	r, _ := createTestRegistry(t, "gsk_key_aaaa1111", "gsk_key_bbbb2222")

	r.RecordSuccess("groq", "gsk_key_bbbb2222")
	r.RecordSuccess("groq", "gsk_key_bbbb2222")
	r.RecordSuccess("groq", "gsk_key_aaaa1111")

	r.MergeKeyList("groq", []string{"gsk_key_bbbb2222", "gsk_key_dddd4444"})

	snap := r.HealthSnapshot("groq")
	require.Len(t, snap.Keys, 2)
	assert.Equal(t, 0, snap.Keys[0].Index)
	assert.Equal(t, int64(2), snap.Keys[0].CallCount)
	assert.Equal(t, 1, snap.Keys[1].Index)
	assert.Equal(t, int64(0), snap.Keys[1].CallCount)
}

func TestMergeKeyList_ResetsOutOfRangeActiveIndex(t *testing.T) {
	r, _ := createTestRegistry(t, "gsk_key_aaaa1111", "gsk_key_bbbb2222", "gsk_key_cccc3333")

	r.RecordRateLimited("groq", "gsk_key_aaaa1111")
	r.RecordRateLimited("groq", "gsk_key_bbbb2222")
	rec, err := r.SelectActiveKey("groq")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Index)

	r.MergeKeyList("groq", []string{"gsk_key_eeee5555"})

	snap := r.HealthSnapshot("groq")
	assert.Equal(t, 0, snap.ActiveIndex)
	assert.Equal(t, 1, snap.TotalKeys)
}

func TestRegister_ProviderOrderAndIsolation(t *testing.T) {
	r, _ := createTestRegistry(t)
	r.Register("groq", []string{"gsk_key_aaaa1111"})
	r.Register("gemini", []string{"AIza_key_zzzz9999"})
	r.Register("groq", []string{"gsk_key_aaaa1111"})

	assert.Equal(t, []string{"groq", "gemini"}, r.Providers())

	r.RecordRateLimited("groq", "gsk_key_aaaa1111")
	_, err := r.SelectActiveKey("groq")
	assert.ErrorIs(t, err, apperrors.ErrKeysExhausted)

	rec, err := r.SelectActiveKey("gemini")
	require.NoError(t, err)
	assert.Equal(t, "AIza_key_zzzz9999", rec.Key)
}

// ==========================
// Snapshot & Concurrency Tests
// ==========================

func TestHealthSnapshot_MasksSecrets(t *testing.T) {
	r, _ := createTestRegistry(t, "gsk_abcdefghijkl1234")

	snap := r.HealthSnapshot("groq")
	require.Len(t, snap.Keys, 1)
	assert.Equal(t, "gsk_...1234", snap.Keys[0].MaskedKey)
	assert.Equal(t, "****", MaskKey("short"))

	empty := r.HealthSnapshot("unknown")
	assert.Equal(t, 0, empty.TotalKeys)
	assert.NotNil(t, empty.Keys)
}

func TestRegistry_ConcurrentOutcomes(t *testing.T) {
	r, _ := createTestRegistry(t, "gsk_key_aaaa1111", "gsk_key_bbbb2222")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := r.SelectActiveKey("groq")
			if err != nil {
				return
			}
			r.RecordSuccess("groq", rec.Key)
		}()
	}
	wg.Wait()

	snap := r.HealthSnapshot("groq")
	total := snap.Keys[0].CallCount + snap.Keys[1].CallCount
	assert.Equal(t, int64(50), total)
}
