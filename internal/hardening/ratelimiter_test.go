package hardening

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 5, BurstSize: 3, Enabled: true}, nil)
	assert.True(t, rl.Allow("session-1"))
	assert.True(t, rl.Allow("session-1"))
	assert.True(t, rl.Allow("session-1"))
	assert.False(t, rl.Allow("session-1"))
}

func TestRateLimiterPerKeyIsolation(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, Enabled: true}, nil)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiterDisabledAlwaysAllows(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, Enabled: false}, nil)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("x"))
	}
}

func TestRateLimiterGlobalBudgetAppliesAcrossKeys(t *testing.T) {
	global := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, Enabled: true}
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100, Enabled: true}, &global)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("b")) // global bucket exhausted even though per-key has room
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1, Enabled: true}, nil)
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiterResetRestoresBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, Enabled: true}, nil)
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	rl.Reset("k")
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiterStatusReportsWithoutConsuming(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2, Enabled: true}, nil)
	status := rl.Status("k")
	assert.True(t, status.AllowedNow)
	assert.InDelta(t, 2.0, status.TokensRemaining, 0.01)
	// Status must not have consumed a token.
	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
}
