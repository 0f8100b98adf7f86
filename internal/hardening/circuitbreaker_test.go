package hardening

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	fail := func(context.Context) error { return errors.New("boom") }
	require.Error(t, cb.Execute(context.Background(), fail))
	assert.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Millisecond})
	fail := func(context.Context) error { return errors.New("boom") }
	require.Error(t, cb.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	// Half-open allows exactly one trial call; a single success closes
	// the breaker immediately rather than requiring a run of successes.
	ok := func(context.Context) error { return nil }
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Millisecond})
	require.Error(t, cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") }))
	time.Sleep(5 * time.Millisecond)
	require.Error(t, cb.Execute(context.Background(), func(context.Context) error { return errors.New("still broken") }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecuteWithResultPropagatesValue(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})
	val, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestRegistryCreatesPerKeyBreakers(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	a := r.Get("tool-a")
	b := r.Get("tool-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, r.Get("tool-a"))

	require.Error(t, a.Execute(context.Background(), func(context.Context) error { return errors.New("boom") }))
	assert.Equal(t, []string{"tool-a"}, r.OpenCircuits())

	r.ResetAll()
	assert.Empty(t, r.OpenCircuits())
}
