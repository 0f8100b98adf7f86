package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := New()

	reg.TaskDuration.WithLabelValues("shell_exec", "success").Observe(0.2)
	reg.ToolInvocations.WithLabelValues("shell_exec", "success").Inc()
	reg.RateLimiterRejections.WithLabelValues("shell_exec").Inc()
	reg.LLMRequestCounter.WithLabelValues("anthropic", "success").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.ToolInvocations.WithLabelValues("shell_exec", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.RateLimiterRejections.WithLabelValues("shell_exec")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.LLMRequestCounter.WithLabelValues("anthropic", "success")))

	gathered, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, gathered)
}

func TestObserveBreakerTransitionSetsStateAndCountsTrips(t *testing.T) {
	reg := New()

	reg.ObserveBreakerTransition("shell_exec", "closed", "open")
	assert.Equal(t, float64(2), testutil.ToFloat64(reg.CircuitBreakerState.WithLabelValues("shell_exec")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.CircuitBreakerTrips.WithLabelValues("shell_exec")))

	reg.ObserveBreakerTransition("shell_exec", "open", "half-open")
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.CircuitBreakerState.WithLabelValues("shell_exec")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.CircuitBreakerTrips.WithLabelValues("shell_exec")))

	reg.ObserveBreakerTransition("shell_exec", "half-open", "closed")
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.CircuitBreakerState.WithLabelValues("shell_exec")))
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.ToolInvocations.WithLabelValues("x", "success").Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(b.ToolInvocations.WithLabelValues("x", "success")))
}
