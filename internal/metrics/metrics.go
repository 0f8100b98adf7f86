// Package metrics provides the runtime's Prometheus collectors: task
// latency, tool invocation counts, circuit-breaker trips, rate-limiter
// rejections, and LLM provider call latency/counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector the runtime exposes on its /metrics
// endpoint. It wraps a private prometheus.Registry rather than
// registering against prometheus.DefaultRegisterer so that tests (and
// multiple runtimes in one process) can each build their own Registry
// without a "duplicate metrics collector registration" panic.
type Registry struct {
	reg *prometheus.Registry

	// TaskDuration measures executor task latency in seconds.
	// Labels: tool_name, status (success|error|rejected)
	TaskDuration *prometheus.HistogramVec

	// ToolInvocations counts tool invocations by outcome.
	// Labels: tool_name, status (success|error|rejected)
	ToolInvocations *prometheus.CounterVec

	// CircuitBreakerTrips counts CLOSED/HALF_OPEN -> OPEN transitions.
	// Labels: breaker
	CircuitBreakerTrips *prometheus.CounterVec

	// CircuitBreakerState tracks the current state of each breaker
	// (0=closed, 1=half-open, 2=open). Labels: breaker
	CircuitBreakerState *prometheus.GaugeVec

	// RateLimiterRejections counts requests the token bucket denied.
	// Labels: key
	RateLimiterRejections *prometheus.CounterVec

	// LLMRequestDuration measures LLM provider call latency in seconds.
	// Labels: provider, status (success|error)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM provider calls.
	// Labels: provider, status (success|error)
	LLMRequestCounter *prometheus.CounterVec
}

// New builds a Registry with every collector registered against a fresh
// prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laios_task_duration_seconds",
				Help:    "Duration of executor task runs in seconds, by tool and outcome.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "status"},
		),

		ToolInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laios_tool_invocations_total",
				Help: "Total tool invocations by tool name and outcome.",
			},
			[]string{"tool_name", "status"},
		),

		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laios_circuit_breaker_trips_total",
				Help: "Total circuit breaker open transitions, by breaker name.",
			},
			[]string{"breaker"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laios_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open), by breaker name.",
			},
			[]string{"breaker"},
		),

		RateLimiterRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laios_rate_limiter_rejections_total",
				Help: "Total requests rejected by the rate limiter, by key.",
			},
			[]string{"key"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laios_llm_request_duration_seconds",
				Help:    "Duration of LLM provider calls in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laios_llm_requests_total",
				Help: "Total LLM provider calls by provider and outcome.",
			},
			[]string{"provider", "status"},
		),
	}
}

// Gatherer exposes the underlying registry so an HTTP handler (e.g.
// promhttp.HandlerFor) can serve it.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// breakerStateValue maps a hardening.CircuitBreaker state string to the
// gauge value CircuitBreakerState records.
func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// ObserveBreakerTransition records a circuit breaker's from->to
// transition: it updates the state gauge, and if the breaker just
// tripped open, increments the trip counter. Intended for use as (or
// from within) a hardening.BreakerConfig.OnStateChange callback.
func (r *Registry) ObserveBreakerTransition(name, from, to string) {
	r.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
	if to == "open" {
		r.CircuitBreakerTrips.WithLabelValues(name).Inc()
	}
}
