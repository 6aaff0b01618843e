// Package metrics exposes Prometheus instrumentation for the agent kernel.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector registered by the kernel.
type Metrics struct {
	registry *prometheus.Registry

	// GuardScans counts sanitize passes; GuardRedactions counts individual
	// substitutions made by the output guard.
	GuardScans      prometheus.Counter
	GuardRedactions *prometheus.CounterVec

	// RateLimitDenials counts denied checks by category and cause.
	// Labels: category, cause (minute|hour|budget)
	RateLimitDenials *prometheus.CounterVec

	// MonologueIterations counts inner-loop turns by adapter.
	MonologueIterations *prometheus.CounterVec

	// ToolInvocations counts tool executions.
	// Labels: tool_name, status (success|error)
	ToolInvocations *prometheus.CounterVec

	// SelfHealAttempts counts heal attempts by source and outcome.
	// Labels: source (memory|llm), outcome (healed|failed)
	SelfHealAttempts *prometheus.CounterVec

	// MCPCalls counts MCP tool calls.
	// Labels: server, status (success|error|timeout)
	MCPCalls *prometheus.CounterVec

	// MessageCounter tracks messages by channel and direction.
	MessageCounter *prometheus.CounterVec
}

// New creates the metric set on a private registry so repeated construction
// in tests never collides.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		GuardScans: factory.NewCounter(prometheus.CounterOpts{
			Name: "itak_guard_scans_total",
			Help: "Total sanitize passes performed by the output guard",
		}),
		GuardRedactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "itak_guard_redactions_total",
			Help: "Total redactions made by the output guard by category",
		}, []string{"category"}),

		RateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "itak_ratelimit_denials_total",
			Help: "Total denied rate-limit checks by category and cause",
		}, []string{"category", "cause"}),

		MonologueIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "itak_monologue_iterations_total",
			Help: "Total monologue inner-loop iterations by adapter",
		}, []string{"adapter"}),

		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "itak_tool_invocations_total",
			Help: "Total tool invocations by name and status",
		}, []string{"tool_name", "status"}),

		SelfHealAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "itak_selfheal_attempts_total",
			Help: "Total self-heal attempts by source and outcome",
		}, []string{"source", "outcome"}),

		MCPCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "itak_mcp_calls_total",
			Help: "Total MCP tool calls by server and status",
		}, []string{"server", "status"}),

		MessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "itak_messages_total",
			Help: "Total messages processed by channel and direction",
		}, []string{"channel", "direction"}),
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
