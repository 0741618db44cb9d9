// Package metrics holds the Prometheus collectors exported by the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tool call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeFault   = "fault"
)

// Channel Access results.
const (
	CAResultOK      = "ok"
	CAResultTimeout = "timeout"
	CAResultError   = "error"
)

// Tool call metrics
var (
	// ToolCallsTotal counts dispatched tool calls.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epics_bridge_tool_calls_total",
			Help: "Tool calls handled by the dispatcher.",
		},
		[]string{"tool", "transport", "outcome"},
	)

	// ToolCallDuration tracks end-to-end dispatch latency.
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epics_bridge_tool_call_duration_seconds",
			Help:    "Tool call dispatch latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)
)

// Channel Access metrics
var (
	// CAOperationsTotal counts Channel Access attempts by operation and result.
	CAOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epics_bridge_ca_operations_total",
			Help: "Channel Access operations attempted by the adapter.",
		},
		[]string{"op", "result"},
	)
)

// RecordToolCall records one dispatched call.
func RecordToolCall(tool, transport, outcome string, elapsed time.Duration) {
	ToolCallsTotal.WithLabelValues(tool, transport, outcome).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordCAOperation records one Channel Access attempt.
func RecordCAOperation(op, result string) {
	CAOperationsTotal.WithLabelValues(op, result).Inc()
}
