package sinks

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivehub_tool_calls_total",
			Help: "Tool calls dispatched, by server, tool and outcome.",
		},
		[]string{"server", "tool", "outcome"},
	)

	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hivehub_tool_call_duration_seconds",
			Help:    "Tool call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "tool"},
	)

	toolFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivehub_tool_call_failures_total",
			Help: "Failed tool calls, by server and failure kind.",
		},
		[]string{"server", "kind"},
	)
)

func init() {
	prometheus.MustRegister(toolCalls, toolDuration, toolFailures)
}

// MetricsSink counts dispatch outcomes in Prometheus collectors.
type MetricsSink struct{}

// NewMetricsSink creates the Prometheus sink.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Emit records the event in the collectors.
func (s *MetricsSink) Emit(event Event) {
	toolCalls.WithLabelValues(event.Server, event.Tool, event.Outcome).Inc()
	toolDuration.WithLabelValues(event.Server, event.Tool).Observe(float64(event.DurationMS) / 1000)
	if event.Outcome == OutcomeError {
		kind := event.Kind
		if kind == "" {
			kind = "unknown"
		}
		toolFailures.WithLabelValues(event.Server, kind).Inc()
	}
}

// Close implements Sink.
func (s *MetricsSink) Close() error { return nil }

// MetricsHandler serves the Prometheus scrape surface.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
