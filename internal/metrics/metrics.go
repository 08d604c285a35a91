package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	latencyMs      *prometheus.HistogramVec
	streamBlocks   *prometheus.CounterVec
	malformedLines *prometheus.CounterVec
	passthrough    *prometheus.CounterVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_requests_total",
			Help: "Total number of translated requests.",
		}, []string{"dialect", "stream", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claude_bridge_request_latency_ms",
			Help:    "Request latency in milliseconds, including the full stream.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 120000},
		}, []string{"dialect", "stream", "status"}),
		streamBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_stream_blocks_total",
			Help: "Content blocks emitted on translated streams.",
		}, []string{"dialect", "type"}),
		malformedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_stream_malformed_lines_total",
			Help: "Upstream stream lines skipped because they were not valid JSON.",
		}, []string{"dialect"}),
		passthrough: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_upstream_errors_total",
			Help: "Non-2xx upstream responses relayed to the client untranslated.",
		}, []string{"dialect", "status"}),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs, m.streamBlocks, m.malformedLines, m.passthrough)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(dialect string, stream bool, status int, dur time.Duration) {
	s := strconv.Itoa(status)
	st := strconv.FormatBool(stream)
	m.requestsTotal.WithLabelValues(dialect, st, s).Inc()
	m.latencyMs.WithLabelValues(dialect, st, s).Observe(float64(dur.Milliseconds()))
}

func (m *Metrics) ObserveStream(dialect string, textBlocks, toolBlocks, malformed int) {
	if textBlocks > 0 {
		m.streamBlocks.WithLabelValues(dialect, "text").Add(float64(textBlocks))
	}
	if toolBlocks > 0 {
		m.streamBlocks.WithLabelValues(dialect, "tool_use").Add(float64(toolBlocks))
	}
	if malformed > 0 {
		m.malformedLines.WithLabelValues(dialect).Add(float64(malformed))
	}
}

func (m *Metrics) ObservePassthrough(dialect string, status int) {
	m.passthrough.WithLabelValues(dialect, strconv.Itoa(status)).Inc()
}
