package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes reported to Metrics.
const (
	RefreshOutcomeRefreshed  = "refreshed"
	RefreshOutcomeStillValid = "still_valid"
	RefreshOutcomeFailed     = "failed"
	RefreshOutcomeSkipped    = "skipped"
	RefreshOutcomeStale      = "stale"
)

// Metrics receives session lifecycle measurements.
type Metrics interface {
	RefreshCompleted(outcome string, took time.Duration)
	RefreshCoalesced()
	EventEmitted(name EventName)
	HandlerFailed(name EventName)
}

type noopMetrics struct{}

func (noopMetrics) RefreshCompleted(string, time.Duration) {}
func (noopMetrics) RefreshCoalesced()                      {}
func (noopMetrics) EventEmitted(EventName)                 {}
func (noopMetrics) HandlerFailed(EventName)                {}

func normalizeMetrics(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	refreshes      *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
	coalesced      prometheus.Counter
	events         *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "token_refresh_total",
			Help:      "Token refresh round-trips by outcome.",
		}, []string{"outcome"}),
		refreshLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "token_refresh_duration_seconds",
			Help:      "Token refresh latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "token_refresh_coalesced_total",
			Help:      "Refresh requests that joined an in-flight refresh.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events emitted.",
		}, []string{"event"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "event_handler_errors_total",
			Help:      "Event handlers that returned an error or panicked.",
		}, []string{"event"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *PrometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.refreshes, m.refreshLatency, m.coalesced, m.events, m.handlerErrors}
}

func (m *PrometheusMetrics) RefreshCompleted(outcome string, took time.Duration) {
	m.refreshes.WithLabelValues(outcome).Inc()
	m.refreshLatency.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *PrometheusMetrics) RefreshCoalesced() {
	m.coalesced.Inc()
}

func (m *PrometheusMetrics) EventEmitted(name EventName) {
	m.events.WithLabelValues(string(name)).Inc()
}

func (m *PrometheusMetrics) HandlerFailed(name EventName) {
	m.handlerErrors.WithLabelValues(string(name)).Inc()
}
