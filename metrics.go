package redismpx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "redismpx"

// Metrics holds the Prometheus instrumentation for a Multiplexer. A nil
// *Metrics is always safe to call into: every method is a nil-receiver no-op.
// Nothing in this package requires metrics to be configured; the spec
// declares no hard observability requirement, but the ambient stack is
// carried regardless of what functionality the Non-goals exclude.
type Metrics struct {
	ActiveChannelSubs prometheus.Gauge
	ActivePatternSubs prometheus.Gauge
	PendingPromises   prometheus.Gauge

	CommandsIssued  *prometheus.CounterVec
	ReconnectsTotal prometheus.Counter
	DisconnectTotal prometheus.Counter

	PromiseOutcomes *prometheus.CounterVec
	ReconnectDelay  prometheus.Histogram
}

// NewMetrics registers redismpx's metrics against registry, mirroring the
// corpus's own promauto.With(registry) shape.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		ActiveChannelSubs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_channel_refs",
			Help:      "Number of distinct channels with at least one live local subscriber.",
		}),
		ActivePatternSubs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_pattern_refs",
			Help:      "Number of distinct patterns with at least one live local subscriber.",
		}),
		PendingPromises: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_promises",
			Help:      "Number of promises awaiting resolution, timeout or cancellation.",
		}),
		CommandsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_issued_total",
			Help:      "Total (P)SUBSCRIBE/(P)UNSUBSCRIBE commands issued to the shared connection.",
		}, []string{"command"}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Total number of successful reconnects to Redis.",
		}),
		DisconnectTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Total number of reported Listener disconnects.",
		}),
		PromiseOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "promise_outcomes_total",
			Help:      "Terminal promise outcomes, by kind: resolved, timed_out, cancelled.",
		}, []string{"outcome"}),
		ReconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay actually observed before a reconnect attempt.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

func (m *Metrics) incCommand(name string) {
	if m == nil {
		return
	}
	m.CommandsIssued.WithLabelValues(name).Inc()
}

func (m *Metrics) setActiveChannelRefs(n int) {
	if m == nil {
		return
	}
	m.ActiveChannelSubs.Set(float64(n))
}

func (m *Metrics) setActivePatternRefs(n int) {
	if m == nil {
		return
	}
	m.ActivePatternSubs.Set(float64(n))
}

func (m *Metrics) incPendingPromises(delta float64) {
	if m == nil {
		return
	}
	m.PendingPromises.Add(delta)
}

func (m *Metrics) incReconnects() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

func (m *Metrics) incDisconnects() {
	if m == nil {
		return
	}
	m.DisconnectTotal.Inc()
}

func (m *Metrics) observeReconnectDelaySeconds(s float64) {
	if m == nil {
		return
	}
	m.ReconnectDelay.Observe(s)
}

func (m *Metrics) incPromiseOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PromiseOutcomes.WithLabelValues(outcome).Inc()
}
