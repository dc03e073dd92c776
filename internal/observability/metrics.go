// Package observability exposes Prometheus metrics for the monitoring
// pipeline and forwards system errors to Sentry.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	SamplerTicks        prometheus.Counter
	SamplerTickDuration prometheus.Histogram
	SamplerFailures     *prometheus.CounterVec
	EntitiesByState     *prometheus.GaugeVec

	RuleFirings    *prometheus.CounterVec
	RuleSuppressed prometheus.Counter

	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	HistoryWrites   *prometheus.CounterVec
	HistoryRingSize prometheus.Gauge
	HistoryDropped  prometheus.Counter
	HistoryOutage   prometheus.Gauge

	StreamSubscribers prometheus.Gauge
	MetaAlertsActive  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a private registry
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SamplerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opswatch_sampler_ticks_total",
			Help: "Total number of sampling cycles run",
		}),
		SamplerTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opswatch_sampler_tick_duration_seconds",
			Help:    "Duration of a full sample-classify-evaluate tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SamplerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opswatch_sampler_failures_total",
			Help: "Total number of failed collaborator calls",
		}, []string{"kind"}),
		EntitiesByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opswatch_entities",
			Help: "Number of monitored entities per health state",
		}, []string{"state"}),

		RuleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opswatch_rule_firings_total",
			Help: "Total number of rule firings",
		}, []string{"priority"}),
		RuleSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opswatch_rule_suppressed_total",
			Help: "Total number of true conditions suppressed by cooldown",
		}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opswatch_notification_deliveries_total",
			Help: "Total number of channel deliveries by outcome",
		}, []string{"channel_type", "outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opswatch_notification_delivery_duration_seconds",
			Help:    "Time spent delivering to a single channel, retries included",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel_type"}),

		HistoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opswatch_history_writes_total",
			Help: "Total number of history batch writes by result",
		}, []string{"result"}),
		HistoryRingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_history_ring_entries",
			Help: "Firings held in the in-memory fallback ring",
		}),
		HistoryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opswatch_history_dropped_total",
			Help: "Firings dropped because the fallback ring was full",
		}),
		HistoryOutage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_history_outage",
			Help: "Whether the history store is unreachable (1) or not (0)",
		}),

		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_stream_subscribers",
			Help: "Number of open dashboard stream subscriptions",
		}),
		MetaAlertsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_meta_alerts_active",
			Help: "Number of active systemic-failure alerts",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SamplerTicks,
		m.SamplerTickDuration,
		m.SamplerFailures,
		m.EntitiesByState,
		m.RuleFirings,
		m.RuleSuppressed,
		m.Deliveries,
		m.DeliveryDuration,
		m.HistoryWrites,
		m.HistoryRingSize,
		m.HistoryDropped,
		m.HistoryOutage,
		m.StreamSubscribers,
		m.MetaAlertsActive,
	)
	return m
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.SamplerTicks.Inc()
	m.SamplerTickDuration.Observe(d.Seconds())
}

// SamplerFailure counts a failed runtime call; kind is "list" or "sample".
func (m *Metrics) SamplerFailure(kind string) {
	if m == nil {
		return
	}
	m.SamplerFailures.WithLabelValues(kind).Inc()
}

// SetEntityStates replaces the per-state entity gauge.
func (m *Metrics) SetEntityStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.EntitiesByState.Reset()
	for state, n := range counts {
		m.EntitiesByState.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) RuleFired(priority string) {
	if m == nil {
		return
	}
	m.RuleFirings.WithLabelValues(priority).Inc()
}

func (m *Metrics) RuleSuppressedByCooldown() {
	if m == nil {
		return
	}
	m.RuleSuppressed.Inc()
}

func (m *Metrics) Delivery(channelType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(channelType, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(channelType).Observe(d.Seconds())
}

// HistoryWrite counts a batch write; result is "ok" or "error".
func (m *Metrics) HistoryWrite(result string) {
	if m == nil {
		return
	}
	m.HistoryWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) SetHistoryRing(size int, outage bool) {
	if m == nil {
		return
	}
	m.HistoryRingSize.Set(float64(size))
	if outage {
		m.HistoryOutage.Set(1)
	} else {
		m.HistoryOutage.Set(0)
	}
}

func (m *Metrics) HistoryDroppedInc() {
	if m == nil {
		return
	}
	m.HistoryDropped.Inc()
}

func (m *Metrics) SetStreamSubscribers(n int) {
	if m == nil {
		return
	}
	m.StreamSubscribers.Set(float64(n))
}

func (m *Metrics) SetMetaAlerts(n int) {
	if m == nil {
		return
	}
	m.MetaAlertsActive.Set(float64(n))
}
