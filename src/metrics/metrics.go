package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ReconcileRuns     *prometheus.CounterVec
	ReconcileFindings *prometheus.CounterVec
	ReconcileLatency  *prometheus.HistogramVec
	MatchesExecuted   *prometheus.CounterVec
	FallbackOutcomes  *prometheus.CounterVec
	LedgerFailovers   *prometheus.CounterVec
	TradesRecorded    *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	StreamClients     prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_runs_total",
				Help: "Reconciliation passes by asset and result.",
			},
			[]string{"asset", "result"},
		),
		ReconcileFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_findings_total",
				Help: "Drift findings reported by reconciliation.",
			},
			[]string{"asset", "kind"},
		),
		ReconcileLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_duration_seconds",
				Help:    "Duration of a reconciliation pass in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"asset"},
		),
		MatchesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matching_fills_total",
				Help: "Order-book fills submitted to the ledger by result.",
			},
			[]string{"asset", "result"},
		),
		FallbackOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallback_settlements_total",
				Help: "Fallback settlement attempts by outcome.",
			},
			[]string{"asset", "outcome"},
		),
		LedgerFailovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_endpoint_failovers_total",
				Help: "Read calls that moved to another ledger endpoint.",
			},
			[]string{"from", "to"},
		),
		TradesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trades_recorded_total",
				Help: "Trade recordings by source and whether the hash was new.",
			},
			[]string{"source", "result"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_events_published_total",
				Help: "Trade notifications by sink and status.",
			},
			[]string{"sink", "status"},
		),
		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trade_stream_clients",
				Help: "Connected websocket trade stream clients.",
			},
		),
	}

	registry.MustRegister(
		m.ReconcileRuns,
		m.ReconcileFindings,
		m.ReconcileLatency,
		m.MatchesExecuted,
		m.FallbackOutcomes,
		m.LedgerFailovers,
		m.TradesRecorded,
		m.EventsPublished,
		m.StreamClients,
	)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveReconcile(asset string, missing, mismatched, orphaned, readErrors int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ReconcileRuns.WithLabelValues(asset, result).Inc()
	m.ReconcileFindings.WithLabelValues(asset, "missing_from_mirror").Add(float64(missing))
	m.ReconcileFindings.WithLabelValues(asset, "status_mismatch").Add(float64(mismatched))
	m.ReconcileFindings.WithLabelValues(asset, "orphaned").Add(float64(orphaned))
	m.ReconcileFindings.WithLabelValues(asset, "read_error").Add(float64(readErrors))
	m.ReconcileLatency.WithLabelValues(asset).Observe(duration.Seconds())
}

func (m *Metrics) ObserveMatch(asset, result string) {
	if m == nil {
		return
	}
	m.MatchesExecuted.WithLabelValues(asset, result).Inc()
}

func (m *Metrics) ObserveFallback(asset, outcome string) {
	if m == nil {
		return
	}
	m.FallbackOutcomes.WithLabelValues(asset, outcome).Inc()
}

func (m *Metrics) ObserveFailover(from, to string) {
	if m == nil {
		return
	}
	m.LedgerFailovers.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveTrade(source string, inserted bool) {
	if m == nil {
		return
	}
	result := "duplicate"
	if inserted {
		result = "inserted"
	}
	m.TradesRecorded.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ObservePublish(sink string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EventsPublished.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) SetStreamClients(n int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(n))
}
