package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the page-level collectors. A nil *Metrics is valid and records nothing, so
// components can be built without a registry in tests.
type Metrics struct {
	Registry *prometheus.Registry

	ImpressionsTotal    *prometheus.CounterVec
	RefreshSkippedTotal *prometheus.CounterVec
	CommandFailures     *prometheus.CounterVec
	BatchSize           prometheus.Histogram
	UnitsMounted        prometheus.Gauge
	LedgerDropped       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		ImpressionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adslots_impressions_total",
				Help: "Display and refresh commands issued to the ad service",
			},
			[]string{"kind"},
		),

		RefreshSkippedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adslots_refresh_skipped_total",
				Help: "Refresh evaluations that did not reach the ad service",
			},
			[]string{"reason"},
		),

		CommandFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adslots_command_failures_total",
				Help: "Ad service commands that returned an error or panicked",
			},
			[]string{"op"},
		),

		BatchSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adslots_display_batch_size",
				Help:    "Number of element ids drained per display flush",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
		),

		UnitsMounted: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "adslots_units_mounted",
				Help: "Ad units currently mounted on the page",
			},
		),

		LedgerDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "adslots_ledger_dropped_total",
				Help: "Impressions dropped because the ledger backlog was full",
			},
		),
	}
}

func (m *Metrics) Impression(kind string) {
	if m == nil {
		return
	}
	m.ImpressionsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RefreshSkipped(reason string) {
	if m == nil {
		return
	}
	m.RefreshSkippedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommandFailed(op string) {
	if m == nil {
		return
	}
	m.CommandFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) Batch(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) Mounted(delta float64) {
	if m == nil {
		return
	}
	m.UnitsMounted.Add(delta)
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.LedgerDropped.Inc()
}
