// Package metrics records run counters for backtests, scans and rotations.
// Every method is safe on a nil *Recorder so callers can opt out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for instrument processing.
const (
	OutcomeSimulated = "simulated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Recorder owns a dedicated registry so that several recorders (one per
// test, say) never collide on the global default registry.
type Recorder struct {
	registry       *prometheus.Registry
	instruments    *prometheus.CounterVec
	trades         *prometheus.CounterVec
	signals        prometheus.Counter
	rotations      prometheus.Counter
	portfolioValue prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		instruments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotter_instruments_total",
				Help: "Instruments processed by a backtest, by outcome",
			},
			[]string{"outcome"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotter_trades_total",
				Help: "Trades produced, by exit reason",
			},
			[]string{"exit_reason"},
		),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_scan_signals_total",
			Help: "Breakout signals found by the daily scan",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_rotations_total",
			Help: "Portfolio rebalances performed by the rotation engine",
		}),
		portfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spotter_portfolio_value",
			Help: "Latest daily value of the rotation portfolio",
		}),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spotter_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	r.registry.MustRegister(r.instruments, r.trades, r.signals, r.rotations, r.portfolioValue, r.latency)
	return r
}

// RecordInstrument counts one instrument with the given outcome.
func (r *Recorder) RecordInstrument(outcome string) {
	if r == nil {
		return
	}
	r.instruments.WithLabelValues(outcome).Inc()
}

// RecordTrade counts one trade by exit reason.
func (r *Recorder) RecordTrade(exitReason string) {
	if r == nil {
		return
	}
	r.trades.WithLabelValues(exitReason).Inc()
}

// RecordSignals adds n scan signals.
func (r *Recorder) RecordSignals(n int) {
	if r == nil {
		return
	}
	r.signals.Add(float64(n))
}

// RecordRotation counts one rebalance.
func (r *Recorder) RecordRotation() {
	if r == nil {
		return
	}
	r.rotations.Inc()
}

// RecordPortfolioValue sets the latest portfolio value.
func (r *Recorder) RecordPortfolioValue(v float64) {
	if r == nil {
		return
	}
	r.portfolioValue.Set(v)
}

// ObserveSince records the time elapsed since start for op.
func (r *Recorder) ObserveSince(op string, start time.Time) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Gatherer exposes the registry, for tests and exporters.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// WriteTextfile writes the current values in the text exposition format,
// suitable for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
