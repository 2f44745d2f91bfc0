// Package telemetry exposes the engine's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	Evaluations    prometheus.Counter
	Signals        *prometheus.CounterVec
	Score          prometheus.Gauge
	Threshold      prometheus.Gauge
	OpenPositions  prometheus.Gauge
	TradesClosed   *prometheus.CounterVec
	RealizedPnL    prometheus.Gauge
	DailyPnL       prometheus.Gauge
	ReconcileDrift prometheus.Counter
	VenueErrors    prometheus.Counter
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_evaluations_total",
			Help: "Number of candle evaluations performed.",
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals emitted by verdict.",
		}, []string{"verdict"}),
		Score: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_confluence_score",
			Help: "Latest confluence score.",
		}),
		Threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_signal_threshold",
			Help: "Latest dynamic signal threshold.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Number of open positions.",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Closed trades by reason.",
		}, []string{"reason"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_realized_pnl",
			Help: "Cumulative realized PnL.",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_daily_pnl",
			Help: "Realized PnL for the current UTC day.",
		}),
		ReconcileDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_reconcile_drift_total",
			Help: "Heartbeat quantity drift detections.",
		}),
		VenueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_venue_errors_total",
			Help: "Venue call failures after retries.",
		}),
	}
	registry.MustRegister(
		m.Evaluations, m.Signals, m.Score, m.Threshold, m.OpenPositions,
		m.TradesClosed, m.RealizedPnL, m.DailyPnL, m.ReconcileDrift, m.VenueErrors,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
