// Package metrics exposes Prometheus instruments for backtest runs, order
// processing and API traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the backtester's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runPnL         *prometheus.GaugeVec
	ordersTotal    *prometheus.CounterVec
	partialFills   *prometheus.CounterVec
	tradingCosts   *prometheus.CounterVec
	rateLimited    prometheus.Counter
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_runs_total",
				Help: "Total number of backtest runs by outcome",
			},
			[]string{"strategy", "status"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtester_run_duration_seconds",
				Help:    "Backtest run duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"strategy"},
		),
		runPnL: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backtester_run_pnl",
				Help: "PnL of the most recent completed run",
			},
			[]string{"strategy", "ticker"},
		),
		ordersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_orders_total",
				Help: "Total number of orders processed",
			},
			[]string{"ticker", "side"},
		),
		partialFills: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_partial_fills_total",
				Help: "Total number of orders filled for less than requested",
			},
			[]string{"ticker"},
		),
		tradingCosts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_trading_costs_total",
				Help: "Total simulated trading costs charged",
			},
			[]string{"ticker"},
		),
		rateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "backtester_rate_limited_total",
				Help: "Total number of API requests rejected by the rate limit",
			},
		),
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"transport", "route", "code"},
		),
		requestLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtester_api_request_duration_seconds",
				Help:    "API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport", "route"},
		),
	}
}

// RecordRun records the outcome of one run. status is "ok" or "error".
func (m *Metrics) RecordRun(strategy, ticker, status string, d time.Duration, pnl float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(strategy, status).Inc()
	m.runDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if status == "ok" {
		m.runPnL.WithLabelValues(strategy, ticker).Set(pnl)
	}
}

// RecordOrder records one processed order.
func (m *Metrics) RecordOrder(ticker, side string, costs float64, partial bool) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(ticker, side).Inc()
	m.tradingCosts.WithLabelValues(ticker).Add(costs)
	if partial {
		m.partialFills.WithLabelValues(ticker).Inc()
	}
}

// RecordRateLimited counts one request rejected by the rate limit.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordRequest records one API request.
func (m *Metrics) RecordRequest(transport, route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(transport, route, code).Inc()
	m.requestLatency.WithLabelValues(transport, route).Observe(d.Seconds())
}
