// Package metrics exposes Prometheus metrics for the trader.
package metrics

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading loop.
type Metrics struct {
	EvaluationsTotal prometheus.Counter
	EvaluationDur    prometheus.Histogram
	ActionsTotal     *prometheus.CounterVec // labels: type
	ExecutionFaults  prometheus.Counter
	SkippedBars      *prometheus.CounterVec // labels: cause
	WSReconnects     prometheus.Counter

	Balance       prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	DailyPnL      prometheus.Gauge
	OpenLayers    prometheus.Gauge
}

// New registers and returns all trader metrics.
func New() *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_evaluations_total",
			Help: "Total bar-close evaluations run",
		}),
		EvaluationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_evaluation_duration_seconds",
			Help:    "Decision evaluation latency per bar",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_actions_total",
			Help: "Total confirmed trading actions (by type)",
		}, []string{"type"}),
		ExecutionFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_execution_faults_total",
			Help: "Exchange calls that failed, rolling back the bar",
		}),
		SkippedBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_skipped_bars_total",
			Help: "Bars skipped without evaluation (by cause)",
		}, []string{"cause"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ws_reconnects_total",
			Help: "Kline stream reconnection attempts",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_balance_quote",
			Help: "Available quote-currency balance",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_unrealized_pnl_quote",
			Help: "Unrealized P&L of the open position (0 when flat)",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_daily_pnl_quote",
			Help: "Realized P&L for the current UTC day",
		}),
		OpenLayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_layers",
			Help: "Pyramid layers of the open position (0 when flat)",
		}),
	}

	prometheus.MustRegister(
		m.EvaluationsTotal, m.EvaluationDur, m.ActionsTotal, m.ExecutionFaults,
		m.SkippedBars, m.WSReconnects,
		m.Balance, m.UnrealizedPnL, m.DailyPnL, m.OpenLayers,
	)
	return m
}

// Server runs an HTTP server exposing /metrics.
type Server struct {
	srv *http.Server
}

// NewServer creates the metrics server.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
