// Package metrics exposes prometheus collectors for screening and signal processing
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PairsScreened = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairs_screened_total", Help: "Pair combinations screened, by outcome"},
		[]string{"outcome"},
	)
	ScreenDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pairs_screen_duration_seconds",
			Help:    "Wall time of a full screening run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
	BarsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bars_processed_total", Help: "Bars dispatched to the pair engine"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted per pair"},
		[]string{"pair", "signal"},
	)
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "executor_actions_total", Help: "Position requests sent to the executor"},
		[]string{"kind", "result"},
	)
	ZScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pair_zscore", Help: "Latest defined ratio z-score"},
		[]string{"pair"},
	)
	PositionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pair_position_state", Help: "0 flat, 1 long spread, -1 short spread"},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(
		PairsScreened,
		ScreenDuration,
		BarsProcessed,
		SignalsTotal,
		ActionsTotal,
		ZScore,
		PositionState,
	)
}

// Handler returns the /metrics handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics endpoint on addr in the background
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
