package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	exchangeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_exchange_requests_total",
			Help: "Exchange REST requests by operation and outcome",
		},
		[]string{"op", "status"},
	)

	exchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradelens_exchange_request_duration_seconds",
			Help:    "Exchange REST request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)

	fillsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_fills_fetched_total",
			Help: "Raw fills fetched from the exchange",
		},
		[]string{"symbol"},
	)

	fillsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_fills_rejected_total",
			Help: "Raw fills rejected by the normalizer",
		},
		[]string{"symbol", "reason"},
	)

	positionsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_positions_total",
			Help: "Positions reconstructed by status",
		},
		[]string{"symbol", "status"},
	)

	reconstructDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradelens_reconstruct_duration_seconds",
			Help:    "Time spent reconstructing positions for one symbol",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	candlesFilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_candles_filled_total",
			Help: "Candles written to the local cache",
		},
		[]string{"symbol", "timeframe"},
	)

	reviewRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelens_review_runs_total",
			Help: "Review runs by final status",
		},
		[]string{"status"},
	)

	realizedPnl = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradelens_realized_pnl",
			Help: "Realized PnL of the latest review run",
		},
		[]string{"symbol"},
	)
)

func RecordExchangeRequest(op string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	exchangeRequests.WithLabelValues(op, status).Inc()
	exchangeDuration.WithLabelValues(op).Observe(d.Seconds())
}

func RecordRateLimited(op string) {
	exchangeRequests.WithLabelValues(op, "rate_limited").Inc()
}

func AddFillsFetched(symbol string, n int) {
	fillsFetched.WithLabelValues(symbol).Add(float64(n))
}

func RecordFillRejected(symbol, reason string) {
	fillsRejected.WithLabelValues(symbol, reason).Inc()
}

func RecordPositions(symbol string, closed, open int) {
	positionsBuilt.WithLabelValues(symbol, "closed").Add(float64(closed))
	positionsBuilt.WithLabelValues(symbol, "open").Add(float64(open))
}

func ObserveReconstruct(d time.Duration) {
	reconstructDuration.Observe(d.Seconds())
}

func AddCandlesFilled(symbol, timeframe string, n int) {
	candlesFilled.WithLabelValues(symbol, timeframe).Add(float64(n))
}

func RecordReviewRun(status string) {
	reviewRuns.WithLabelValues(status).Inc()
}

func SetRealizedPnl(symbol string, pnl float64) {
	realizedPnl.WithLabelValues(symbol).Set(pnl)
}

// Handler 暴露默认注册表。
func Handler() http.Handler {
	return promhttp.Handler()
}
