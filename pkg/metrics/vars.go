package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QuoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venue_swap_quote_latency_seconds",
		Help:    "Time to obtain a quote from a venue",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue"})

	QuoteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_swap_quote_failures_total",
		Help: "Quote requests that ended without a quote",
	}, []string{"venue", "reason"})

	StaleResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_swap_stale_responses_total",
		Help: "Responses discarded because a newer request was issued",
	}, []string{"venue"})

	RouteSelected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_swap_route_selected_total",
		Help: "Route chosen on each recompute",
	}, []string{"route"})

	LiquidityRefresh = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_swap_liquidity_refresh_total",
		Help: "Liquidity snapshot refreshes by result",
	}, []string{"result"})

	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_swap_submissions_total",
		Help: "Swap submissions by route and outcome",
	}, []string{"route", "outcome"})
)

func init() {
	prometheus.MustRegister(
		QuoteLatency,
		QuoteFailures,
		StaleResponses,
		RouteSelected,
		LiquidityRefresh,
		Submissions,
	)
}
