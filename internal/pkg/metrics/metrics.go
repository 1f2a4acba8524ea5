package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_ticks_total",
		Help: "Scheduler ticks by result (completed, failed, skipped_overlap)",
	}, []string{"result"})

	ListingsChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repricer_listings_checked_total",
		Help: "Listings that completed a buy box check",
	})

	RepriceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_outcomes_total",
		Help: "Per-listing pipeline outcomes",
	}, []string{"outcome"})

	CreditRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_credit_rejects_total",
		Help: "Pipeline steps skipped for insufficient credits",
	}, []string{"reason"})

	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repricer_upstream_latency_seconds",
		Help:    "Marketplace call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"marketplace", "op"})

	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_upstream_retries_total",
		Help: "Retried transient upstream failures",
	}, []string{"marketplace", "op"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repricer_http_latency_seconds",
		Help:    "Ops API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
