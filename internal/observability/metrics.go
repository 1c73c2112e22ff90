package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_negotiation", Name: "sync_fetches_total", Help: "Booking fetch attempts by outcome"},
		[]string{"outcome"},
	)
	SyncPollInterval = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool_negotiation", Name: "sync_poll_interval_seconds", Help: "Most recently chosen polling interval"})
	NewOffersTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_negotiation", Name: "new_offers_total", Help: "Driver offers first seen by the change detector"})
	ConflictsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_negotiation", Name: "offer_conflicts_total", Help: "Accept attempts rejected because the offer was already taken"})
	SessionsActive   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool_negotiation", Name: "sessions_active", Help: "Booking sessions currently polling"})
	HandoffsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_negotiation", Name: "payment_handoffs_total", Help: "Successful payment handoffs"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_negotiation", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool_negotiation",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
