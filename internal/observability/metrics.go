package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "quotes_total", Help: "Total delivery cost quotes produced"})
	QuoteFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "quote_fallbacks_total", Help: "Quotes that degraded to the fallback cost"})

	PlanningRuns     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "planning_runs_total", Help: "Daily planning runs executed"})
	PlanningDuration = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "bulk_logistics", Name: "planning_duration_seconds", Help: "Planning run latency distribution"})
	RequestsPlanned  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "requests_planned_total", Help: "Pickup requests fully planned"})
	ShipmentsPlanned = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "shipments_planned_total", Help: "Vehicle-day shipment plans produced"})
	FleetUtilization = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "bulk_logistics", Name: "fleet_utilization_ratio", Help: "Capacity used over capacity offered in the latest run"})

	NotificationsSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "notifications_sent_total", Help: "Partner notifications delivered"})
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "notifications_failed_total", Help: "Partner notification attempts that failed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bulk_logistics", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bulk_logistics",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
