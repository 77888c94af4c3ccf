package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pickup_dispatch"

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "orders_created_total", Help: "Total pickup orders created"})

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_status_transitions_total", Help: "Order status changes by target status"},
		[]string{"status"},
	)
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_outcomes_total", Help: "Dispatch attempts by outcome"},
		[]string{"outcome"},
	)

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "dispatch_latency_seconds", Help: "Dispatch latency seconds"})
	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "agent_location_updates_total", Help: "Total agent location upserts"})
	AgentsAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "agents_available", Help: "Agents currently marked available"})
	ActiveOrders    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "orders_active", Help: "Orders not in a terminal status"})
	HubSubscribers  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "live_subscribers", Help: "Connected live update observers"})
	HubDropped      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "live_subscribers_dropped_total", Help: "Observers dropped for being slow or disconnected"})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "live_events_published_total", Help: "Events published to the live channel"},
		[]string{"type"},
	)
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sink_errors_total", Help: "Errors writing events to downstream sinks"},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
