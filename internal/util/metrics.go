package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of carts confirmed into orders",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order confirmations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_changes_total",
		Help: "Total number of order status transitions",
	}, []string{"to"})

	LedgerConsumeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_consume_latency_seconds",
		Help:    "Latency of ingredient ledger consumption",
		Buckets: prometheus.DefBuckets,
	})

	IngredientShortfallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingredient_shortfalls_total",
		Help: "Total number of consumptions rejected for insufficient stock",
	})

	ConcurrencyConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concurrency_conflicts_total",
		Help: "Total number of lost conditional writes",
	}, []string{"resource"})

	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations",
	}, []string{"operation"})

	InboundEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_events_total",
		Help: "Total number of chat events handled",
	}, []string{"type"})

	ClassifierFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classifier_failures_total",
		Help: "Total number of intent classification failures",
	}, []string{"reason"})

	ClassifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "classifier_latency_seconds",
		Help:    "Latency of intent classification",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Total number of confirmed payments",
	}, []string{"method"})

	PaymentsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_rejected_total",
		Help: "Total number of rejected payments",
	})

	NotificationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of customer notifications that could not be delivered",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
