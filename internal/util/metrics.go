package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of orders created through checkout",
	})

	CheckoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of committed order status transitions",
	}, []string{"to"})

	InvalidTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_invalid_transitions_total",
		Help: "Total number of rejected order transitions",
	})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Total number of checkouts rejected for insufficient stock",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Total number of gateway webhook events by outcome",
	}, []string{"outcome"})

	RefundsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_requested_total",
		Help: "Total number of admin-initiated refunds",
	})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscription_sweep_runs_total",
		Help: "Total number of scheduler sweeps",
	})

	SweepClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscription_claim_conflicts_total",
		Help: "Total number of subscriptions skipped because another worker held the claim",
	})

	DeliveriesMaterializedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscription_deliveries_materialized_total",
		Help: "Total number of orders materialized from subscriptions",
	})

	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_delivery_failures_total",
		Help: "Total number of failed subscription materializations",
	}, []string{"reason"})

	NotificationsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Total number of notifications dispatched",
	}, []string{"type"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of outbound payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

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
