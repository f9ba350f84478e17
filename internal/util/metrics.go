package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_orders_created_total",
		Help: "Total number of pending orders created",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_orders_rejected_total",
		Help: "Total number of order requests rejected before persisting",
	}, []string{"reason"})

	OrderResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_order_resolutions_total",
		Help: "Total number of order resolution attempts by outcome",
	}, []string{"outcome"})

	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rental_allocation_latency_seconds",
		Help:    "Latency of unit allocation inside a transaction",
		Buckets: prometheus.DefBuckets,
	})

	AllocationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_allocations_failed_total",
		Help: "Total number of allocations that reserved nothing",
	}, []string{"reason"})

	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_reservations_created_total",
		Help: "Total number of unit reservations written",
	})

	ReservationsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_reservations_deleted_total",
		Help: "Total number of reservations removed by an operator",
	})

	UnitPoolSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_unit_pool_syncs_total",
		Help: "Total number of unit pool synchronizations that changed units",
	})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_notifications_failed_total",
		Help: "Total number of failed confirmation channel calls",
	}, []string{"op"})

	OccupancyCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_occupancy_cache_total",
		Help: "Occupancy cache lookups by result",
	}, []string{"result"})

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
