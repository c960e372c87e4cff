// Package metrics holds the Prometheus collectors of the order service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
)

const resultOK = "ok"

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders committed, by order kind",
		},
		[]string{"kind"},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_operations_total",
			Help: "Order operations by outcome",
		},
		[]string{"operation", "result"},
	)

	orderOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_operation_duration_seconds",
			Help:    "Duration of order operations including the database transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	inventoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_operations_total",
			Help: "Inventory reservations and releases by resource and outcome",
		},
		[]string{"operation", "resource", "result"},
	)

	inventoryUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_units_total",
			Help: "Units reserved or released",
		},
		[]string{"operation", "resource"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries by kind, sink and outcome",
		},
		[]string{"kind", "sink", "result"},
	)

	notificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Notifications that could not be queued",
		},
		[]string{"kind"},
	)
)

func result(err error) string {
	if err == nil {
		return resultOK
	}
	return domain.KindOf(err).String()
}

func OrderCreated(kind string) {
	ordersCreated.WithLabelValues(kind).Inc()
}

// ObserveOperation records the outcome and latency of a coordinator operation.
func ObserveOperation(operation string, started time.Time, err error) {
	orderOperations.WithLabelValues(operation, result(err)).Inc()
	orderOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func ObserveInventory(operation, resource string, units int, err error) {
	inventoryOperations.WithLabelValues(operation, resource, result(err)).Inc()
	if err == nil {
		inventoryUnits.WithLabelValues(operation, resource).Add(float64(units))
	}
}

func ObserveNotification(kind, sink string, err error) {
	r := resultOK
	if err != nil {
		r = "error"
	}
	notifications.WithLabelValues(kind, sink, r).Inc()
}

func NotificationDropped(kind string) {
	notificationsDropped.WithLabelValues(kind).Inc()
}
