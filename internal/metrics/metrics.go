// Package metrics exposes the service's Prometheus instrumentation on a
// private registry, so tests can create isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fill paths.
const (
	FillMatched  = "matched"
	FillDirected = "directed"
)

// Cancellation reasons.
const (
	CancelRequested = "cancel"
	CancelExpired   = "expired"
	CancelMarket    = "market_deleted"
)

// Notification outcomes.
const (
	NotifyDelivered = "delivered"
	NotifyFailed    = "failed"
)

// Metrics holds the market service collectors. A nil *Metrics is valid
// and records nothing, so wiring stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	ordersPosted    prometheus.Counter
	ordersFilled    *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	fillUnits       prometheus.Histogram
	notifications   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_orders_posted_total",
			Help: "Orders posted to the book.",
		}),
		ordersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_orders_filled_total",
			Help: "Orders fully consumed, by fill path.",
		}, []string{"path"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_orders_cancelled_total",
			Help: "Orders cancelled, by reason.",
		}, []string{"reason"}),
		fillUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_fill_units",
			Help:    "Units exchanged per fill.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_notifications_total",
			Help: "Outbound notifications, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.ordersPosted,
		m.ordersFilled,
		m.ordersCancelled,
		m.fillUnits,
		m.notifications,
	)
	return m
}

// Handler serves the registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OrderPosted counts one posted order.
func (m *Metrics) OrderPosted() {
	if m == nil {
		return
	}
	m.ordersPosted.Inc()
}

// OrderFilled counts one fully consumed order by path.
func (m *Metrics) OrderFilled(path string) {
	if m == nil {
		return
	}
	m.ordersFilled.WithLabelValues(path).Inc()
}

// OrderCancelled counts one cancelled order by reason.
func (m *Metrics) OrderCancelled(reason string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(reason).Inc()
}

// FillUnits observes the units exchanged in one fill.
func (m *Metrics) FillUnits(units int64) {
	if m == nil {
		return
	}
	m.fillUnits.Observe(float64(units))
}

// Notification counts one outbound notification by outcome.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
