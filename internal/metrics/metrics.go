package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors used by the checkout core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	checkoutRequests   *prometheus.CounterVec
	checkoutDuration   *prometheus.HistogramVec
	stockShortages     prometheus.Counter
	orderNumberTries   *prometheus.CounterVec
	promotionRejects   *prometheus.CounterVec
	notificationErrors prometheus.Counter
}

func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		checkoutRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "requests_total",
			Help: "Checkout attempts by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		checkoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "duration_seconds",
			Help:    "Checkout latency by final state.",
			Buckets: prometheus.DefBuckets,
		}, []string{"state"}),
		stockShortages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stock", Name: "shortages_total",
			Help: "Cart lines rejected for insufficient stock.",
		}),
		orderNumberTries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "order_number", Name: "attempts_total",
			Help: "Order number claim attempts by result.",
		}, []string{"result"}),
		promotionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "promotion", Name: "rejections_total",
			Help: "Promotion codes rejected by reason.",
		}, []string{"reason"}),
		notificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notification", Name: "failures_total",
			Help: "Order notifications that could not be handed to the broker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.checkoutRequests, m.checkoutDuration, m.stockShortages,
			m.orderNumberTries, m.promotionRejects, m.notificationErrors,
		)
	}
	return m
}

func (m *Metrics) CheckoutDone(outcome, kind, state string, took time.Duration) {
	if m == nil {
		return
	}
	m.checkoutRequests.WithLabelValues(outcome, kind).Inc()
	m.checkoutDuration.WithLabelValues(state).Observe(took.Seconds())
}

func (m *Metrics) StockShortages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stockShortages.Add(float64(n))
}

// OrderNumberAttempt records one claim attempt; result is "ok", "conflict" or "error".
func (m *Metrics) OrderNumberAttempt(result string) {
	if m == nil {
		return
	}
	m.orderNumberTries.WithLabelValues(result).Inc()
}

func (m *Metrics) PromotionRejected(reason string) {
	if m == nil {
		return
	}
	m.promotionRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notificationErrors.Inc()
}
