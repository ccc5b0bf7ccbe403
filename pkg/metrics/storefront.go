package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StorefrontMetrics counts cart, checkout, payment and notification outcomes.
type StorefrontMetrics struct {
	cartRejections     *prometheus.CounterVec
	cartPersistFailure prometheus.Counter
	ordersCommitted    *prometheus.CounterVec
	orderCommitFailure prometheus.Counter
	paymentOutcomes    *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// NewStorefrontMetrics registers the storefront counters on reg. A nil registerer yields a no-op recorder.
func NewStorefrontMetrics(reg prometheus.Registerer) *StorefrontMetrics {
	if reg == nil {
		return &StorefrontMetrics{}
	}
	m := &StorefrontMetrics{
		cartRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_rejections_total",
			Help: "Cart mutations rejected by the rules engine.",
		}, []string{"reason"}),
		cartPersistFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_persist_failures_total",
			Help: "Background cart writes that failed and stayed dirty.",
		}),
		ordersCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_committed_total",
			Help: "Orders durably committed.",
		}, []string{"payment_method"}),
		orderCommitFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_commit_failures_total",
			Help: "Order commits that rolled back.",
		}),
		paymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Resolved payment outcomes.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification delivery attempts.",
		}, []string{"channel", "result"}),
	}
	reg.MustRegister(
		m.cartRejections,
		m.cartPersistFailure,
		m.ordersCommitted,
		m.orderCommitFailure,
		m.paymentOutcomes,
		m.notifications,
	)
	return m
}

func (m *StorefrontMetrics) IncCartRejection(reason string) {
	if m == nil || m.cartRejections == nil {
		return
	}
	m.cartRejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *StorefrontMetrics) IncCartPersistFailure() {
	if m == nil || m.cartPersistFailure == nil {
		return
	}
	m.cartPersistFailure.Inc()
}

func (m *StorefrontMetrics) IncOrderCommitted(paymentMethod string) {
	if m == nil || m.ordersCommitted == nil {
		return
	}
	m.ordersCommitted.WithLabelValues(normalizeLabel(paymentMethod)).Inc()
}

func (m *StorefrontMetrics) IncOrderCommitFailure() {
	if m == nil || m.orderCommitFailure == nil {
		return
	}
	m.orderCommitFailure.Inc()
}

func (m *StorefrontMetrics) IncPaymentOutcome(outcome string) {
	if m == nil || m.paymentOutcomes == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncNotification records one delivery attempt; result is "sent" or "failed".
func (m *StorefrontMetrics) IncNotification(channel, result string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(channel), normalizeLabel(result)).Inc()
}
