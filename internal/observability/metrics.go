package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the billing counters exported on /metrics.
type Metrics struct {
	WebhookEvents          *prometheus.CounterVec
	PaymentTransitions     *prometheus.CounterVec
	SideEffects            *prometheus.CounterVec
	GatewayRequests        *prometheus.HistogramVec
	GatewayErrors          *prometheus.CounterVec
	InvoicePaymentFailures prometheus.Counter
	SweepExpirations       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estatehub",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Gateway webhook events received, by type and outcome.",
		}, []string{"type", "outcome"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estatehub",
			Subsystem: "billing",
			Name:      "payment_transitions_total",
			Help:      "Payment status transitions applied to the ledger.",
		}, []string{"kind", "status", "source"}),
		SideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estatehub",
			Subsystem: "billing",
			Name:      "side_effects_total",
			Help:      "Domain side effects applied or reversed for settled payments.",
		}, []string{"kind", "action"}),
		GatewayRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "estatehub",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		GatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estatehub",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Failed payment gateway calls.",
		}, []string{"operation"}),
		InvoicePaymentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "estatehub",
			Subsystem: "billing",
			Name:      "invoice_payment_failures_total",
			Help:      "Recurring invoice charges the gateway reported as failed.",
		}),
		SweepExpirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estatehub",
			Subsystem: "jobs",
			Name:      "expirations_total",
			Help:      "Records expired by background sweeps.",
		}, []string{"job"}),
	}

	if reg != nil {
		reg.MustRegister(m.WebhookEvents, m.PaymentTransitions, m.SideEffects, m.GatewayRequests,
			m.GatewayErrors, m.InvoicePaymentFailures, m.SweepExpirations)
	}
	return m
}
