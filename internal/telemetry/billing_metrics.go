package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics holds Prometheus metrics for the billing subsystem.
// Labels are kept low-cardinality: no tenant ids.
type BillingMetrics struct {
	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Reconciliation
	ReconcileTenants *prometheus.CounterVec
	ReconcileBatches *prometheus.CounterVec
	ReconcileLatency *prometheus.HistogramVec

	// Enforcement
	WritesRejected *prometheus.CounterVec

	// External API performance
	StripeAPILatency *prometheus.HistogramVec
}

// NewBillingMetrics registers billing metrics with reg.
func NewBillingMetrics(namespace string, reg prometheus.Registerer) *BillingMetrics {
	const subsystem = "billing"
	factory := promauto.With(reg)

	return &BillingMetrics{
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total verified webhooks received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhooks processed by outcome",
			},
			[]string{"event_type", "outcome"}, // outcome: applied, duplicate, unresolved, ignored
		),
		WebhookFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook processing failures",
			},
			[]string{"event_type", "error_type"},
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processing_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),
		ReconcileTenants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_tenants_total",
				Help:      "Tenants reconciled by result",
			},
			[]string{"result"}, // result: updated, unchanged, error
		),
		ReconcileBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_batches_total",
				Help:      "Reconciliation runs by trigger",
			},
			[]string{"trigger", "dry_run"},
		),
		ReconcileLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_batch_seconds",
				Help:      "Reconciliation run duration",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),
		WritesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "writes_rejected_total",
				Help:      "Write requests rejected because the tenant is billing-locked",
			},
			[]string{"reason"},
		),
		StripeAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration (helps differentiate app slowness from Stripe issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "outcome"},
		),
	}
}

// Billing is the process-wide instance. Methods are no-ops while it is nil,
// which keeps tests free of registry setup.
var Billing *BillingMetrics

// InitBillingMetrics initializes the global billing metrics instance on the
// default registry.
func InitBillingMetrics(namespace string) *BillingMetrics {
	Billing = NewBillingMetrics(namespace, prometheus.DefaultRegisterer)
	return Billing
}

// ObserveRemoteCall records one Stripe API call.
func (m *BillingMetrics) ObserveRemoteCall(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	m.StripeAPILatency.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// ObserveWebhook records a processed webhook and its outcome.
func (m *BillingMetrics) ObserveWebhook(eventType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.WebhookReceived.WithLabelValues(eventType).Inc()
	m.WebhookProcessed.WithLabelValues(eventType, outcome).Inc()
	m.WebhookLatency.WithLabelValues(eventType).Observe(d.Seconds())
}

// WebhookFailure records a webhook that was answered with an error status.
func (m *BillingMetrics) WebhookFailure(eventType, errorType string) {
	if m == nil {
		return
	}
	m.WebhookFailed.WithLabelValues(eventType, errorType).Inc()
}

// ObserveReconcile records the per-tenant results of one reconciliation run.
func (m *BillingMetrics) ObserveReconcile(trigger string, dryRun bool, updated, unchanged, failed int, d time.Duration) {
	if m == nil {
		return
	}
	dry := "false"
	if dryRun {
		dry = "true"
	}
	m.ReconcileBatches.WithLabelValues(trigger, dry).Inc()
	m.ReconcileTenants.WithLabelValues("updated").Add(float64(updated))
	m.ReconcileTenants.WithLabelValues("unchanged").Add(float64(unchanged))
	m.ReconcileTenants.WithLabelValues("error").Add(float64(failed))
	m.ReconcileLatency.WithLabelValues(trigger).Observe(d.Seconds())
}

// WriteRejected records a write blocked by the lock policy.
func (m *BillingMetrics) WriteRejected(reason string) {
	if m == nil {
		return
	}
	m.WritesRejected.WithLabelValues(reason).Inc()
}
