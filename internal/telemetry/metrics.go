package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/brandpilot"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Access metrics
	AccessDeniedTotal metric.Int64Counter

	// Quota metrics
	QuotaGrantedTotal   metric.Int64Counter
	QuotaDeniedTotal    metric.Int64Counter
	FeatureDeniedTotal  metric.Int64Counter
	GenerationsConsumed metric.Int64Counter

	// Subscription metrics
	SubscriptionTransitionsTotal metric.Int64Counter
	StaleBillingEventsTotal      metric.Int64Counter

	// Reconciliation metrics
	ReconcileRunsTotal       metric.Int64Counter
	ReconcileDowngradesTotal metric.Int64Counter
	ReconcileSkippedTotal    metric.Int64Counter
	ReconcileDuration        metric.Float64Histogram

	// Session metrics
	SessionsExpiredTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.AccessDeniedTotal, _ = meter.Int64Counter(
		"brandpilot.access.denied.total",
		metric.WithDescription("Total number of workspace access checks that were denied"),
		metric.WithUnit("{request}"),
	)

	m.QuotaGrantedTotal, _ = meter.Int64Counter(
		"brandpilot.quota.granted.total",
		metric.WithDescription("Total number of quota consumption requests granted"),
		metric.WithUnit("{request}"),
	)

	m.QuotaDeniedTotal, _ = meter.Int64Counter(
		"brandpilot.quota.denied.total",
		metric.WithDescription("Total number of quota consumption requests denied"),
		metric.WithUnit("{request}"),
	)

	m.FeatureDeniedTotal, _ = meter.Int64Counter(
		"brandpilot.features.denied.total",
		metric.WithDescription("Total number of feature checks denied by plan"),
		metric.WithUnit("{request}"),
	)

	m.GenerationsConsumed, _ = meter.Int64Counter(
		"brandpilot.generations.consumed.total",
		metric.WithDescription("Total number of AI generations consumed"),
		metric.WithUnit("{generation}"),
	)

	m.SubscriptionTransitionsTotal, _ = meter.Int64Counter(
		"brandpilot.subscriptions.transitions.total",
		metric.WithDescription("Total number of subscription state transitions"),
		metric.WithUnit("{transition}"),
	)

	m.StaleBillingEventsTotal, _ = meter.Int64Counter(
		"brandpilot.subscriptions.stale_events.total",
		metric.WithDescription("Total number of billing events rejected as stale"),
		metric.WithUnit("{event}"),
	)

	m.ReconcileRunsTotal, _ = meter.Int64Counter(
		"brandpilot.reconcile.runs.total",
		metric.WithDescription("Total number of reconciliation sweeps"),
		metric.WithUnit("{run}"),
	)

	m.ReconcileDowngradesTotal, _ = meter.Int64Counter(
		"brandpilot.reconcile.downgrades.total",
		metric.WithDescription("Total number of subscriptions downgraded to free"),
		metric.WithUnit("{subscription}"),
	)

	m.ReconcileSkippedTotal, _ = meter.Int64Counter(
		"brandpilot.reconcile.skipped.total",
		metric.WithDescription("Total number of candidates skipped because they were renewed mid-sweep"),
		metric.WithUnit("{subscription}"),
	)

	m.ReconcileDuration, _ = meter.Float64Histogram(
		"brandpilot.reconcile.duration",
		metric.WithDescription("Duration of reconciliation sweeps"),
		metric.WithUnit("ms"),
	)

	m.SessionsExpiredTotal, _ = meter.Int64Counter(
		"brandpilot.sessions.expired.total",
		metric.WithDescription("Total number of expired sessions removed"),
		metric.WithUnit("{session}"),
	)

	return m
}
