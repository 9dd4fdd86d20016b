package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/inventory-mirror/sync"
)

// SyncMetrics holds the OpenTelemetry instruments for mirror runs
type SyncMetrics struct {
	scopeDuration   metric.Float64Histogram
	runDuration     metric.Float64Histogram
	observedItems   metric.Int64Counter
	deletedRows     metric.Int64Counter
	throttleRetries metric.Int64Counter
	failedScopes    metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	scopeDuration, err := meter.Float64Histogram(
		"inv_mirror_scope_duration_seconds",
		metric.WithDescription("Duration of reconciling one scope of one kind in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"inv_mirror_run_duration_seconds",
		metric.WithDescription("Duration of a full synchronization run in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, err
	}

	observedItems, err := meter.Int64Counter(
		"inv_mirror_observed_items",
		metric.WithDescription("Number of records observed upstream"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	deletedRows, err := meter.Int64Counter(
		"inv_mirror_deleted_rows",
		metric.WithDescription("Number of mirror rows removed by sweeps"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	throttleRetries, err := meter.Int64Counter(
		"inv_mirror_throttle_retries",
		metric.WithDescription("Number of upstream calls retried after throttling"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	failedScopes, err := meter.Int64Counter(
		"inv_mirror_failed_scopes",
		metric.WithDescription("Number of scopes that failed to reconcile"),
		metric.WithUnit("{scope}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		scopeDuration:   scopeDuration,
		runDuration:     runDuration,
		observedItems:   observedItems,
		deletedRows:     deletedRows,
		throttleRetries: throttleRetries,
		failedScopes:    failedScopes,
	}, nil
}

// RecordScopeDuration records how long a scope took and whether it reconciled
func (m *SyncMetrics) RecordScopeDuration(ctx context.Context, kind, region string, duration time.Duration, success bool) {
	if m == nil || m.scopeDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("region", region),
		attribute.Bool("success", success),
	}

	m.scopeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if !success {
		m.failedScopes.Add(ctx, 1, metric.WithAttributes(attrs[:2]...))
	}
}

// RecordObserved adds records observed upstream for a kind
func (m *SyncMetrics) RecordObserved(ctx context.Context, kind, region string, count int) {
	if m == nil || m.observedItems == nil || count <= 0 {
		return
	}
	m.observedItems.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("region", region),
	))
}

// RecordDeleted adds rows removed by a sweep
func (m *SyncMetrics) RecordDeleted(ctx context.Context, kind, region string, count int64) {
	if m == nil || m.deletedRows == nil || count <= 0 {
		return
	}
	m.deletedRows.Add(ctx, count, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("region", region),
	))
}

// RecordThrottleRetry counts one retry after a throttled upstream call
func (m *SyncMetrics) RecordThrottleRetry(ctx context.Context) {
	if m == nil || m.throttleRetries == nil {
		return
	}
	m.throttleRetries.Add(ctx, 1)
}

// RecordRunDuration records the duration of a full run
func (m *SyncMetrics) RecordRunDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.runDuration == nil {
		return
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}
