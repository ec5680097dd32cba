package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("operation-metrics")

// OperationMetrics provides metrics collection for orchestrator operations
type OperationMetrics struct {
	operationsStartedCounter   metric.Int64Counter
	operationsCompletedCounter metric.Int64Counter
	operationsFailedCounter    metric.Int64Counter
	operationsRejectedCounter  metric.Int64Counter
	operationDurationHistogram metric.Float64Histogram
	operationsActiveGauge      metric.Int64UpDownCounter
}

// NewOperationMetrics creates a new operation metrics collector
func NewOperationMetrics() (*OperationMetrics, error) {
	operationsStartedCounter, err := meter.Int64Counter(
		"session_orchestrator.operations.started",
		metric.WithDescription("Total number of operations started"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	operationsCompletedCounter, err := meter.Int64Counter(
		"session_orchestrator.operations.completed",
		metric.WithDescription("Total number of operations completed successfully"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	operationsFailedCounter, err := meter.Int64Counter(
		"session_orchestrator.operations.failed",
		metric.WithDescription("Total number of operations that failed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	operationsRejectedCounter, err := meter.Int64Counter(
		"session_orchestrator.operations.rejected",
		metric.WithDescription("Total number of operation starts rejected because another operation was pending"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	operationDurationHistogram, err := meter.Float64Histogram(
		"session_orchestrator.operation.duration",
		metric.WithDescription("Duration of operation execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	operationsActiveGauge, err := meter.Int64UpDownCounter(
		"session_orchestrator.operations.active",
		metric.WithDescription("Number of currently pending operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &OperationMetrics{
		operationsStartedCounter:   operationsStartedCounter,
		operationsCompletedCounter: operationsCompletedCounter,
		operationsFailedCounter:    operationsFailedCounter,
		operationsRejectedCounter:  operationsRejectedCounter,
		operationDurationHistogram: operationDurationHistogram,
		operationsActiveGauge:      operationsActiveGauge,
	}, nil
}

// RecordOperationStarted records an operation start
func (om *OperationMetrics) RecordOperationStarted(ctx context.Context, operation, ownerID string) {
	om.operationsStartedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("owner.id", ownerID),
		),
	)
	om.operationsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
		),
	)
}

// RecordOperationCompleted records a successful operation completion
func (om *OperationMetrics) RecordOperationCompleted(ctx context.Context, operation, ownerID string, duration time.Duration) {
	om.operationsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("owner.id", ownerID),
			attribute.String("status", "completed"),
		),
	)
	om.operationDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", "completed"),
		),
	)
	om.operationsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("operation", operation),
		),
	)
}

// RecordOperationFailed records a failed operation
func (om *OperationMetrics) RecordOperationFailed(ctx context.Context, operation, ownerID, errorCode string, duration time.Duration) {
	om.operationsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("owner.id", ownerID),
			attribute.String("error.code", errorCode),
		),
	)
	om.operationDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", "failed"),
		),
	)
	om.operationsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("operation", operation),
		),
	)
}

// RecordOperationRejected records an operation-start request refused because
// another operation was already pending
func (om *OperationMetrics) RecordOperationRejected(ctx context.Context, operation, pending string) {
	om.operationsRejectedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("pending", pending),
		),
	)
}
