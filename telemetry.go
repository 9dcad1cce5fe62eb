package automation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TelemetryCallbacks records execution and node metrics with an
// OpenTelemetry meter.
type TelemetryCallbacks struct {
	BaseExecutionCallbacks

	executions   metric.Int64Counter
	nodes        metric.Int64Counter
	nodeDuration metric.Float64Histogram
	activePaths  metric.Int64UpDownCounter
}

// NewTelemetryCallbacks creates the instruments on meter. A nil meter uses
// the global meter provider.
func NewTelemetryCallbacks(meter metric.Meter) (*TelemetryCallbacks, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	executions, err := meter.Int64Counter("automation.executions",
		metric.WithDescription("Finished workflow executions by status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}
	nodes, err := meter.Int64Counter("automation.node_executions",
		metric.WithDescription("Executed nodes by kind and status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create node counter: %w", err)
	}
	nodeDuration, err := meter.Float64Histogram("automation.node.duration",
		metric.WithDescription("Node execution time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create node duration histogram: %w", err)
	}
	activePaths, err := meter.Int64UpDownCounter("automation.active_paths",
		metric.WithDescription("Paths currently running"))
	if err != nil {
		return nil, fmt.Errorf("failed to create active paths counter: %w", err)
	}
	return &TelemetryCallbacks{
		executions:   executions,
		nodes:        nodes,
		nodeDuration: nodeDuration,
		activePaths:  activePaths,
	}, nil
}

func (t *TelemetryCallbacks) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	t.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(event.Status)),
		attribute.String("trigger_type", string(event.TriggerType)),
	))
}

func (t *TelemetryCallbacks) BeforePath(ctx context.Context, event *PathEvent) {
	t.activePaths.Add(ctx, 1)
}

func (t *TelemetryCallbacks) AfterPath(ctx context.Context, event *PathEvent) {
	t.activePaths.Add(ctx, -1)
}

func (t *TelemetryCallbacks) AfterNode(ctx context.Context, event *NodeEvent) {
	attrs := metric.WithAttributes(
		attribute.String("kind", string(event.Kind)),
		attribute.String("status", string(event.Status)),
	)
	t.nodes.Add(ctx, 1, attrs)
	t.nodeDuration.Record(ctx, float64(event.Duration.Microseconds())/1000, attrs)
}
