package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the metric instruments recorded by the graph manager.
type Instruments struct {
	Mutations        metric.Int64Counter
	HandlerFailures  metric.Int64Counter
	SnapshotDuration metric.Float64Histogram
}

// NewInstruments registers the manager's instruments on meter. A nil meter
// falls back to the global provider.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter(ScopeName)
	}

	mutations, err := meter.Int64Counter("propgraph.mutations",
		metric.WithDescription("Graph mutations applied, by operation and outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutations counter: %w", err)
	}

	failures, err := meter.Int64Counter("propgraph.handler.failures",
		metric.WithDescription("Event handlers that returned an error or panicked."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler failure counter: %w", err)
	}

	duration, err := meter.Float64Histogram("propgraph.structure.duration",
		metric.WithDescription("Time spent building structure snapshots."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot histogram: %w", err)
	}

	return &Instruments{
		Mutations:        mutations,
		HandlerFailures:  failures,
		SnapshotDuration: duration,
	}, nil
}

// RecordMutation counts one mutation.
func (i *Instruments) RecordMutation(ctx context.Context, op string, changed bool) {
	if i == nil {
		return
	}
	outcome := "noop"
	if changed {
		outcome = "applied"
	}
	i.Mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// RecordHandlerFailure counts one failed event handler.
func (i *Instruments) RecordHandlerFailure(ctx context.Context, event string) {
	if i == nil {
		return
	}
	i.HandlerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordSnapshot records how long a structure snapshot took.
func (i *Instruments) RecordSnapshot(ctx context.Context, start time.Time, err error) {
	if i == nil {
		return
	}
	i.SnapshotDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("error", err != nil)))
}
