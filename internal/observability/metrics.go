package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/ariefcatur/go-pos-ledger"

// LifecycleMetrics counts committed transitions and rejected operations for
// one entity kind ("order" or "payment").
type LifecycleMetrics struct {
	entity      string
	transitions metric.Int64Counter
	rejections  metric.Int64Counter
}

// NewLifecycleMetrics registers counters on the global meter provider. A
// registration failure degrades to no-op counters.
func NewLifecycleMetrics(entity string) *LifecycleMetrics {
	meter := otel.Meter(meterName)
	transitions, err := meter.Int64Counter("pos."+entity+".transitions",
		metric.WithDescription("Committed "+entity+" status transitions"))
	if err != nil {
		transitions, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter("noop")
	}
	rejections, err := meter.Int64Counter("pos.lifecycle.rejections",
		metric.WithDescription("Lifecycle operations rejected or rolled back"))
	if err != nil {
		rejections, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter("noop")
	}
	return &LifecycleMetrics{entity: entity, transitions: transitions, rejections: rejections}
}

func (m *LifecycleMetrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *LifecycleMetrics) Rejected(ctx context.Context, operation, kind string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", m.entity),
		attribute.String("operation", operation),
		attribute.String("kind", kind),
	))
}
