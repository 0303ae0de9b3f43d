package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StoredTrace is a W3C trace context kept alongside a persisted record, so the
// process that later relays the record continues the trace that wrote it.
type StoredTrace struct {
	Parent string
	State  string
}

// CaptureTrace snapshots the span context carried by ctx through the global
// propagator. It is zero when ctx has no span.
func CaptureTrace(ctx context.Context) StoredTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return StoredTrace{Parent: carrier["traceparent"], State: carrier["tracestate"]}
}

func (s StoredTrace) IsZero() bool {
	return s.Parent == ""
}

// Resume returns ctx with s installed as the remote parent. A zero s returns ctx
// unchanged, as does a tracestate without a traceparent.
func (s StoredTrace) Resume(ctx context.Context) context.Context {
	if s.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": s.Parent}
	if s.State != "" {
		carrier["tracestate"] = s.State
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
