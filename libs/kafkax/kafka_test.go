package kafkax

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestEventMessage_Headers(t *testing.T) {
	msg := EventMessage("evt-1", "scheduling.appointment.booked.v1", "appt-1", []byte(`{}`))
	if msg.Topic != "scheduling.appointment.booked.v1" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if HeaderValue(msg.Headers, HeaderEventID) != "evt-1" {
		t.Fatal("missing event_id header")
	}
	if string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	msg := EventMessage("evt-1", "topic", "key", nil)
	headers := InjectTraceHeaders(ctx, msg.Headers)
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatal("expected traceparent header")
	}
}
