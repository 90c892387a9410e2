package otelgql

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTraceAccessorRoundTrip(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01},
		SpanID:  trace.SpanID{0x02},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var acc TraceAccessor
	v, ok := acc.Extract(ctx)
	if !ok {
		t.Fatalf("expected a span context in ctx")
	}

	restored := acc.Inject(context.Background(), v)
	if got := trace.SpanContextFromContext(restored); !got.Equal(sc) {
		t.Fatalf("span context did not survive the round trip: %v", got)
	}
}

func TestTraceAccessorSkipsInvalidSpan(t *testing.T) {
	var acc TraceAccessor
	if _, ok := acc.Extract(context.Background()); ok {
		t.Fatalf("expected no span context in empty ctx")
	}
}
