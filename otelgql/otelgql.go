// Package otelgql exports library events as OpenTelemetry traces: one span
// per HTTP request, one per GraphQL operation, and child spans for every
// batch-loader dispatch.
package otelgql

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/graphbind/graphbind/eventbus"
	"github.com/graphbind/graphbind/events"
	"github.com/graphbind/graphbind/requestid"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("graphbind")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // request id -> trace.Span
	execSpans sync.Map // execution id -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := requestid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := requestid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.ExecutionStart) {
		parent := ctx
		if rid, ok := requestid.FromContext(ctx); ok {
			if v, ok := s.httpSpans.Load(rid); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
		}
		_, span := s.tracer.Start(parent, "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
			attribute.String("graphql.execution.id", e.ExecutionID),
		)
		s.execSpans.Store(e.ExecutionID, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.ExecutionFinish) {
		v, ok := s.execSpans.LoadAndDelete(e.ExecutionID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("graphql.error_count", e.ErrorCount))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.BatchDispatch) {
		parent := ctx
		if v, ok := s.execSpans.Load(e.ExecutionID); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "graphql.batch_dispatch",
			trace.WithTimestamp(time.Now().Add(-e.Duration)))
		span.SetAttributes(
			attribute.String("graphql.loader.name", e.Loader),
			attribute.Int("graphql.loader.keys", e.Keys),
			attribute.Int("graphql.loader.calls", e.Calls),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.SubscriptionEvent) {
		v, ok := s.execSpans.Load(e.ExecutionID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Terminal {
			span.AddEvent("graphql.subscription.complete")
			return
		}
		span.AddEvent("graphql.subscription.event")
	})
}

// TraceAccessor carries the active span context through snapshot capture
// and restore, so spans started inside loaders and deferred resolutions
// parent correctly.
type TraceAccessor struct{}

func (TraceAccessor) Name() string { return "otel.span" }

func (TraceAccessor) Extract(ctx context.Context) (any, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil, false
	}
	return sc, true
}

func (TraceAccessor) Inject(ctx context.Context, value any) context.Context {
	sc, ok := value.(trace.SpanContext)
	if !ok {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}
