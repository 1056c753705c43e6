// Package otel exports one span per gRPC client call to an OTLP collector.
// Spans are driven by the transport's eventbus events.
package otel

import (
	"context"
	"errors"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/bharat-rajani/grpc-products/internal/eventbus"
	"github.com/bharat-rajani/grpc-products/internal/events"
	"github.com/bharat-rajani/grpc-products/internal/reqid"
)

// TracerName names the tracer spans are created with.
const TracerName = "products-client"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(ctx context.Context, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
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

	unsubscribe := Register(tp.Tracer(TracerName))
	return func(ctx context.Context) error {
		unsubscribe()
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

// Register starts a "grpc.client" span on every GRPCClientStart event and
// ends it on the matching GRPCClientFinish. Calls are matched by request id.
func Register(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer, spans: xsync.NewMapOf[string, trace.Span]()}
	return s.register()
}

type subscriber struct {
	tracer trace.Tracer
	spans  *xsync.MapOf[string, trace.Span] // rid -> span
}

func (s *subscriber) register() func() {
	start := eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "grpc.client", trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Target),
			attribute.Bool("rpc.streaming", e.Streaming),
			attribute.String("request.id", rid),
		)
		if prev, loaded := s.spans.LoadAndStore(rid, span); loaded {
			prev.End()
		}
	})

	finish := eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
		rid, _ := reqid.FromContext(ctx)
		span, ok := s.spans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span.SetAttributes(
			attribute.Int("rpc.grpc.status_code", int(e.Code)),
			attribute.String("grpc.code", e.Code.String()),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
			span.SetStatus(otelcodes.Error, e.Code.String())
		}
		span.End()
	})

	return func() {
		start()
		finish()
		s.spans.Range(func(rid string, span trace.Span) bool {
			span.End()
			s.spans.Delete(rid)
			return true
		})
	}
}
