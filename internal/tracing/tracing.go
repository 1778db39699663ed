package tracing

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultService = "engunity-qa"

// tracer is published atomically so Start* helpers are safe from any
// goroutine, with or without a prior Initialize call.
var tracer atomic.Pointer[oteltrace.Tracer]

var provider atomic.Pointer[sdktrace.TracerProvider]

// current returns the active tracer, falling back to the global otel
// no-op tracer when Initialize has not run (unit tests, disabled config).
func current() oteltrace.Tracer {
	if t := tracer.Load(); t != nil {
		return *t
	}
	t := otel.Tracer(defaultService)
	tracer.CompareAndSwap(nil, &t)
	return *tracer.Load()
}

// Config holds tracing configuration
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Initialize wires the OTLP gRPC exporter behind a batching provider.
// When disabled it still publishes a tracer handle so spans become
// cheap no-ops rather than nil dereferences.
func Initialize(cfg Config, logger *zap.Logger) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultService
	}

	if !cfg.Enabled {
		t := otel.Tracer(cfg.ServiceName)
		tracer.Store(&t)
		logger.Info("Tracing disabled")
		return nil
	}

	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	provider.Store(tp)

	t := otel.Tracer(cfg.ServiceName)
	tracer.Store(&t)

	logger.Info("Tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return nil
}

// Shutdown flushes buffered spans; a no-op when tracing never started
func Shutdown(ctx context.Context) error {
	tp := provider.Load()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a pipeline-stage span
func StartSpan(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	return current().Start(ctx, spanName)
}

// StartHTTPSpan opens a span for an outbound HTTP call
func StartHTTPSpan(ctx context.Context, method, url string) (context.Context, oteltrace.Span) {
	ctx, span := current().Start(ctx, "HTTP "+method)
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLFull(url),
	)
	return ctx, span
}

// InjectTraceparent adds the W3C traceparent header to an outbound
// request so the model services can join the trace.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return
	}
	req.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-%02x",
		sc.TraceID().String(), sc.SpanID().String(), sc.TraceFlags()))
}
