package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "cinehub"

// Config holds OpenTelemetry configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	CollectorAddr  string
	SampleRatio    float64
}

func (c *Config) tracerName() string {
	if c == nil || c.ServiceName == "" {
		return defaultTracerName
	}
	return c.ServiceName
}

func (c *Config) sampler() sdktrace.Sampler {
	ratio := c.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Telemetry owns the tracer provider of the process
type Telemetry struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

var global *Telemetry

// Init installs the OTLP tracer provider and W3C propagation.
// When tracing is disabled spans come from the global no-op provider, but
// trace context is still propagated through Kafka headers.
func Init(ctx context.Context, cfg *Config) (*Telemetry, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg == nil || !cfg.Enabled {
		global = &Telemetry{tracer: otel.Tracer(cfg.tracerName())}
		return global, nil
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(provider)

	global = &Telemetry{provider: provider, tracer: provider.Tracer(cfg.tracerName())}
	return global, nil
}

func newProvider(ctx context.Context, cfg *Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.CollectorAddr),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.CollectorAddr, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	), nil
}

// Shutdown flushes pending spans
func Shutdown(ctx context.Context) error {
	if global == nil || global.provider == nil {
		return nil
	}
	return global.provider.Shutdown(ctx)
}

// StartSpan starts a span on the process tracer
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if global == nil {
		return otel.Tracer(defaultTracerName).Start(ctx, name, opts...)
	}
	return global.tracer.Start(ctx, name, opts...)
}

// GetTraceID returns the trace id of the span in ctx, or "" outside a sampled trace
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// RecordError marks span as failed with err
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// BookingAttrs are the span attributes shared by every step of a booking
func BookingAttrs(bookingID, showtimeID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("booking_id", bookingID)}
	if showtimeID != "" {
		attrs = append(attrs, attribute.String("showtime_id", showtimeID))
	}
	return attrs
}

// InjectHeaders writes the trace context of ctx into headers, e.g. Kafka record headers
func InjectHeaders(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// ExtractHeaders continues the trace carried by headers
func ExtractHeaders(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
