package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds configuration parameters for OpenTelemetry tracing setup.
type Config struct {
	ServiceName    string        `env:"TRACING_SERVICE_NAME" envDefault:"ssebot"`
	ServiceVersion string        `env:"TRACING_SERVICE_VERSION" envDefault:"1.0.0"`
	JaegerEndpoint string        `env:"JAEGER_ENDPOINT" envDefault:"localhost:4318"`
	SampleRate     float64       `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
	BatchTimeout   time.Duration `env:"TRACING_BATCH_TIMEOUT" envDefault:"1s"`
	ExportTimeout  time.Duration `env:"TRACING_EXPORT_TIMEOUT" envDefault:"30s"`
	MaxExportBatch int           `env:"TRACING_MAX_EXPORT_BATCH" envDefault:"512"`
	MaxQueueSize   int           `env:"TRACING_MAX_QUEUE_SIZE" envDefault:"2048"`
}

// Tracer wraps the OpenTelemetry tracer with helpers for publisher spans.
type Tracer struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewTracer creates and configures a new OpenTelemetry tracer with OTLP HTTP export.
// It returns the tracer and a cleanup function that flushes and shuts down the provider.
func NewTracer(config Config) (*Tracer, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(config.JaegerEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(config.ExportTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	processor := sdktrace.NewBatchSpanProcessor(
		exporter,
		sdktrace.WithBatchTimeout(config.BatchTimeout),
		sdktrace.WithExportTimeout(config.ExportTimeout),
		sdktrace.WithMaxExportBatchSize(config.MaxExportBatch),
		sdktrace.WithMaxQueueSize(config.MaxQueueSize),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func(ctx context.Context) error {
		if err := tp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return tp.Shutdown(ctx)
	}

	return NewTracerFromProvider(tp, config.ServiceName), cleanup, nil
}

// NewTracerFromProvider wraps an existing provider without installing it globally.
func NewTracerFromProvider(tp *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		tp:     tp,
	}
}

// StartSpan creates a new span and returns the context carrying it.
func (t *Tracer) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// RecordError records err on the active span and marks it failed.
func (t *Tracer) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EventAttributes describes the event being fanned out.
func (t *Tracer) EventAttributes(publisher, eventType string, eventID uint64, streamID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("sse.publisher", publisher),
		attribute.String("sse.event_type", eventType),
		attribute.Int64("sse.event_id", int64(eventID)),
	}
	if streamID != "" {
		attrs = append(attrs, attribute.String("sse.stream_id", streamID))
	}
	return attrs
}

// SubscriberAttributes describes a subscriber lifecycle call.
func (t *Tracer) SubscriberAttributes(publisher string, userID uint64, streamID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("sse.publisher", publisher),
		attribute.Int64("sse.user_id", int64(userID)),
		attribute.String("sse.stream_id", streamID),
	}
}

// DeliveryAttributes describes the outcome of a fan-out.
func (t *Tracer) DeliveryAttributes(matched, delivered, evicted int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("sse.matched", matched),
		attribute.Int("sse.delivered", delivered),
		attribute.Int("sse.evicted", evicted),
	}
}

// ErrorAttributes creates attributes based on error state.
func (t *Tracer) ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return []attribute.KeyValue{
			attribute.Bool("error", false),
		}
	}
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
	}
}
