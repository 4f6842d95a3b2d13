package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Setup wires the global tracer. OTLP takes precedence over Jaeger; with
// neither configured tracing stays a no-op and nil is returned.
func Setup(config Config) (*tracesdk.TracerProvider, error) {
	exporter, err := newExporter(config)
	if exporter == nil || err != nil {
		return nil, err
	}

	res, err := newResource(config)
	if err != nil {
		return nil, err
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(PACKAGE)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, nil
}

func newExporter(config Config) (tracesdk.SpanExporter, error) {
	if config.OTLP.Host != "" {
		options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLP.Host)}
		if !config.OTLP.Secure {
			options = append(options, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(options...))
	}

	if config.JaegerURL != "" {
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerURL)))
	}

	return nil, nil
}

// newResource identifies this service instance in the traces.
func newResource(config Config) (*resource.Resource, error) {
	id := config.ID
	if id == "" {
		id = uuid.NewString()
	}

	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(PACKAGE),
		attribute.String("instance_id", id),
	), nil
}
