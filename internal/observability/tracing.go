// Package observability sets up the OpenTelemetry tracer provider used by
// the engine and its startup tasks.
package observability

import (
	"context"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xraph/corekit/internal/logger"
)

// TracingConfig selects the OTLP/HTTP collector. An empty Endpoint disables
// tracing.
type TracingConfig struct {
	Endpoint           string            `yaml:"endpoint"`
	ServiceName        string            `yaml:"service_name"`
	ServiceVersion     string            `yaml:"service_version"`
	Environment        string            `yaml:"environment"`
	Insecure           bool              `yaml:"insecure"`
	Headers            map[string]string `yaml:"headers"`
	SamplingRate       float64           `yaml:"sampling_rate"`
	ResourceAttributes map[string]string `yaml:"resource_attributes"`
}

// Tracing owns a tracer provider and the exporter behind it.
type Tracing struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// Provider returns the tracer provider to hand to the engine.
func (t *Tracing) Provider() trace.TracerProvider {
	return t.provider
}

// Enabled reports whether spans are exported.
func (t *Tracing) Enabled() bool {
	_, ok := t.provider.(*sdktrace.TracerProvider)
	return ok
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// NewTracing builds a batching tracer provider exporting to config.Endpoint
// and installs it as the global provider. Without an endpoint it returns a
// no-op provider and leaves the globals alone.
func NewTracing(ctx context.Context, config TracingConfig, l logger.Logger) (*Tracing, error) {
	l = logger.OrNoop(l)
	if config.Endpoint == "" {
		return &Tracing{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	exporter, err := createOTLPHTTPExporter(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(createResource(config)),
		sdktrace.WithSampler(createSampler(config)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	l.Info("tracing enabled",
		logger.String("endpoint", config.Endpoint),
		logger.String("service", config.ServiceName),
	)
	return &Tracing{provider: provider, shutdown: provider.Shutdown}, nil
}

// createOTLPHTTPExporter accepts either a full URL or a host:port.
func createOTLPHTTPExporter(ctx context.Context, config TracingConfig) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if u, err := url.Parse(config.Endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(config.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(config.Endpoint))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

func createResource(config TracingConfig) *resource.Resource {
	service := config.ServiceName
	if service == "" {
		service = "corekit"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(service)}
	if config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for key, value := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func createSampler(config TracingConfig) sdktrace.Sampler {
	switch {
	case config.SamplingRate <= 0 || config.SamplingRate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))
	}
}
