package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"aggregator/internal/config"
	"aggregator/internal/constants"
)

const (
	exporterDialTimeout = 5 * time.Second
	batchSpanName       = "processor.apply_batch"
)

// Provider owns the SDK tracer provider for the life of the process.
type Provider struct {
	sdk      *sdktrace.TracerProvider
	exported bool
}

func (p *Provider) Tracer(name string) trace.Tracer {
	return p.sdk.Tracer(name)
}

// Exporting reports whether finished spans leave the process.
func (p *Provider) Exporting() bool {
	return p.exported
}

// Shutdown flushes buffered spans and stops the exporter. Spans ended
// after Shutdown are dropped.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	if p.exported {
		if err := p.sdk.ForceFlush(ctx); err != nil {
			return fmt.Errorf("flush spans: %w", err)
		}
	}
	return p.sdk.Shutdown(ctx)
}

// Init installs the global tracer provider and the W3C propagators. With
// tracing disabled spans are still created, so trace ids keep flowing
// through Kafka headers and logs, but nothing is exported.
func Init(cfg config.TracingConfig, serviceName string) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	res, err := newResource(cfg, serviceName)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.Sampler)),
	}
	if cfg.Enabled {
		exporter, err := newExporter(cfg.OTLP)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	sdk := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk, exported: cfg.Enabled}, nil
}

func resolveServiceName(cfg config.TracingConfig, serviceName string) string {
	switch {
	case serviceName != "":
		return serviceName
	case cfg.ServiceName != "":
		return cfg.ServiceName
	default:
		return constants.ServiceName
	}
}

func newResource(cfg config.TracingConfig, serviceName string) (*resource.Resource, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(resolveServiceName(cfg, serviceName))),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}
	return res, nil
}

func newExporter(cfg config.OTLPConfig) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled without an OTLP endpoint")
	}

	ctx, cancel := context.WithTimeout(context.Background(), exporterDialTimeout)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter for %s: %w", cfg.Endpoint, err)
	}
	return exporter, nil
}

var samplers = map[string]func(ratio float64) sdktrace.Sampler{
	"always_on":  func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_off": func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	"traceidratio": func(ratio float64) sdktrace.Sampler {
		return sdktrace.TraceIDRatioBased(ratio)
	},
	"parentbased_always_on": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	},
	"parentbased_traceidratio": func(ratio float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	},
}

// createSampler falls back to always_on for an empty or unknown type.
func createSampler(cfg config.SamplerConfig) sdktrace.Sampler {
	if build, ok := samplers[cfg.Type]; ok {
		return build(cfg.Param)
	}
	return sdktrace.AlwaysSample()
}

func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartBatchSpan opens the span covering one applied batch.
func StartBatchSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return GetTracer(constants.ServiceName).Start(ctx, batchSpanName,
		trace.WithAttributes(attribute.Int("batch.size", size)),
	)
}

// EndBatchSpan records how a batch was classified and ends the span. A
// batch with failed records ends in error status.
func EndBatchSpan(span trace.Span, unique, duplicate, failed int) {
	span.SetAttributes(
		attribute.Int("batch.unique", unique),
		attribute.Int("batch.duplicate", duplicate),
		attribute.Int("batch.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d events failed to store", failed))
	}
	span.End()
}
