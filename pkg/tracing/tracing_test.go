package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"aggregator/internal/config"
	"aggregator/internal/constants"
)

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{Enabled: false}, "")
	require.NoError(t, err)
	require.NotNil(t, tp.Tracer("test"))
	assert.False(t, tp.Exporting())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestInit_EnabledWithoutEndpoint(t *testing.T) {
	_, err := Init(config.TracingConfig{Enabled: true}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP endpoint")
}

func TestProvider_ShutdownNil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestResolveServiceName(t *testing.T) {
	assert.Equal(t, "explicit", resolveServiceName(config.TracingConfig{ServiceName: "configured"}, "explicit"))
	assert.Equal(t, "configured", resolveServiceName(config.TracingConfig{ServiceName: "configured"}, ""))
	assert.Equal(t, constants.ServiceName, resolveServiceName(config.TracingConfig{}, ""))
}

func TestEndBatchSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	_, clean := StartBatchSpan(context.Background(), 3)
	EndBatchSpan(clean, 2, 1, 0)
	_, partial := StartBatchSpan(context.Background(), 2)
	EndBatchSpan(partial, 1, 0, 1)

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, "processor.apply_batch", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.Int("batch.size", 3))
	assert.Contains(t, ended[0].Attributes(), attribute.Int("batch.duplicate", 1))

	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Contains(t, ended[1].Attributes(), attribute.Int("batch.failed", 1))
}

func TestKafkaHeaderPropagation(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "content-type", Value: []byte("application/json")}})
	require.Len(t, headers, 2)

	extracted := ExtractTraceContext(context.Background(), headers)
	sc := trace.SpanContextFromContext(extracted)
	assert.True(t, sc.IsValid())
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		cfg  config.SamplerConfig
		want sdktrace.Sampler
	}{
		{config.SamplerConfig{Type: "always_off"}, sdktrace.NeverSample()},
		{config.SamplerConfig{Type: "always_on"}, sdktrace.AlwaysSample()},
		{config.SamplerConfig{Type: "traceidratio", Param: 0.25}, sdktrace.TraceIDRatioBased(0.25)},
		{config.SamplerConfig{Type: "parentbased_always_on"}, sdktrace.ParentBased(sdktrace.AlwaysSample())},
		{config.SamplerConfig{Type: "parentbased_traceidratio", Param: 0.5}, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.5))},
		{config.SamplerConfig{}, sdktrace.AlwaysSample()},
		{config.SamplerConfig{Type: "sometimes"}, sdktrace.AlwaysSample()},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			assert.Equal(t, tt.want.Description(), createSampler(tt.cfg).Description())
		})
	}
}

func TestStartConsumeSpan_ContinuesProducerTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx, parent := tp.Tracer("test").Start(context.Background(), "publish")
	m := kafka.Message{
		Topic:   "events",
		Key:     []byte("orders/1"),
		Headers: InjectTraceContext(ctx, nil),
	}
	parent.End()

	_, span := StartConsumeSpan(context.Background(), m)
	defer span.End()

	assert.Equal(t, parent.SpanContext().TraceID(), span.SpanContext().TraceID())
	assert.NotEqual(t, parent.SpanContext().SpanID(), span.SpanContext().SpanID())
}
