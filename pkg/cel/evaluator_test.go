package cel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggregator/internal/event"
)

func sampleRecord() event.Record {
	return event.Record{
		Topic:     "orders",
		EventID:   "evt-1",
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Source:    "api-gateway",
		Payload:   event.Payload(`{"status":"active","amount":250.5,"user_id":"u1"}`),
	}
}

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "valid topic comparison", expr: `topic == "orders"`},
		{name: "valid payload access", expr: `payload.amount > 100.0`},
		{name: "invalid expression", expr: `invalid syntax here!!!`, wantError: true},
		{name: "undefined variable", expr: `metadata.trace_id == "x"`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilterExpression_RequiresBool(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, eval.ValidateFilterExpression(`source == "x"`))
	assert.Error(t, eval.ValidateFilterExpression(`topic + "-suffix"`))
}

func TestFilterExpressionExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range FilterExpressionExamples {
		t.Run(name, func(t *testing.T) {
			_, err := eval.NewFilter(expr)
			assert.NoError(t, err)
		})
	}
}

func TestFilterMatch(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		expr string
		want bool
	}{
		{expr: FilterExpressionExamples["topic_allowlist"], want: true},
		{expr: FilterExpressionExamples["payload_field"], want: true},
		{expr: FilterExpressionExamples["numeric_greater_than"], want: true},
		{expr: FilterExpressionExamples["recent_only"], want: true},
		{expr: `source == "batch-loader"`, want: false},
		{expr: `payload.status == "archived"`, want: false},
		{expr: `timestamp < timestamp("2024-01-01T00:00:00Z")`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := eval.NewFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.Expression())

			got, err := f.Match(context.Background(), sampleRecord())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterMatch_MissingPayloadFieldErrors(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	f, err := eval.NewFilter(`payload.missing == "x"`)
	require.NoError(t, err)

	_, err = f.Match(context.Background(), sampleRecord())
	assert.Error(t, err)
}
