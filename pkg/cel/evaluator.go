// Package cel compiles admission filter expressions evaluated against each
// incoming event before it is queued.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"aggregator/internal/event"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("topic", cel.StringType),
		cel.Variable("event_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compileFilter(expression)
	return err
}

func (e *Evaluator) compileFilter(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// Filter is a compiled admission expression.
type Filter struct {
	expression string
	program    cel.Program
}

// NewFilter compiles expression once. It must evaluate to bool.
func (e *Evaluator) NewFilter(expression string) (*Filter, error) {
	program, err := e.compileFilter(expression)
	if err != nil {
		return nil, err
	}
	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) Expression() string {
	return f.expression
}

// Match reports whether rec satisfies the filter.
func (f *Filter) Match(ctx context.Context, rec event.Record) (bool, error) {
	payload, err := rec.Payload.Map()
	if err != nil {
		return false, err
	}

	vars := map[string]interface{}{
		"topic":     rec.Topic,
		"event_id":  rec.EventID,
		"source":    rec.Source,
		"timestamp": rec.Timestamp,
		"payload":   payload,
	}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
