package rules

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Filter gates which alerts are published on the alert topic. It has no
// effect on rule evaluation, persistence, or the alerts returned to the
// ingest caller. A nil Filter passes everything.
type Filter struct {
	program cel.Program
}

// NewFilter compiles a CEL expression over the alert fields. An empty
// expression yields a pass-everything filter.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return &Filter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("alert_type", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("from_id", cel.StringType),
		cel.Variable("to_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile alert filter: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("alert filter must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter program: %w", err)
	}

	return &Filter{program: program}, nil
}

// Allow reports whether the alert should be broadcast. Evaluation errors
// fail open: the alert is still published.
func (f *Filter) Allow(alert domain.Alert) bool {
	if f == nil || f.program == nil {
		return true
	}

	out, _, err := f.program.Eval(map[string]any{
		"alert_type": string(alert.Type),
		"severity":   string(alert.Severity),
		"amount":     alert.Amount,
		"from_id":    alert.From,
		"to_id":      alert.To,
	})
	if err != nil {
		slog.Warn("alert filter evaluation failed; publishing", "type", alert.Type, "error", err)
		return true
	}

	allowed, ok := out.(types.Bool)
	if !ok {
		return true
	}
	return bool(allowed)
}
