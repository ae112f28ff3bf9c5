// Package rules provides severity bands and CEL-Go record predicates.
package rules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/heron/internal/domain"
)

// Engine compiles CEL predicates over a single transaction record.
type Engine struct {
	env *cel.Env
}

// Predicate is a compiled boolean CEL expression.
type Predicate struct {
	expr    string
	program cel.Program
}

// NewEngine creates the CEL environment with the record variables.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("fee", cel.DoubleType),
		cel.Variable("gas", cel.IntType),
		cel.Variable("gas_price_gwei", cel.DoubleType),
		cel.Variable("from", cel.StringType),
		cel.Variable("to", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("tag", cel.StringType),
		cel.Variable("block", cel.IntType),
		// Time variables are evaluated in the caller's location.
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("weekday", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile parses and type-checks expr, which must evaluate to bool.
func (e *Engine) Compile(expr string) (*Predicate, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return &Predicate{expr: expr, program: program}, nil
}

// Match evaluates the predicate for rec with time variables taken in loc.
func (p *Predicate) Match(rec *domain.TransactionRecord, loc *time.Location) (bool, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := rec.Timestamp.In(loc)

	out, _, err := p.program.Eval(map[string]any{
		"value":          rec.Value,
		"fee":            rec.Fee,
		"gas":            int64(rec.Gas),
		"gas_price_gwei": rec.GasPriceGwei,
		"from":           rec.From,
		"to":             rec.To,
		"method":         rec.Method,
		"tag":            rec.Tag.String(),
		"block":          int64(rec.BlockNumber),
		"hour":           int64(local.Hour()),
		"minute":         int64(local.Minute()),
		"weekday":        int64(local.Weekday()),
	})
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned %s, want bool", out.Type())
	}
	return bool(b), nil
}

// String returns the source expression.
func (p *Predicate) String() string {
	return p.expr
}
