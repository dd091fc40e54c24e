// Package rules compiles and evaluates the CEL conditions attached to
// discount rules.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// Engine owns the CEL environment shared by every rule condition.
type Engine struct {
	env *cel.Env
}

// Condition is a compiled rule condition. A nil Condition always matches.
type Condition struct {
	RuleID     int64
	Expression string
	program    cel.Program
}

// Input holds the values a condition can reference.
type Input struct {
	ConsumptionKWh float64
	Profile        domain.Profile
	StateCode      string
	BonusCode      domain.BonusCode
}

// NewEngine creates a condition engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("consumption_kwh", cel.DoubleType),
		cel.Variable("profile", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("bonus", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Validate compiles the rule's condition and discards the program.
func (e *Engine) Validate(rule *domain.DiscountRule) error {
	_, err := e.Compile(rule)
	return err
}

// Compile turns the rule's condition into a program. Rules without a
// condition yield a nil Condition and no error.
func (e *Engine) Compile(rule *domain.DiscountRule) (*Condition, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is required")
	}
	if rule.Condition == "" {
		return nil, nil
	}

	ast, issues := e.env.Compile(rule.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %d condition: %v", domain.ErrValidation, rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %d condition must be boolean, got %s", domain.ErrValidation, rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %d: %w", rule.ID, err)
	}

	return &Condition{
		RuleID:     rule.ID,
		Expression: rule.Condition,
		program:    program,
	}, nil
}

// CompileAll compiles the conditions of every rule, keyed by rule ID. Rules
// without a condition are left out of the map.
func (e *Engine) CompileAll(rules []*domain.DiscountRule) (map[int64]*Condition, error) {
	compiled := make(map[int64]*Condition)
	for _, rule := range rules {
		cond, err := e.Compile(rule)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			compiled[rule.ID] = cond
		}
	}
	return compiled, nil
}

// Matches evaluates the condition against in.
func (c *Condition) Matches(in Input) (bool, error) {
	if c == nil {
		return true, nil
	}

	out, _, err := c.program.Eval(map[string]any{
		"consumption_kwh": in.ConsumptionKWh,
		"profile":         string(in.Profile),
		"state":           in.StateCode,
		"bonus":           string(in.BonusCode),
	})
	if err != nil {
		return false, fmt.Errorf("rule %d condition: %w", c.RuleID, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("rule %d condition returned %s", c.RuleID, out.Type())
	}
	return bool(b), nil
}
