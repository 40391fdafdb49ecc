package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/harun/zombiecoder/pkg/tools"
)

const calculatorChars = "0123456789+-*/%().^ "

// NewCalculator returns a tool that evaluates arithmetic expressions.
func NewCalculator() tools.Tool {
	return &tools.Func{
		Name: "calculator",
		Desc: "Evaluate an arithmetic expression such as (2+3)*4.",
		Params: []tools.Parameter{
			{Name: "expression", Type: "string", Description: "Arithmetic expression", Required: true},
		},
		Caps: []tools.Capability{tools.CapabilityCompute},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			expression := strings.TrimSpace(stringArg(args, "expression"))
			result, err := Evaluate(expression)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"expression": expression,
				"result":     result,
			}, nil
		},
	}
}

// Evaluate computes an arithmetic expression. Only digits, operators and
// parentheses are accepted.
func Evaluate(expression string) (float64, error) {
	if expression == "" {
		return 0, fmt.Errorf("expression is required")
	}
	for _, c := range expression {
		if !strings.ContainsRune(calculatorChars, c) {
			return 0, fmt.Errorf("invalid character %q in expression", c)
		}
	}

	program, err := expr.Compile(expression, expr.Env(map[string]interface{}{}))
	if err != nil {
		return 0, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, map[string]interface{}{})
	if err != nil {
		return 0, fmt.Errorf("expression eval error for %q: %w", expression, err)
	}

	switch v := out.(type) {
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("expression %q returned %T, expected a number", expression, out)
	}
}
