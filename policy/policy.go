// Package policy evaluates usage policies against a request context.
//
// A [Policy] carries a boolean expression in govaluate syntax. Context maps
// are flattened so nested values are addressable by dotted name; dotted
// names must be bracketed in expressions:
//
//	[counterparty.region] == 'eu' && contains(purposes, purpose)
//
// Two functions are available: now() returns the evaluation time as unix
// seconds and contains(list, item) reports list membership.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"

	"github.com/eclipse-edc/Connector-sub001/clock"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_evaluator.go -package=mocks . Evaluator

// Decision is the result of a policy evaluation.
type Decision int

const (
	// Deny refuses the request.
	Deny Decision = iota
	// Allow permits the request.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Policy is a named usage policy.
type Policy struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
}

// Evaluator decides whether a policy permits a request context.
type Evaluator interface {
	Evaluate(ctx context.Context, p Policy, vars map[string]any) (Decision, error)
}

// ErrNotBoolean is returned when an expression yields a non-boolean value.
var ErrNotBoolean = errors.New("policy: expression did not evaluate to a boolean")

// ExpressionEvaluator compiles govaluate expressions and caches them by
// policy id and expression text. It is safe for concurrent use.
type ExpressionEvaluator struct {
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*govaluate.EvaluableExpression
}

// Option configures an ExpressionEvaluator.
type Option func(*ExpressionEvaluator)

// WithClock sets the clock behind now().
func WithClock(c clock.Clock) Option {
	return func(e *ExpressionEvaluator) { e.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *ExpressionEvaluator) { e.logger = l }
}

// NewExpressionEvaluator creates an evaluator.
func NewExpressionEvaluator(opts ...Option) *ExpressionEvaluator {
	e := &ExpressionEvaluator{
		clock:  clock.Real{},
		logger: slog.Default(),
		cache:  make(map[string]*govaluate.EvaluableExpression),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates p against vars. An empty expression allows.
func (e *ExpressionEvaluator) Evaluate(_ context.Context, p Policy, vars map[string]any) (Decision, error) {
	if strings.TrimSpace(p.Expression) == "" {
		return Allow, nil
	}

	expr, err := e.compile(p)
	if err != nil {
		return Deny, fmt.Errorf("policy %s: compile: %w", p.ID, err)
	}

	result, err := expr.Evaluate(Flatten(vars))
	if err != nil {
		return Deny, fmt.Errorf("policy %s: evaluate: %w", p.ID, err)
	}

	allowed, ok := result.(bool)
	if !ok {
		return Deny, fmt.Errorf("policy %s: %w (got %T)", p.ID, ErrNotBoolean, result)
	}

	decision := Deny
	if allowed {
		decision = Allow
	}
	e.logger.Debug("policy evaluated",
		slog.String("policy_id", p.ID),
		slog.String("decision", decision.String()),
	)
	return decision, nil
}

func (e *ExpressionEvaluator) compile(p Policy) (*govaluate.EvaluableExpression, error) {
	key := p.ID + "\x00" + p.Expression

	e.mu.RLock()
	expr, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return expr, nil
	}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(p.Expression, e.functions())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = expr
	e.mu.Unlock()
	return expr, nil
}

// Cached returns the number of compiled expressions held.
func (e *ExpressionEvaluator) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func (e *ExpressionEvaluator) functions() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"now": func(_ ...any) (any, error) {
			return float64(e.clock.Now().Unix()), nil
		},
		"contains": func(args ...any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("contains: want 2 arguments, got %d", len(args))
			}
			list, ok := args[0].([]any)
			if !ok {
				if s, ok := args[0].([]string); ok {
					for _, v := range s {
						if v == args[1] {
							return true, nil
						}
					}
					return false, nil
				}
				return nil, fmt.Errorf("contains: first argument must be a list, got %T", args[0])
			}
			for _, v := range list {
				if v == args[1] {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// Flatten copies vars and adds every nested map value under its dotted path.
// Top-level keys are kept as-is.
func Flatten(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	flatten("", vars, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]any:
			flatten(key, vv, out)
		case map[string]string:
			for sk, sv := range vv {
				out[key+"."+sk] = sv
			}
		default:
			out[key] = vv
		}
	}
}
