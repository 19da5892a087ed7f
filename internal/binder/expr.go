package binder

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// exprEvaluator compiles and caches CEL programs used both for
// ParamSchema predicate validation ("value" bound to the candidate) and
// for InputRef.Params lazy override expressions ("parent" bound to the
// consumer's resolved binding). Grounded on kubeopencode-kubeopencode's
// CELFilter (internal/webhook/filter.go).
type exprEvaluator struct {
	env   *cel.Env
	cache sync.Map
}

func newExprEvaluator() (*exprEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("parent", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL environment: %w", err)
	}
	return &exprEvaluator{env: env}, nil
}

func (e *exprEvaluator) compile(expr string) (cel.Program, error) {
	if cached, ok := e.cache.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expr, issues.Err())
	}
	prog, err := e.env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", expr, err)
	}
	e.cache.Store(expr, prog)
	return prog, nil
}

// evalPredicate runs expr with "value" bound to v, requiring a bool result.
func (e *exprEvaluator) evalPredicate(expr string, v interface{}) (bool, error) {
	prog, err := e.compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prog.Eval(map[string]interface{}{"value": v, "parent": map[string]interface{}{}})
	if err != nil {
		return false, fmt.Errorf("evaluate predicate %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok || out.Type() != types.BoolType {
		return false, fmt.Errorf("predicate %q did not evaluate to bool", expr)
	}
	return b, nil
}

// evalOverride runs expr with "parent" bound to the consumer's binding,
// returning whatever value it produces (spec.md §4.3: "nullary-function
// producers evaluated lazily with the parent binding visible").
func (e *exprEvaluator) evalOverride(expr string, parentBinding map[string]interface{}) (interface{}, error) {
	prog, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prog.Eval(map[string]interface{}{"value": nil, "parent": parentBinding})
	if err != nil {
		return nil, fmt.Errorf("evaluate override %q: %w", expr, err)
	}
	return out.Value(), nil
}
