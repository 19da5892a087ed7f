// Package binder resolves, merges, and validates parameter bindings for
// a single task node, and computes the binding fingerprint DepResolver,
// Workdir and JobDB key off of (spec.md §4.3).
package binder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/markjdb/bricoler/internal/task"
)

// CLIOverride is one parsed "-p/--param" flag: [alias-path:]param=value.
type CLIOverride struct {
	AliasPath []string
	Param     string
	Value     string
}

// ParseCLIOverride parses "[alias-path:]param=value". The alias path,
// when present, is a "."-separated sequence of input aliases navigated
// from the schedule's root target (spec.md §4.3 item 1).
func ParseCLIOverride(raw string) (CLIOverride, error) {
	eq := strings.IndexByte(raw, '=')
	if eq < 0 {
		return CLIOverride{}, fmt.Errorf("malformed -p value %q: expected KEY=VAL", raw)
	}
	key, val := raw[:eq], raw[eq+1:]

	var aliasPath []string
	param := key
	if colon := strings.LastIndexByte(key, ':'); colon >= 0 {
		aliasPath = strings.Split(key[:colon], ".")
		param = key[colon+1:]
	}
	if param == "" {
		return CLIOverride{}, fmt.Errorf("malformed -p value %q: empty parameter name", raw)
	}
	return CLIOverride{AliasPath: aliasPath, Param: param, Value: val}, nil
}

// Binder merges override sources into a node's Binding and validates it
// against the task's ParamSchema.
type Binder struct {
	expr *exprEvaluator
}

// New builds a Binder. Construction can fail only if the underlying CEL
// environment fails to initialize.
func New() (*Binder, error) {
	e, err := newExprEvaluator()
	if err != nil {
		return nil, err
	}
	return &Binder{expr: e}, nil
}

// Bind computes the final Binding for one node of t, given the CLI
// overrides already scoped to this node (alias path stripped by the
// caller), the consumer's declared InputRef.Params overrides (nil for
// the root target), and the consumer's own resolved binding (for lazy
// expression overrides to see).
func (b *Binder) Bind(t *task.Task, cliParams map[string]string, parentOverrides map[string]task.ParamOverride, parentBinding map[string]interface{}) (map[string]interface{}, error) {
	for param := range cliParams {
		if _, ok := t.Params[param]; !ok {
			return nil, fmt.Errorf("Binding non-existent parameter '%s'", param)
		}
	}
	for param := range parentOverrides {
		if _, ok := t.Params[param]; !ok {
			return nil, fmt.Errorf("Binding non-existent parameter '%s'", param)
		}
	}

	names := make([]string, 0, len(t.Params))
	for name := range t.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	binding := make(map[string]interface{}, len(names))
	for _, name := range names {
		schema := t.Params[name]

		value, has, err := b.resolveValue(name, schema, cliParams, parentOverrides, parentBinding)
		if err != nil {
			return nil, err
		}
		if !has {
			if schema.Required {
				return nil, fmt.Errorf("required parameter '%s' has no value", name)
			}
			continue
		}

		if err := b.validate(name, schema, value); err != nil {
			return nil, err
		}
		binding[name] = value
	}
	return binding, nil
}

func (b *Binder) resolveValue(name string, schema task.ParamSchema, cliParams map[string]string, parentOverrides map[string]task.ParamOverride, parentBinding map[string]interface{}) (interface{}, bool, error) {
	if raw, ok := cliParams[name]; ok {
		return parseCLIScalar(raw), true, nil
	}
	if ov, ok := parentOverrides[name]; ok {
		if ov.Expr != "" {
			v, err := b.expr.evalOverride(ov.Expr, parentBinding)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		}
		return ov.Literal, true, nil
	}
	if schema.HasDefault {
		return schema.Default, true, nil
	}
	return nil, false, nil
}

func (b *Binder) validate(name string, schema task.ParamSchema, value interface{}) error {
	switch schema.ValidKind {
	case task.ValidNone:
		return nil
	case task.ValidList:
		want := fmt.Sprintf("%v", value)
		for _, item := range schema.ValidList {
			if fmt.Sprintf("%v", item) == want {
				return nil
			}
		}
		return fmt.Errorf("Validation of parameter '%s' value '%v' failed", name, value)
	case task.ValidPredicate:
		ok, err := b.expr.evalPredicate(schema.ValidPredicate, value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("Validation of parameter '%s' value '%v' failed", name, value)
		}
		return nil
	default:
		return fmt.Errorf("param %q: unknown valid kind", name)
	}
}

// parseCLIScalar coerces a raw CLI value into bool/int64/float64 where it
// unambiguously parses as one, else leaves it as a string.
func parseCLIScalar(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// Fingerprint computes the stable hash over a node's task name,
// canonicalized binding, and the fingerprints of its resolved input
// nodes (spec.md §4.3, §3 JobRecord).
func Fingerprint(taskName string, binding map[string]interface{}, inputFingerprints map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "task=%s\n", taskName)

	paramNames := make([]string, 0, len(binding))
	for name := range binding {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)
	for _, name := range paramNames {
		fmt.Fprintf(h, "param:%s=%v\n", name, binding[name])
	}

	aliases := make([]string, 0, len(inputFingerprints))
	for alias := range inputFingerprints {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		fmt.Fprintf(h, "input:%s=%s\n", alias, inputFingerprints[alias])
	}

	return hex.EncodeToString(h.Sum(nil))
}
