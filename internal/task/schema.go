// Package task loads and represents task definitions: the declarative
// parameter schema, declared inputs/outputs, and the registered action
// that a task runs (spec.md §3, §4.1).
package task

import "fmt"

// ValidKind distinguishes the three forms ParamSchema.Valid may take.
type ValidKind int

const (
	// ValidNone means any value is accepted.
	ValidNone ValidKind = iota
	// ValidList means the value must be a member of the given list.
	ValidList
	// ValidPredicate means the value must satisfy a CEL boolean expression
	// bound to the variable "value".
	ValidPredicate
)

// ParamSchema describes one declared parameter (spec.md §3).
type ParamSchema struct {
	Description string
	Required    bool
	HasDefault  bool
	Default     interface{}

	ValidKind      ValidKind
	ValidList      []interface{}
	ValidPredicate string
}

// Validate checks the internal consistency of a ParamSchema: it must not
// declare both Required and a Default, and ValidKind must match the
// populated field (spec.md §4.1).
func (p *ParamSchema) Validate(name string) error {
	if p.Required && p.HasDefault {
		return fmt.Errorf("param %q: required and default are mutually exclusive", name)
	}
	switch p.ValidKind {
	case ValidNone:
	case ValidList:
		if len(p.ValidList) == 0 {
			return fmt.Errorf("param %q: valid list must not be empty", name)
		}
	case ValidPredicate:
		if p.ValidPredicate == "" {
			return fmt.Errorf("param %q: valid predicate must not be empty", name)
		}
	default:
		return fmt.Errorf("param %q: unknown valid kind", name)
	}
	return nil
}

// OutputSchema describes one declared output slot (spec.md §3). At
// scheduling time it becomes a filesystem path unless the task's action
// replaces it with a non-file value before completion.
type OutputSchema struct {
	Description string
}

// ParamOverride is a value supplied by InputRef.Params: either a literal
// or a lazily-evaluated CEL expression seeing the consumer's binding.
type ParamOverride struct {
	// Literal holds a scalar/list/map value when Expr is empty.
	Literal interface{}
	// Expr, when non-empty, is a CEL expression evaluated against the
	// parent (consumer) binding to produce the override value lazily
	// (spec.md §4.3: "overrides ... may include scalar values or
	// nullary-function producers evaluated lazily with the parent
	// binding visible").
	Expr string
}

// InputRef references another task by name, with optional parameter
// overrides to merge into that task's binding (spec.md §3).
type InputRef struct {
	TaskName string
	Params   map[string]ParamOverride
}
