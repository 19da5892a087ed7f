package task

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlFile is the on-disk shape of a .task.yaml file: the four optional
// top-level names from spec.md §4.1 (Descr, Params, Inputs, Outputs)
// plus Kind, the Go-native stand-in for the dynamically-evaluated Run
// callable (Design Note 9, option (b)).
type yamlFile struct {
	Descr   string               `yaml:"descr"`
	Kind    string               `yaml:"kind"`
	Params  map[string]yamlParam `yaml:"params"`
	Inputs  map[string]yamlInput `yaml:"inputs"`
	Outputs map[string]yamlOutput `yaml:"outputs"`
}

type yamlParam struct {
	Description string       `yaml:"description"`
	Required    bool         `yaml:"required"`
	Default     *interface{} `yaml:"default"`
	Valid       interface{}  `yaml:"valid"`
}

type yamlInput struct {
	Task   string                 `yaml:"task"`
	Params map[string]interface{} `yaml:"params"`
}

type yamlOutput struct {
	Description string `yaml:"description"`
}

// LoadFile loads a single task definition file. If registry is non-nil,
// the task's Kind is resolved against it eagerly so that an unknown
// action kind is a load-time (definition) error rather than a
// schedule-time surprise (spec.md §7).
func LoadFile(path string, registry *ActionRegistry) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", path, err)
	}

	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return nil, fmt.Errorf("load task %s: %w", path, err)
	}

	t := &Task{
		Path:        path,
		Description: yf.Descr,
		Kind:        yf.Kind,
		Params:      make(map[string]ParamSchema, len(yf.Params)),
		Inputs:      make(map[string]InputRef, len(yf.Inputs)),
		Outputs:     make(map[string]OutputSchema, len(yf.Outputs)),
	}

	for name, yp := range yf.Params {
		ps, err := convertParam(name, yp)
		if err != nil {
			return nil, fmt.Errorf("load task %s: %w", path, err)
		}
		t.Params[name] = ps
	}

	for name, yi := range yf.Inputs {
		ref, err := convertInput(name, yi)
		if err != nil {
			return nil, fmt.Errorf("load task %s: %w", path, err)
		}
		t.Inputs[name] = ref
	}

	for name, yo := range yf.Outputs {
		t.Outputs[name] = OutputSchema{Description: yo.Description}
	}

	if err := t.validateSchema(); err != nil {
		return nil, fmt.Errorf("load task %s: %w", path, err)
	}

	if registry != nil {
		if _, err := registry.Lookup(t.Kind); err != nil {
			return nil, fmt.Errorf("load task %s: %w", path, err)
		}
	}

	return t, nil
}

func convertParam(name string, yp yamlParam) (ParamSchema, error) {
	ps := ParamSchema{Description: yp.Description, Required: yp.Required}
	if yp.Default != nil {
		ps.HasDefault = true
		ps.Default = *yp.Default
	}

	switch v := yp.Valid.(type) {
	case nil:
		ps.ValidKind = ValidNone
	case []interface{}:
		ps.ValidKind = ValidList
		ps.ValidList = v
	case map[string]interface{}:
		expr, ok := v["predicate"].(string)
		if !ok {
			return ps, fmt.Errorf("param %q: valid map must have string \"predicate\"", name)
		}
		ps.ValidKind = ValidPredicate
		ps.ValidPredicate = expr
	default:
		return ps, fmt.Errorf("param %q: valid must be a list or a predicate map", name)
	}

	if err := ps.Validate(name); err != nil {
		return ps, err
	}
	return ps, nil
}

func convertInput(name string, yi yamlInput) (InputRef, error) {
	if yi.Task == "" {
		return InputRef{}, fmt.Errorf("input %q: missing task reference", name)
	}
	ref := InputRef{TaskName: yi.Task, Params: make(map[string]ParamOverride, len(yi.Params))}
	for k, raw := range yi.Params {
		if m, ok := raw.(map[string]interface{}); ok {
			if expr, ok := m["expr"].(string); ok {
				ref.Params[k] = ParamOverride{Expr: expr}
				continue
			}
		}
		ref.Params[k] = ParamOverride{Literal: raw}
	}
	return ref, nil
}
