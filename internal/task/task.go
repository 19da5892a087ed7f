package task

import (
	"context"
	"fmt"
)

// Task is an immutable-after-load workflow unit (spec.md §3).
type Task struct {
	// Name is the slash-separated relative identifier ("a/b/c").
	Name string
	// Path is the absolute path the task was loaded from (for diagnostics).
	Path string

	Description string
	Params      map[string]ParamSchema
	Inputs      map[string]InputRef
	Outputs     map[string]OutputSchema

	// Kind names the ActionRegistry entry that implements Run.
	Kind string
}

// Validate checks structural consistency of a loaded Task, including
// that it has been assigned a name by TaskUniverse (spec.md §4.1).
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task has no name")
	}
	return t.validateSchema()
}

// validateSchema checks params/kind without requiring Name, since the
// loader runs before TaskUniverse assigns the path-derived name.
func (t *Task) validateSchema() error {
	for name, p := range t.Params {
		if err := p.Validate(name); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
	}
	if t.Kind == "" {
		return fmt.Errorf("task %q: no action kind declared", t.Name)
	}
	return nil
}

// OutputSlot is a single mutable output exposed to a task's action.
// Path is pre-populated by the scheduler/Workdir before Run is invoked;
// an action may set Value to replace the declared filesystem artifact
// with a non-file result (spec.md §3, §4.7 step 3).
type OutputSlot struct {
	Path  string
	Value interface{}
	// set records whether the action replaced Path with Value.
	set bool
}

// Set replaces this output's final value with a non-file result.
func (o *OutputSlot) Set(v interface{}) {
	o.Value = v
	o.set = true
}

// Final returns the value that should be recorded for this output: the
// action's replacement if it made one, otherwise the materialized path.
func (o *OutputSlot) Final() interface{} {
	if o.set {
		return o.Value
	}
	return o.Path
}

// ResolvedInput is what a consuming action sees for one of its declared
// inputs: the input node's resolved binding and final output values.
type ResolvedInput struct {
	Binding map[string]interface{}
	Outputs map[string]interface{}
}

// ActionContext is the helper surface exposed to a task's action: the
// node's work and scratch directories, the maxjobs and quiet hints, a
// subprocess Exec helper and a PTY spawner. It carries no filesystem
// helpers (predicates, mkdtemp, realpath, read/write file). Concrete
// helpers live in the scheduler package that constructs ActionContext
// per invocation; this package only defines the shape actions program
// against.
type ActionContext struct {
	Ctx context.Context

	// WorkDir is this node's materialized working directory.
	WorkDir string
	// TmpDir is the work root's scratch directory, shared across
	// invocations.
	TmpDir string
	// MaxJobs is the parallelism hint for actions that fan out internally.
	MaxJobs int
	// Quiet is true when the scheduler's stdout is not a terminal.
	Quiet bool

	// Exec runs a subprocess to completion, capturing combined output.
	Exec func(ctx context.Context, dir string, name string, args ...string) (stdout string, err error)

	// SpawnPTY spawns a child under a controlled PTY running the named
	// match/expect script, returning once the script completes or fails
	// (the narrow interface between a task action and PtyDriver).
	SpawnPTY func(ctx context.Context, scriptPath string, command string, args ...string) error
}

// ActionFunc is the callable a task's Kind resolves to (Design Note 9,
// option (b): a static registry instead of a dynamically evaluated
// callback).
type ActionFunc func(actx *ActionContext, params map[string]interface{}, inputs map[string]ResolvedInput, outputs map[string]*OutputSlot) error
