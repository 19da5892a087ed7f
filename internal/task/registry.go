package task

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// ActionRegistry maps a task's declared Kind to its ActionFunc. Domain
// tasks (building FreeBSD images, spawning VMs, ...) are out of this
// spec's scope; they would register their own kinds into a registry the
// same way the built-ins below do (spec.md §1 "Out of scope").
type ActionRegistry struct {
	actions map[string]ActionFunc
}

// NewActionRegistry returns a registry pre-populated with the built-in
// action kinds: exec, copy, script, mtree, noop.
func NewActionRegistry() *ActionRegistry {
	r := &ActionRegistry{actions: make(map[string]ActionFunc)}
	r.Register("noop", noopAction)
	r.Register("exec", execAction)
	r.Register("copy", copyAction)
	r.Register("mtree", mtreeAction)
	r.Register("script", scriptAction)
	return r
}

// Register adds or replaces the action for a Kind.
func (r *ActionRegistry) Register(kind string, fn ActionFunc) {
	r.actions[kind] = fn
}

// Lookup resolves a Kind to its ActionFunc.
func (r *ActionRegistry) Lookup(kind string) (ActionFunc, error) {
	fn, ok := r.actions[kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
	return fn, nil
}

func noopAction(_ *ActionContext, _ map[string]interface{}, _ map[string]ResolvedInput, _ map[string]*OutputSlot) error {
	return nil
}

// execAction runs params["command"] (plus params["args"], a []string)
// as a subprocess in the node's work directory, writing combined output
// to the declared "log" output if one was declared.
func execAction(actx *ActionContext, params map[string]interface{}, _ map[string]ResolvedInput, outputs map[string]*OutputSlot) error {
	name, ok := params["command"].(string)
	if !ok || name == "" {
		return fmt.Errorf("exec action requires string param \"command\"")
	}
	var args []string
	if raw, ok := params["args"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return fmt.Errorf("exec action param \"args\" must be a list")
		}
		for _, a := range list {
			args = append(args, fmt.Sprintf("%v", a))
		}
	}

	cmd := exec.CommandContext(actx.Ctx, name, args...)
	cmd.Dir = actx.WorkDir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exec %s: %w: %s", name, err, buf.String())
	}

	if log, ok := outputs["log"]; ok {
		if err := os.WriteFile(filepath.Join(log.Path, "output.log"), buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("write exec log: %w", err)
		}
	}
	return nil
}

// copyAction copies params["src"] into the declared "out" output directory.
func copyAction(actx *ActionContext, params map[string]interface{}, _ map[string]ResolvedInput, outputs map[string]*OutputSlot) error {
	src, ok := params["src"].(string)
	if !ok || src == "" {
		return fmt.Errorf("copy action requires string param \"src\"")
	}
	out, ok := outputs["out"]
	if !ok {
		return fmt.Errorf("copy action requires declared output \"out\"")
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy: open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	dstPath := filepath.Join(out.Path, filepath.Base(src))
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("copy: create destination: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

// mtreeAction writes a sorted manifest of the "out" output directory's
// contents, the Go-native stand-in for the original helper surface's
// "mtree builder". Per spec.md §1 this is external plumbing, not a core
// concern; this implementation is intentionally minimal.
func mtreeAction(_ *ActionContext, _ map[string]interface{}, _ map[string]ResolvedInput, outputs map[string]*OutputSlot) error {
	out, ok := outputs["out"]
	if !ok {
		return fmt.Errorf("mtree action requires declared output \"out\"")
	}
	entries, err := os.ReadDir(out.Path)
	if err != nil {
		return fmt.Errorf("mtree: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, n := range names {
		fmt.Fprintln(&buf, n)
	}
	return os.WriteFile(filepath.Join(out.Path, ".mtree"), buf.Bytes(), 0644)
}

// scriptAction drives a spawned child through PtyDriver using the
// script named by params["script"], exercising the narrow interface
// between TaskDef actions and PtyDriver (SPEC_FULL.md §1).
func scriptAction(actx *ActionContext, params map[string]interface{}, _ map[string]ResolvedInput, _ map[string]*OutputSlot) error {
	scriptPath, ok := params["script"].(string)
	if !ok || scriptPath == "" {
		return fmt.Errorf("script action requires string param \"script\"")
	}
	command, ok := params["command"].(string)
	if !ok || command == "" {
		return fmt.Errorf("script action requires string param \"command\"")
	}
	var args []string
	if raw, ok := params["args"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return fmt.Errorf("script action param \"args\" must be a list")
		}
		for _, a := range list {
			args = append(args, fmt.Sprintf("%v", a))
		}
	}
	if actx.SpawnPTY == nil {
		return fmt.Errorf("script action: no PTY spawner configured")
	}
	return actx.SpawnPTY(actx.Ctx, scriptPath, command, args...)
}
