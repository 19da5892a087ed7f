// Package sched implements TaskSched, the sequential executor that
// orchestrates TaskUniverse, ParamBinder, DepResolver, Workdir and
// JobDB (spec.md §4.7).
package sched

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/markjdb/bricoler/internal/depresolver"
	"github.com/markjdb/bricoler/internal/jobdb"
	"github.com/markjdb/bricoler/internal/task"
	"github.com/markjdb/bricoler/internal/workdir"
)

// Sched ties the resolved schedule to execution.
type Sched struct {
	root     *workdir.Root
	jobs     *jobdb.DB
	registry *task.ActionRegistry
	logger   arbor.ILogger

	MaxJobs  int
	Quiet    bool
	SpawnPTY func(ctx context.Context, scriptPath, command string, args ...string) error
}

// New builds a Sched bound to a materialized work root and an open
// JobDB. Both are expected to be opened at schedule start and closed at
// schedule end by the caller (spec.md §4.6).
func New(root *workdir.Root, jobs *jobdb.DB, registry *task.ActionRegistry, logger arbor.ILogger) *Sched {
	return &Sched{root: root, jobs: jobs, registry: registry, logger: logger}
}

// Run executes a ScheduleList's entries in order (spec.md §4.7).
// Execution stops at the first failing entry; JobDB is left untouched
// for that entry and every entry after it.
func (s *Sched) Run(ctx context.Context, list *depresolver.ScheduleList) error {
	runID := uuid.New().String()
	outputsByFingerprint := make(map[string]map[string]interface{}, len(list.Entries))

	for _, entry := range list.Entries {
		rec, err := s.jobs.Lookup(entry.Fingerprint)
		if err != nil {
			return err
		}

		cached := rec != nil && s.root.Exists(entry)
		if cached {
			if err := s.root.Materialize(entry); err != nil {
				return err
			}
			outputsByFingerprint[entry.Fingerprint] = pathsAsInterfaces(entry.OutputPaths)
			if s.logger != nil {
				s.logger.Debug().Str("task", entry.Task.Name).Str("fingerprint", entry.Fingerprint).Msg("jobdb hit, skipping run")
			}
			continue
		}

		if err := s.root.Materialize(entry); err != nil {
			return err
		}

		resolvedInputs := make(map[string]task.ResolvedInput, len(entry.Inputs))
		for alias, childFP := range entry.Inputs {
			resolvedInputs[alias] = task.ResolvedInput{
				Binding: childEntryBinding(list, childFP),
				Outputs: outputsByFingerprint[childFP],
			}
		}

		outputSlots := make(map[string]*task.OutputSlot, len(entry.OutputPaths))
		for name, path := range entry.OutputPaths {
			outputSlots[name] = &task.OutputSlot{Path: path}
		}

		fn, err := s.registry.Lookup(entry.Task.Kind)
		if err != nil {
			return err
		}

		actx := &task.ActionContext{
			Ctx:      ctx,
			WorkDir:  s.root.EntryDir(entry.Task.Name, entry.Fingerprint),
			TmpDir:   s.root.TmpDir(),
			MaxJobs:  s.MaxJobs,
			Quiet:    s.Quiet,
			Exec:     runCapture,
			SpawnPTY: s.SpawnPTY,
		}

		if s.logger != nil {
			s.logger.Info().Str("task", entry.Task.Name).Str("fingerprint", entry.Fingerprint).Str("run_id", runID).Msg("running task")
		}

		if err := fn(actx, entry.Binding, resolvedInputs, outputSlots); err != nil {
			return fmt.Errorf("task %q failed: %w", entry.Task.Name, err)
		}

		finalOutputs := make(map[string]interface{}, len(outputSlots))
		for name, slot := range outputSlots {
			finalOutputs[name] = slot.Final()
		}
		outputsByFingerprint[entry.Fingerprint] = finalOutputs

		if err := s.jobs.Insert(&jobdb.Record{
			Fingerprint: entry.Fingerprint,
			TaskName:    entry.Task.Name,
			WorkdirPath: s.root.EntryDir(entry.Task.Name, entry.Fingerprint),
			RunID:       runID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PrintSchedule emits the ordered list without invoking any action
// (spec.md §4.7 "Print the schedule" mode).
func PrintSchedule(w io.Writer, list *depresolver.ScheduleList) {
	for _, entry := range list.Entries {
		fmt.Fprintf(w, "%s  alias=%v  fingerprint=%s\n", entry.Task.Name, entry.AliasPath, entry.Fingerprint)
		for _, name := range sortedBindingKeys(entry.Binding) {
			fmt.Fprintf(w, "  param %s = %v\n", name, entry.Binding[name])
		}
		for _, alias := range sortedInputKeys(entry.Inputs) {
			fmt.Fprintf(w, "  input %s -> %s\n", alias, entry.Inputs[alias])
		}
	}
}

func sortedBindingKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedInputKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pathsAsInterfaces(paths map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(paths))
	for k, v := range paths {
		out[k] = v
	}
	return out
}

func childEntryBinding(list *depresolver.ScheduleList, fingerprint string) map[string]interface{} {
	for _, entry := range list.ByFingerprint {
		if entry.Fingerprint == fingerprint {
			return entry.Binding
		}
	}
	return nil
}

func runCapture(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
