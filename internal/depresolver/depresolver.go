// Package depresolver walks a task's InputRef graph depth-first from a
// target, binding parameters at each node and producing a post-order
// ScheduleList with structurally identical nodes deduplicated (spec.md
// §4.4). It generalizes the teacher's flat internal/selector.Graph
// (BuildGraph/DetectCycle/TopologicalSort) to a graph over TaskNode
// identities keyed by (task_name, binding_fingerprint) instead of a
// flat task-ID graph with no bindings.
package depresolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markjdb/bricoler/internal/binder"
	"github.com/markjdb/bricoler/internal/task"
	"github.com/markjdb/bricoler/internal/universe"
)

// ScheduleEntry is one resolved node, positioned in dependency order
// (spec.md §3 ScheduleEntry; OutputPaths is populated later by Workdir).
type ScheduleEntry struct {
	Task        *task.Task
	AliasPath   []string
	Binding     map[string]interface{}
	Fingerprint string
	// Inputs maps this node's local input alias to the fingerprint of
	// the resolved input node.
	Inputs      map[string]string
	OutputPaths map[string]string
}

// ScheduleList is the ordered, deduplicated result of resolution.
type ScheduleList struct {
	Entries       []*ScheduleEntry
	ByFingerprint map[string]*ScheduleEntry
}

// Resolver resolves a target task into a ScheduleList.
type Resolver struct {
	universe *universe.Universe
	binder   *binder.Binder
}

// New builds a Resolver over the given universe.
func New(u *universe.Universe, b *binder.Binder) *Resolver {
	return &Resolver{universe: u, binder: b}
}

type resolveState struct {
	visiting     map[string]bool
	dedup        map[string]*ScheduleEntry
	order        []*ScheduleEntry
	visitedPaths map[string]bool
	cliByPath    map[string]map[string]string
}

// Resolve performs the depth-first traversal described in spec.md §4.4,
// starting from targetName, applying cliOverrides scoped by alias path.
func (r *Resolver) Resolve(targetName string, cliOverrides []binder.CLIOverride) (*ScheduleList, error) {
	st := &resolveState{
		visiting:     make(map[string]bool),
		dedup:        make(map[string]*ScheduleEntry),
		visitedPaths: make(map[string]bool),
		cliByPath:    groupCLIByPath(cliOverrides),
	}

	if _, err := r.resolve(st, nil, targetName, nil, nil); err != nil {
		return nil, err
	}

	for path := range st.cliByPath {
		if !st.visitedPaths[path] {
			return nil, fmt.Errorf("unknown alias path '%s' in -p override", path)
		}
	}

	return &ScheduleList{Entries: st.order, ByFingerprint: st.dedup}, nil
}

func groupCLIByPath(overrides []binder.CLIOverride) map[string]map[string]string {
	grouped := make(map[string]map[string]string)
	for _, ov := range overrides {
		key := strings.Join(ov.AliasPath, ".")
		if grouped[key] == nil {
			grouped[key] = make(map[string]string)
		}
		grouped[key][ov.Param] = ov.Value
	}
	return grouped
}

func (r *Resolver) resolve(st *resolveState, aliasPath []string, taskName string, parentOverrides map[string]task.ParamOverride, parentBinding map[string]interface{}) (*ScheduleEntry, error) {
	if st.visiting[taskName] {
		return nil, fmt.Errorf("cycle detected involving task %q", taskName)
	}
	st.visiting[taskName] = true
	defer delete(st.visiting, taskName)

	t, err := r.universe.Get(taskName)
	if err != nil {
		return nil, err
	}

	pathKey := strings.Join(aliasPath, ".")
	st.visitedPaths[pathKey] = true
	cliParams := st.cliByPath[pathKey]

	binding, err := r.binder.Bind(t, cliParams, parentOverrides, parentBinding)
	if err != nil {
		return nil, err
	}

	inputFingerprints := make(map[string]string, len(t.Inputs))
	inputAliases := sortedKeys(t.Inputs)
	for _, alias := range inputAliases {
		ref := t.Inputs[alias]
		childPath := append(append([]string{}, aliasPath...), alias)
		childEntry, err := r.resolve(st, childPath, ref.TaskName, ref.Params, binding)
		if err != nil {
			return nil, err
		}
		inputFingerprints[alias] = childEntry.Fingerprint
	}

	fp := binder.Fingerprint(taskName, binding, inputFingerprints)
	if existing, ok := st.dedup[nodeKey(taskName, fp)]; ok {
		return existing, nil
	}

	entry := &ScheduleEntry{
		Task:        t,
		AliasPath:   aliasPath,
		Binding:     binding,
		Fingerprint: fp,
		Inputs:      inputFingerprints,
		OutputPaths: make(map[string]string),
	}
	st.dedup[nodeKey(taskName, fp)] = entry
	st.order = append(st.order, entry)
	return entry, nil
}

func nodeKey(taskName, fingerprint string) string {
	return taskName + "@" + fingerprint
}

func sortedKeys(m map[string]task.InputRef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
