// Package universe walks a task directory and builds the name-to-task
// mapping that DepResolver and the CLI resolve InputRefs and target
// names against (spec.md §4.2).
package universe

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/markjdb/bricoler/internal/task"
)

const taskSuffix = ".task.yaml"

// Universe is the immutable result of walking a taskdir: every loaded
// task, keyed by its path-derived name.
type Universe struct {
	root  string
	tasks map[string]*task.Task
}

// Load walks root recursively, loading every *.task.yaml file it finds.
// A task's Name is the file's path relative to root with the
// taskSuffix stripped, using "/" as the separator regardless of OS
// (spec.md §4.2). Dangling symlinks are ignored silently; duplicate
// names are fatal.
func Load(root string, registry *task.ActionRegistry) (*Universe, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve taskdir: %w", err)
	}

	u := &Universe{root: root, tasks: make(map[string]*task.Task)}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				// A path that no longer exists (including a missing root)
				// surfaces here as a NotExist error from WalkDir; skip it
				// rather than failing the whole walk. Dangling symlinks
				// are not reported here and are handled below.
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			if _, statErr := os.Stat(path); statErr != nil {
				return nil
			}
		}
		if !strings.HasSuffix(path, taskSuffix) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), taskSuffix)

		if _, dup := u.tasks[name]; dup {
			return fmt.Errorf("duplicate task name %q (from %s)", name, path)
		}

		t, err := task.LoadFile(path, registry)
		if err != nil {
			return err
		}
		t.Name = name
		if err := t.Validate(); err != nil {
			return err
		}
		u.tasks[name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return u, nil
}

// Get resolves a task name to its definition.
func (u *Universe) Get(name string) (*task.Task, error) {
	t, ok := u.tasks[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	return t, nil
}

// Names returns every loaded task name, sorted.
func (u *Universe) Names() []string {
	names := make([]string, 0, len(u.tasks))
	for n := range u.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Root returns the absolute taskdir this universe was loaded from.
func (u *Universe) Root() string {
	return u.root
}
