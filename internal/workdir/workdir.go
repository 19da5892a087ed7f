// Package workdir manages the on-disk directory tree that backs a
// ScheduleEntry's materialized outputs (spec.md §4.5, §6.4).
package workdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/markjdb/bricoler/internal/depresolver"
)

// leafMarkerName distinguishes a materialized entry directory (a
// fingerprint leaf) from an intermediate path segment of a slash-bearing
// task name, since both are plain directories on disk.
const leafMarkerName = ".bricoler-entry"

// Root represents an initialized work-root directory:
// <root>/tmp for scratch space, <root>/<task-name>/<fingerprint>/ per
// ScheduleEntry.
type Root struct {
	path string
}

// Init creates (if absent) the work root and its tmp/ scratch directory.
func Init(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("init workdir root: %w", err)
	}
	return &Root{path: abs}, nil
}

// Path returns the absolute work-root path.
func (r *Root) Path() string {
	return r.path
}

// TmpDir returns the scratch directory shared across invocations.
func (r *Root) TmpDir() string {
	return filepath.Join(r.path, "tmp")
}

// EntryDir returns <root>/<task-name>/<fingerprint>, independent of
// whether it has been materialized yet.
func (r *Root) EntryDir(taskName, fingerprint string) string {
	return filepath.Join(r.path, taskName, fingerprint)
}

// Materialize ensures the entry's directory and declared filesystem
// output subdirectories exist, and fills entry.OutputPaths.
func (r *Root) Materialize(entry *depresolver.ScheduleEntry) error {
	dir := r.EntryDir(entry.Task.Name, entry.Fingerprint)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("materialize %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, leafMarkerName), nil, 0644); err != nil {
		return fmt.Errorf("materialize %s: %w", dir, err)
	}

	if entry.OutputPaths == nil {
		entry.OutputPaths = make(map[string]string, len(entry.Task.Outputs))
	}
	for name := range entry.Task.Outputs {
		outDir := filepath.Join(dir, name)
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("materialize output %q of %s: %w", name, dir, err)
		}
		entry.OutputPaths[name] = outDir
	}
	return nil
}

// Exists reports whether the entry's directory is already present as a
// directory, i.e. a previous run's workdir survives on disk. Its
// contents are not inspected.
func (r *Root) Exists(entry *depresolver.ScheduleEntry) bool {
	dir := r.EntryDir(entry.Task.Name, entry.Fingerprint)
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Clean removes a single entry's directory.
func (r *Root) Clean(taskName, fingerprint string) error {
	dir := r.EntryDir(taskName, fingerprint)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clean %s: %w", dir, err)
	}
	return nil
}

// CleanAll purges everything under the root except tmp/, which is
// recreated empty.
func (r *Root) CleanAll() error {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return fmt.Errorf("clean-all %s: %w", r.path, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(r.path, e.Name())); err != nil {
			return fmt.Errorf("clean-all %s: %w", r.path, err)
		}
	}
	return os.MkdirAll(filepath.Join(r.path, "tmp"), 0755)
}

// CleanTransitive removes the named node and every node in list that
// transitively consumes it (spec.md §4.5 "clean" semantics), returning
// the fingerprints it purged so the caller can also invalidate their
// JobDB records (spec.md §4.6 "invoked on clean"). seeds
// identifies the roots to purge by (task name, fingerprint).
func (r *Root) CleanTransitive(list *depresolver.ScheduleList, seeds []*depresolver.ScheduleEntry) ([]string, error) {
	toPurge := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		toPurge[s.Task.Name+"@"+s.Fingerprint] = true
	}

	// Entries are in post-order (inputs before consumers); a single
	// forward pass over that order propagates "purge" from an input to
	// every consumer that references it.
	for _, e := range list.Entries {
		if toPurge[e.Task.Name+"@"+e.Fingerprint] {
			continue
		}
		for _, inputFP := range e.Inputs {
			if purged(toPurge, list, inputFP) {
				toPurge[e.Task.Name+"@"+e.Fingerprint] = true
				break
			}
		}
	}

	var purgedFingerprints []string
	for _, e := range list.Entries {
		if toPurge[e.Task.Name+"@"+e.Fingerprint] {
			if err := r.Clean(e.Task.Name, e.Fingerprint); err != nil {
				return nil, err
			}
			purgedFingerprints = append(purgedFingerprints, e.Fingerprint)
		}
	}
	return purgedFingerprints, nil
}

func purged(toPurge map[string]bool, list *depresolver.ScheduleList, fingerprint string) bool {
	for key, entry := range list.ByFingerprint {
		if entry.Fingerprint == fingerprint && toPurge[key] {
			return true
		}
	}
	return false
}

// Enumerate lists the (taskName, fingerprint) pairs materialized under
// the root. Task names may themselves contain "/" (spec.md §4.2's
// slash-separated identifiers), so an entry directory's task name is
// everything between the root and its fingerprint-named leaf.
func (r *Root) Enumerate() ([][2]string, error) {
	var out [][2]string

	var walk func(dir, relTaskName string) error
	walk = func(dir, relTaskName string) error {
		children, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("enumerate %s: %w", dir, err)
		}
		for _, c := range children {
			if !c.IsDir() {
				continue
			}
			if relTaskName == "" && c.Name() == "tmp" {
				continue
			}
			childDir := filepath.Join(dir, c.Name())
			hasOutputDirs, err := isFingerprintLeaf(childDir)
			if err != nil {
				return err
			}
			if hasOutputDirs {
				out = append(out, [2]string{relTaskName, c.Name()})
				continue
			}
			nextName := c.Name()
			if relTaskName != "" {
				nextName = relTaskName + "/" + c.Name()
			}
			if err := walk(childDir, nextName); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(r.path, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// isFingerprintLeaf reports whether dir is a fingerprint-named entry
// directory (as opposed to an intermediate task-name path segment): a
// leaf has no further task-name segments to descend into, which we take
// to mean it is a directory materialized directly by Materialize.
func isFingerprintLeaf(dir string) (bool, error) {
	marker := filepath.Join(dir, leafMarkerName)
	if _, err := os.Stat(marker); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", marker, err)
	}
	return false, nil
}
