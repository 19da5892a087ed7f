package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjdb/bricoler/internal/depresolver"
	"github.com/markjdb/bricoler/internal/jobdb"
	"github.com/markjdb/bricoler/internal/task"
	"github.com/markjdb/bricoler/internal/workdir"
)

func TestRunTaskCommand_ShowPrintsScheduleWithoutExecuting(t *testing.T) {
	dir := t.TempDir()
	taskDir := filepath.Join(dir, "tasks")
	writeTask(t, taskDir, "build.task.yaml", "kind: noop\nparams:\n  name:\n    default: widget\n")
	cfgPath := writeConfig(t, dir, taskDir)

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--config", cfgPath, "runtask", "build", "--show"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, buf.String(), "build")
	assert.Contains(t, buf.String(), "fingerprint=")

	_, err := os.Stat(filepath.Join(dir, "jobs.db"))
	assert.True(t, os.IsNotExist(err), "runtask --show must not open the JobDB")
}

func TestRunTaskCommand_ExecutesAndRecordsJobDB(t *testing.T) {
	dir := t.TempDir()
	taskDir := filepath.Join(dir, "tasks")
	writeTask(t, taskDir, "build.task.yaml", "kind: noop\n")
	cfgPath := writeConfig(t, dir, taskDir)

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--config", cfgPath, "runtask", "build"})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(dir, "jobs.db"))
	assert.NoError(t, err)
}

func TestRunTaskCommand_NoArgsBehavesLikeList(t *testing.T) {
	dir := t.TempDir()
	taskDir := filepath.Join(dir, "tasks")
	writeTask(t, taskDir, "build.task.yaml", "kind: noop\n")
	cfgPath := writeConfig(t, dir, taskDir)

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--config", cfgPath, "runtask"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "build\n", buf.String())
}

// applyClean always runs before the schedule it gates executes again
// (the CLI's -c/--clean and -C/--clean-all purge "before running", not
// "instead of running"), so the wiring to jobdb.Invalidate/InvalidateAll
// is exercised directly here rather than through a full "runtask
// --clean-all" invocation, which would immediately reinsert the very
// record being checked.
func scheduleEntry(taskName, fp string) *depresolver.ScheduleEntry {
	return &depresolver.ScheduleEntry{
		Task:        &task.Task{Name: taskName},
		Fingerprint: fp,
		OutputPaths: make(map[string]string),
	}
}

func TestApplyClean_CleanAllInvalidatesEveryRecord(t *testing.T) {
	dir := t.TempDir()
	root, err := workdir.Init(filepath.Join(dir, "work"))
	require.NoError(t, err)
	jobs, err := jobdb.Open(filepath.Join(dir, "jobs.db"), nil)
	require.NoError(t, err)
	defer func() { _ = jobs.Close() }()

	build := scheduleEntry("build", "fp-build")
	other := scheduleEntry("other", "fp-other")
	require.NoError(t, root.Materialize(build))
	require.NoError(t, root.Materialize(other))
	require.NoError(t, jobs.Insert(&jobdb.Record{Fingerprint: build.Fingerprint, TaskName: build.Task.Name}))
	require.NoError(t, jobs.Insert(&jobdb.Record{Fingerprint: other.Fingerprint, TaskName: other.Task.Name}))

	list := &depresolver.ScheduleList{Entries: []*depresolver.ScheduleEntry{build, other}}
	require.NoError(t, applyClean(root, jobs, list, runTaskOpts{cleanAll: true}))

	rec, err := jobs.Lookup(build.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, rec, "expected clean-all to invalidate build's jobdb record")

	rec, err = jobs.Lookup(other.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, rec, "expected clean-all to invalidate other's jobdb record")
}

func TestApplyClean_TargetedCleanInvalidatesOnlyPurgedEntries(t *testing.T) {
	dir := t.TempDir()
	root, err := workdir.Init(filepath.Join(dir, "work"))
	require.NoError(t, err)
	jobs, err := jobdb.Open(filepath.Join(dir, "jobs.db"), nil)
	require.NoError(t, err)
	defer func() { _ = jobs.Close() }()

	base := scheduleEntry("base", "fp-base")
	base.AliasPath = []string{"base"}
	top := scheduleEntry("top", "fp-top")
	top.Inputs = map[string]string{"b": "fp-base"}
	other := scheduleEntry("other", "fp-other")
	require.NoError(t, root.Materialize(base))
	require.NoError(t, root.Materialize(top))
	require.NoError(t, root.Materialize(other))
	require.NoError(t, jobs.Insert(&jobdb.Record{Fingerprint: base.Fingerprint, TaskName: base.Task.Name}))
	require.NoError(t, jobs.Insert(&jobdb.Record{Fingerprint: top.Fingerprint, TaskName: top.Task.Name}))
	require.NoError(t, jobs.Insert(&jobdb.Record{Fingerprint: other.Fingerprint, TaskName: other.Task.Name}))

	list := &depresolver.ScheduleList{
		Entries: []*depresolver.ScheduleEntry{base, top, other},
		ByFingerprint: map[string]*depresolver.ScheduleEntry{
			"base@fp-base": base,
			"top@fp-top":   top,
		},
	}
	require.NoError(t, applyClean(root, jobs, list, runTaskOpts{clean: []string{"base"}}))

	rec, err := jobs.Lookup(base.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, rec, "expected targeted clean to invalidate base's jobdb record")

	rec, err = jobs.Lookup(top.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, rec, "expected targeted clean to invalidate top's jobdb record since it consumes base")

	rec, err = jobs.Lookup(other.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, rec, "expected targeted clean to leave an unrelated entry's jobdb record intact")
}

func TestRunTaskCommand_UnknownCleanAliasIsError(t *testing.T) {
	dir := t.TempDir()
	taskDir := filepath.Join(dir, "tasks")
	writeTask(t, taskDir, "build.task.yaml", "kind: noop\n")
	cfgPath := writeConfig(t, dir, taskDir)

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--config", cfgPath, "runtask", "build", "--clean", "nosuchalias"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nosuchalias")
}
