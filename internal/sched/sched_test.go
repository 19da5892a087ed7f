package sched

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjdb/bricoler/internal/binder"
	"github.com/markjdb/bricoler/internal/depresolver"
	"github.com/markjdb/bricoler/internal/jobdb"
	"github.com/markjdb/bricoler/internal/task"
	"github.com/markjdb/bricoler/internal/universe"
	"github.com/markjdb/bricoler/internal/workdir"
)

func writeTaskFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func buildSchedule(t *testing.T, taskRoot, target string) (*depresolver.ScheduleList, *task.ActionRegistry) {
	t.Helper()
	registry := task.NewActionRegistry()
	u, err := universe.Load(taskRoot, registry)
	require.NoError(t, err)
	b, err := binder.New()
	require.NoError(t, err)
	r := depresolver.New(u, b)
	list, err := r.Resolve(target, nil)
	require.NoError(t, err)
	return list, registry
}

func TestRun_ExecutesInOrderAndRecordsJobDB(t *testing.T) {
	taskRoot := t.TempDir()
	writeTaskFile(t, taskRoot, "base.task.yaml", "descr: base\nkind: noop\n")
	writeTaskFile(t, taskRoot, "top.task.yaml", `
descr: top
kind: noop
inputs:
  b:
    task: base
`)
	list, registry := buildSchedule(t, taskRoot, "top")

	root, err := workdir.Init(t.TempDir())
	require.NoError(t, err)
	jobs, err := jobdb.Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer jobs.Close()

	s := New(root, jobs, registry, nil)
	require.NoError(t, s.Run(context.Background(), list))

	for _, e := range list.Entries {
		rec, err := jobs.Lookup(e.Fingerprint)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, jobdb.StatusCompleted, rec.Status)
	}
}

func TestRun_SkipsOnJobDBHit(t *testing.T) {
	taskRoot := t.TempDir()
	writeTaskFile(t, taskRoot, "base.task.yaml", "descr: base\nkind: noop\n")
	list, registry := buildSchedule(t, taskRoot, "base")

	rootDir := t.TempDir()
	root, err := workdir.Init(rootDir)
	require.NoError(t, err)
	jobsPath := filepath.Join(t.TempDir(), "jobs.db")
	jobs, err := jobdb.Open(jobsPath, nil)
	require.NoError(t, err)

	s := New(root, jobs, registry, nil)
	require.NoError(t, s.Run(context.Background(), list))
	require.NoError(t, jobs.Close())

	// Reopen to simulate a second scheduler run starting fresh.
	jobs2, err := jobdb.Open(jobsPath, nil)
	require.NoError(t, err)
	defer jobs2.Close()

	s2 := New(root, jobs2, registry, nil)
	require.NoError(t, s2.Run(context.Background(), list))
}

func TestRun_ExecFailurePropagatesAndAbandonsRemaining(t *testing.T) {
	taskRoot := t.TempDir()
	writeTaskFile(t, taskRoot, "bad.task.yaml", `
descr: bad
kind: exec
params:
  command:
    default: /nonexistent/bricoler-missing-binary
`)
	writeTaskFile(t, taskRoot, "top.task.yaml", `
descr: top
kind: noop
inputs:
  b:
    task: bad
`)
	list, registry := buildSchedule(t, taskRoot, "top")

	root, err := workdir.Init(t.TempDir())
	require.NoError(t, err)
	jobs, err := jobdb.Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer jobs.Close()

	s := New(root, jobs, registry, nil)
	err = s.Run(context.Background(), list)
	require.Error(t, err)

	for _, e := range list.Entries {
		rec, lookupErr := jobs.Lookup(e.Fingerprint)
		require.NoError(t, lookupErr)
		assert.Nil(t, rec)
	}
}

func TestPrintSchedule_EmitsEveryEntryWithoutRunning(t *testing.T) {
	taskRoot := t.TempDir()
	writeTaskFile(t, taskRoot, "base.task.yaml", "descr: base\nkind: noop\n")
	list, _ := buildSchedule(t, taskRoot, "base")

	var buf bytes.Buffer
	PrintSchedule(&buf, list)
	assert.Contains(t, buf.String(), "base")
}
