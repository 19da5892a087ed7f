package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, taskDir string) string {
	t.Helper()
	path := filepath.Join(dir, "bricoler.yaml")
	content := "sched:\n  taskdir: " + taskDir + "\n  workdir: " + filepath.Join(dir, "work") + "\n  jobdb_path: " + filepath.Join(dir, "jobs.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeTask(t *testing.T, taskDir, rel, content string) {
	t.Helper()
	path := filepath.Join(taskDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestListCommand_PrintsSortedTaskNames(t *testing.T) {
	dir := t.TempDir()
	taskDir := filepath.Join(dir, "tasks")
	writeTask(t, taskDir, "b.task.yaml", "kind: noop\n")
	writeTask(t, taskDir, "a.task.yaml", "kind: noop\n")

	cfgPath := writeConfig(t, dir, taskDir)

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--config", cfgPath, "list"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "a\nb\n", buf.String())
}
