package ptyscript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScript_StripsShebang(t *testing.T) {
	path := writeScript(t, "#!/usr/bin/env bricoler-script\n- kind: write\n  payload: \"hi\"\n")
	steps, err := LoadScript(path)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, KindWrite, steps[0].Kind)
	assert.Equal(t, "hi", steps[0].Payload)
}

func TestLoadScript_NestedOneBlock(t *testing.T) {
	path := writeScript(t, `
- kind: one
  steps:
    - kind: match
      pattern: a
    - kind: match
      pattern: b
`)
	steps, err := LoadScript(path)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, KindOne, steps[0].Kind)
	require.Len(t, steps[0].Steps, 2)
	assert.Equal(t, "a", steps[0].Steps[0].Pattern)
}

func TestLoadScript_EmptyFile(t *testing.T) {
	path := writeScript(t, "")
	steps, err := LoadScript(path)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestLoadScript_MissingFileIsError(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadScript_InvalidYAMLIsError(t *testing.T) {
	path := writeScript(t, "kind: [this is not a list\n")
	_, err := LoadScript(path)
	assert.Error(t, err)
}
