package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromPath_WithValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")

	configContent := `
sched:
  workdir: /tmp/work
  maxjobs: 4
pty:
  default_matcher: glob
  default_timeout_seconds: 30
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfigFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/work", cfg.Sched.WorkDir)
	assert.Equal(t, 4, cfg.Sched.MaxJobs)
	assert.Equal(t, "glob", cfg.Pty.DefaultMatcher)
	assert.Equal(t, 30, cfg.Pty.DefaultTimeoutSeconds)
}

func TestLoadConfigFromPath_NonExistentFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := LoadConfigFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultMatcherKind, cfg.Pty.DefaultMatcher)
	assert.Equal(t, DefaultPtyTimeoutSeconds, cfg.Pty.DefaultTimeoutSeconds)
}

func TestLoadConfigFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
sched: [invalid
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	require.NoError(t, err)

	_, err = LoadConfigFromPath(configPath)
	assert.Error(t, err)
}

func TestLoadConfigWithFile_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "my-config.yaml")

	configContent := `
pty:
  default_matcher: posix
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfigWithFile(tmpDir, configPath)
	require.NoError(t, err)

	assert.Equal(t, "posix", cfg.Pty.DefaultMatcher)
}

func TestLoadConfigWithFile_GlobalFallback(t *testing.T) {
	globalDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", globalDir)
	globalPath := filepath.Join(globalDir, appName, "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0755))
	require.NoError(t, os.WriteFile(globalPath, []byte("pty:\n  default_matcher: glob\n"), 0644))

	workDir := t.TempDir()
	cfg, err := LoadConfigWithFile(workDir, "")
	require.NoError(t, err)

	assert.Equal(t, "glob", cfg.Pty.DefaultMatcher)
}

func TestLoadConfigWithFile_NoConfigDefaults(t *testing.T) {
	globalDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", globalDir)

	workDir := t.TempDir()
	cfg, err := LoadConfigWithFile(workDir, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultMatcherKind, cfg.Pty.DefaultMatcher)
}

func TestConfig_DefaultMaxJobs(t *testing.T) {
	workDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadConfigWithFile(workDir, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxJobs, cfg.Sched.MaxJobs)
}
