package config

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	getEnv      = os.Getenv
	userHomeDir = os.UserHomeDir
)

// GlobalConfigPath resolves the global config file path using XDG conventions.
func GlobalConfigPath() (string, error) {
	if xdgHome := getEnv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, appName, "config.yaml"), nil
	}

	homeDir, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}

	return filepath.Join(homeDir, ".config", appName, "config.yaml"), nil
}

// DefaultWorkDir resolves the work root default: the *_WORKDIR env var,
// falling back to $HOME/<appname> (spec.md §6.1).
func DefaultWorkDir() string {
	envName := envVarName("WORKDIR")
	if v := getEnv(envName); v != "" {
		return v
	}
	home, err := userHomeDir()
	if err != nil {
		return filepath.Join(".", appName)
	}
	return filepath.Join(home, appName)
}

// DefaultTaskDir resolves the task discovery root default: the *_TASKDIR
// env var, falling back to <program-dir>/tasks.
func DefaultTaskDir(programDir string) string {
	envName := envVarName("TASKDIR")
	if v := getEnv(envName); v != "" {
		return v
	}
	return filepath.Join(programDir, "tasks")
}

// DefaultJobDBPath resolves the JobDB file path default: ./jobs.db
// relative to the working directory (spec.md §6.4).
func DefaultJobDBPath() string {
	return "jobs.db"
}

func envVarName(suffix string) string {
	return "BRICOLER_" + suffix
}
