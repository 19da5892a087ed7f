// Package config loads bricoler's scheduler and driver settings.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all bricoler configuration.
type Config struct {
	Sched SchedConfig `mapstructure:"sched"`
	Pty   PtyConfig   `mapstructure:"pty"`
}

// SchedConfig holds TaskSched settings.
type SchedConfig struct {
	// WorkDir is the work root where per-task directories are materialized.
	WorkDir string `mapstructure:"workdir"`

	// TaskDir is the root under which .task.yaml files are discovered.
	TaskDir string `mapstructure:"taskdir"`

	// JobDBPath is the path to the JobDB badger store.
	JobDBPath string `mapstructure:"jobdb_path"`

	// MaxJobs is the default maxjobs hint passed to task actions.
	MaxJobs int `mapstructure:"maxjobs"`
}

// PtyConfig holds PtyDriver settings.
type PtyConfig struct {
	// DefaultTimeoutSeconds is the configured default match-action
	// timeout. It is loaded but not passed to the script driver, which
	// always starts from its own 10-second default.
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`

	// DefaultMatcher names the configured default matcher kind
	// ("literal", "glob", "posix"). It is loaded but not passed to the
	// script driver, which always starts from "literal".
	DefaultMatcher string `mapstructure:"default_matcher"`

	// CloseGraceSeconds is the configured SIGINT-to-SIGKILL window. It is
	// loaded but not passed to pty.Process.Close, which always waits 5
	// seconds.
	CloseGraceSeconds int `mapstructure:"close_grace_seconds"`
}

const appName = "bricoler"

// LoadConfigWithFile loads configuration from a specific file if provided,
// otherwise from <workDir>/bricoler.yaml if that exists, otherwise from
// the global config path (defaults apply when that file is absent too).
func LoadConfigWithFile(workDir, configFile string) (*Config, error) {
	if configFile != "" {
		return LoadConfigFromPath(configFile)
	}

	localPath := filepath.Join(workDir, appName+".yaml")
	if _, err := os.Stat(localPath); err == nil {
		return LoadConfig(workDir)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	globalPath, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFromPath(globalPath)
}

// LoadConfig loads configuration from <appName>.yaml in the given directory.
// If no config file exists, sensible defaults are returned.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, programDir())

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromPath loads configuration from a specific file path.
func LoadConfigFromPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, programDir())

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets all default values for configuration, resolving the
// workdir/taskdir fallbacks described in spec.md §6.1: env vars first,
// then $HOME/<appname> and <program-dir>/tasks.
func setDefaults(v *viper.Viper, programDir string) {
	v.SetDefault("sched.workdir", DefaultWorkDir())
	v.SetDefault("sched.taskdir", DefaultTaskDir(programDir))
	v.SetDefault("sched.jobdb_path", DefaultJobDBPath())
	v.SetDefault("sched.maxjobs", DefaultMaxJobs)

	v.SetDefault("pty.default_timeout_seconds", DefaultPtyTimeoutSeconds)
	v.SetDefault("pty.default_matcher", DefaultMatcherKind)
	v.SetDefault("pty.close_grace_seconds", DefaultCloseGraceSeconds)
}

// programDir returns the directory holding the running executable, or
// "." if it cannot be resolved.
func programDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
