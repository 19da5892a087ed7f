package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var errNotImplemented = errors.New("not implemented")

// NewRootCmd builds the bricoler cobra command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bricoler",
		Short:        "Dependency-driven task scheduler with scripted PTY drivers",
		Long:         "bricoler resolves a task's dependency graph, executes it in order, caching results in a JobDB, and can drive interactive subprocesses through scripted PTY sessions.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to bricoler.yaml (default: ./bricoler.yaml or the XDG config path)")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newRunTaskCmd())
	rootCmd.AddCommand(newSQLCmd())

	return rootCmd
}

// GetConfigFile returns the --config flag value, for subcommands that
// need to resolve configuration the same way root does.
func GetConfigFile() string {
	return cfgFile
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
