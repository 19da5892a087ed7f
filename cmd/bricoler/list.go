package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markjdb/bricoler/internal/config"
	"github.com/markjdb/bricoler/internal/task"
	"github.com/markjdb/bricoler/internal/universe"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered task names",
		Long:  "Walk the task directory and print every discovered task name, sorted (spec.md §4.2).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd)
		},
	}
}

func runList(cmd *cobra.Command) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	u, err := universe.Load(cfg.Sched.TaskDir, task.NewActionRegistry())
	if err != nil {
		return fmt.Errorf("failed to load task universe: %w", err)
	}

	for _, name := range u.Names() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
