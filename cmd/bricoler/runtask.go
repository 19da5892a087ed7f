package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/markjdb/bricoler/internal/binder"
	"github.com/markjdb/bricoler/internal/config"
	"github.com/markjdb/bricoler/internal/depresolver"
	"github.com/markjdb/bricoler/internal/jobdb"
	"github.com/markjdb/bricoler/internal/logging"
	"github.com/markjdb/bricoler/internal/ptyscript"
	"github.com/markjdb/bricoler/internal/sched"
	"github.com/markjdb/bricoler/internal/task"
	"github.com/markjdb/bricoler/internal/universe"
	"github.com/markjdb/bricoler/internal/workdir"
)

func newRunTaskCmd() *cobra.Command {
	var params []string
	var maxJobs int
	var clean []string
	var cleanAll bool
	var workDirFlag string
	var taskDirFlag string
	var show bool

	cmd := &cobra.Command{
		Use:   "runtask [task]",
		Short: "Resolve and execute a task's dependency schedule",
		Long:  "Resolve the named task's dependency graph, bind parameters, and execute the resulting schedule in order (spec.md §4.4, §4.7). With no task argument this behaves like \"list\".",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runList(cmd)
			}
			return runTask(cmd, args[0], runTaskOpts{
				params:      params,
				maxJobs:     maxJobs,
				clean:       clean,
				cleanAll:    cleanAll,
				workDirFlag: workDirFlag,
				taskDirFlag: taskDirFlag,
				show:        show,
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "[alias-path:]param=value override (repeatable)")
	cmd.Flags().IntVarP(&maxJobs, "maxjobs", "j", 0, "parallelism hint passed to task actions (0 uses config default)")
	cmd.Flags().StringArrayVarP(&clean, "clean", "c", nil, "clean the named alias path's materialized outputs before running (repeatable)")
	cmd.Flags().BoolVarP(&cleanAll, "clean-all", "C", false, "purge the entire work root before running")
	cmd.Flags().StringVar(&workDirFlag, "workdir", "", "override the work root")
	cmd.Flags().StringVar(&taskDirFlag, "taskdir", "", "override the task discovery root")
	cmd.Flags().BoolVarP(&show, "show", "s", false, "print the resolved schedule instead of executing it")

	return cmd
}

type runTaskOpts struct {
	params      []string
	maxJobs     int
	clean       []string
	cleanAll    bool
	workDirFlag string
	taskDirFlag string
	show        bool
}

func runTask(cmd *cobra.Command, targetName string, opts runTaskOpts) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\nreceived interrupt, stopping before the next schedule entry...\n")
		cancel()
	}()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadConfigWithFile(wd, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.workDirFlag != "" {
		cfg.Sched.WorkDir = opts.workDirFlag
	}
	if opts.taskDirFlag != "" {
		cfg.Sched.TaskDir = opts.taskDirFlag
	}
	maxJobs := cfg.Sched.MaxJobs
	if opts.maxJobs != 0 {
		maxJobs = opts.maxJobs
	}
	if maxJobs == 0 {
		maxJobs = runtime.NumCPU()
	}

	cliOverrides := make([]binder.CLIOverride, 0, len(opts.params))
	for _, raw := range opts.params {
		ov, err := binder.ParseCLIOverride(raw)
		if err != nil {
			return err
		}
		cliOverrides = append(cliOverrides, ov)
	}

	registry := task.NewActionRegistry()

	u, err := universe.Load(cfg.Sched.TaskDir, registry)
	if err != nil {
		return fmt.Errorf("failed to load task universe: %w", err)
	}

	b, err := binder.New()
	if err != nil {
		return fmt.Errorf("failed to init param binder: %w", err)
	}

	resolver := depresolver.New(u, b)
	list, err := resolver.Resolve(targetName, cliOverrides)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", targetName, err)
	}

	if opts.show {
		sched.PrintSchedule(cmd.OutOrStdout(), list)
		return nil
	}

	root, err := workdir.Init(cfg.Sched.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to init work root: %w", err)
	}

	quiet := !term.IsTerminal(int(os.Stdout.Fd()))
	logger := logging.New(quiet, cmd.ErrOrStderr())

	jobs, err := jobdb.Open(cfg.Sched.JobDBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open jobdb: %w", err)
	}
	defer func() { _ = jobs.Close() }()

	if err := applyClean(root, jobs, list, opts); err != nil {
		return err
	}

	callbacks := ptyscript.NewCallbackRegistry()
	s := sched.New(root, jobs, registry, logger)
	s.MaxJobs = maxJobs
	s.Quiet = quiet
	s.SpawnPTY = func(ctx context.Context, scriptPath, command string, args ...string) error {
		return ptyscript.RunScript(ctx, scriptPath, command, args, callbacks, logger)
	}

	if err := s.Run(ctx, list); err != nil {
		return fmt.Errorf("failed to run %q: %w", targetName, err)
	}
	return nil
}

// applyClean runs the -c/--clean or -C/--clean-all purge requested by
// opts, if any, removing the affected workdir entries and invalidating
// their JobDB records (spec.md §4.6, "invoked on clean"). It always
// runs before the schedule itself executes, never in place of it.
func applyClean(root *workdir.Root, jobs *jobdb.DB, list *depresolver.ScheduleList, opts runTaskOpts) error {
	if opts.cleanAll {
		if err := root.CleanAll(); err != nil {
			return fmt.Errorf("failed to clean-all: %w", err)
		}
		if err := jobs.InvalidateAll(); err != nil {
			return fmt.Errorf("failed to invalidate jobdb: %w", err)
		}
		return nil
	}

	if len(opts.clean) > 0 {
		seeds, err := seedsFromAliasPaths(list, opts.clean)
		if err != nil {
			return err
		}
		purged, err := root.CleanTransitive(list, seeds)
		if err != nil {
			return fmt.Errorf("failed to clean: %w", err)
		}
		for _, fp := range purged {
			if err := jobs.Invalidate(fp); err != nil {
				return fmt.Errorf("failed to invalidate jobdb entry: %w", err)
			}
		}
	}
	return nil
}

// seedsFromAliasPaths resolves each "-c/--clean" alias path (the same
// dot-separated alias-chain representation depresolver uses for -p
// overrides) to the ScheduleEntry it names.
func seedsFromAliasPaths(list *depresolver.ScheduleList, aliasPaths []string) ([]*depresolver.ScheduleEntry, error) {
	byPath := make(map[string]*depresolver.ScheduleEntry, len(list.Entries))
	for _, e := range list.Entries {
		byPath[strings.Join(e.AliasPath, ".")] = e
	}

	seeds := make([]*depresolver.ScheduleEntry, 0, len(aliasPaths))
	for _, p := range aliasPaths {
		e, ok := byPath[p]
		if !ok {
			return nil, fmt.Errorf("unknown alias path %q in -c/--clean", p)
		}
		seeds = append(seeds, e)
	}
	return seeds, nil
}
