package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kingrea/weft/internal/config"
	"github.com/kingrea/weft/internal/tui"
	"github.com/kingrea/weft/internal/workflow"
	"github.com/kingrea/weft/internal/workflow/engine"
	"github.com/kingrea/weft/internal/workspace"
)

type execFlags struct {
	pipeline    string
	maxParallel int
	metricsAddr string
	quiet       bool
}

func (f *execFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.pipeline, "pipeline", "", "pipeline definition (defaults to <project>/"+workflow.DefaultDefinitionFile+")")
	fl.IntVar(&f.maxParallel, "max-parallel", 0, "override the concurrency bound for this run")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fl.BoolVar(&f.quiet, "quiet", false, "do not mirror the engine log to stderr")
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var flags execFlags
	var input, runID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new run of the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			def, err := workflow.LoadDefinitionFile(pipelinePath(cfg, flags.pipeline))
			if err != nil {
				return err
			}
			mode := def.Mode
			if mode == "" {
				mode = def.ID
			}
			parallel := flags.maxParallel
			if parallel <= 0 {
				parallel = def.Runtime.MaxParallel
			}
			return execute(cmd, cfg, flags, def.Expansions, func(ctx context.Context, eng *engine.Engine) (workspace.Snapshot, error) {
				return eng.Run(ctx, engine.RunRequest{
					RunID:       runID,
					Mode:        mode,
					InputPath:   input,
					Nodes:       def.SeedNodes(),
					MaxParallel: parallel,
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&input, "input", "", "file or directory copied into the run's input area")
	cmd.Flags().StringVar(&runID, "run-id", "", "name for the run (defaults to a UUID)")
	return cmd
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	var flags execFlags
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue an interrupted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			var expansions []workflow.Expansion
			path := pipelinePath(cfg, flags.pipeline)
			def, err := workflow.LoadDefinitionFile(path)
			switch {
			case err == nil:
				expansions = def.Expansions
			case flags.pipeline == "" && errors.Is(err, os.ErrNotExist):
				fmt.Fprintf(cmd.ErrOrStderr(), "no pipeline at %s; resuming without expansions\n", path)
			default:
				return err
			}
			return execute(cmd, cfg, flags, expansions, func(ctx context.Context, eng *engine.Engine) (workspace.Snapshot, error) {
				return eng.Resume(ctx, engine.ResumeRequest{RunID: args[0], MaxParallel: flags.maxParallel})
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// execute builds the engine, runs fn under a signal-aware context and prints
// the final summary whether or not fn failed.
func execute(cmd *cobra.Command, cfg *config.Config, flags execFlags, expansions []workflow.Expansion, fn func(context.Context, *engine.Engine) (workspace.Snapshot, error)) error {
	settings := engineSettings{expansions: expansions}
	if !flags.quiet {
		settings.logOutput = cmd.ErrOrStderr()
	}
	var server *metricsServer
	if flags.metricsAddr != "" {
		server, settings.metrics = startMetrics(flags.metricsAddr)
		defer server.stop(cmd.ErrOrStderr())
	}
	eng, err := newEngine(cfg, settings)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshot, runErr := fn(ctx, eng)
	if snapshot.RunID != "" {
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSummary(snapshot))
	}
	if runErr != nil {
		if snapshot.RunID != "" && errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("run %s interrupted; continue with: weft resume %s", snapshot.RunID, snapshot.RunID)
		}
		return runErr
	}
	return nil
}
