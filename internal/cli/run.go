package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Trace    []harness.TraceEntry `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Replay a scenario and print its events",
		Long: `Replay one scenario against a fresh engine and print what every
step caused: the calls sent to the server, the events listeners received
and the write callbacks that ran.

With --db (or "database" in the config file) the engine persists to a
SQLite database. Writes left pending by an earlier run are restored first.

Example:
  treesync run ./scenarios/optimistic_write.yaml
  treesync run --db ./state.db ./scenarios/offline.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: in-memory)")

	return cmd
}

func runScenarioFile(opts *RunOptions, file string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.Config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := harnessOptions(opts.RootOptions, cfg, cmd)
	db := opts.Database
	if db == "" {
		db = cfg.Database
	}
	if db != "" {
		formatter.VerboseLog("using database %s", db)
		runOpts = append(runOpts, harness.WithDatabase(db))
	}

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario could not run", err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(RunResult{
			Scenario: scenario.Name,
			Pass:     result.Pass,
			Trace:    result.Trace,
			Errors:   result.Errors,
		}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		_, _ = w.Write(harness.FormatTrace(scenario.Name, result.Trace))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "✗ %s\n", e)
		}
		if result.Pass {
			fmt.Fprintln(w, "✓ passed")
		}
	}

	if !result.Pass {
		return WrapExitError(ExitFailure, "scenario failed", result.Err())
	}
	return nil
}

// harnessOptions maps the config onto the engine the harness builds.
// Engine logs go to stderr.
func harnessOptions(opts *RootOptions, cfg config.Config, cmd *cobra.Command) []harness.Option {
	return []harness.Option{
		harness.WithLogger(opts.Logger(cmd.ErrOrStderr(), cfg)),
		harness.WithEngineOptions(
			engine.WithHashVersion(cfg.NodeHashVersion()),
			engine.WithWriteRestore(cfg.RestoreWrites),
			engine.WithServerCachePersistence(cfg.PersistServerCache),
		),
	}
}
