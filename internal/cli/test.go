package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to <scenarios-dir>/golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenarios against golden traces",
		Long: `Run every scenario file in a directory.

A scenario passes when its expect clauses and assertions hold and its
trace matches the golden file <golden-dir>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  treesync test ./scenarios
  treesync test ./scenarios --filter "limit_*"
  treesync test ./scenarios --update
  treesync test ./scenarios --golden ./golden --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default <scenarios-dir>/golden)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.Config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	loaded, loadErrs := LoadScenarios(scenariosDir, opts.Filter, LoadModeCollectAll)
	if loaded == nil {
		var loadErr *LoadError
		if errors.As(loadErrs[0], &loadErr) && loadErr.Code == ErrCodeNotFound {
			return NewExitError(ExitCommandError, loadErr.Message)
		}
		return WrapExitError(ExitCommandError, "failed to find scenarios", loadErrs[0])
	}
	formatter.VerboseLog("Found %d scenario file(s) in %s", loaded.FileCount, scenariosDir)

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(scenariosDir, "golden")
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, err := range loadErrs {
		sr := ScenarioResult{Pass: false, Errors: []string{err.Error()}}
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			sr.File = loadErr.File
			sr.Name = filepath.Base(loadErr.File)
		}
		result.add(sr)
		reportScenario(opts, cmd, sr)
	}
	for i, scenario := range loaded.Scenarios {
		sr := runOne(opts, cfg, cmd, scenario, loaded.Files[i], goldenDir)
		result.add(sr)
		reportScenario(opts, cmd, sr)
	}

	if opts.Format == "json" {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(cmd, result)
}

func (r *TestResult) add(sr ScenarioResult) {
	r.Scenarios = append(r.Scenarios, sr)
	r.Total++
	if sr.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// runOne executes a single scenario and compares its trace with the
// golden file.
func runOne(opts *TestOptions, cfg config.Config, cmd *cobra.Command, scenario *harness.Scenario, file, goldenDir string) ScenarioResult {
	sr := ScenarioResult{Name: scenario.Name, File: file}

	result, err := harness.Run(scenario, harnessOptions(opts.RootOptions, cfg, cmd)...)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution error: %v", err)}
		return sr
	}
	sr.Errors = result.Errors

	trace := harness.FormatTrace(scenario.Name, result.Trace)
	match, err := harness.CompareGolden(goldenDir, scenario.Name, trace, opts.Update)
	switch {
	case err != nil:
		sr.Errors = append(sr.Errors, fmt.Sprintf("golden comparison failed: %v", err))
	case !match:
		sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	sr.Pass = result.Pass && err == nil && match
	return sr
}

func reportScenario(opts *TestOptions, cmd *cobra.Command, sr ScenarioResult) {
	if opts.Format == "json" {
		return
	}
	w := cmd.OutOrStdout()
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}
	if err := formatter.Response(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
