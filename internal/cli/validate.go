package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/config"
)

// ValidationError is one problem found by validate.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenarios-dir>",
		Short: "Validate scenario files and config without running them",
		Long: `Validate every scenario file in a directory, and the --config file
if one is given, without running anything.

Scenario files are checked for unknown fields, missing required fields,
unknown listeners and invalid queries. Every error is reported, not just
the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var validationErrors []ValidationError
	if opts.ConfigPath != "" {
		formatter.VerboseLog("Validating config %s", opts.ConfigPath)
		if _, err := config.Load(opts.ConfigPath); err != nil {
			validationErrors = append(validationErrors, configValidationError(opts.ConfigPath, err))
		}
	}

	loadResult, loadErrors := LoadScenarios(scenariosDir, "", LoadModeCollectAll)
	if loadResult == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}
	formatter.VerboseLog("Found %d scenario file(s) in %s", loadResult.FileCount, scenariosDir)
	if loadResult.FileCount == 0 {
		return outputValidateError(formatter, ErrCodeNoFiles, fmt.Sprintf("no scenario files found in %s", scenariosDir))
	}

	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, ValidationError{
				File:    loadErr.File,
				Code:    loadErr.Code,
				Message: loadErr.Message,
			})
		}
	}

	result := ValidationResult{
		Valid:     len(validationErrors) == 0,
		Scenarios: len(loadResult.Scenarios),
		Errors:    validationErrors,
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

func configValidationError(path string, err error) ValidationError {
	verr := ValidationError{File: path, Code: ErrCodeInvalidConfig, Message: err.Error()}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		verr.Message = cfgErr.Message
		if cfgErr.Pos.IsValid() {
			verr.Line = cfgErr.Pos.Line()
		}
	}
	return verr
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d scenario(s) valid\n", result.Scenarios)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Format == "json" {
		if err := formatter.Response(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range result.Errors {
		switch {
		case err.Line > 0:
			fmt.Fprintf(formatter.Writer, "%s:%d\n", err.File, err.Line)
		case err.File != "":
			fmt.Fprintln(formatter.Writer, err.File)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	return failed
}
