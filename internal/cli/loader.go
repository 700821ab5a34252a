package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/treesync/internal/harness"
)

// LoadMode controls how errors are handled during scenario loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the scenarios loaded from a directory.
type LoadResult struct {
	Scenarios []*harness.Scenario
	Files     []string // Scenario file of each entry in Scenarios
	FileCount int      // Number of scenario files found
}

// LoadError represents an error that occurred during scenario loading.
type LoadError struct {
	Code    string
	File    string // scenario file, if the error belongs to one
	Message string
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadScenarios loads the scenario files under dir whose base name
// matches filter (a glob; empty matches all). Files are loaded in path
// order. If mode is LoadModeFailFast, returns on first error.
func LoadScenarios(dir, filter string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("scenarios directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing scenarios directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindScenarioFiles(dir, filter)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}

	result := &LoadResult{FileCount: len(files)}
	var errs []error
	for _, file := range files {
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeInvalidScenario, File: file, Message: err.Error()})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Scenarios = append(result.Scenarios, scenario)
		result.Files = append(result.Files, file)
	}
	return result, errs
}

// FindScenarioFiles walks dir and returns the .yaml and .yml files whose
// name without extension matches filter. Golden directories are skipped.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && info.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No scenario files found
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeInvalidInput = "E006" // Unparseable command input
	ErrCodeTestFailed   = "E007" // One or more scenarios failed
	ErrCodeStoreFailed  = "E008" // Database could not be read

	ErrCodeInvalidScenario = "E101" // Scenario file rejected
	ErrCodeInvalidConfig   = "E102" // Config file rejected
)
