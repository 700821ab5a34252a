package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidScenarios(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "simple_set.yaml", simpleScenario)
	writeFile(t, dir, "failing.yaml", failingScenario)

	out, _, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All 2 scenario(s) valid")
}

func TestValidateHarnessScenarios(t *testing.T) {
	out, _, err := execute(t, "validate", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err)
	assert.Contains(t, out, "scenario(s) valid")
}

func TestValidateReportsEveryError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.yaml", simpleScenario)
	writeFile(t, dir, "no_steps.yaml", "name: n\ndescription: d\n")
	writeFile(t, dir, "typo.yaml", "name: n\ndescription: d\nstep: []\n")

	out, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "no_steps.yaml")
	assert.Contains(t, out, "typo.yaml")
	assert.Contains(t, out, ErrCodeInvalidScenario)
}

func TestValidateConfigFile(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	writeFile(t, scenarios, "ok.yaml", simpleScenario)
	cfg := writeFile(t, dir, "treesync.cue", "log_level: \"debug\"\nhash_version: 7\n")

	out, _, err := execute(t, "--format", "json", "--config", cfg, "validate", scenarios)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Scenarios)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Data.Errors[0].Code)
	assert.Equal(t, cfg, resp.Data.Errors[0].File)
	assert.Contains(t, resp.Data.Errors[0].Message, "hash_version")
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, _, err := execute(t, "validate", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, _, err := execute(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}
