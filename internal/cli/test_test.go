package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandNoScenarios(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandGoldenLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "simple_set.yaml", simpleScenario)
	golden := filepath.Join(dir, "golden", "simple_set.golden")

	// Without a golden file the scenario fails.
	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ simple_set")
	assert.Contains(t, out, "golden comparison failed")

	out, _, err = execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ simple_set")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scenario: simple_set\n[1] listen /a$default as l\n")

	out, _, err = execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")

	require.NoError(t, os.WriteFile(golden, []byte("scenario: simple_set\n"), 0644))
	out, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFilterAndGoldenDir(t *testing.T) {
	dir := t.TempDir()
	goldenDir := filepath.Join(t.TempDir(), "traces")
	writeFile(t, dir, "simple_set.yaml", simpleScenario)
	writeFile(t, dir, "failing.yaml", failingScenario)

	out, _, err := execute(t, "test", dir, "--filter", "simple_*", "--golden", goldenDir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "failing")
	assert.FileExists(t, filepath.Join(goldenDir, "simple_set.golden"))
	assert.NoFileExists(t, filepath.Join(goldenDir, "failing.golden"))
}

func TestTestCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "simple_set.yaml", simpleScenario)
	writeFile(t, dir, "failing.yaml", failingScenario)
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, _, err := execute(t, "--format", "json", "test", dir, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 2, resp.Data.Failed)

	byName := map[string]ScenarioResult{}
	for _, sr := range resp.Data.Scenarios {
		byName[sr.Name] = sr
	}
	assert.True(t, byName["simple_set"].Pass)
	assert.False(t, byName["failing"].Pass)
	assert.False(t, byName["broken.yaml"].Pass)
	assert.Contains(t, byName["broken.yaml"].Errors[0], "description is required")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "")
	writeFile(t, dir, "a.yml", "")
	writeFile(t, dir, "nested/c.yaml", "")
	writeFile(t, dir, "golden/a.golden", "")
	writeFile(t, dir, "golden/skipped.yaml", "")
	writeFile(t, dir, "notes.txt", "")

	files, err := FindScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	files, err = FindScenarioFiles(dir, "[ab]")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = FindScenarioFiles(dir, "[")
	require.Error(t, err)
}
