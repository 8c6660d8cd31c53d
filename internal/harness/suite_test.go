package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuite_Scenarios(t *testing.T) {
	result, err := RunSuite("testdata/scenarios", SuiteOptions{GoldenDir: GoldenDir})
	require.NoError(t, err)

	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
	assert.Equal(t, result.Total, result.Passed)
	assert.Zero(t, result.Failed)
	assert.GreaterOrEqual(t, result.Total, 9)
}

func TestRunSuite_Filter(t *testing.T) {
	result, err := RunSuite("testdata/scenarios", SuiteOptions{Filter: "async_*"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "async_request", result.Scenarios[0].Name)

	_, err = RunSuite("testdata/scenarios", SuiteOptions{Filter: "["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func writeScenario(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestRunSuite_Failures(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "bad_yaml.yaml", "name: [")
	writeScenario(t, dir, "failing.yaml", `
name: failing
steps:
  - perform: [{ name: toast }]
assertions:
  - type: batch_count
    count: 2
`)
	writeScenario(t, dir, "passing.yaml", `
name: passing
steps:
  - perform: [{ name: toast }]
`)

	result, err := RunSuite(dir, SuiteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)

	byName := map[string]ScenarioOutcome{}
	for _, s := range result.Scenarios {
		byName[s.Name] = s
	}
	assert.Contains(t, byName["bad_yaml.yaml"].Errors[0], "failed to load scenario")
	assert.Contains(t, byName["failing"].Errors[0], "batch_count")
	assert.True(t, byName["passing"].Pass)
}

func TestRunSuite_UpdateAndCompareGolden(t *testing.T) {
	dir := t.TempDir()
	golden := filepath.Join(dir, "golden")
	writeScenario(t, dir, "toast.yaml", `
name: toast
steps:
  - perform: [{ name: toast, payload: { message: hi } }]
`)

	result, err := RunSuite(dir, SuiteOptions{GoldenDir: golden, Update: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.Passed)
	assert.True(t, result.Scenarios[0].GoldenUpdated)

	data, err := os.ReadFile(filepath.Join(golden, "toast.golden"))
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"toast","trace":[{"input":"perform toast","step":1,"type":"input"},{"action":{"name":"toast","payload":{"message":"hi"},"type":"host"},"batch":1,"step":1,"type":"action"}]}`,
		string(data))

	result, err = RunSuite(dir, SuiteOptions{GoldenDir: golden})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed)

	require.NoError(t, os.WriteFile(filepath.Join(golden, "toast.golden"), []byte("{}"), 0o644))
	result, err = RunSuite(dir, SuiteOptions{GoldenDir: golden})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Scenarios[0].Errors[0], "does not match golden file")
}
