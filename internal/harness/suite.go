package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SuiteOptions controls RunSuite.
type SuiteOptions struct {
	// Filter is a glob matched against scenario file names without extension.
	Filter string

	// GoldenDir holds {scenario.Name}.golden trace snapshots. Scenarios
	// without a golden file are judged on their assertions only.
	GoldenDir string

	// Update rewrites the golden files instead of comparing them.
	Update bool
}

// SuiteResult summarizes a suite run.
type SuiteResult struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Pass          bool     `json:"pass"`
	GoldenUpdated bool     `json:"golden_updated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// RunSuite runs every scenario under dir. A scenario that fails to load
// or execute counts as failed; only an unreadable directory or a bad
// filter is returned as an error.
func RunSuite(dir string, opts SuiteOptions) (*SuiteResult, error) {
	paths, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{Scenarios: []ScenarioOutcome{}}
	for _, path := range paths {
		if opts.Filter != "" {
			base := filepath.Base(path)
			matched, err := filepath.Match(opts.Filter, strings.TrimSuffix(base, filepath.Ext(base)))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}

		outcome := runScenarioFile(path, opts)
		result.Total++
		if outcome.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, outcome)
	}
	return result, nil
}

func runScenarioFile(path string, opts SuiteOptions) ScenarioOutcome {
	outcome := ScenarioOutcome{Name: filepath.Base(path), Path: path}
	fail := func(format string, args ...any) ScenarioOutcome {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf(format, args...))
		return outcome
	}

	scenario, err := LoadScenario(path)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	outcome.Name = scenario.Name

	runResult, err := Run(scenario)
	if err != nil {
		return fail("scenario execution failed: %v", err)
	}
	outcome.Errors = runResult.Errors

	if opts.GoldenDir != "" {
		updated, err := checkGolden(opts, scenario.Name, runResult)
		if err != nil {
			return fail("%v", err)
		}
		outcome.GoldenUpdated = updated
	}

	outcome.Pass = len(outcome.Errors) == 0
	return outcome
}

// checkGolden compares (or rewrites) the golden file of one scenario.
func checkGolden(opts SuiteOptions, name string, result *Result) (bool, error) {
	current, err := Snapshot(name, result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal trace: %w", err)
	}
	path := filepath.Join(opts.GoldenDir, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, current, 0o644); err != nil {
			return false, fmt.Errorf("failed to write golden file: %w", err)
		}
		return true, nil
	}

	golden, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(golden, current) {
		return false, fmt.Errorf("trace does not match golden file %s (run with --update to regenerate)", path)
	}
	return false, nil
}
