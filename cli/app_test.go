package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simfleet/executor"
	"simfleet/executor/executortest"
	"simfleet/logging"
	"simfleet/model"
)

const configTemplate = `
scheme: App
test_target: AppUITests
device:
  name: "iPhone 8"
  os_version: "13.0"
headless: true
nodes:
  - name: mac-1
    address: 10.0.0.1
    user: ci
    key_path: /keys/id_ed25519
    primary: true
    concurrent_test_runners: 1
paths:
  root: /w
  local_results: %s
timeouts:
  bootstrap_cooldown: 1ms
logging:
  level: error
`

const testList = `
- LoginTests/testLogin
- CartTests/testAdd
`

func testLine(name, status string) string {
	suite := "LoginTests"
	if name == "testAdd" {
		suite = "CartTests"
	}
	return fmt.Sprintf("Test Case '-[AppUITests.%s %s]' started.\nTest Case '-[AppUITests.%s %s]' %s (1.000 seconds).\n",
		suite, name, suite, name, status)
}

// newNode answers successive test runs with the given testAdd outcomes.
func newNode(addStatuses ...string) *executortest.Fake {
	var runs []executortest.Response
	for _, status := range addStatuses {
		runs = append(runs, executortest.Response{Chunks: []string{testLine("testLogin", "passed"), testLine("testAdd", status)}})
	}
	return executortest.New("10.0.0.1").
		On("list runtimes", executortest.Response{Output: "com.apple.CoreSimulator.SimRuntime.iOS-13-0"}).
		On("xctrace list devices", executortest.Response{Output: "iPhone 8-1 (13.0) [AAAA-1] (Simulator)\n"}).
		On("*.xctestrun'", executortest.Response{Output: "/w/test_bundle/App_iphonesimulator.xctestrun\n"}).
		On("*.xcresult'", executortest.Response{Output: "/w/logs/AAAA-1/Logs/Test/Run.xcresult\n"}).
		On("test -e", executortest.Response{Status: 1}).
		On("xcodebuild", runs...)
}

type fixture struct {
	app     *App
	out     *bytes.Buffer
	results string
	args    []string
}

func newFixture(t *testing.T, node *executortest.Fake) *fixture {
	t.Helper()
	dir := t.TempDir()
	results := filepath.Join(dir, "results")

	configPath := filepath.Join(dir, "simfleet.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(configTemplate, results)), 0644))
	testsPath := filepath.Join(dir, "tests.yaml")
	require.NoError(t, os.WriteFile(testsPath, []byte(testList), 0644))

	app := NewApp()
	out := &bytes.Buffer{}
	app.cli.Writer = out
	app.dial = func(ctx context.Context, _ model.Node, _ *logging.CommandLog) (executor.Executor, error) {
		return node.Clone(ctx)
	}
	return &fixture{
		app:     app,
		out:     out,
		results: results,
		args:    []string{"simfleet", "test", "--config", configPath, "--tests", testsPath},
	}
}

func (f *fixture) run(extra ...string) error {
	return f.app.Run(context.Background(), append(f.args, extra...))
}

func TestApp_Success(t *testing.T) {
	f := newFixture(t, newNode("passed"))

	err := f.run("--json")
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, ExitCode(err))

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &report))
	assert.Equal(t, float64(2), report["passed"])
	assert.Equal(t, float64(0), report["failed"])

	data, err := os.ReadFile(filepath.Join(f.results, resultsFile))
	require.NoError(t, err)
	var results []model.TestCaseResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "/w/results/AAAA-1/Run.xcresult", results[0].ResultBundle)
}

func TestApp_TestFailures(t *testing.T) {
	f := newFixture(t, newNode("failed"))

	err := f.run()
	require.Error(t, err)
	assert.Equal(t, ExitTestFailure, ExitCode(err))

	var failure *TestFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.Failed)
	assert.Contains(t, strings.ToUpper(f.out.String()), "FAILED: 1")
}

func TestApp_FailureRetryOverride(t *testing.T) {
	node := newNode("failed", "passed")
	f := newFixture(t, node)

	err := f.run("--failure-retry", "1")
	require.NoError(t, err)
	assert.Equal(t, 2, node.Count("xcodebuild"))
	assert.Equal(t, 1, node.Count("-only-testing:App/LoginTests/testLogin"))
}

func TestApp_RuntimeErrors(t *testing.T) {
	t.Run("missing config", func(t *testing.T) {
		f := newFixture(t, newNode("passed"))
		f.args[3] = filepath.Join(t.TempDir(), "missing.yaml")
		err := f.run()
		require.Error(t, err)
		assert.Equal(t, ExitRuntime, ExitCode(err))
	})

	t.Run("missing test list", func(t *testing.T) {
		f := newFixture(t, newNode("passed"))
		f.args[5] = filepath.Join(t.TempDir(), "missing.yaml")
		err := f.run()
		require.Error(t, err)
		assert.Equal(t, ExitRuntime, ExitCode(err))
	})

	t.Run("negative retries", func(t *testing.T) {
		f := newFixture(t, newNode("passed"))
		err := f.run("--failure-retry", "-1")
		require.Error(t, err)
		assert.Equal(t, ExitRuntime, ExitCode(err))
	})

	t.Run("node failure", func(t *testing.T) {
		node := executortest.New("10.0.0.1")
		node.CloneErr = errors.New("connection refused")
		f := newFixture(t, node)
		err := f.run()
		require.Error(t, err)
		assert.Equal(t, ExitRuntime, ExitCode(err))
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "test failure", err: &TestFailureError{Failed: 1}, want: ExitTestFailure},
		{name: "wrapped test failure", err: fmt.Errorf("run: %w", &TestFailureError{Unresolved: 1}), want: ExitTestFailure},
		{name: "runtime", err: NewRuntimeError(errors.New("boom")), want: ExitRuntime},
		{name: "unclassified", err: errors.New("flag provided but not defined"), want: ExitRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestUniqueFlags(t *testing.T) {
	seen := make(map[string]struct{})
	for _, flag := range Flags {
		for _, name := range flag.Names() {
			_, ok := seen[name]
			require.False(t, ok, "duplicate flag %s", name)
			seen[name] = struct{}{}
		}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		name := flag.Names()[0]
		t.Run(name, func(t *testing.T) {
			envFlag, ok := flag.(interface{ GetEnvVars() []string })
			require.True(t, ok)
			envVars := envFlag.GetEnvVars()
			require.Len(t, envVars, 1)
			expected := "SIMFLEET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
			assert.Equal(t, expected, envVars[0])
		})
	}
}
