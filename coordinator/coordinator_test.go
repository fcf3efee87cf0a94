package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simfleet/config"
	"simfleet/events"
	"simfleet/executor"
	"simfleet/executor/executortest"
	"simfleet/logging"
	"simfleet/model"
)

const testTarget = "AppUITests"

const installed = `iPhone 8-1 (13.0) [AAAA-1] (Simulator)
iPhone 8-2 (13.0) [AAAA-2] (Simulator)
`

const booted = `-- iOS 13.0 --
    iPhone 8-1 (AAAA-1) (Booted)
`

type recorder struct {
	mu     sync.Mutex
	passes []string
	agents map[string]int
	tests  int
}

func (r *recorder) RecordTestResult(model.Status, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests++
}

func (r *recorder) RecordWatchdogFired(string) {}

func (r *recorder) RecordBootstrapRetry(string) {}

func (r *recorder) RecordAgents(node string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[node] = count
}

func (r *recorder) RecordPass(kind string, tests int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, fmt.Sprintf("%s:%d", kind, tests))
}

func newRecorder() *recorder {
	return &recorder{agents: map[string]int{}}
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Scheme:     "App",
		TestTarget: testTarget,
		Device:     model.Device{Name: "iPhone 8", OSVersion: "13.0"},
		Nodes: []model.Node{
			{Name: "mac-1", Address: "10.0.0.1", Primary: true, ConcurrentTestRunners: model.Concurrency{Manual: 2}},
		},
		Paths:    config.Paths{Root: "/w", LocalResults: t.TempDir()},
		Headless: true,
	}
	cfg.ApplyDefaults()
	cfg.Timeouts.BootstrapCooldown = time.Millisecond
	return cfg
}

func tests() []model.TestCase {
	return []model.TestCase{
		model.NewTestCase("LoginTests", "testLogin"),
		model.NewTestCase("LoginTests", "testLogout"),
		model.NewTestCase("CartTests", "testAdd"),
		model.NewTestCase("CartTests", "testRemove"),
	}
}

// output reports every test with the given outcome unless overridden.
func output(overrides map[string]string) []string {
	var chunks []string
	for _, tc := range tests() {
		status := "passed"
		if s, ok := overrides[tc.Name]; ok {
			status = s
		}
		chunks = append(chunks,
			fmt.Sprintf("Test Case '-[%s.%s %s]' started.\n", testTarget, tc.Suite, tc.Name),
			fmt.Sprintf("Test Case '-[%s.%s %s]' %s (1.000 seconds).\n", testTarget, tc.Suite, tc.Name, status))
	}
	return chunks
}

func newNode() *executortest.Fake {
	f := executortest.New("10.0.0.1").
		On("list runtimes", executortest.Response{Output: "com.apple.CoreSimulator.SimRuntime.iOS-13-0"}).
		On("xctrace list devices", executortest.Response{Output: installed}).
		On("simctl list devices", executortest.Response{Output: booted}).
		On("*.xctestrun'", executortest.Response{Output: "/w/test_bundle/App_iphonesimulator.xctestrun\n"})
	for _, id := range []string{"AAAA-1", "AAAA-2"} {
		id := id
		f.OnFunc(func(cmd string) bool {
			return strings.Contains(cmd, "*.xcresult'") && strings.Contains(cmd, "/w/logs/"+id)
		}, executortest.Response{Output: "/w/logs/" + id + "/Logs/Test/Run.xcresult\n"})
	}
	f.On("test -e", executortest.Response{Status: 1})
	return f
}

func dialer(f *executortest.Fake) func(context.Context, model.Node, *logging.CommandLog) (executor.Executor, error) {
	return func(ctx context.Context, _ model.Node, _ *logging.CommandLog) (executor.Executor, error) {
		return f.Clone(ctx)
	}
}

func TestRun_AllPassing(t *testing.T) {
	f := newNode()
	f.On("xcodebuild", executortest.Response{Chunks: output(nil)})
	rec := newRecorder()
	cfg := testConfig(t)
	cfg.Retries.FailingTests = 2

	summary, err := NewCoordinator(cfg, dialer(f), nil, rec).Run(context.Background(), tests())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Passes)
	assert.True(t, summary.Success())
	assert.Equal(t, 4, summary.Passed())
	assert.Len(t, summary.Final, 4)
	assert.Empty(t, summary.Unresolved)
	assert.Equal(t, []string{"initial:4"}, rec.passes)
	assert.Equal(t, map[string]int{"10.0.0.1": 2}, rec.agents)
	assert.Equal(t, 2, f.Count("xcodebuild"))
}

func TestRun_RetriesOnlyFailingTests(t *testing.T) {
	f := newNode()
	failing := executortest.Response{Chunks: output(map[string]string{"testAdd": "failed"})}
	f.On("xcodebuild", failing, failing, executortest.Response{Chunks: output(nil)})
	rec := newRecorder()
	cfg := testConfig(t)
	cfg.Retries.FailingTests = 3

	summary, err := NewCoordinator(cfg, dialer(f), nil, rec).Run(context.Background(), tests())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Passes)
	assert.Equal(t, []string{"initial:4", "retry:1"}, rec.passes)
	assert.Len(t, summary.Results, 5)
	assert.True(t, summary.Success())
	// only one agent had work in the retry pass
	assert.Equal(t, 3, f.Count("xcodebuild"))
	assert.Equal(t, 2, f.Count("-only-testing:App/CartTests/testAdd"))
	assert.Equal(t, 1, f.Count("-only-testing:App/LoginTests/testLogin"))
}

func TestRun_FailingTestsWithoutRetries(t *testing.T) {
	f := newNode()
	f.On("xcodebuild", executortest.Response{Chunks: output(map[string]string{"testAdd": "failed"})})

	summary, err := NewCoordinator(testConfig(t), dialer(f), nil, nil).Run(context.Background(), tests())
	require.NoError(t, err)

	assert.False(t, summary.Success())
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 3, summary.Passed())
	assert.Equal(t, 1, summary.Passes)
}

func TestRun_StabilityRerunsEveryTest(t *testing.T) {
	f := newNode()
	f.On("xcodebuild", executortest.Response{Chunks: output(nil)})
	rec := newRecorder()
	cfg := testConfig(t)
	cfg.Retries.Stability = 2

	summary, err := NewCoordinator(cfg, dialer(f), nil, rec).Run(context.Background(), tests())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Passes)
	assert.Equal(t, []string{"initial:4", "stability:4", "stability:4"}, rec.passes)
	assert.Len(t, summary.Results, 12)
	assert.Len(t, summary.Final, 4)
	assert.Equal(t, 12, rec.tests)
}

func TestRun_NoTests(t *testing.T) {
	f := newNode()
	_, err := NewCoordinator(testConfig(t), dialer(f), nil, nil).Run(context.Background(), nil)
	require.Error(t, err)
	assert.Empty(t, f.Commands())
}

func TestRun_DumpsCommandLogOnFailure(t *testing.T) {
	f := executortest.New("10.0.0.1").
		On("xctrace list devices", executortest.Response{Output: installed}).
		On("list runtimes", executortest.Response{Output: ""})
	cfg := testConfig(t)

	_, err := NewCoordinator(cfg, dialer(f), nil, nil).Run(context.Background(), tests())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "administrator credentials were not provided")

	entries, readErr := os.ReadDir(filepath.Join(cfg.Paths.LocalResults, "logs"))
	require.NoError(t, readErr)
	require.NotEmpty(t, entries)
	data, readErr := os.ReadFile(filepath.Join(cfg.Paths.LocalResults, "logs", entries[0].Name()))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "xcrun simctl list runtimes")
}

// eventPlugin writes a plugin appending every input it reads to the returned
// log, one per line.
func eventPlugin(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	log := filepath.Join(dir, "events.log")
	script := filepath.Join(dir, "event.sh")
	body := "#!/bin/sh\ncat >> \"" + log + "\"\necho >> \"" + log + "\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script, log
}

func readEvents(t *testing.T, log string) []events.Input {
	t.Helper()
	data, err := os.ReadFile(log)
	require.NoError(t, err)
	var inputs []events.Input
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var in events.Input
		require.NoError(t, json.Unmarshal([]byte(line), &in), line)
		inputs = append(inputs, in)
	}
	return inputs
}

func TestRun_EventPlugin(t *testing.T) {
	script, log := eventPlugin(t)
	f := newNode()
	f.On("xcodebuild", executortest.Response{Chunks: output(map[string]string{"testAdd": "failed"})})
	cfg := testConfig(t)
	cfg.Plugins.Event = script
	cfg.Plugins.Data = "nightly"

	_, err := NewCoordinator(cfg, dialer(f), nil, nil).Run(context.Background(), tests())
	require.NoError(t, err)

	inputs := readEvents(t, log)
	require.GreaterOrEqual(t, len(inputs), 4)
	counts := map[events.Kind]int{}
	for _, in := range inputs {
		counts[in.Event.Kind]++
	}
	assert.Equal(t, events.Start, inputs[0].Event.Kind)
	assert.Equal(t, "4", inputs[0].Event.Info["tests"])
	assert.Equal(t, events.StartTesting, inputs[1].Event.Kind)
	assert.Equal(t, events.StopTesting, inputs[len(inputs)-2].Event.Kind)
	stop := inputs[len(inputs)-1]
	assert.Equal(t, events.Stop, stop.Event.Kind)
	assert.Equal(t, "3", stop.Event.Info["passed"])
	assert.Equal(t, "1", stop.Event.Info["failed"])
	assert.Equal(t, "nightly", stop.PluginData)
	assert.Equal(t, "iPhone 8", stop.Device.Name)

	assert.Positive(t, counts[events.TestCaseStarted])
	assert.Positive(t, counts[events.TestPassed])
	assert.Positive(t, counts[events.TestFailed])
	assert.Zero(t, counts[events.Error])
}

func TestRun_EventPluginReceivesError(t *testing.T) {
	script, log := eventPlugin(t)
	cfg := testConfig(t)
	cfg.Plugins.Event = script

	_, err := NewCoordinator(cfg, dialer(newNode()), nil, nil).Run(context.Background(), nil)
	require.Error(t, err)

	inputs := readEvents(t, log)
	require.Len(t, inputs, 2)
	assert.Equal(t, events.Start, inputs[0].Event.Kind)
	assert.Equal(t, events.Error, inputs[1].Event.Kind)
	assert.Contains(t, inputs[1].Event.Info["error"], "no tests to run")
}

func TestRun_Cancelled(t *testing.T) {
	f := newNode()
	f.On("xcodebuild", executortest.Response{Block: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCoordinator(testConfig(t), dialer(f), nil, nil).Run(ctx, tests())
	require.Error(t, err)
	assert.Zero(t, f.Count("xcodebuild"))
}

func result(tc model.TestCase, status model.Status) model.TestCaseResult {
	return model.TestCaseResult{Suite: tc.Suite, Name: tc.Name, Status: status}
}

func TestFinalize(t *testing.T) {
	all := tests()
	results := []model.TestCaseResult{
		result(all[0], model.StatusFailed),
		result(all[1], model.StatusPassed),
		result(all[0], model.StatusPassed),
	}

	final, unresolved := Finalize(all, results)
	require.Len(t, final, 2)
	assert.Equal(t, "testLogin", final[0].Name)
	assert.Equal(t, model.StatusPassed, final[0].Status)
	assert.Equal(t, "testLogout", final[1].Name)
	assert.Equal(t, []model.TestCase{all[2], all[3]}, unresolved)
}

func TestUnsettled(t *testing.T) {
	all := tests()
	results := []model.TestCaseResult{
		result(all[0], model.StatusPassed),
		result(all[1], model.StatusFailed),
		result(all[2], model.StatusFailed),
		result(all[2], model.StatusPassed),
	}

	assert.Equal(t, []model.TestCase{all[1], all[3]}, Unsettled(all, results))
	assert.Empty(t, Unsettled(all[:1], results))
}

func TestSummary_Counts(t *testing.T) {
	s := &Summary{Final: []model.TestCaseResult{
		{Status: model.StatusPassed},
		{Status: model.StatusFailed},
		{Status: model.StatusPassed},
	}}
	assert.Equal(t, 2, s.Passed())
	assert.Equal(t, 1, s.Failed())
	assert.False(t, s.Success())

	s = &Summary{Final: []model.TestCaseResult{{Status: model.StatusPassed}}, Unresolved: tests()[:1]}
	assert.False(t, s.Success())
}
