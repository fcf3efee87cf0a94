package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simfleet/coordinator"
	"simfleet/model"
	"simfleet/provisioning"
	"simfleet/runner"
)

var (
	_ runner.Recorder       = (*Metrics)(nil)
	_ provisioning.Recorder = (*Metrics)(nil)
	_ coordinator.Recorder  = (*Metrics)(nil)
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordTestResult(model.StatusPassed, 3)
	m.RecordTestResult(model.StatusPassed, 4)
	m.RecordTestResult(model.StatusFailed, model.UnknownDuration)
	m.RecordWatchdogFired("10.0.0.2")
	m.RecordBootstrapRetry("10.0.0.2")
	m.RecordBootstrapRetry("10.0.0.2")
	m.RecordAgents("10.0.0.2", 4)
	m.RecordPass("initial", 12, time.Minute)

	assert.Equal(t, 2.0, counterValue(t, m, "simfleet_test_results_total", map[string]string{"status": "passed"}))
	assert.Equal(t, 1.0, counterValue(t, m, "simfleet_test_results_total", map[string]string{"status": "failed"}))
	assert.Equal(t, 1.0, counterValue(t, m, "simfleet_watchdog_fired_total", map[string]string{"node": "10.0.0.2"}))
	assert.Equal(t, 2.0, counterValue(t, m, "simfleet_bootstrap_retries_total", map[string]string{"node": "10.0.0.2"}))
	assert.Equal(t, 4.0, counterValue(t, m, "simfleet_agents", map[string]string{"node": "10.0.0.2"}))
	assert.Equal(t, 12.0, counterValue(t, m, "simfleet_pass_tests", map[string]string{"kind": "initial"}))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordWatchdogFired("n")
	assert.Equal(t, 0.0, counterValue(t, b, "simfleet_watchdog_fired_total", map[string]string{"node": "n"}))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordAgents("localhost", 2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `simfleet_agents{node="localhost"} 2`)
}

func TestServe_StopsWithContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New().Serve(ctx, addr, nil) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
