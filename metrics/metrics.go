// Package metrics records run outcomes as Prometheus collectors on a private
// registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"simfleet/model"
)

const MetricsNamespace = "simfleet"

// Metrics holds every collector of a run.
type Metrics struct {
	registry *prometheus.Registry

	testResults      *prometheus.CounterVec
	testDuration     *prometheus.HistogramVec
	watchdogFired    *prometheus.CounterVec
	bootstrapRetries *prometheus.CounterVec
	agents           *prometheus.GaugeVec
	passDuration     *prometheus.HistogramVec
	passTests        *prometheus.GaugeVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		testResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "test_results_total",
			Help:      "Count of reconciled test results",
		}, []string{"status"}),
		testDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "test_duration_seconds",
			Help:      "Duration of measured test cases",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		watchdogFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "watchdog_fired_total",
			Help:      "Count of stalled agents power cycled",
		}, []string{"node"}),
		bootstrapRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "bootstrap_retries_total",
			Help:      "Count of test runner bootstrap retries",
		}, []string{"node"}),
		agents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "agents",
			Help:      "Number of agents provisioned per node",
		}, []string{"node"}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of execution passes",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 8),
		}, []string{"kind"}),
		passTests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "pass_tests",
			Help:      "Number of tests scheduled in the latest pass",
		}, []string{"kind"}),
	}
}

// Registry exposes the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordTestResult(status model.Status, duration float64) {
	m.testResults.WithLabelValues(string(status)).Inc()
	if duration >= 0 {
		m.testDuration.WithLabelValues(string(status)).Observe(duration)
	}
}

func (m *Metrics) RecordWatchdogFired(node string) {
	m.watchdogFired.WithLabelValues(node).Inc()
}

func (m *Metrics) RecordBootstrapRetry(node string) {
	m.bootstrapRetries.WithLabelValues(node).Inc()
}

func (m *Metrics) RecordAgents(node string, count int) {
	m.agents.WithLabelValues(node).Set(float64(count))
}

// RecordPass records one execution pass of kind (initial, retry, stability).
func (m *Metrics) RecordPass(kind string, tests int, duration time.Duration) {
	m.passTests.WithLabelValues(kind).Set(float64(tests))
	m.passDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the collectors on addr under /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
