// Package coordinator runs a whole test session: provisioning, distribution,
// execution and the retry passes that follow.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"simfleet/config"
	"simfleet/distribution"
	"simfleet/events"
	"simfleet/executor"
	"simfleet/hostinfo"
	"simfleet/logging"
	"simfleet/model"
	"simfleet/pool"
	"simfleet/provisioning"
	"simfleet/runner"
	"simfleet/simulator"
)

// Pass kinds
const (
	PassInitial   = "initial"
	PassStability = "stability"
	PassRetry     = "retry"
)

// Recorder observes the whole run.
type Recorder interface {
	runner.Recorder
	provisioning.Recorder
	RecordPass(kind string, tests int, duration time.Duration)
}

// Coordinator manages test execution across multiple nodes
type Coordinator struct {
	config   *config.Config
	dial     pool.DialFunc
	logger   *zap.Logger
	recorder Recorder

	provisioner *provisioning.Provisioner
	runner      *runner.Runner
	strategy    distribution.Strategy
	events      events.Notifier
	hostInfo    *hostinfo.Registry

	mu         sync.Mutex
	collectEnv bool
}

// NewCoordinator creates a new coordinator. A nil dial connects with
// executor.Dial.
func NewCoordinator(cfg *config.Config, dial pool.DialFunc, logger *zap.Logger, recorder Recorder) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dial == nil {
		opts := executor.Options{ConnectTimeout: cfg.Timeouts.Connect}
		dial = func(ctx context.Context, node model.Node, log *logging.CommandLog) (executor.Executor, error) {
			return executor.Dial(ctx, node, log, opts)
		}
	}

	var runnerRecorder runner.Recorder
	var provisioningRecorder provisioning.Recorder
	if recorder != nil {
		runnerRecorder = recorder
		provisioningRecorder = recorder
	}

	c := &Coordinator{
		config:   cfg,
		dial:     dial,
		logger:   logger,
		recorder: recorder,
		events:   events.Nop{},
		hostInfo: hostinfo.DefaultRegistry(logger, cfg.Paths.Root),
	}
	if cfg.Plugins.Event != "" {
		c.events = events.NewPluginNotifier(cfg.Plugins.Event, cfg.Device, cfg.Plugins.Data, cfg.Timeouts.Plugin, logger)
	}

	c.provisioner = provisioning.New(provisioning.Config{
		Device: cfg.Device,
		Credentials: simulator.Credentials{
			Username: cfg.Account.Username,
			Password: cfg.Account.Password,
		},
		BuildBundleIdentifier:  cfg.BuildBundleIdentifier,
		TestBundleIdentifier:   cfg.TestBundleIdentifier,
		Headless:               cfg.Headless,
		WindowLocationsCommand: cfg.WindowLocationsCommand,
	}, dial, logger, provisioningRecorder)

	c.runner = runner.New(runner.Config{
		Scheme:      cfg.Scheme,
		BuildTarget: cfg.BuildTarget,
		TestTarget:  cfg.TestTarget,
		SDK:         runner.SDK(cfg.SDK),
		Paths: runner.Paths{
			Build:      cfg.Paths.Build,
			TestBundle: cfg.Paths.TestBundle,
			Logs:       cfg.Paths.Logs,
			Results:    cfg.Paths.Results,
		},
		TestTimeout:       cfg.Timeouts.Test,
		BootstrapCooldown: cfg.Timeouts.BootstrapCooldown,
		Events:            c.events,
	}, dial, logger, runnerRecorder)

	if cfg.Plugins.TestDistribution != "" {
		c.strategy = distribution.NewPluginStrategy(cfg.Plugins.TestDistribution, cfg.Timeouts.Plugin, logger)
	}
	return c
}

// SetEnvironmentCollection enables or disables host information collection
func (c *Coordinator) SetEnvironmentCollection(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectEnv = enabled
}

// Terminate aborts every remote operation in progress
func (c *Coordinator) Terminate() {
	c.provisioner.Terminate()
	c.runner.Terminate()
}

// Run executes tests on every configured node and returns the summary of
// all passes. Operation failures have their command logs dumped before they
// are returned. Lifecycle events are delivered before Run returns.
func (c *Coordinator) Run(ctx context.Context, tests []model.TestCase) (*Summary, error) {
	defer c.events.Flush()
	c.events.Notify(events.Event{Kind: events.Start, Info: map[string]string{
		"tests": strconv.Itoa(len(tests)),
		"nodes": strconv.Itoa(len(c.config.Nodes)),
	}})

	summary, err := c.run(ctx, tests)
	if err != nil {
		c.dumpLogs(err)
		c.events.Notify(events.Event{Kind: events.Error, Info: map[string]string{"error": err.Error()}})
		return summary, err
	}
	c.events.Notify(events.Event{Kind: events.Stop, Info: map[string]string{
		"runId":      summary.RunID,
		"passed":     strconv.Itoa(summary.Passed()),
		"failed":     strconv.Itoa(summary.Failed()),
		"unresolved": strconv.Itoa(len(summary.Unresolved)),
	}})
	return summary, nil
}

func (c *Coordinator) run(ctx context.Context, tests []model.TestCase) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	logger := c.logger.With(zap.String("run_id", summary.RunID))
	nodes := c.config.Nodes

	if len(tests) == 0 {
		return nil, fmt.Errorf("no tests to run")
	}
	logger.Info("starting run", zap.Int("tests", len(tests)), zap.Int("nodes", len(nodes)))

	c.mu.Lock()
	collectEnv := c.collectEnv
	c.mu.Unlock()
	if collectEnv {
		if err := c.collectHostInfo(ctx, nodes); err != nil {
			return nil, err
		}
	}

	if err := c.provisioner.ValidateDevice(ctx, nodes); err != nil {
		return nil, err
	}
	placements, err := c.provisioner.Run(ctx, nodes)
	if err != nil {
		return nil, err
	}
	if len(placements) == 0 {
		return nil, fmt.Errorf("no simulators available on %d nodes", len(nodes))
	}
	logger.Info("simulators ready", zap.Int("simulators", len(placements)))

	acc := runner.NewAccumulator()
	execute := func(kind string, pending []model.TestCase) error {
		passStart := time.Now()
		groups, err := distribution.Distribute(ctx, c.strategy, distribution.Request{
			TestCases:  pending,
			AgentCount: len(placements),
			Device:     c.config.Device,
			PluginData: c.config.Plugins.Data,
		}, logger)
		if err != nil {
			return err
		}

		logger.Info("starting pass", zap.String("kind", kind), zap.Int("tests", len(pending)))
		info := map[string]string{"pass": kind, "tests": strconv.Itoa(len(pending))}
		c.events.Notify(events.Event{Kind: events.StartTesting, Info: info})
		err = c.runner.Run(ctx, groups, placements, acc)
		c.events.Notify(events.Event{Kind: events.StopTesting, Info: map[string]string{"pass": kind, "tests": info["tests"]}})
		summary.Passes++
		if c.recorder != nil {
			c.recorder.RecordPass(kind, len(pending), time.Since(passStart))
		}
		return err
	}

	if err := execute(PassInitial, tests); err != nil {
		return nil, err
	}
	for i := 0; i < c.config.Retries.Stability; i++ {
		if err := execute(PassStability, tests); err != nil {
			return nil, err
		}
	}
	for i := 0; i < c.config.Retries.FailingTests; i++ {
		pending := Unsettled(tests, acc.Results())
		if len(pending) == 0 {
			break
		}
		logger.Info("retrying failing tests", zap.Int("tests", len(pending)), zap.Int("attempt", i+1))
		if err := execute(PassRetry, pending); err != nil {
			return nil, err
		}
	}

	summary.Results = acc.Results()
	summary.Final, summary.Unresolved = Finalize(tests, summary.Results)
	summary.Duration = time.Since(start)
	logger.Info("run finished",
		zap.Int("passed", summary.Passed()),
		zap.Int("failed", summary.Failed()),
		zap.Int("unresolved", len(summary.Unresolved)),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// collectHostInfo logs what every node reports about itself
func (c *Coordinator) collectHostInfo(ctx context.Context, nodes []model.Node) error {
	p := pool.New(pool.NodeSources("host-info", nodes), c.dial, pool.WithLogger(c.logger))
	return p.Execute(ctx, func(ctx context.Context, e executor.Executor, source pool.Source[struct{}]) error {
		info := c.hostInfo.Collect(ctx, e)
		c.logger.Info("host info",
			zap.String("node", source.Node.Name),
			zap.String("address", info.Address),
			zap.Any("modules", info.Modules))
		return nil
	})
}

// dumpLogs writes the command log of every failed operation next to the
// results so the error message can point at it.
func (c *Coordinator) dumpLogs(err error) {
	dir := filepath.Join(c.config.Paths.LocalResults, "logs")
	for _, e := range multierr.Errors(err) {
		log := logging.LogOf(e)
		if log == nil || log.Path() != "" {
			continue
		}
		path, dumpErr := log.Dump(dir)
		if dumpErr != nil {
			c.logger.Warn("failed to dump command log", zap.Error(dumpErr))
			continue
		}
		c.logger.Debug("command log written", zap.String("path", path))
	}
}
