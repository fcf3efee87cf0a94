package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"simfleet/config"
	"simfleet/coordinator"
	"simfleet/logging"
	"simfleet/metrics"
	"simfleet/output"
	"simfleet/pool"
)

const appVersion = "1.0.0"

const resultsFile = "results.json"

// App represents the main application
type App struct {
	cli  *cli.App
	dial pool.DialFunc
}

// NewApp creates a new application instance
func NewApp() *App {
	a := &App{}
	a.cli = &cli.App{
		Name:           "simfleet",
		Usage:          "Run UI tests in parallel on simulators spread across machines",
		Version:        appVersion,
		DefaultCommand: "test",
		Writer:         os.Stdout,
		ErrWriter:      os.Stderr,
		// exit codes are decided by main through ExitCode
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:   "test",
				Usage:  "Provision simulators, distribute the tests and run them",
				Flags:  Flags,
				Action: a.test,
			},
		},
	}
	return a
}

// Run executes the application with the given arguments
func (a *App) Run(ctx context.Context, args []string) error {
	return a.cli.RunContext(ctx, args)
}

func (a *App) test(c *cli.Context) error {
	if err := validateFlags(c); err != nil {
		return NewRuntimeError(err)
	}

	cfg, err := config.LoadConfig(c.String(ConfigFlag.Name))
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to load configuration: %w", err))
	}
	applyOverrides(c, cfg)
	if err := config.NewValidator().ValidateConfig(cfg); err != nil {
		return NewRuntimeError(fmt.Errorf("invalid configuration: %w", err))
	}

	tests, err := config.LoadTestCases(c.String(TestsFlag.Name))
	if err != nil {
		return NewRuntimeError(err)
	}

	logger := logging.New(&cfg.Logging)
	defer func() { _ = logger.Sync() }()
	logger.Info("loaded configuration",
		zap.String("name", cfg.Name),
		zap.Int("nodes", len(cfg.Nodes)),
		zap.Int("tests", len(tests)))

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	m := metrics.New()
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.ListenAddr, logger); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	coord := coordinator.NewCoordinator(cfg, a.dial, logger.Named("coordinator"), m)
	if c.Bool(HostInfoFlag.Name) {
		coord.SetEnvironmentCollection(true)
	}
	a.setupSignalHandling(ctx, cancel, coord, logger)

	summary, err := coord.Run(ctx, tests)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("test execution failed: %w", err))
	}

	path := filepath.Join(cfg.Paths.LocalResults, resultsFile)
	if err := output.WriteResultsFile(path, summary.Results); err != nil {
		return NewRuntimeError(err)
	}
	logger.Info("results written", zap.String("path", path))

	formatter := output.NewFormatter(c.App.Writer, c.Bool(JSONFlag.Name))
	if err := formatter.OutputResults(summary); err != nil {
		return NewRuntimeError(fmt.Errorf("failed to output results: %w", err))
	}

	if !summary.Success() {
		return &TestFailureError{Failed: summary.Failed(), Unresolved: len(summary.Unresolved)}
	}
	return nil
}

// applyOverrides copies every explicitly set flag onto cfg
func applyOverrides(c *cli.Context, cfg *config.Config) {
	if c.Bool(UseLocalhostFlag.Name) {
		cfg.UseLocalhost()
	}
	if c.IsSet(TimeoutFlag.Name) {
		cfg.Timeouts.Test = c.Duration(TimeoutFlag.Name)
	}
	if c.IsSet(FailureRetryFlag.Name) {
		cfg.Retries.FailingTests = c.Int(FailureRetryFlag.Name)
	}
	if c.IsSet(StabilityFlag.Name) {
		cfg.Retries.Stability = c.Int(StabilityFlag.Name)
	}
	if c.Bool(VerboseFlag.Name) {
		cfg.Logging.Level = "debug"
	}
	if c.IsSet(MetricsAddrFlag.Name) {
		cfg.Metrics.ListenAddr = c.String(MetricsAddrFlag.Name)
	}
	if c.IsSet(PluginDataFlag.Name) {
		cfg.Plugins.Data = c.String(PluginDataFlag.Name)
	}
}

// setupSignalHandling aborts remote work on SIGINT/SIGTERM. The handler
// stops once ctx is done.
func (a *App) setupSignalHandling(ctx context.Context, cancel context.CancelFunc, coord *coordinator.Coordinator, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Warn("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
			coord.Terminate()
		case <-ctx.Done():
		}
	}()
}
