// Package runner drives the test driver on every agent, watches its output
// for lifecycle events and reconciles what it printed against the tests each
// agent was assigned.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"simfleet/events"
	"simfleet/executor"
	"simfleet/logging"
	"simfleet/model"
	"simfleet/pool"
	"simfleet/simulator"
	"simfleet/watchdog"
)

const (
	defaultTestTimeout       = 120 * time.Second
	defaultBootstrapCooldown = 5 * time.Second
)

// Paths are the folders used on every node.
type Paths struct {
	Build      string
	TestBundle string
	Logs       string
	Results    string
}

// Config controls test execution.
type Config struct {
	Scheme      string
	BuildTarget string
	TestTarget  string
	SDK         SDK
	Paths       Paths

	// TestTimeout is how long an agent may go without printing anything
	// before it is power cycled.
	TestTimeout       time.Duration
	BootstrapCooldown time.Duration
	Clock             watchdog.Clock

	MaxConcurrentDials int

	// Events receives test case events, events.Nop when nil.
	Events events.Notifier
}

// Recorder observes execution outcomes.
type Recorder interface {
	RecordTestResult(status model.Status, duration float64)
	RecordWatchdogFired(node string)
	RecordBootstrapRetry(node string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTestResult(model.Status, float64) {}
func (nopRecorder) RecordWatchdogFired(string)             {}
func (nopRecorder) RecordBootstrapRetry(string)            {}

// Runner executes assignments over a connection pool.
type Runner struct {
	config   Config
	dial     pool.DialFunc
	logger   *zap.Logger
	recorder Recorder
	builder  *CommandBuilder

	mu   sync.Mutex
	pool interface{ Terminate() }
}

// New creates a runner.
func New(cfg Config, dial pool.DialFunc, logger *zap.Logger, recorder Recorder) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = defaultTestTimeout
	}
	if cfg.BootstrapCooldown <= 0 {
		cfg.BootstrapCooldown = defaultBootstrapCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = watchdog.SystemClock()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	return &Runner{
		config:   cfg,
		dial:     dial,
		logger:   logger.Named("runner"),
		recorder: recorder,
		builder:  NewCommandBuilder(cfg.Scheme, cfg.SDK, cfg.Paths),
	}
}

// Terminate closes every connection of the run in progress.
func (r *Runner) Terminate() {
	r.mu.Lock()
	current := r.pool
	r.mu.Unlock()
	if current != nil {
		current.Terminate()
	}
}

type agentWork struct {
	Index int
	Agent model.Agent
	Tests []model.TestCase
}

// Run executes assignment[i] on placements[i], one connection per agent with
// work, and adds every reconciled result to acc.
func (r *Runner) Run(ctx context.Context, assignment [][]model.TestCase, placements []model.Placement, acc *Accumulator) error {
	if len(assignment) != len(placements) {
		return fmt.Errorf("assignment has %d sublists for %d agents", len(assignment), len(placements))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var sources []pool.Source[agentWork]
	total := 0
	for i, tests := range assignment {
		if len(tests) == 0 {
			continue
		}
		total += len(tests)
		p := placements[i]
		sources = append(sources, pool.Source[agentWork]{
			Node:    p.Node,
			Payload: agentWork{Index: i, Agent: p.Agent, Tests: tests},
			Log:     logging.NewCommandLog("test-run-"+p.Agent.ID, p.Node.Address),
		})
	}
	acc.resetProgress()

	pl := pool.New(sources, r.dial,
		pool.WithLogger(r.logger),
		pool.WithMaxConcurrentDials(r.config.MaxConcurrentDials))
	r.mu.Lock()
	r.pool = pl
	r.mu.Unlock()

	relocator := NewRelocator(r.builder)
	return pl.Execute(ctx, func(ctx context.Context, e executor.Executor, source pool.Source[agentWork]) error {
		a := &agentRun{
			runner:    r,
			ctx:       ctx,
			e:         e,
			node:      source.Node,
			work:      source.Payload,
			acc:       acc,
			total:     total,
			relocator: relocator,
			parser:    NewLineParser(r.config.TestTarget),
			slot:      watchdog.NewSlot(r.config.Clock),
			logger: r.logger.With(
				zap.String("node", source.Node.Address),
				zap.String("simulator", source.Payload.Agent.ID),
				zap.Int("index", source.Payload.Index)),
		}
		return a.execute(ctx)
	})
}

type runningTest struct {
	test  model.TestCase
	start time.Time
}

// agentRun is the execution of one sublist on one agent.
type agentRun struct {
	runner    *Runner
	ctx       context.Context
	e         executor.Executor
	node      model.Node
	work      agentWork
	acc       *Accumulator
	total     int
	relocator *Relocator
	parser    *LineParser
	slot      *watchdog.Slot
	logger    *zap.Logger

	mu              sync.Mutex
	running         *runningTest
	bootstrapFailed bool
	damaged         bool
	denied          bool
	cancelStream    context.CancelFunc
	// watching is true while the watchdog may power cycle the agent
	watching bool

	// parseMu serializes output handling; streaming is false once the
	// stream has returned and late chunks are dropped.
	parseMu   sync.Mutex
	streaming bool

	// held while a power cycle is in flight
	firing sync.Mutex
}

func (a *agentRun) execute(ctx context.Context) error {
	cfg := a.runner.config
	b := a.runner.builder
	agent := a.work.Agent
	log := a.e.Log()

	testRun, err := findOne(ctx, a.e, b.FindTestRun(), "xctestrun bundle", cfg.Paths.TestBundle)
	if err != nil {
		return logging.NewOperationError(fmt.Sprintf("failed locating test bundle on %s", a.node.Address), log, err)
	}

	cmd := b.BuildTestCommand(testRun, agent, a.work.Tests)
	a.logger.Info("running tests", zap.Int("tests", len(a.work.Tests)))

	var output string
	for attempt := 0; ; attempt++ {
		output, err = a.stream(ctx, cmd)
		if a.permissionDenied() {
			return logging.NewOperationError(fmt.Sprintf("failed running tests on %s", a.node.Address), log, ErrPermissionDenied)
		}
		if err != nil {
			return err
		}
		if !a.bootstrapDidFail() {
			break
		}
		if attempt > 0 {
			return logging.NewOperationError("failed running tests", log, &BootstrapError{Node: a.node.Address, Agent: agent.String()})
		}

		a.logger.Warn("test runner failed to bootstrap, retrying", zap.Duration("cooldown", cfg.BootstrapCooldown))
		a.runner.recorder.RecordBootstrapRetry(a.node.Address)
		if err := sleep(ctx, cfg.BootstrapCooldown); err != nil {
			return err
		}
	}

	if a.buildDamaged() {
		if a.node.IsPrimary() {
			a.logger.Error("build is damaged, removing build folder", zap.String("path", cfg.Paths.Build))
			if _, err := a.e.Capture(ctx, b.RemoveBuild()); err != nil {
				a.logger.Warn("failed removing build folder", zap.Error(err))
			}
			return logging.NewOperationError(fmt.Sprintf("failed running tests on %s", a.node.Address), log, ErrDamagedBuild)
		}
		a.logger.Warn("build reported damaged on secondary node, continuing")
	}

	bundle, err := findOne(ctx, a.e, b.FindResultBundle(agent), "result bundle", b.logsDir(agent))
	if err != nil {
		return logging.NewOperationError(fmt.Sprintf("failed locating results on %s", a.node.Address), log, err)
	}
	relocated, err := a.relocator.Relocate(ctx, a.e, bundle, agent)
	if err != nil {
		return logging.NewOperationError(fmt.Sprintf("failed relocating results on %s", a.node.Address), log, err)
	}

	results, unresolved := Reconcile(strings.Split(output, "\n"), a.work.Tests, ReconcileOptions{
		TestTarget:   cfg.TestTarget,
		Node:         a.node.Address,
		ResultBundle: relocated,
	})
	a.acc.Add(results...)
	for _, result := range results {
		a.runner.recorder.RecordTestResult(result.Status, result.Duration)
	}
	for _, tc := range unresolved {
		a.logger.Warn("no result found for test", zap.String("test", tc.Identifier()))
	}

	copyDiagnostics(ctx, a.e, b, cfg, agent, a.logger)
	if err := reclaim(ctx, a.e, b, agent); err != nil {
		a.logger.Warn("failed removing diagnostics from result bundle", zap.Error(err))
	}
	return nil
}

// stream runs cmd once with the watchdog armed and returns its output.
func (a *agentRun) stream(ctx context.Context, cmd string) (string, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.running = nil
	a.bootstrapFailed = false
	a.damaged = false
	a.cancelStream = cancel
	a.watching = true
	a.mu.Unlock()

	a.parseMu.Lock()
	a.parser.Reset()
	a.streaming = true
	a.parseMu.Unlock()

	a.slot.Rearm(a.runner.config.TestTimeout, a.fire)
	output, err := a.e.Stream(streamCtx, cmd, a.onProgress)

	a.parseMu.Lock()
	a.streaming = false
	for _, ev := range a.parser.Flush() {
		a.handle(ev)
	}
	a.parseMu.Unlock()
	a.slot.Cancel()

	// a power cycle already under way completes first, a later one is a no-op
	a.firing.Lock()
	a.mu.Lock()
	a.watching = false
	a.mu.Unlock()
	a.firing.Unlock()

	if a.permissionDenied() {
		return output, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", logging.NewOperationError(fmt.Sprintf("failed running tests on %s", a.node.Address), a.e.Log(), err)
	}
	return output, nil
}

// onProgress feeds a chunk of output to the parser. Any output counts as
// progress and restarts the watchdog.
func (a *agentRun) onProgress(chunk string) {
	a.parseMu.Lock()
	defer a.parseMu.Unlock()
	if !a.streaming {
		return
	}
	a.slot.Rearm(a.runner.config.TestTimeout, a.fire)
	for _, ev := range a.parser.Feed(chunk) {
		a.handle(ev)
	}
}

func (a *agentRun) handle(ev Event) {
	switch ev.Kind {
	case TestStarted:
		a.mu.Lock()
		a.running = &runningTest{test: ev.TestCase(), start: a.runner.config.Clock.Now()}
		a.mu.Unlock()
		a.logger.Debug("test started", zap.String("test", ev.TestCase().Identifier()))
		a.notify(events.TestCaseStarted, ev.TestCase(), nil)

	case TestFinished:
		completed := a.complete(ev.TestCase())
		a.logger.Info(fmt.Sprintf("%s %s [%d/%d] in %.3fs", ev.TestCase().Identifier(), ev.Status, completed, a.total, ev.Duration))
		kind := events.TestFailed
		if ev.Status == model.StatusPassed {
			kind = events.TestPassed
		}
		a.notify(kind, ev.TestCase(), map[string]string{"duration": fmt.Sprintf("%.3f", ev.Duration)})

	case TestCrashed:
		completed := a.complete(ev.TestCase())
		a.logger.Warn(fmt.Sprintf("%s crashed [%d/%d]", ev.TestCase().Identifier(), completed, a.total))
		a.notify(events.TestCrashed, ev.TestCase(), nil)

	case CrashReport:
		a.logger.Info("checking for crash reports", zap.String("line", ev.Line))

	case BootstrapFailed:
		a.mu.Lock()
		a.bootstrapFailed = true
		a.mu.Unlock()

	case BuildDamaged:
		a.mu.Lock()
		a.damaged = true
		a.mu.Unlock()

	case PermissionDenied:
		a.mu.Lock()
		a.denied = true
		cancel := a.cancelStream
		a.mu.Unlock()
		a.logger.Error("test runner has no accessibility permission")
		if cancel != nil {
			cancel()
		}
	}
}

// fire power cycles a stalled agent. The test driver carries on with the
// next test once the agent is back.
func (a *agentRun) fire() {
	a.firing.Lock()
	defer a.firing.Unlock()

	a.mu.Lock()
	if !a.watching {
		a.mu.Unlock()
		return
	}
	running := a.running
	a.mu.Unlock()

	if running != nil {
		elapsed := a.runner.config.Clock.Now().Sub(running.start)
		a.logger.Warn(fmt.Sprintf("%s timed out after %.0fs", running.test.Identifier(), elapsed.Seconds()))
	} else {
		a.logger.Warn("unknown test timed out")
	}
	a.runner.recorder.RecordWatchdogFired(a.node.Address)

	clone, err := a.e.Clone(a.ctx)
	if err != nil {
		a.logger.Error("failed connecting to power cycle simulator", zap.Error(err))
		return
	}
	defer clone.Terminate()

	if err := simulator.NewProxy(clone, a.logger).PowerCycle(a.ctx, a.work.Agent); err != nil {
		a.logger.Error("failed power cycling simulator", zap.Error(err))
	}
}

// complete clears the running test and returns the progress count.
func (a *agentRun) complete(tc model.TestCase) int {
	a.mu.Lock()
	a.running = nil
	a.mu.Unlock()
	return a.acc.markCompleted(tc)
}

// notify sends a test case event carrying the assigned case, so plugins see
// its tags and identifiers.
func (a *agentRun) notify(kind events.Kind, tc model.TestCase, info map[string]string) {
	for _, candidate := range a.work.Tests {
		if candidate.Suite == tc.Suite && candidate.Name == tc.Name {
			tc = candidate
			break
		}
	}
	if info == nil {
		info = make(map[string]string, 2)
	}
	info["node"] = a.node.Address
	info["simulator"] = a.work.Agent.ID
	a.runner.config.Events.Notify(events.Event{Kind: kind, Info: info, TestCase: &tc})
}

func (a *agentRun) permissionDenied() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.denied
}

func (a *agentRun) bootstrapDidFail() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bootstrapFailed
}

func (a *agentRun) buildDamaged() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.damaged
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
