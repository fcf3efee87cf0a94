// Package provisioning prepares every node's agents before a run: runtime
// image, agent count, window arrangement and stray agent shutdown.
package provisioning

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"simfleet/executor"
	"simfleet/hostinfo"
	"simfleet/logging"
	"simfleet/model"
	"simfleet/pool"
	"simfleet/simulator"
)

const defaultWindowLocationsCommand = "simfleet-window-locations"

// Config controls provisioning.
type Config struct {
	Device                 model.Device
	Credentials            simulator.Credentials
	BuildBundleIdentifier  string
	TestBundleIdentifier   string
	Headless               bool
	WindowLocationsCommand string
	MaxConcurrentDials     int
}

// Recorder observes provisioning outcomes.
type Recorder interface {
	RecordAgents(node string, count int)
}

// Provisioner runs provisioning across nodes through a connection pool.
type Provisioner struct {
	config   Config
	dial     pool.DialFunc
	logger   *zap.Logger
	recorder Recorder

	mu   sync.Mutex
	pool interface{ Terminate() }
}

// New creates a provisioner.
func New(cfg Config, dial pool.DialFunc, logger *zap.Logger, recorder Recorder) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowLocationsCommand == "" {
		cfg.WindowLocationsCommand = defaultWindowLocationsCommand
	}
	return &Provisioner{
		config:   cfg,
		dial:     dial,
		logger:   logger.Named("provisioning"),
		recorder: recorder,
	}
}

// Terminate closes every connection of the provisioning step in progress.
func (p *Provisioner) Terminate() {
	p.mu.Lock()
	current := p.pool
	p.mu.Unlock()
	if current != nil {
		current.Terminate()
	}
}

func (p *Provisioner) newPool(operation string, nodes []model.Node) *pool.Pool[struct{}] {
	pl := pool.New(pool.NodeSources(operation, nodes), p.dial,
		pool.WithLogger(p.logger),
		pool.WithMaxConcurrentDials(p.config.MaxConcurrentDials))
	p.mu.Lock()
	p.pool = pl
	p.mu.Unlock()
	return pl
}

// ValidateDevice checks that every node knows the configured device profile.
func (p *Provisioner) ValidateDevice(ctx context.Context, nodes []model.Node) error {
	device := p.config.Device
	return p.newPool("device-validation", nodes).Execute(ctx, func(ctx context.Context, e executor.Executor, _ pool.Source[struct{}]) error {
		proxy := simulator.NewProxy(e, p.logger)
		found, err := proxy.FindSimulators(ctx, device)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return nil
		}

		installed, err := proxy.InstalledSimulators(ctx)
		if err != nil {
			return err
		}
		available := make([]string, 0, len(installed))
		for _, agent := range installed {
			available = append(available, fmt.Sprintf("%s ::: %s", agent.Name, agent.Device.OSVersion))
		}
		return logging.Errorf(e.Log(), "failed to find %s ::: %s on %s\n\nThese are the available simulators with runtime version\n%s",
			device.Name, device.Runtime(), e.Address(), strings.Join(available, "\n"))
	})
}

// Run provisions every node and returns the agents ready for execution.
// Placements are grouped by node in node order.
func (p *Provisioner) Run(ctx context.Context, nodes []model.Node) ([]model.Placement, error) {
	perNode := make([][]model.Placement, len(nodes))
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.Address] = i
	}

	var mu sync.Mutex
	err := p.newPool("simulator-setup", nodes).Execute(ctx, func(ctx context.Context, e executor.Executor, source pool.Source[struct{}]) error {
		agents, err := p.setupNode(ctx, e, source.Node)
		if err != nil {
			return err
		}
		placements := make([]model.Placement, len(agents))
		for i, agent := range agents {
			placements[i] = model.Placement{Agent: agent, Node: source.Node}
		}

		mu.Lock()
		perNode[index[source.Node.Address]] = placements
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	var placements []model.Placement
	for _, group := range perNode {
		placements = append(placements, group...)
	}
	return placements, nil
}

func (p *Provisioner) setupNode(ctx context.Context, e executor.Executor, node model.Node) ([]model.Agent, error) {
	logger := p.logger.With(zap.String("node", node.Address))
	proxy := simulator.NewProxy(e, p.logger)
	device := p.config.Device

	if err := proxy.InstallRuntimeIfNeeded(ctx, device, p.config.Credentials, node.AdministratorPassword); err != nil {
		return nil, err
	}

	capacity, err := p.capacity(ctx, e, node)
	if err != nil {
		return nil, err
	}

	agents := make([]model.Agent, 0, capacity)
	for i := 1; i <= capacity; i++ {
		agent, err := proxy.MakeSimulatorIfNeeded(ctx, fmt.Sprintf("%s-%d", device.Name, i), device)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	logger.Info("agents ready", zap.Int("count", len(agents)))
	if p.recorder != nil {
		p.recorder.RecordAgents(node.Address, len(agents))
	}

	if !p.config.Headless {
		if err := p.arrange(ctx, e, proxy, agents); err != nil {
			return nil, err
		}
	}

	booted, err := proxy.BootedSimulators(ctx)
	if err != nil {
		return nil, err
	}
	for _, agent := range booted {
		if err := proxy.TerminateApp(ctx, p.config.BuildBundleIdentifier, agent); err != nil {
			return nil, err
		}
		if err := proxy.TerminateApp(ctx, p.config.TestBundleIdentifier, agent); err != nil {
			return nil, err
		}
	}
	for _, agent := range booted {
		if containsAgent(agents, agent) {
			continue
		}
		logger.Debug("shutting down unused agent", zap.String("agent", agent.String()))
		if err := proxy.Shutdown(ctx, agent); err != nil {
			return nil, err
		}
	}
	return agents, nil
}

func (p *Provisioner) capacity(ctx context.Context, e executor.Executor, node model.Node) (int, error) {
	if !node.ConcurrentTestRunners.Auto() {
		return int(node.ConcurrentTestRunners.Manual), nil
	}
	n, err := hostinfo.PhysicalCPUs(ctx, e)
	if err != nil {
		return 0, logging.NewOperationError("failed getting concurrent simulators", e.Log(), err)
	}
	return n, nil
}

// arrange lays agent windows out on a grid unless they already are.
func (p *Provisioner) arrange(ctx context.Context, e executor.Executor, proxy *simulator.Proxy, agents []model.Agent) error {
	locations, err := proxy.WindowLocations(ctx, p.config.WindowLocationsCommand)
	if err == nil && simulator.WindowsReady(locations, len(agents)) {
		return nil
	}
	if err != nil {
		p.logger.Debug("window locations unavailable, rearranging", zap.String("node", e.Address()), zap.Error(err))
	}

	if err := proxy.Reset(ctx); err != nil {
		return err
	}
	settings, err := proxy.FetchSettings(ctx)
	if err != nil {
		return err
	}
	screen, _ := settings.ScreenIdentifier()
	settings.PrepareForArrangement()

	resolution, err := hostinfo.DisplayResolution(ctx, e)
	if err != nil {
		return logging.NewOperationError("failed arranging simulators", e.Log(), err)
	}
	placements := simulator.GridLayout(resolution, p.config.Device, len(agents))
	for i, agent := range agents {
		settings.SetWindowGeometry(agent.ID, screen, placements[i])
		e.Log().LogCommand(fmt.Sprintf("Arranging simulator %s on %s at location (%s)", agent.ID, e.Address(), placements[i].Center()))
		e.Log().LogOutput("", 0)
	}
	if err := proxy.StoreSettings(ctx, settings); err != nil {
		return err
	}

	locations, err = proxy.WindowLocations(ctx, p.config.WindowLocationsCommand)
	if err != nil || !simulator.WindowsReady(locations, len(agents)) {
		// windows only move once the agents boot, the run still proceeds
		p.logger.Warn("agent windows not arranged after rewriting settings", zap.String("node", e.Address()))
	}
	return nil
}

func containsAgent(agents []model.Agent, agent model.Agent) bool {
	for _, a := range agents {
		if a.ID == agent.ID {
			return true
		}
	}
	return false
}
