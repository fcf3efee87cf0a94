// Package hostinfo probes node hardware and software facts needed to size and
// lay out agents.
package hostinfo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"simfleet/executor"
)

// Module is a pluggable host fact collector
type Module interface {
	// Name returns the unique name of this module
	Name() string

	// Collect gathers the facts from the node behind e
	Collect(ctx context.Context, e executor.Executor) (interface{}, error)
}

// Registry manages the modules run against a node
type Registry struct {
	modules map[string]Module
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		modules: make(map[string]Module),
		logger:  logger.Named("hostinfo"),
	}
}

// DefaultRegistry returns a registry with every module. Storage is reported
// for the volume holding workspace.
func DefaultRegistry(logger *zap.Logger, workspace string) *Registry {
	r := NewRegistry(logger)
	modules := []Module{
		NewCPUModule(),
		NewMemoryModule(),
		NewStorageModule(workspace),
		NewDisplayModule(),
		NewToolchainModule(),
	}
	for _, m := range modules {
		_ = r.Register(m)
	}
	return r
}

// Register adds a module to the registry
func (r *Registry) Register(module Module) error {
	name := module.Name()
	if name == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %s already registered", name)
	}
	r.modules[name] = module
	return nil
}

// Names returns registered module names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info is what a collection pass learned about one node
type Info struct {
	Address        string                 `json:"address"`
	CollectionTime time.Time              `json:"collection_time"`
	Modules        map[string]interface{} `json:"modules"`
}

// Collect runs every module against e. A failing module is logged and
// skipped.
func (r *Registry) Collect(ctx context.Context, e executor.Executor) *Info {
	info := &Info{
		Address:        e.Address(),
		CollectionTime: time.Now(),
		Modules:        make(map[string]interface{}),
	}
	logger := r.logger.With(zap.String("node", e.Address()))
	for _, name := range r.Names() {
		data, err := r.modules[name].Collect(ctx, e)
		if err != nil {
			logger.Warn("module failed to collect data", zap.String("module", name), zap.Error(err))
			continue
		}
		info.Modules[name] = data
	}
	logger.Debug("collected host info", zap.Int("modules", len(info.Modules)))
	return info
}
