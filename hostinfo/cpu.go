package hostinfo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"simfleet/executor"
)

// CPUInfo represents CPU information
type CPUInfo struct {
	Model         string `json:"model,omitempty"`
	PhysicalCores int    `json:"physical_cores"`
	LogicalCores  int    `json:"logical_cores,omitempty"`
}

// CPUModule collects CPU information
type CPUModule struct{}

// NewCPUModule creates a new CPU information module
func NewCPUModule() *CPUModule {
	return &CPUModule{}
}

func (m *CPUModule) Name() string {
	return "cpu"
}

// Collect gathers CPU information
func (m *CPUModule) Collect(ctx context.Context, e executor.Executor) (interface{}, error) {
	cores, err := PhysicalCPUs(ctx, e)
	if err != nil {
		return nil, err
	}
	info := &CPUInfo{PhysicalCores: cores}

	if model, err := e.Execute(ctx, "sysctl -n machdep.cpu.brand_string"); err == nil {
		info.Model = strings.TrimSpace(model)
	}
	if logical, err := e.Execute(ctx, "sysctl -n hw.logicalcpu"); err == nil {
		if n, parseErr := strconv.Atoi(strings.TrimSpace(logical)); parseErr == nil {
			info.LogicalCores = n
		}
	}
	return info, nil
}

// PhysicalCPUs returns the node's physical core count, which is the default
// number of agents it hosts.
func PhysicalCPUs(ctx context.Context, e executor.Executor) (int, error) {
	out, err := e.Execute(ctx, "sysctl -n hw.physicalcpu")
	if err != nil {
		return 0, fmt.Errorf("failed getting physical cpu count: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("failed getting physical cpu count: unexpected output %q", out)
	}
	return n, nil
}
