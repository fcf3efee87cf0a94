package hostinfo

import (
	"context"
	"strings"

	"simfleet/executor"
)

// ToolchainInfo describes the OS and developer tools on a node
type ToolchainInfo struct {
	Hostname     string `json:"hostname,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	XcodeVersion string `json:"xcode_version,omitempty"`
	XcodePath    string `json:"xcode_path,omitempty"`
}

// ToolchainModule collects OS and Xcode versions
type ToolchainModule struct{}

// NewToolchainModule creates a new toolchain information module
func NewToolchainModule() *ToolchainModule {
	return &ToolchainModule{}
}

func (m *ToolchainModule) Name() string {
	return "toolchain"
}

func (m *ToolchainModule) Collect(ctx context.Context, e executor.Executor) (interface{}, error) {
	info := &ToolchainInfo{}

	if hostname, err := e.Execute(ctx, "hostname"); err == nil {
		info.Hostname = hostname
	}
	if version, err := e.Execute(ctx, "sw_vers -productVersion"); err == nil {
		info.OSVersion = version
	}
	if path, err := e.Execute(ctx, "xcode-select -p"); err == nil {
		info.XcodePath = path
	}
	if version, err := e.Execute(ctx, "xcodebuild -version"); err == nil {
		// first line reads "Xcode 11.3"
		if lines := executor.Lines(version); len(lines) > 0 {
			info.XcodeVersion = strings.TrimPrefix(lines[0], "Xcode ")
		}
	}
	return info, nil
}
