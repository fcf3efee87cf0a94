package runner

import (
	"fmt"
	"path"

	"simfleet/executor"
	"simfleet/model"
)

// SDK selects the platform tests run on.
type SDK string

const (
	SDKiOS   SDK = "ios"
	SDKmacOS SDK = "macos"
)

const destinationTimeout = 60

// CommandBuilder constructs command lines issued on the nodes.
type CommandBuilder struct {
	Scheme string
	SDK    SDK
	Paths  Paths
}

// NewCommandBuilder creates a command builder.
func NewCommandBuilder(scheme string, sdk SDK, paths Paths) *CommandBuilder {
	if sdk == "" {
		sdk = SDKiOS
	}
	return &CommandBuilder{Scheme: scheme, SDK: sdk, Paths: paths}
}

// FindTestRun lists the run descriptors in the test bundle folder.
func (b *CommandBuilder) FindTestRun() string {
	return fmt.Sprintf("find %s -type f -name '%s*.xctestrun'", executor.Quote(b.Paths.TestBundle), b.Scheme)
}

// BuildTestCommand restricts the test driver to exactly tests on agent.
func (b *CommandBuilder) BuildTestCommand(testRun string, agent model.Agent, tests []model.TestCase) string {
	cmd := "xcodebuild -parallel-testing-enabled NO -disable-concurrent-destination-testing"
	cmd += fmt.Sprintf(" -xctestrun %s", executor.Quote(testRun))

	switch b.SDK {
	case SDKmacOS:
		cmd += " -destination 'platform=OS X,arch=x86_64'"
	default:
		cmd += fmt.Sprintf(" -destination 'platform=iOS Simulator,id=%s'", agent.ID)
	}

	cmd += fmt.Sprintf(" -derivedDataPath %s", executor.Quote(b.logsDir(agent)))
	for _, tc := range tests {
		cmd += fmt.Sprintf(" -only-testing:%s/%s", b.Scheme, tc.Identifier())
	}
	cmd += " -enableCodeCoverage YES"

	if b.SDK != SDKmacOS {
		cmd += fmt.Sprintf(" -destination-timeout %d", destinationTimeout)
	}
	cmd += " test-without-building || true"
	return cmd
}

// FindResultBundle lists result bundles produced for agent.
func (b *CommandBuilder) FindResultBundle(agent model.Agent) string {
	return fmt.Sprintf("find %s -type d -name '*.xcresult'", executor.Quote(b.logsDir(agent)))
}

// MoveResultBundle relocates a result bundle into the agent's results folder.
func (b *CommandBuilder) MoveResultBundle(bundle string, agent model.Agent) string {
	return fmt.Sprintf("mkdir -p %s && mv %s %s",
		executor.Quote(b.resultsDir(agent)), executor.Quote(bundle), executor.Quote(b.resultsDir(agent)))
}

// RelocatedPath is where MoveResultBundle puts bundle.
func (b *CommandBuilder) RelocatedPath(bundle string, agent model.Agent) string {
	return path.Join(b.resultsDir(agent), path.Base(bundle))
}

// RemoveBuild wipes the build folder.
func (b *CommandBuilder) RemoveBuild() string {
	return fmt.Sprintf("rm -rf %s || true", executor.Quote(b.Paths.Build))
}

// CopyCrashReports copies the crash reports of processes named prefix.
func (b *CommandBuilder) CopyCrashReports(prefix string, agent model.Agent) string {
	dest := path.Join(b.logsDir(agent), "DiagnosticReports")
	return fmt.Sprintf("mkdir -p %s && cp -R %s* %s || true",
		executor.Quote(dest), executor.Quote("~/Library/Logs/DiagnosticReports/"+prefix), executor.Quote(dest))
}

// CopyMatching copies files named pattern under root into the agent's
// category folder.
func (b *CommandBuilder) CopyMatching(root, pattern, category string, agent model.Agent) string {
	dest := path.Join(b.logsDir(agent), category)
	return fmt.Sprintf("mkdir -p %s && find %s -type f -name '%s' -exec cp {} %s \\; || true",
		executor.Quote(dest), executor.Quote(root), pattern, executor.Quote(dest))
}

// FindDiagnostics lists diagnostic folders in the agent's results folder.
func (b *CommandBuilder) FindDiagnostics(agent model.Agent) string {
	return fmt.Sprintf("find %s -type d -name 'Diagnostics'", executor.Quote(b.resultsDir(agent)))
}

// Remove deletes paths recursively.
func (b *CommandBuilder) Remove(paths []string) string {
	cmd := "rm -rf"
	for _, p := range paths {
		cmd += " " + executor.Quote(p)
	}
	return cmd
}

func (b *CommandBuilder) logsDir(agent model.Agent) string {
	return path.Join(b.Paths.Logs, agent.ID)
}

func (b *CommandBuilder) resultsDir(agent model.Agent) string {
	return path.Join(b.Paths.Results, agent.ID)
}
