// Package simulator wraps the simctl command line tools used to manage agents
// on a node.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"simfleet/executor"
	"simfleet/logging"
	"simfleet/model"
)

var (
	instrumentsRegex = regexp.MustCompile(`^(.*)\s\((\d+\.\d+(?:\.\d+)?)\)\s\[(.*)\]\s\(Simulator\)$`)
	deviceListRegex  = regexp.MustCompile(`^\s*(.+) \(([0-9A-Fa-f-]+)\) \(([^()]+)\)\s*$`)
)

// Credentials authenticate runtime downloads.
type Credentials struct {
	Username string
	Password string
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// WindowLocation is the on-screen frame of one agent window.
type WindowLocation struct {
	X      int `json:"X"`
	Y      int `json:"Y"`
	Width  int `json:"Width"`
	Height int `json:"Height"`
}

// Proxy issues simulator commands through one executor.
type Proxy struct {
	e      executor.Executor
	logger *zap.Logger
}

// NewProxy creates a proxy over e.
func NewProxy(e executor.Executor, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{e: e, logger: logger.With(zap.String("node", e.Address()))}
}

// IsRuntimeInstalled reports whether the device's OS runtime is available.
func (p *Proxy) IsRuntimeInstalled(ctx context.Context, device model.Device) (bool, error) {
	out, err := p.e.Execute(ctx, "xcrun simctl list runtimes")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, device.RuntimeIdentifier()), nil
}

// InstallRuntimeIfNeeded installs the device's OS runtime unless present.
// Installing requires the node's administrator password and account
// credentials; both are redacted from the command log.
func (p *Proxy) InstallRuntimeIfNeeded(ctx context.Context, device model.Device, creds Credentials, administratorPassword string) error {
	installed, err := p.IsRuntimeInstalled(ctx, device)
	if err != nil {
		return err
	}
	if installed {
		return nil
	}

	log := p.e.Log()
	if !creds.Valid() || administratorPassword == "" {
		return logging.Errorf(log, "could not install simulator runtime on node `%s` because administrator credentials were not provided. Please install the `%s` runtime manually", p.e.Address(), device.Runtime())
	}

	log.AddBlackList(administratorPassword)
	log.AddBlackList(creds.Username)
	log.AddBlackList(creds.Password)

	p.logger.Info("installing runtime", zap.String("runtime", device.Runtime()))

	version := device.Runtime()
	cmds := []string{
		fmt.Sprintf("security unlock-keychain -p %s ~/Library/Keychains/login.keychain-db", executor.Quote(administratorPassword)),
		fmt.Sprintf("export FASTLANE_USER=%s", executor.Quote(creds.Username)),
		fmt.Sprintf("export FASTLANE_PASSWORD=%s", executor.Quote(creds.Password)),
		fmt.Sprintf("rm -f ~/Library/Caches/XcodeInstall/com.apple.pkg.iPhoneSimulatorSDK%s*.dmg", strings.ReplaceAll(version, ".", "_")),
		"xcversion update",
		fmt.Sprintf("echo %s | sudo -S xcversion simulators --install='iOS %s'", executor.Quote(administratorPassword), version),
		"killall -9 com.apple.CoreSimulator.CoreSimulatorService",
	}
	result, err := p.e.Capture(ctx, strings.Join(cmds, "; "))
	if err != nil {
		return err
	}
	if result.Status != 0 {
		_, _ = p.e.Capture(ctx, "rm -rf ~/Library/Caches/XcodeInstall/*.dmg")
		return logging.Errorf(log, "failed installing runtime %s on node `%s`", version, p.e.Address())
	}
	if strings.Contains(result.Output, "specified Apple developer account credentials are incorrect") {
		return logging.Errorf(log, "the provided Apple developer account credentials are incorrect. Please update the variables referenced by `account.username_env` and `account.password_env`")
	}
	if installed, err := p.IsRuntimeInstalled(ctx, device); err != nil {
		return err
	} else if !installed {
		return logging.Errorf(log, "failed installing runtime, after install simulator runtime %s still not installed", version)
	}
	return nil
}

// InstalledSimulators lists every simulator known to the node.
func (p *Proxy) InstalledSimulators(ctx context.Context) ([]model.Agent, error) {
	out, err := p.e.Execute(ctx, `xcrun xctrace list devices 2>/dev/null || "$(xcode-select -p)/usr/bin/instruments" -s devices`)
	if err != nil {
		return nil, err
	}
	return parseInstalled(out), nil
}

func parseInstalled(out string) []model.Agent {
	var agents []model.Agent
	for _, line := range strings.Split(out, "\n") {
		m := instrumentsRegex.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		agents = append(agents, model.Agent{
			ID:     m[3],
			Name:   m[1],
			Device: model.Device{Name: m[1], OSVersion: m[2]},
		})
	}
	return agents
}

// FindSimulators returns installed simulators whose name starts with the
// device name and whose OS version matches.
func (p *Proxy) FindSimulators(ctx context.Context, device model.Device) ([]model.Agent, error) {
	installed, err := p.InstalledSimulators(ctx)
	if err != nil {
		return nil, err
	}
	var found []model.Agent
	for _, agent := range installed {
		if strings.HasPrefix(agent.Name, device.Name) && agent.Device.OSVersion == device.OSVersion {
			found = append(found, agent)
		}
	}
	return found, nil
}

// MakeSimulatorIfNeeded returns the simulator called name running the
// device's runtime, creating it when missing.
func (p *Proxy) MakeSimulatorIfNeeded(ctx context.Context, name string, device model.Device) (model.Agent, error) {
	installed, err := p.InstalledSimulators(ctx)
	if err != nil {
		return model.Agent{}, err
	}
	for _, agent := range installed {
		if agent.Name == name && agent.Device.OSVersion == device.Runtime() {
			return model.Agent{ID: agent.ID, Name: name, Device: device}, nil
		}
	}

	p.logger.Debug("simulator not found, creating a new one", zap.String("simulator", name))

	deviceTypes, err := p.e.Execute(ctx, "xcrun simctl list devicetypes")
	if err != nil {
		return model.Agent{}, err
	}
	typeRegex := regexp.MustCompile(`^` + regexp.QuoteMeta(device.Name) + ` \((com\.apple\.CoreSimulator\.SimDeviceType\..*)\)$`)
	for _, line := range strings.Split(deviceTypes, "\n") {
		m := typeRegex.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id, err := p.e.Execute(ctx, fmt.Sprintf("xcrun simctl create %s %s %s", executor.Quote(name), m[1], device.RuntimeIdentifier()))
		if err != nil {
			return model.Agent{}, err
		}
		return model.Agent{ID: id, Name: name, Device: device}, nil
	}
	return model.Agent{}, logging.Errorf(p.e.Log(), "failed making simulator %s: device type `%s` not found", name, device.Name)
}

// BootedSimulators lists installed simulators that are currently booted.
func (p *Proxy) BootedSimulators(ctx context.Context) ([]model.Agent, error) {
	installed, err := p.InstalledSimulators(ctx)
	if err != nil {
		return nil, err
	}
	out, err := p.e.Execute(ctx, "xcrun simctl list devices")
	if err != nil {
		return nil, err
	}

	var booted []model.Agent
	for _, line := range strings.Split(out, "\n") {
		m := deviceListRegex.FindStringSubmatch(line)
		if m == nil || m[3] != "Booted" {
			continue
		}
		for _, agent := range installed {
			if agent.ID == m[2] {
				booted = append(booted, agent)
				break
			}
		}
	}
	return booted, nil
}

// Boot boots the agent and waits for it to finish booting.
func (p *Proxy) Boot(ctx context.Context, agent model.Agent) error {
	_, err := p.e.Execute(ctx, fmt.Sprintf("xcrun simctl bootstatus %s -b", executor.Quote(agent.ID)))
	return err
}

// Shutdown shuts the agent down.
func (p *Proxy) Shutdown(ctx context.Context, agent model.Agent) error {
	_, err := p.e.Execute(ctx, fmt.Sprintf("xcrun simctl shutdown %s", agent.ID))
	return err
}

// PowerCycle force shuts the agent down and boots it again. Shutdown errors
// are ignored since a stuck agent may already be half down.
func (p *Proxy) PowerCycle(ctx context.Context, agent model.Agent) error {
	_, _ = p.e.Capture(ctx, fmt.Sprintf("xcrun simctl shutdown %s", agent.ID))
	return p.Boot(ctx, agent)
}

// TerminateApp stops the app with bundle identifier on agent. A missing app
// is not an error.
func (p *Proxy) TerminateApp(ctx context.Context, bundleIdentifier string, agent model.Agent) error {
	if bundleIdentifier == "" {
		return nil
	}
	_, err := p.e.Capture(ctx, fmt.Sprintf("xcrun simctl terminate %s %s", agent.ID, bundleIdentifier))
	return err
}

// Reset kills the simulator service and app so settings are reloaded.
func (p *Proxy) Reset(ctx context.Context) error {
	for _, cmd := range []string{
		"defaults read com.apple.iphonesimulator",
		"killall -9 com.apple.CoreSimulator.CoreSimulatorService",
		"pkill Simulator",
	} {
		if _, err := p.e.Execute(ctx, cmd+" 2>/dev/null || true"); err != nil {
			return err
		}
	}
	return nil
}

// RewriteSettings resets the simulator app to factory window settings and
// relaunches it so it writes a fresh settings file.
func (p *Proxy) RewriteSettings(ctx context.Context) error {
	if err := p.Reset(ctx); err != nil {
		return err
	}
	for _, cmd := range []string{
		"rm " + executor.Quote(settingsPath),
		"rm -rf " + executor.Quote(savedStatePath),
		"defaults read com.apple.iphonesimulator",
	} {
		if _, err := p.e.Execute(ctx, cmd+" 2>/dev/null || true"); err != nil {
			return err
		}
	}
	return p.WakeUp(ctx)
}

// WakeUp launches the simulator app and waits for booting simulators.
func (p *Proxy) WakeUp(ctx context.Context) error {
	if _, err := p.e.Execute(ctx, `open -a "$(xcode-select -p)/Applications/Simulator.app"; sleep 5`); err != nil {
		return err
	}
	booted, err := p.BootedSimulators(ctx)
	if err != nil {
		return err
	}
	for _, agent := range booted {
		if _, err := p.e.Execute(ctx, fmt.Sprintf("xcrun simctl bootstatus %s", executor.Quote(agent.ID))); err != nil {
			return err
		}
	}
	return nil
}

// WindowLocations runs command, which must print a JSON array of window
// frames for the simulator app.
func (p *Proxy) WindowLocations(ctx context.Context, command string) ([]WindowLocation, error) {
	out, err := p.e.Execute(ctx, command)
	if err != nil {
		return nil, err
	}
	var locations []WindowLocation
	if err := json.Unmarshal([]byte(out), &locations); err != nil {
		return nil, fmt.Errorf("failed decoding window locations: %w", err)
	}
	return locations, nil
}
