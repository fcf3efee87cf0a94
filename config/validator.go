package config

import (
	"fmt"
	"os"
	"path/filepath"

	"simfleet/model"
)

// Validator handles configuration validation
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}

	if c.TestTarget == "" {
		return fmt.Errorf("test_target is required")
	}

	if c.SDK != "ios" && c.SDK != "macos" {
		return fmt.Errorf("invalid sdk %s, must be 'ios' or 'macos'", c.SDK)
	}

	if c.Device.Name == "" || c.Device.OSVersion == "" {
		return fmt.Errorf("device name and os_version are required")
	}

	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be configured")
	}

	seen := make(map[string]string, len(c.Nodes))
	for i, node := range c.Nodes {
		if err := v.validateNode(i, node); err != nil {
			return err
		}
		if other, exists := seen[node.Address]; exists {
			return fmt.Errorf("node %s: address %s is already used by node %s", node.Name, node.Address, other)
		}
		seen[node.Address] = node.Name
	}

	if err := v.validateRun(c); err != nil {
		return err
	}

	if c.Plugins.TestDistribution != "" {
		if err := v.validateAbsoluteBinaryPath("test_distribution", c.Plugins.TestDistribution); err != nil {
			return err
		}
	}
	if c.Plugins.Event != "" {
		if err := v.validateAbsoluteBinaryPath("event", c.Plugins.Event); err != nil {
			return err
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: invalid level %s", c.Logging.Level)
	}

	return nil
}

// validateNode validates a single node descriptor
func (v *Validator) validateNode(index int, node model.Node) error {
	name := node.Name
	if name == "" {
		name = fmt.Sprintf("#%d", index)
	}

	if node.Address == "" {
		return fmt.Errorf("node %s: address is required", name)
	}

	if node.IsLocal() {
		return nil
	}

	if node.User == "" {
		return fmt.Errorf("node %s: user is required", name)
	}

	if node.KeyPath == "" && node.Password == "" && node.PasswordEnv == "" {
		return fmt.Errorf("node %s: either key_path or password is required", name)
	}

	if node.Port < 0 || node.Port > 65535 {
		return fmt.Errorf("node %s: invalid port %d", name, node.Port)
	}

	return nil
}

// validateRun validates timeouts and retry counts
func (v *Validator) validateRun(c *Config) error {
	if c.Retries.FailingTests < 0 {
		return fmt.Errorf("retries.failing_tests cannot be negative")
	}

	if c.Retries.Stability < 0 {
		return fmt.Errorf("retries.stability cannot be negative")
	}

	if c.Timeouts.Test < 0 || c.Timeouts.BootstrapCooldown < 0 || c.Timeouts.Connect < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	return nil
}

// validateAbsoluteBinaryPath validates a plugin executable path
func (v *Validator) validateAbsoluteBinaryPath(pluginName, binaryPath string) error {
	if !filepath.IsAbs(binaryPath) {
		return fmt.Errorf("plugins.%s: %s must be an absolute path", pluginName, binaryPath)
	}

	info, err := os.Stat(binaryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("plugins.%s: file does not exist: %s", pluginName, binaryPath)
		}
		return fmt.Errorf("plugins.%s: cannot access file %s: %v", pluginName, binaryPath, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("plugins.%s: %s is not a regular file", pluginName, binaryPath)
	}

	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("plugins.%s: %s is not executable", pluginName, binaryPath)
	}

	return nil
}
