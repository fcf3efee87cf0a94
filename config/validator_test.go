package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"simfleet/model"
)

func validConfig() *Config {
	c := &Config{
		Scheme:     "App",
		TestTarget: "AppUITests",
		Nodes: []model.Node{
			{Name: "local", Address: "localhost"},
			{Name: "mini-1", Address: "10.0.0.5", User: "ci", KeyPath: "~/.ssh/id_ed25519"},
		},
	}
	c.ApplyDefaults()
	return c
}

func TestValidator_ValidateConfig(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing scheme",
			modify:  func(c *Config) { c.Scheme = "" },
			wantErr: true,
		},
		{
			name:    "missing test target",
			modify:  func(c *Config) { c.TestTarget = "" },
			wantErr: true,
		},
		{
			name:    "unknown sdk",
			modify:  func(c *Config) { c.SDK = "tvos" },
			wantErr: true,
		},
		{
			name:    "device without os version",
			modify:  func(c *Config) { c.Device.OSVersion = "" },
			wantErr: true,
		},
		{
			name:    "no nodes",
			modify:  func(c *Config) { c.Nodes = nil },
			wantErr: true,
		},
		{
			name:    "node without address",
			modify:  func(c *Config) { c.Nodes[1].Address = "" },
			wantErr: true,
		},
		{
			name:    "remote node without user",
			modify:  func(c *Config) { c.Nodes[1].User = "" },
			wantErr: true,
		},
		{
			name: "remote node without credentials",
			modify: func(c *Config) {
				c.Nodes[1].KeyPath = ""
			},
			wantErr: true,
		},
		{
			name: "remote node with password reference",
			modify: func(c *Config) {
				c.Nodes[1].KeyPath = ""
				c.Nodes[1].PasswordEnv = "MINI_PASSWORD"
			},
			wantErr: false,
		},
		{
			name: "duplicate address",
			modify: func(c *Config) {
				c.Nodes = append(c.Nodes, model.Node{Name: "again", Address: "10.0.0.5", User: "ci", KeyPath: "k"})
			},
			wantErr: true,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Retries.FailingTests = -1 },
			wantErr: true,
		},
		{
			name:    "relative plugin path",
			modify:  func(c *Config) { c.Plugins.TestDistribution = "order.sh" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			err := validator.ValidateConfig(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_PluginPath(t *testing.T) {
	validator := NewValidator()
	dir := t.TempDir()

	executable := filepath.Join(dir, "order.sh")
	if err := os.WriteFile(executable, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("Failed to write plugin: %v", err)
	}
	plain := filepath.Join(dir, "plain.sh")
	if err := os.WriteFile(plain, []byte("#!/bin/sh\n"), 0644); err != nil {
		t.Fatalf("Failed to write plugin: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "executable", path: executable},
		{name: "not executable", path: plain, wantErr: true},
		{name: "missing", path: filepath.Join(dir, "missing.sh"), wantErr: true},
		{name: "directory", path: dir, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Plugins.TestDistribution = tt.path
			err := validator.ValidateConfig(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
		t.Run("event "+tt.name, func(t *testing.T) {
			c := validConfig()
			c.Plugins.Event = tt.path
			err := validator.ValidateConfig(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "plugins.event") {
				t.Errorf("ValidateConfig() error = %v, want plugins.event", err)
			}
		})
	}
}
