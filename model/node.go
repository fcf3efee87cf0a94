package model

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Concurrency is the number of agents a node hosts. Zero means auto-detect
// from the host's physical core count.
type Concurrency struct {
	Manual uint
}

// Auto reports whether the agent count should be detected on the host.
func (c Concurrency) Auto() bool {
	return c.Manual == 0
}

func (c Concurrency) String() string {
	if c.Auto() {
		return "auto"
	}
	return strconv.FormatUint(uint64(c.Manual), 10)
}

// UnmarshalYAML accepts either "auto" or a positive integer.
func (c *Concurrency) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" || strings.EqualFold(raw, "auto") {
		c.Manual = 0
		return nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		return fmt.Errorf("concurrent_test_runners must be 'auto' or a positive integer, got %q", raw)
	}
	c.Manual = uint(n)
	return nil
}

// MarshalYAML writes the same representation UnmarshalYAML accepts.
func (c Concurrency) MarshalYAML() (interface{}, error) {
	if c.Auto() {
		return "auto", nil
	}
	return c.Manual, nil
}

// Node is a host capable of running one or more agents. Two nodes with the
// same address are the same node.
type Node struct {
	Name                  string      `yaml:"name"`
	Address               string      `yaml:"address"`
	Port                  int         `yaml:"port,omitempty"`
	User                  string      `yaml:"user,omitempty"`
	KeyPath               string      `yaml:"key_path,omitempty"`
	Password              string      `yaml:"password,omitempty"`
	PasswordEnv           string      `yaml:"password_env,omitempty"`
	AdministratorPassword string      `yaml:"administrator_password,omitempty"`
	AdministratorEnv      string      `yaml:"administrator_password_env,omitempty"`
	ConcurrentTestRunners Concurrency `yaml:"concurrent_test_runners"`
	RAMDiskSizeMB         uint        `yaml:"ram_disk_size_mb,omitempty"`
	Primary               bool        `yaml:"primary,omitempty"`
}

// Localhost returns the node used when dispatching on the local machine.
func Localhost() Node {
	return Node{Name: "localhost", Address: "localhost", Primary: true}
}

// Equal compares nodes by address only.
func (n Node) Equal(other Node) bool {
	return n.Address == other.Address
}

// IsLocal reports whether commands for this node run without a remote connection.
func (n Node) IsLocal() bool {
	switch n.Address {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// IsPrimary reports whether this node orchestrates the run. Only the primary
// node makes rebuild decisions.
func (n Node) IsPrimary() bool {
	return n.Primary || n.IsLocal()
}

func (n Node) String() string {
	parts := []string{"name: " + n.Name, "address: " + n.Address}
	if n.AdministratorPassword != "" {
		parts = append(parts, "store password: yes")
	}
	if n.RAMDiskSizeMB > 0 {
		parts = append(parts, fmt.Sprintf("ram disk size: %d", n.RAMDiskSizeMB))
	}
	return strings.Join(parts, ", ")
}
