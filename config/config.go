package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"simfleet/logging"
	"simfleet/model"
)

const defaultRoot = "~/simfleet"

// Config represents the overall run configuration
type Config struct {
	Name                  string       `yaml:"name"`
	Scheme                string       `yaml:"scheme"`
	BuildTarget           string       `yaml:"build_target"`
	TestTarget            string       `yaml:"test_target"`
	BuildBundleIdentifier string       `yaml:"build_bundle_identifier,omitempty"`
	TestBundleIdentifier  string       `yaml:"test_bundle_identifier,omitempty"`
	SDK                   string       `yaml:"sdk,omitempty"`
	Device                model.Device `yaml:"device"`
	Nodes                 []model.Node `yaml:"nodes"`
	Account               Account      `yaml:"account,omitempty"`
	Paths                 Paths        `yaml:"paths"`
	Timeouts              Timeouts     `yaml:"timeouts"`
	Retries               Retries      `yaml:"retries,omitempty"`
	Plugins               Plugins      `yaml:"plugins,omitempty"`

	// Headless skips window arrangement
	Headless               bool   `yaml:"headless,omitempty"`
	WindowLocationsCommand string `yaml:"window_locations_command,omitempty"`

	Logging logging.Config `yaml:"logging"`
	Metrics Metrics        `yaml:"metrics,omitempty"`
}

// Account references the developer account used to install runtimes. Only
// the names of the environment variables are stored.
type Account struct {
	UsernameEnv string `yaml:"username_env,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`

	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// Paths are the folders used on the nodes. Empty folders are derived from Root.
type Paths struct {
	Root       string `yaml:"root"`
	Build      string `yaml:"build,omitempty"`
	TestBundle string `yaml:"test_bundle,omitempty"`
	Logs       string `yaml:"logs,omitempty"`
	Results    string `yaml:"results,omitempty"`

	// LocalResults is where the consolidated results file is written on the
	// machine running simfleet.
	LocalResults string `yaml:"local_results,omitempty"`
}

// Timeouts of the run
type Timeouts struct {
	Test              time.Duration `yaml:"test"`
	BootstrapCooldown time.Duration `yaml:"bootstrap_cooldown"`
	Connect           time.Duration `yaml:"connect"`
	Plugin            time.Duration `yaml:"plugin,omitempty"`
}

// Retries controls the passes run after the first one
type Retries struct {
	FailingTests int `yaml:"failing_tests,omitempty"`
	Stability    int `yaml:"stability,omitempty"`
}

// Plugins are external executables taking part in the run
type Plugins struct {
	TestDistribution string `yaml:"test_distribution,omitempty"`
	Event            string `yaml:"event,omitempty"`
	Data             string `yaml:"data,omitempty"`
}

// Metrics exposition settings
type Metrics struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	config.ApplyDefaults()
	config.ResolveCredentials()

	validator := NewValidator()
	if err := validator.ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills in every unset optional field
func (c *Config) ApplyDefaults() {
	if c.Device.Name == "" && c.Device.OSVersion == "" {
		c.Device = model.DefaultDevice()
	}
	if c.SDK == "" {
		c.SDK = "ios"
	}
	if c.BuildTarget == "" {
		c.BuildTarget = c.Scheme
	}

	if c.Paths.Root == "" {
		c.Paths.Root = defaultRoot
	}
	derive := func(p *string, name string) {
		if *p == "" {
			*p = path.Join(c.Paths.Root, name)
		}
	}
	derive(&c.Paths.Build, "build")
	derive(&c.Paths.TestBundle, "test_bundle")
	derive(&c.Paths.Logs, "logs")
	derive(&c.Paths.Results, "results")
	if c.Paths.LocalResults == "" {
		c.Paths.LocalResults = "results"
	}

	if c.Timeouts.Test == 0 {
		c.Timeouts.Test = 120 * time.Second
	}
	if c.Timeouts.BootstrapCooldown == 0 {
		c.Timeouts.BootstrapCooldown = 5 * time.Second
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = 30 * time.Second
	}
	if c.Timeouts.Plugin == 0 {
		c.Timeouts.Plugin = 5 * time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// ResolveCredentials reads every credential reference from the environment.
// Values set directly in the file win.
func (c *Config) ResolveCredentials() {
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.Password == "" && n.PasswordEnv != "" {
			n.Password = os.Getenv(n.PasswordEnv)
		}
		if n.AdministratorPassword == "" && n.AdministratorEnv != "" {
			n.AdministratorPassword = os.Getenv(n.AdministratorEnv)
		}
	}
	if c.Account.UsernameEnv != "" {
		c.Account.Username = os.Getenv(c.Account.UsernameEnv)
	}
	if c.Account.PasswordEnv != "" {
		c.Account.Password = os.Getenv(c.Account.PasswordEnv)
	}
}

// UseLocalhost replaces the configured nodes with the local machine
func (c *Config) UseLocalhost() {
	local := model.Localhost()
	for _, n := range c.Nodes {
		if n.IsLocal() {
			local = n
			local.Primary = true
			break
		}
	}
	c.Nodes = []model.Node{local}
}

// SaveConfig saves configuration to a YAML file. Secrets read from the
// environment are not written back.
func (c *Config) SaveConfig(filename string) error {
	out := *c
	out.Nodes = make([]model.Node, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.PasswordEnv != "" {
			n.Password = ""
		}
		if n.AdministratorEnv != "" {
			n.AdministratorPassword = ""
		}
		out.Nodes[i] = n
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}

// LoadTestCases reads the list of tests to run. Entries are either
// "Suite/name" strings or mappings with suite, name, tags and test_case_ids.
func LoadTestCases(filename string) ([]model.TestCase, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read test list %s: %w", filename, err)
	}

	var entries []yaml.Node
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse test list %s: %w", filename, err)
	}

	tests := make([]model.TestCase, 0, len(entries))
	for i, entry := range entries {
		var tc model.TestCase
		switch entry.Kind {
		case yaml.ScalarNode:
			suite, name, ok := strings.Cut(entry.Value, "/")
			if !ok {
				return nil, fmt.Errorf("test list %s: entry %d %q is not Suite/name", filename, i, entry.Value)
			}
			tc = model.NewTestCase(suite, name)
		case yaml.MappingNode:
			if err := entry.Decode(&tc); err != nil {
				return nil, fmt.Errorf("test list %s: entry %d: %w", filename, i, err)
			}
			normalized := model.NewTestCase(tc.Suite, tc.Name)
			tc.Name = normalized.Name
		default:
			return nil, fmt.Errorf("test list %s: entry %d has unsupported type", filename, i)
		}
		if tc.Suite == "" || tc.Name == "" {
			return nil, fmt.Errorf("test list %s: entry %d needs both suite and name", filename, i)
		}
		tests = append(tests, tc)
	}
	return tests, nil
}
