package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
)

const (
	EnvVarPrefix      = "SIMFLEET"
	defaultConfigFile = "simfleet.yaml"
	defaultTestsFile  = "tests.yaml"
)

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   defaultConfigFile,
		EnvVars: prefixEnvVar("config"),
		Usage:   "Path to the configuration file",
	}
	TestsFlag = &cli.StringFlag{
		Name:    "tests",
		Value:   defaultTestsFile,
		EnvVars: prefixEnvVar("tests"),
		Usage:   "Path to the list of tests to run (YAML or JSON)",
	}
	UseLocalhostFlag = &cli.BoolFlag{
		Name:    "use-localhost",
		EnvVars: prefixEnvVar("use-localhost"),
		Usage:   "Run every test on this machine instead of the configured nodes",
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		EnvVars: prefixEnvVar("timeout"),
		Usage:   "Time a single test may run before its simulator is power cycled",
	}
	FailureRetryFlag = &cli.IntFlag{
		Name:    "failure-retry",
		EnvVars: prefixEnvVar("failure-retry"),
		Usage:   "Number of passes rerunning failing tests",
	}
	StabilityFlag = &cli.IntFlag{
		Name:    "test-for-stability",
		EnvVars: prefixEnvVar("test-for-stability"),
		Usage:   "Number of extra passes rerunning every test",
	}
	VerboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		EnvVars: prefixEnvVar("verbose"),
		Usage:   "Enable debug logging",
	}
	JSONFlag = &cli.BoolFlag{
		Name:    "json",
		EnvVars: prefixEnvVar("json"),
		Usage:   "Print results as JSON",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		EnvVars: prefixEnvVar("metrics-addr"),
		Usage:   "Address serving Prometheus metrics during the run (e.g. ':9090')",
	}
	PluginDataFlag = &cli.StringFlag{
		Name:    "plugin-data",
		EnvVars: prefixEnvVar("plugin-data"),
		Usage:   "Opaque data handed to plugins",
	}
	HostInfoFlag = &cli.BoolFlag{
		Name:    "host-info",
		EnvVars: prefixEnvVar("host-info"),
		Usage:   "Log hardware and toolchain details of every node before running",
	}
)

// Flags of the test command
var Flags = []cli.Flag{
	ConfigFlag,
	TestsFlag,
	UseLocalhostFlag,
	TimeoutFlag,
	FailureRetryFlag,
	StabilityFlag,
	VerboseFlag,
	JSONFlag,
	MetricsAddrFlag,
	PluginDataFlag,
	HostInfoFlag,
}

func validateFlags(c *cli.Context) error {
	if c.IsSet(TimeoutFlag.Name) && c.Duration(TimeoutFlag.Name) <= 0 {
		return fmt.Errorf("--%s must be positive", TimeoutFlag.Name)
	}
	for _, name := range []string{FailureRetryFlag.Name, StabilityFlag.Name} {
		if c.IsSet(name) && c.Int(name) < 0 {
			return fmt.Errorf("--%s cannot be negative", name)
		}
	}
	return nil
}
