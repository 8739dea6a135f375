package config

import (
	"time"

	"grimm.is/wgtunnel/internal/brand"
)

// Backend names accepted by the backend attribute.
const (
	BackendAuto    = "auto"
	BackendWgQuick = "wg-quick"
	BackendEngine  = "engine"
)

// Default values for attributes without a brand-derived default.
const (
	DefaultShell           = "su"
	DefaultLogLevel        = "info"
	DefaultFirewallMark    = 51820
	DefaultMetricsInterval = 15 * time.Second
)

// Config is the daemon configuration.
type Config struct {
	Backend         string `hcl:"backend,optional" json:"backend"`
	MultipleTunnels bool   `hcl:"multiple_tunnels,optional" json:"multiple_tunnels"`
	RestoreOnBoot   bool   `hcl:"restore_on_boot,optional" json:"restore_on_boot"`

	// Shell is the command that starts the privileged shell, split on
	// whitespace.
	Shell string `hcl:"shell,optional" json:"shell"`

	BinaryDir string `hcl:"binary_dir,optional" json:"binary_dir"`
	TempDir   string `hcl:"temp_dir,optional" json:"temp_dir"`
	ConfigDir string `hcl:"config_dir,optional" json:"config_dir"`
	StateDB   string `hcl:"state_db,optional" json:"state_db"`
	// ToolsDir holds bundled wg and wg-quick binaries to install from.
	ToolsDir string `hcl:"tools_dir,optional" json:"tools_dir,omitempty"`

	LogLevel string `hcl:"log_level,optional" json:"log_level"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json"`

	Engine  *EngineConfig  `hcl:"engine,block" json:"engine,omitempty"`
	Metrics *MetricsConfig `hcl:"metrics,block" json:"metrics,omitempty"`
}

// EngineConfig tunes the embedded engine backend.
type EngineConfig struct {
	// FirewallMark is set on engine sockets and exempts them from the
	// tunnel routes and the kill switch.
	FirewallMark int64 `hcl:"fwmark,optional" json:"fwmark"`
}

// MetricsConfig enables the Prometheus endpoint of the serve command.
type MetricsConfig struct {
	Listen   string `hcl:"listen,optional" json:"listen"`
	Interval string `hcl:"interval,optional" json:"interval"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.BinaryDir == "" {
		c.BinaryDir = brand.BinDir()
	}
	if c.TempDir == "" {
		c.TempDir = brand.TempDir()
	}
	if c.ConfigDir == "" {
		c.ConfigDir = brand.GetConfigDir()
	}
	if c.StateDB == "" {
		c.StateDB = brand.StateDBPath()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Engine == nil {
		c.Engine = &EngineConfig{}
	}
	if c.Engine.FirewallMark == 0 {
		c.Engine.FirewallMark = DefaultFirewallMark
	}
	if c.Metrics != nil && c.Metrics.Interval == "" {
		c.Metrics.Interval = DefaultMetricsInterval.String()
	}
}

// MetricsInterval returns the parsed polling interval. Validate guarantees
// it parses.
func (c *Config) MetricsInterval() time.Duration {
	if c.Metrics == nil {
		return DefaultMetricsInterval
	}
	d, err := time.ParseDuration(c.Metrics.Interval)
	if err != nil {
		return DefaultMetricsInterval
	}
	return d
}
