// Package config provides configuration management for the VPC agent.
//
// This package handles:
// - Configuration file parsing (YAML/JSON)
// - Environment variable overrides
// - Configuration validation
// - Conversion into the options of the switch, hypervisor and sync layers
//
// Configuration Priority (highest to lowest):
// 1. Environment variables (OVS_VPC_*)
// 2. Configuration file (--config flag or OVS_VPC_CONFIG_FILE)
// 3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/logging"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/vpc"
)

// EnvConfigFile names the configuration file when no path is given
const EnvConfigFile = "OVS_VPC_CONFIG_FILE"

// Config is the global configuration structure
type Config struct {
	// OVS contains switch tool and daemon settings
	OVS OVSConfig `json:"ovs" yaml:"ovs"`

	// Hypervisor contains hypervisor CLI settings
	Hypervisor HypervisorConfig `json:"hypervisor" yaml:"hypervisor"`

	// Host identifies this host in topologies
	Host HostConfig `json:"host" yaml:"host"`

	// Sync contains scratch and lock directories
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Logging contains logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains metrics export configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// OVSConfig contains switch tool and daemon settings
type OVSConfig struct {
	// VsctlPath is the ovs-vsctl binary
	// Default: "/usr/bin/ovs-vsctl"
	VsctlPath string `json:"vsctlPath" yaml:"vsctlPath"`

	// OfctlPath is the ovs-ofctl binary
	// Default: "/usr/bin/ovs-ofctl"
	OfctlPath string `json:"ofctlPath" yaml:"ofctlPath"`

	// RunDir holds the daemon pid files
	// Default: "/var/run/openvswitch"
	RunDir string `json:"runDir" yaml:"runDir"`

	// DBPidFile and SwitchPidFile are pid file names inside RunDir
	// Default: "ovsdb-server.pid" and "ovs-vswitchd.pid"
	DBPidFile     string `json:"dbPidFile" yaml:"dbPidFile"`
	SwitchPidFile string `json:"switchPidFile" yaml:"switchPidFile"`

	// BridgeWaitTimeout bounds the wait for a bridge to appear
	// Default: 30s
	BridgeWaitTimeout time.Duration `json:"bridgeWaitTimeout" yaml:"bridgeWaitTimeout"`
}

// HypervisorConfig contains hypervisor CLI settings
type HypervisorConfig struct {
	// XePath is the xe binary
	// Default: "/opt/xensource/bin/xe"
	XePath string `json:"xePath" yaml:"xePath"`

	// InventoryFile holds the local installation uuid
	// Default: "/etc/xensource-inventory"
	InventoryFile string `json:"inventoryFile" yaml:"inventoryFile"`
}

// HostConfig identifies this host
type HostConfig struct {
	// ID is the orchestrator's id for this host.
	// Zero means read it from the hypervisor.
	ID int64 `json:"id" yaml:"id"`
}

// SyncConfig contains scratch and lock directories
type SyncConfig struct {
	// BatchDir is where batch flow files are written
	// Default: "/tmp/ovs-vpc"
	BatchDir string `json:"batchDir" yaml:"batchDir"`

	// LockDir holds per-bridge lock files
	// Default: "/var/run/ovs-vpc"
	LockDir string `json:"lockDir" yaml:"lockDir"`

	// LockTimeout bounds the wait for another request on the same bridge
	// Default: 60s
	LockTimeout time.Duration `json:"lockTimeout" yaml:"lockTimeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `json:"format" yaml:"format"`

	// File is the log file path (optional)
	// If empty, logs to stderr
	File string `json:"file" yaml:"file"`

	// Verbosity is the highest klog V level logged at debug level
	// Default: 5
	Verbosity int `json:"verbosity" yaml:"verbosity"`
}

// MetricsConfig contains metrics export configuration
type MetricsConfig struct {
	// TextfileDir receives a Prometheus textfile after every command.
	// Empty disables the export.
	TextfileDir string `json:"textfileDir" yaml:"textfileDir"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	defaults := ovs.DefaultOptions()
	hv := hypervisor.DefaultOptions()
	return &Config{
		OVS: OVSConfig{
			VsctlPath:         defaults.VsctlPath,
			OfctlPath:         defaults.OfctlPath,
			RunDir:            defaults.RunDir,
			DBPidFile:         defaults.DBPidFile,
			SwitchPidFile:     defaults.SwitchPidFile,
			BridgeWaitTimeout: defaults.BridgeWaitTimeout,
		},
		Hypervisor: HypervisorConfig{
			XePath:        hv.XePath,
			InventoryFile: hv.InventoryFile,
		},
		Sync: SyncConfig{
			BatchDir:    filepath.Join(os.TempDir(), "ovs-vpc"),
			LockDir:     "/var/run/ovs-vpc",
			LockTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     logging.LevelInfo,
			Format:    logging.FormatJSON,
			Verbosity: logging.DefaultDebugVerbosity,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
//
// Configuration is loaded in the following order:
// 1. Default values
// 2. Configuration file (path, or OVS_VPC_CONFIG_FILE when path is empty)
// 3. Environment variable overrides
//
// Returns:
//   - *Config: Loaded configuration
//   - error: Loading or validation error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML also handles JSON since YAML is a superset
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration
//
// Environment variables follow the pattern: OVS_VPC_<SECTION>_<KEY>
// Examples:
//   - OVS_VPC_OVS_VSCTL_PATH=/usr/local/bin/ovs-vsctl
//   - OVS_VPC_OVS_BRIDGE_WAIT_TIMEOUT=10s
//   - OVS_VPC_HOST_ID=3
//   - OVS_VPC_SYNC_BATCH_DIR=/var/lib/ovs-vpc
//   - OVS_VPC_LOG_LEVEL=debug
func (c *Config) ApplyEnvOverrides() {
	// OVS settings
	if v := os.Getenv("OVS_VPC_OVS_VSCTL_PATH"); v != "" {
		c.OVS.VsctlPath = v
	}
	if v := os.Getenv("OVS_VPC_OVS_OFCTL_PATH"); v != "" {
		c.OVS.OfctlPath = v
	}
	if v := os.Getenv("OVS_VPC_OVS_RUN_DIR"); v != "" {
		c.OVS.RunDir = v
	}
	if v := os.Getenv("OVS_VPC_OVS_BRIDGE_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.OVS.BridgeWaitTimeout = d
		}
	}

	// Hypervisor settings
	if v := os.Getenv("OVS_VPC_HYPERVISOR_XE_PATH"); v != "" {
		c.Hypervisor.XePath = v
	}
	if v := os.Getenv("OVS_VPC_HYPERVISOR_INVENTORY_FILE"); v != "" {
		c.Hypervisor.InventoryFile = v
	}

	// Host settings
	if v := os.Getenv("OVS_VPC_HOST_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Host.ID = id
		}
	}

	// Sync settings
	if v := os.Getenv("OVS_VPC_SYNC_BATCH_DIR"); v != "" {
		c.Sync.BatchDir = v
	}
	if v := os.Getenv("OVS_VPC_SYNC_LOCK_DIR"); v != "" {
		c.Sync.LockDir = v
	}
	if v := os.Getenv("OVS_VPC_SYNC_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Sync.LockTimeout = d
		}
	}

	// Logging settings
	if v := os.Getenv("OVS_VPC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OVS_VPC_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("OVS_VPC_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("OVS_VPC_LOG_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Logging.Verbosity = n
		}
	}

	// Metrics settings
	if v := os.Getenv("OVS_VPC_METRICS_TEXTFILE_DIR"); v != "" {
		c.Metrics.TextfileDir = v
	}
}

// Validate validates the configuration
//
// Returns:
//   - error: Validation error listing every problem
func (c *Config) Validate() error {
	var errors []string

	if c.OVS.VsctlPath == "" {
		errors = append(errors, "ovs.vsctlPath is required")
	}
	if c.OVS.OfctlPath == "" {
		errors = append(errors, "ovs.ofctlPath is required")
	}
	if c.OVS.RunDir == "" {
		errors = append(errors, "ovs.runDir is required")
	}
	if c.OVS.BridgeWaitTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid ovs.bridgeWaitTimeout: %s (must be positive)", c.OVS.BridgeWaitTimeout))
	}

	if c.Hypervisor.XePath == "" {
		errors = append(errors, "hypervisor.xePath is required")
	}
	if c.Host.ID == 0 && c.Hypervisor.InventoryFile == "" {
		errors = append(errors, "hypervisor.inventoryFile is required when host.id is not set")
	}
	if c.Host.ID < 0 {
		errors = append(errors, fmt.Sprintf("invalid host.id: %d (must not be negative)", c.Host.ID))
	}

	if c.Sync.BatchDir == "" {
		errors = append(errors, "sync.batchDir is required")
	}
	if c.Sync.LockTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid sync.lockTimeout: %s (must be positive)", c.Sync.LockTimeout))
	}

	// Validate log level
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level))
	}

	// Validate log format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// OVSOptions returns the switch client options
func (c *Config) OVSOptions() ovs.Options {
	opts := ovs.DefaultOptions()
	opts.VsctlPath = c.OVS.VsctlPath
	opts.OfctlPath = c.OVS.OfctlPath
	opts.RunDir = c.OVS.RunDir
	opts.DBPidFile = c.OVS.DBPidFile
	opts.SwitchPidFile = c.OVS.SwitchPidFile
	opts.BridgeWaitTimeout = c.OVS.BridgeWaitTimeout
	return opts
}

// HypervisorOptions returns the hypervisor client options
func (c *Config) HypervisorOptions() hypervisor.Options {
	return hypervisor.Options{
		XePath:        c.Hypervisor.XePath,
		InventoryFile: c.Hypervisor.InventoryFile,
	}
}

// LoggingOptions returns the logger options
func (c *Config) LoggingOptions() logging.Options {
	opts := logging.DefaultOptions()
	opts.Level = c.Logging.Level
	opts.Format = c.Logging.Format
	opts.OutputPath = c.Logging.File
	if c.Logging.Verbosity > 0 {
		opts.Verbosity = c.Logging.Verbosity
	}
	return opts
}

// SyncOptions returns the synchronizer options
func (c *Config) SyncOptions() vpc.Options {
	return vpc.Options{
		LocalHostID: c.Host.ID,
		BatchDir:    c.Sync.BatchDir,
		LockDir:     c.Sync.LockDir,
		LockTimeout: c.Sync.LockTimeout,
	}
}
