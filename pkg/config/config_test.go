// Package config provides tests for configuration management.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Verify default values
	if cfg.OVS.VsctlPath != "/usr/bin/ovs-vsctl" {
		t.Errorf("expected vsctl path '/usr/bin/ovs-vsctl', got '%s'", cfg.OVS.VsctlPath)
	}
	if cfg.OVS.BridgeWaitTimeout != 30*time.Second {
		t.Errorf("expected bridge wait timeout 30s, got %s", cfg.OVS.BridgeWaitTimeout)
	}
	if cfg.Hypervisor.XePath != "/opt/xensource/bin/xe" {
		t.Errorf("expected xe path '/opt/xensource/bin/xe', got '%s'", cfg.Hypervisor.XePath)
	}
	if cfg.Host.ID != 0 {
		t.Errorf("expected no host id override, got %d", cfg.Host.ID)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Metrics.TextfileDir != "" {
		t.Errorf("expected metrics export disabled, got '%s'", cfg.Metrics.TextfileDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
ovs:
  vsctlPath: /usr/local/bin/ovs-vsctl
  runDir: /run/openvswitch
  bridgeWaitTimeout: 5s
hypervisor:
  inventoryFile: /etc/inventory
host:
  id: 12
sync:
  batchDir: /var/lib/ovs-vpc
  lockTimeout: 2m
logging:
  level: debug
  format: text
metrics:
  textfileDir: /var/lib/node_exporter
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("failed to load config file: %v", err)
	}

	// Verify loaded values
	if cfg.OVS.VsctlPath != "/usr/local/bin/ovs-vsctl" {
		t.Errorf("expected vsctl path '/usr/local/bin/ovs-vsctl', got '%s'", cfg.OVS.VsctlPath)
	}
	if cfg.OVS.OfctlPath != "/usr/bin/ovs-ofctl" {
		t.Errorf("unset keys must keep defaults, got ofctl path '%s'", cfg.OVS.OfctlPath)
	}
	if cfg.OVS.BridgeWaitTimeout != 5*time.Second {
		t.Errorf("expected bridge wait timeout 5s, got %s", cfg.OVS.BridgeWaitTimeout)
	}
	if cfg.Host.ID != 12 {
		t.Errorf("expected host id 12, got %d", cfg.Host.ID)
	}
	if cfg.Sync.LockTimeout != 2*time.Minute {
		t.Errorf("expected lock timeout 2m, got %s", cfg.Sync.LockTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.Logging.Level)
	}
	if cfg.Metrics.TextfileDir != "/var/lib/node_exporter" {
		t.Errorf("expected textfile dir '/var/lib/node_exporter', got '%s'", cfg.Metrics.TextfileDir)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OVS_VPC_OVS_OFCTL_PATH", "/opt/ovs/bin/ovs-ofctl")
	t.Setenv("OVS_VPC_OVS_BRIDGE_WAIT_TIMEOUT", "10s")
	t.Setenv("OVS_VPC_HYPERVISOR_XE_PATH", "/usr/bin/xe")
	t.Setenv("OVS_VPC_HOST_ID", "7")
	t.Setenv("OVS_VPC_SYNC_BATCH_DIR", "/scratch")
	t.Setenv("OVS_VPC_LOG_LEVEL", "warn")
	t.Setenv("OVS_VPC_METRICS_TEXTFILE_DIR", "/metrics")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	// Verify overridden values
	if cfg.OVS.OfctlPath != "/opt/ovs/bin/ovs-ofctl" {
		t.Errorf("expected ofctl path '/opt/ovs/bin/ovs-ofctl', got '%s'", cfg.OVS.OfctlPath)
	}
	if cfg.OVS.BridgeWaitTimeout != 10*time.Second {
		t.Errorf("expected bridge wait timeout 10s, got %s", cfg.OVS.BridgeWaitTimeout)
	}
	if cfg.Hypervisor.XePath != "/usr/bin/xe" {
		t.Errorf("expected xe path '/usr/bin/xe', got '%s'", cfg.Hypervisor.XePath)
	}
	if cfg.Host.ID != 7 {
		t.Errorf("expected host id 7, got %d", cfg.Host.ID)
	}
	if cfg.Sync.BatchDir != "/scratch" {
		t.Errorf("expected batch dir '/scratch', got '%s'", cfg.Sync.BatchDir)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level 'warn', got '%s'", cfg.Logging.Level)
	}
	if cfg.Metrics.TextfileDir != "/metrics" {
		t.Errorf("expected textfile dir '/metrics', got '%s'", cfg.Metrics.TextfileDir)
	}
}

func TestApplyEnvOverridesIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OVS_VPC_OVS_BRIDGE_WAIT_TIMEOUT", "soon")
	t.Setenv("OVS_VPC_HOST_ID", "three")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.OVS.BridgeWaitTimeout != 30*time.Second {
		t.Errorf("malformed duration must be ignored, got %s", cfg.OVS.BridgeWaitTimeout)
	}
	if cfg.Host.ID != 0 {
		t.Errorf("malformed host id must be ignored, got %d", cfg.Host.ID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorPart   string
	}{
		{
			name:        "valid default config",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "missing vsctl",
			modify:      func(c *Config) { c.OVS.VsctlPath = "" },
			expectError: true,
			errorPart:   "ovs.vsctlPath is required",
		},
		{
			name:        "non-positive bridge wait",
			modify:      func(c *Config) { c.OVS.BridgeWaitTimeout = 0 },
			expectError: true,
			errorPart:   "invalid ovs.bridgeWaitTimeout",
		},
		{
			name: "no inventory and no host id",
			modify: func(c *Config) {
				c.Hypervisor.InventoryFile = ""
			},
			expectError: true,
			errorPart:   "inventoryFile is required",
		},
		{
			name: "host id without inventory",
			modify: func(c *Config) {
				c.Hypervisor.InventoryFile = ""
				c.Host.ID = 4
			},
			expectError: false,
		},
		{
			name:        "negative host id",
			modify:      func(c *Config) { c.Host.ID = -1 },
			expectError: true,
			errorPart:   "invalid host.id",
		},
		{
			name:        "missing batch dir",
			modify:      func(c *Config) { c.Sync.BatchDir = "" },
			expectError: true,
			errorPart:   "sync.batchDir is required",
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorPart:   "invalid log level",
		},
		{
			name:        "invalid log format",
			modify:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorPart:   "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errorPart)
				} else if !strings.Contains(err.Error(), tt.errorPart) {
					t.Errorf("expected error containing '%s', got '%s'", tt.errorPart, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OVS.OfctlPath = ""
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "\n  - ovs.ofctlPath is required\n  - invalid log format") {
		t.Errorf("expected both problems listed, got '%s'", err.Error())
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, "env.yaml")
	flagFile := filepath.Join(tmpDir, "flag.yaml")
	if err := os.WriteFile(envFile, []byte("host:\n  id: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(flagFile, []byte("host:\n  id: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, envFile)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host.ID != 1 {
		t.Errorf("expected host id from %s, got %d", EnvConfigFile, cfg.Host.ID)
	}

	cfg, err = LoadConfig(flagFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host.ID != 2 {
		t.Errorf("explicit path must win over %s, got %d", EnvConfigFile, cfg.Host.ID)
	}

	t.Setenv("OVS_VPC_HOST_ID", "3")
	cfg, err = LoadConfig(flagFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host.ID != 3 {
		t.Errorf("environment must win over the file, got %d", cfg.Host.ID)
	}

	if _, err := LoadConfig(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OVS.RunDir = "/run/ovs"
	cfg.Host.ID = 5
	cfg.Sync.LockDir = "/run/locks"

	if got := cfg.OVSOptions(); got.RunDir != "/run/ovs" || got.ProcDir != "/proc" {
		t.Errorf("unexpected ovs options %+v", got)
	}
	if got := cfg.HypervisorOptions(); got.XePath != cfg.Hypervisor.XePath {
		t.Errorf("unexpected hypervisor options %+v", got)
	}
	if got := cfg.SyncOptions(); got.LocalHostID != 5 || got.LockDir != "/run/locks" || got.LockTimeout != cfg.Sync.LockTimeout {
		t.Errorf("unexpected sync options %+v", got)
	}

	cfg.Logging.Level = "debug"
	cfg.Logging.File = "/var/log/ovs-vpc.log"
	cfg.Logging.Verbosity = 0
	if got := cfg.LoggingOptions(); got.Level != "debug" || got.OutputPath != "/var/log/ovs-vpc.log" || got.Verbosity != 5 {
		t.Errorf("unexpected logging options %+v", got)
	}
}
