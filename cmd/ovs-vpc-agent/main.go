// Package main provides the entry point for ovs-vpc-agent.
//
// ovs-vpc-agent is the per-host half of the distributed virtual router. The
// orchestrator invokes it once per request; every invocation:
// - Loads the agent configuration
// - Runs exactly one operation against the local Open vSwitch bridges
// - Prints a single status string (SUCCESS[:data] or FAILURE:<REASON>) on stdout
// - Exits 1 when the status is a failure
//
// Logs go to stderr (or the configured file) so stdout carries only the status.
//
// Usage:
//
//	ovs-vpc-agent [--config file] <command> [flags]
//
// Commands:
//
//	configure-topology <bridge>   Apply a VPC topology document
//	configure-acl <bridge>        Apply a VPC routing policy (ACL) document
//	update-flooding <bridge>      Rebuild the L2Flood table
//	create-tunnel                 Create a GRE tunnel to a remote host
//	destroy-tunnel <bridge> <name> Remove a tunnel and its flows
//	check-switch                  Verify the switch daemons and tools
//
// Environment Variables:
//
//	OVS_VPC_CONFIG_FILE           Path to configuration file
//	OVS_VPC_HOST_ID               This host's id in VPC topologies
//	OVS_VPC_LOG_LEVEL             Log level: debug, info, warn, error
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/config"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/executor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/logging"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/metrics"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/vpc"
)

var (
	// Version information (set at build time)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// errFailed is returned by commands whose failure status has already been printed
var errFailed = errors.New("operation failed")

// Options contains command-line options shared by every command
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// LogLevel overrides the configured log level
	LogLevel string
}

// agent holds what a command needs once the root command has initialized
type agent struct {
	cfg  *config.Config
	log  *logging.Logger
	sync *vpc.Synchronizer
}

func main() {
	a := &agent{}
	err := newRootCommand(a).Execute()
	a.shutdown()
	if err != nil {
		// Setup and usage errors still owe the caller a status line
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stdout, status.Failure(err))
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand(a *agent) *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:           "ovs-vpc-agent",
		Short:         "Program VPC flow tables on the local Open vSwitch bridges",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "",
		"Path to configuration file (can also use "+config.EnvConfigFile+" env var)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from configuration)")

	root.AddCommand(
		newConfigureTopologyCommand(a),
		newConfigureACLCommand(a),
		newUpdateFloodingCommand(a),
		newCreateTunnelCommand(a),
		newDestroyTunnelCommand(a),
		newCheckSwitchCommand(a),
	)
	return root
}

// setup loads configuration, sets up logging and metrics, and builds the synchronizer
func (a *agent) setup(opts *Options) error {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	if err := logging.InitGlobalLogger(cfg.LoggingOptions()); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	a.log = logging.GetGlobalLogger()

	// Components log through klog; route it into the same sink
	klog.SetLogger(a.log.Logger())

	metrics.Register()

	runner := executor.New()
	a.cfg = cfg
	a.sync = vpc.NewSynchronizer(
		ovs.New(runner, cfg.OVSOptions()),
		hypervisor.New(runner, cfg.HypervisorOptions()),
		cfg.SyncOptions(),
	)
	return nil
}

// shutdown exports metrics and flushes logs
func (a *agent) shutdown() {
	if a.cfg == nil {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.Metrics.TextfileDir); err != nil {
		a.log.Warn("Failed to export metrics", "error", err.Error())
	}
	_ = a.log.Sync()
	klog.Flush()
}
