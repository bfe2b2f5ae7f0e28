package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/logging"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/tunnel"
)

// payloadOptions selects where a JSON document is read from
type payloadOptions struct {
	file     string
	sequence string
}

func (o *payloadOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.file, "file", "f", "", "Read the JSON document from file instead of stdin")
	fs.StringVar(&o.sequence, "sequence", "", "Orchestrator sequence number echoed in the status, logs and errors")
}

func (o *payloadOptions) read(cmd *cobra.Command) ([]byte, error) {
	if o.file == "" || o.file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(o.file)
}

// respond runs op until it returns or the process is signalled, and prints its status.
// Lock and bridge waits carry their own bounds.
func (a *agent) respond(cmd *cobra.Command, op func(ctx context.Context) (string, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logging.LoggerForCommand(a.log, cmd.Name())
	ctx = logging.IntoContext(ctx, log)

	data, err := op(ctx)
	out := cmd.OutOrStdout()
	if err != nil {
		log.Error(err, "Command failed")
		fmt.Fprintln(out, status.Failure(err))
		return errFailed
	}
	fmt.Fprintln(out, status.Success(data))
	return nil
}

func newConfigureTopologyCommand(a *agent) *cobra.Command {
	opts := &payloadOptions{}
	cmd := &cobra.Command{
		Use:   "configure-topology <bridge>",
		Short: "Apply a VPC topology document to a bridge",
		Long: `Reads {"vpc": {...}} and rebuilds the lookup tables of the bridge:
local NICs are tagged and routed, and a tunnel is created to every remote
host of the VPC.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.respond(cmd, func(ctx context.Context) (string, error) {
				payload, err := opts.read(cmd)
				if err != nil {
					return "", fmt.Errorf("failed to read topology: %w", err)
				}
				report, err := a.sync.ConfigureTopology(ctx, args[0], payload, opts.sequence)
				if err != nil {
					return "", err
				}
				return report.Sequence, nil
			})
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func newConfigureACLCommand(a *agent) *cobra.Command {
	opts := &payloadOptions{}
	cmd := &cobra.Command{
		Use:     "configure-acl <bridge>",
		Aliases: []string{"configure-routing-policies"},
		Short:   "Apply a VPC routing policy document to a bridge",
		Long: `Reads {"vpc": {...}} and rebuilds the EgressACL and IngressACL tables
of the bridge from the ACLs referenced by the VPC's tiers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.respond(cmd, func(ctx context.Context) (string, error) {
				payload, err := opts.read(cmd)
				if err != nil {
					return "", fmt.Errorf("failed to read routing policies: %w", err)
				}
				report, err := a.sync.ConfigureRoutingPolicies(ctx, args[0], payload, opts.sequence)
				if err != nil {
					return "", err
				}
				return report.Sequence, nil
			})
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func newUpdateFloodingCommand(a *agent) *cobra.Command {
	var (
		port    string
		plugged bool
	)
	cmd := &cobra.Command{
		Use:   "update-flooding <bridge>",
		Short: "Rebuild the flooding table of a bridge",
		Long: `Recomputes the L2Flood table from the ports currently on the bridge.
With --port the rebuild is reported as a VIF plug or unplug event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.respond(cmd, func(ctx context.Context) (string, error) {
				var err error
				if port != "" {
					_, err = a.sync.PortEvent(ctx, args[0], port, plugged)
				} else {
					_, err = a.sync.UpdateFlooding(ctx, args[0])
				}
				return "", err
			})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Port whose plug or unplug triggered the update")
	cmd.Flags().BoolVar(&plugged, "plugged", true, "Whether --port was plugged (false: unplugged)")
	return cmd
}

func newCreateTunnelCommand(a *agent) *cobra.Command {
	req := tunnel.CreateRequest{}
	var greKey uint32
	cmd := &cobra.Command{
		Use:   "create-tunnel",
		Short: "Create a GRE tunnel port to a remote host",
		Long: `Creates the tunnel port, verifies that the switch accepted it and
installs its Classifier rules. Prints the tunnel name on success.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.respond(cmd, func(ctx context.Context) (string, error) {
				req.GREKey = greKey
				t, err := a.sync.CreateTunnel(ctx, req)
				if err != nil {
					return "", err
				}
				return t.Name, nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&req.Bridge, "bridge", "", "Bridge to hold the tunnel port")
	fs.StringVar(&req.RemoteIP, "remote-ip", "", "IPv4 address of the remote host")
	fs.Uint32Var(&greKey, "gre-key", 0, "GRE key of the tier")
	fs.Int64Var(&req.LocalHostID, "local-host-id", 0, "This host's id (default: from configuration or hypervisor)")
	fs.Int64Var(&req.RemoteHostID, "remote-host-id", 0, "Remote host's id")
	fs.StringVar(&req.NetworkID, "network-id", "", "Tier network uuid, required on distributed router bridges")
	_ = cmd.MarkFlagRequired("bridge")
	_ = cmd.MarkFlagRequired("remote-ip")
	_ = cmd.MarkFlagRequired("remote-host-id")
	return cmd
}

func newDestroyTunnelCommand(a *agent) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy-tunnel <bridge> <name>",
		Short: "Remove a tunnel port and its flows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.respond(cmd, func(ctx context.Context) (string, error) {
				return "", a.sync.DestroyTunnel(ctx, args[0], args[1])
			})
		},
	}
}

func newCheckSwitchCommand(a *agent) *cobra.Command {
	return &cobra.Command{
		Use:   "check-switch",
		Short: "Verify the switch daemons are running and its tools installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.respond(cmd, func(ctx context.Context) (string, error) {
				return "", a.sync.CheckSwitch(ctx)
			})
		},
	}
}
