// Package ovs provides a wrapper around ovs-vsctl and ovs-ofctl.
//
// Interface is the switch CLI contract the rest of the agent programs
// against; Client implements it by running the real tools through an
// executor.Runner. Helpers in this package (PortExists, OFPort,
// ReplaceFlows) are written against Interface so they work with fakes.
package ovs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/executor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
)

const (
	OVS_OFCTL = "ovs-ofctl"
	OVS_VSCTL = "ovs-vsctl"

	// DefaultBridgeWaitTimeout bounds the wait for an asynchronously created bridge
	DefaultBridgeWaitTimeout = 30 * time.Second
)

// Interface is the switch CLI contract
type Interface interface {
	// CheckSwitch verifies the switch daemons and CLI tools are present.
	// Failures are *status.Error values with an environment Reason.
	CheckSwitch() error

	// BridgeExists reports whether the bridge exists
	BridgeExists(bridge string) (bool, error)

	// WaitForBridge waits, bounded, until the bridge exists
	WaitForBridge(ctx context.Context, bridge string) error

	// ListPorts returns the names of the bridge's ports
	ListPorts(bridge string) ([]string, error)

	// AddPort adds a port with a same-named interface, setting interface properties
	AddPort(bridge, port string, properties ...string) error

	// DeletePort removes a port; a missing port is not an error
	DeletePort(bridge, port string) error

	// PortInterfaces returns the interface record ids of a port
	PortInterfaces(port string) ([]string, error)

	// GetInterface reads one interface column (e.g. "ofport", "options:key")
	GetInterface(iface, column string) (string, error)

	// SetInterface writes interface columns given as column=value pairs
	SetInterface(iface string, properties ...string) error

	// AddFlow installs a single rule
	AddFlow(bridge string, rule openflow.FlowRule) error

	// DeleteFlows deletes every rule in table matching m
	DeleteFlows(bridge string, table openflow.Table, m openflow.Match) error

	// AddFlowsFromFile bulk-loads rules from a batch file
	AddFlowsFromFile(bridge, path string) error
}

// Options configures a Client
type Options struct {
	// VsctlPath is the ovs-vsctl binary
	VsctlPath string

	// OfctlPath is the ovs-ofctl binary
	OfctlPath string

	// RunDir holds the daemons' pid files
	RunDir string

	// DBPidFile and SwitchPidFile are pid file names inside RunDir
	DBPidFile     string
	SwitchPidFile string

	// ProcDir is the proc filesystem root used to check daemon liveness
	ProcDir string

	// BridgeWaitTimeout bounds WaitForBridge
	BridgeWaitTimeout time.Duration
}

// DefaultOptions returns options for a stock Open vSwitch install
func DefaultOptions() Options {
	return Options{
		VsctlPath:         "/usr/bin/" + OVS_VSCTL,
		OfctlPath:         "/usr/bin/" + OVS_OFCTL,
		RunDir:            "/var/run/openvswitch",
		DBPidFile:         "ovsdb-server.pid",
		SwitchPidFile:     "ovs-vswitchd.pid",
		ProcDir:           "/proc",
		BridgeWaitTimeout: DefaultBridgeWaitTimeout,
	}
}

// Client implements Interface with the ovs command-line tools
type Client struct {
	runner executor.Runner
	opts   Options
}

var _ Interface = &Client{}

// New returns a Client running commands through runner
func New(runner executor.Runner, opts Options) *Client {
	defaults := DefaultOptions()
	if opts.VsctlPath == "" {
		opts.VsctlPath = defaults.VsctlPath
	}
	if opts.OfctlPath == "" {
		opts.OfctlPath = defaults.OfctlPath
	}
	if opts.RunDir == "" {
		opts.RunDir = defaults.RunDir
	}
	if opts.DBPidFile == "" {
		opts.DBPidFile = defaults.DBPidFile
	}
	if opts.SwitchPidFile == "" {
		opts.SwitchPidFile = defaults.SwitchPidFile
	}
	if opts.ProcDir == "" {
		opts.ProcDir = defaults.ProcDir
	}
	if opts.BridgeWaitTimeout <= 0 {
		opts.BridgeWaitTimeout = defaults.BridgeWaitTimeout
	}
	return &Client{runner: runner, opts: opts}
}

func (c *Client) vsctl(args ...string) (string, error) {
	return c.runner.Run(append([]string{c.opts.VsctlPath}, args...)...)
}

func (c *Client) ofctl(args ...string) (string, error) {
	return c.runner.Run(append([]string{c.opts.OfctlPath}, args...)...)
}

// BridgeExists implements Interface. ovs-vsctl br-exists exits 2 for a missing bridge.
func (c *Client) BridgeExists(bridge string) (bool, error) {
	_, err := c.vsctl("br-exists", bridge)
	if err == nil {
		return true, nil
	}
	if executor.ExitCode(err) == 2 {
		return false, nil
	}
	return false, err
}

// WaitForBridge implements Interface, polling with exponential backoff
// until the bridge shows up or the wait timeout passes.
func (c *Client) WaitForBridge(ctx context.Context, bridge string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = c.opts.BridgeWaitTimeout

	err := backoff.Retry(func() error {
		exists, err := c.BridgeExists(bridge)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !exists {
			klog.V(4).Infof("Bridge %s does not exist yet", bridge)
			return fmt.Errorf("bridge %s does not exist", bridge)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return status.Wrap(status.ReasonNoBridge, err, "bridge %s not available after %s", bridge, c.opts.BridgeWaitTimeout)
	}
	return nil
}

// ListPorts implements Interface
func (c *Client) ListPorts(bridge string) ([]string, error) {
	out, err := c.vsctl("list-ports", bridge)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// AddPort implements Interface
func (c *Client) AddPort(bridge, port string, properties ...string) error {
	args := []string{"add-port", bridge, port}
	if len(properties) > 0 {
		args = append(args, "--", "set", "Interface", port)
		args = append(args, properties...)
	}
	_, err := c.vsctl(args...)
	return err
}

// DeletePort implements Interface
func (c *Client) DeletePort(bridge, port string) error {
	_, err := c.vsctl("--if-exists", "del-port", bridge, port)
	return err
}

// PortInterfaces implements Interface. ovs-vsctl prints the set as "[uuid1, uuid2]".
func (c *Client) PortInterfaces(port string) ([]string, error) {
	out, err := c.vsctl("get", "Port", port, "interfaces")
	if err != nil {
		return nil, err
	}
	return parseSet(out), nil
}

// GetInterface implements Interface. Surrounding quotes are removed.
func (c *Client) GetInterface(iface, column string) (string, error) {
	out, err := c.vsctl("get", "Interface", iface, column)
	if err != nil {
		return "", err
	}
	return unquote(out), nil
}

// SetInterface implements Interface
func (c *Client) SetInterface(iface string, properties ...string) error {
	args := append([]string{"set", "Interface", iface}, properties...)
	_, err := c.vsctl(args...)
	return err
}

// AddFlow implements Interface
func (c *Client) AddFlow(bridge string, rule openflow.FlowRule) error {
	_, err := c.ofctl(openflow.AddFlowArgs(bridge, rule)...)
	return err
}

// DeleteFlows implements Interface
func (c *Client) DeleteFlows(bridge string, table openflow.Table, m openflow.Match) error {
	_, err := c.ofctl(openflow.DelFlowsArgs(bridge, table, m)...)
	return err
}

// AddFlowsFromFile implements Interface
func (c *Client) AddFlowsFromFile(bridge, path string) error {
	_, err := c.ofctl(openflow.AddFlowsArgs(bridge, path)...)
	return err
}

// PortExists reports whether port is attached to bridge
func PortExists(ovsif Interface, bridge, port string) (bool, error) {
	ports, err := ovsif.ListPorts(bridge)
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if p == port {
			return true, nil
		}
	}
	return false, nil
}

// OFPort returns the switch-assigned OpenFlow port number of an interface
func OFPort(ovsif Interface, iface string) (int, error) {
	out, err := ovsif.GetInterface(iface, "ofport")
	if err != nil {
		return -1, err
	}
	ofport, err := strconv.Atoi(out)
	if err != nil {
		return -1, fmt.Errorf("could not parse ofport %q of %s: %w", out, iface, err)
	}
	if ofport <= 0 {
		return -1, fmt.Errorf("interface %s has no valid ofport (%d)", iface, ofport)
	}
	return ofport, nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func parseSet(out string) []string {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "[")
	out = strings.TrimSuffix(out, "]")
	var items []string
	for _, item := range strings.Split(out, ",") {
		item = unquote(strings.TrimSpace(item))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
