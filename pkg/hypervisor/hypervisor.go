// Package hypervisor resolves VM, VIF and network metadata through the
// XenServer xe command-line tool.
//
// The agent needs the hypervisor for three things:
//   - mapping a guest NIC MAC address to its switch port name (vif<dom>.<dev>)
//   - reading and writing the cloudstack-network-id tag on VIFs
//   - reading the tunnel flags stored in a network's other-config
//
// Interface is what callers program against; XE implements it on top of an
// executor.Runner, and hypervisortest provides an in-memory fake.
package hypervisor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/executor"
)

// Metadata keys stored in other-config maps
const (
	// NetworkIDKey tags VIFs and tunnel interfaces with their tier network id
	NetworkIDKey = "cloudstack-network-id"

	// TunnelNetworkKey marks a network bridge carrying GRE tunnels
	TunnelNetworkKey = "is-ovs-tun-network"

	// DistributedRoutingKey marks a network bridge running the distributed VPC router
	DistributedRoutingKey = "is-ovs-vpc-distributed-vr-network"

	// HostSetupKey holds the orchestrator's id for this host
	HostSetupKey = "ovs-host-setup"

	// InstallationUUIDKey is the local host uuid in the xensource inventory
	InstallationUUIDKey = "INSTALLATION_UUID"
)

// Interface is the hypervisor CLI contract
type Interface interface {
	// LocalHostID returns the orchestrator-assigned id of this host
	LocalHostID() (int64, error)

	// VMByMAC returns the uuid of the VM owning a VIF with this MAC
	VMByMAC(mac string) (string, error)

	// DomainID returns the running domain id of a VM
	DomainID(vmUUID string) (string, error)

	// VIFDevice returns the device number of the VM's VIF with this MAC
	VIFDevice(vmUUID, mac string) (string, error)

	// VMByDomainID returns the uuid of the VM running as domain domID
	VMByDomainID(domID string) (string, error)

	// VIFByDevice returns the uuid of the VM's VIF with this device number
	VIFByDevice(vmUUID, device string) (string, error)

	// VIFOtherConfig reads one other-config key of a VIF
	VIFOtherConfig(vifUUID, key string) (string, error)

	// SetVIFOtherConfig writes one other-config key of a VIF
	SetVIFOtherConfig(vifUUID, key, value string) error

	// NetworkByBridge returns the uuid of the network backed by bridge
	NetworkByBridge(bridge string) (string, error)

	// NetworkOtherConfig reads one other-config key of a network
	NetworkOtherConfig(networkUUID, key string) (string, error)
}

// Options configures an XE client
type Options struct {
	// XePath is the xe binary
	XePath string

	// InventoryFile is the xensource inventory holding INSTALLATION_UUID
	InventoryFile string
}

// DefaultOptions returns options for a stock XenServer host
func DefaultOptions() Options {
	return Options{
		XePath:        "/opt/xensource/bin/xe",
		InventoryFile: "/etc/xensource-inventory",
	}
}

// XE implements Interface with the xe CLI
type XE struct {
	runner executor.Runner
	opts   Options
}

var _ Interface = &XE{}

// New returns an XE client running commands through runner
func New(runner executor.Runner, opts Options) *XE {
	defaults := DefaultOptions()
	if opts.XePath == "" {
		opts.XePath = defaults.XePath
	}
	if opts.InventoryFile == "" {
		opts.InventoryFile = defaults.InventoryFile
	}
	return &XE{runner: runner, opts: opts}
}

func (x *XE) xe(args ...string) (string, error) {
	return x.runner.Run(append([]string{x.opts.XePath}, args...)...)
}

// list runs an xe *-list command with --minimal and returns the first value
func (x *XE) list(kind, key string, args ...string) (string, error) {
	out, err := x.xe(append(args, "--minimal")...)
	if err != nil {
		return "", err
	}
	values := splitMinimal(out)
	if len(values) == 0 {
		return "", NewNotFoundError(kind, key)
	}
	if len(values) > 1 {
		klog.V(4).Infof("xe %s returned %d records for %s, using the first", args[0], len(values), key)
	}
	return values[0], nil
}

// paramGet runs an xe *-param-get for a map key, translating a missing key into NotFoundError
func (x *XE) paramGet(class, uuid, param, key string) (string, error) {
	out, err := x.xe(class+"-param-get", "uuid="+uuid, "param-name="+param, "param-key="+key)
	if err != nil {
		var ece *executor.ExternalCommandError
		if errors.As(err, &ece) && isMissingKey(ece.Stderr) {
			return "", NewNotFoundError(param+" key", key)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// LocalHostID implements Interface
func (x *XE) LocalHostID() (int64, error) {
	inventory, err := godotenv.Read(x.opts.InventoryFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", x.opts.InventoryFile, err)
	}
	hostUUID := inventory[InstallationUUIDKey]
	if hostUUID == "" {
		return 0, fmt.Errorf("%s not set in %s", InstallationUUIDKey, x.opts.InventoryFile)
	}

	out, err := x.paramGet("host", hostUUID, "other-config", HostSetupKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read host id of %s: %w", hostUUID, err)
	}
	var id int64
	if _, err := fmt.Sscanf(out, "%d", &id); err != nil {
		return 0, fmt.Errorf("host %s has non-numeric %s %q", hostUUID, HostSetupKey, out)
	}
	return id, nil
}

// VMByMAC implements Interface
func (x *XE) VMByMAC(mac string) (string, error) {
	return x.list("vm with mac", mac, "vif-list", "MAC="+mac, "params=vm-uuid")
}

// DomainID implements Interface
func (x *XE) DomainID(vmUUID string) (string, error) {
	out, err := x.xe("vm-param-get", "uuid="+vmUUID, "param-name=dom-id")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// VIFDevice implements Interface
func (x *XE) VIFDevice(vmUUID, mac string) (string, error) {
	return x.list("vif device", vmUUID+"/"+mac, "vif-list", "vm-uuid="+vmUUID, "MAC="+mac, "params=device")
}

// VMByDomainID implements Interface
func (x *XE) VMByDomainID(domID string) (string, error) {
	return x.list("vm with dom-id", domID, "vm-list", "dom-id="+domID, "params=uuid")
}

// VIFByDevice implements Interface
func (x *XE) VIFByDevice(vmUUID, device string) (string, error) {
	return x.list("vif", vmUUID+"/"+device, "vif-list", "vm-uuid="+vmUUID, "device="+device, "params=uuid")
}

// VIFOtherConfig implements Interface
func (x *XE) VIFOtherConfig(vifUUID, key string) (string, error) {
	return x.paramGet("vif", vifUUID, "other-config", key)
}

// SetVIFOtherConfig implements Interface
func (x *XE) SetVIFOtherConfig(vifUUID, key, value string) error {
	_, err := x.xe("vif-param-set", "uuid="+vifUUID, fmt.Sprintf("other-config:%s=%s", key, value))
	return err
}

// NetworkByBridge implements Interface
func (x *XE) NetworkByBridge(bridge string) (string, error) {
	return x.list("network", bridge, "network-list", "bridge="+bridge, "params=uuid")
}

// NetworkOtherConfig implements Interface
func (x *XE) NetworkOtherConfig(networkUUID, key string) (string, error) {
	return x.paramGet("network", networkUUID, "other-config", key)
}

func splitMinimal(out string) []string {
	var values []string
	for _, v := range strings.Split(strings.TrimSpace(out), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// isMissingKey recognizes xe's "Key <k> not found in map" failure
func isMissingKey(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "not found in map")
}
