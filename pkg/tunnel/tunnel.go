// Package tunnel manages GRE overlay tunnels between hypervisor hosts.
//
// Tunnel Architecture:
// - One GRE port per (tier GRE key, local host, remote host) on the tier bridge
// - Port names are deterministic: t<greKey>-<localHostID>-<remoteHostID>, at most 14 chars
// - Traffic arriving from a tunnel never re-enters the overlay: broadcast and
//   link-local multicast are dropped in the Classifier table
// - On distributed-router bridges the tunnel is tagged with its tier network id
//   and the L2 flooding table is recomputed
//
// Creation is verified by reading the port back; a mismatch rolls back the
// port and any flows that reference its OpenFlow port number.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/metrics"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
)

const (
	// MaxNameLength is the longest port name the switch accepts for a tunnel
	MaxNameLength = 14

	// InterfaceType is the switch interface type of tunnel ports
	InterfaceType = "gre"

	// Classifier priorities of tunnel-ingress rules
	PriorityRegularDrop     = 1000
	PriorityDistributedDrop = 1200
	PriorityDistributedL2   = 1100
)

// Name returns the tunnel port name for a GRE key and an ordered host pair.
// The name is not symmetric: Name(k, a, b) and Name(k, b, a) are the two
// ends of the same overlay link.
func Name(greKey uint32, localHostID, remoteHostID int64) string {
	name := fmt.Sprintf("t%d-%d-%d", greKey, localHostID, remoteHostID)
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return name
}

// Tunnel is one GRE tunnel port
type Tunnel struct {
	// Bridge is the bridge holding the port
	Bridge string

	// Name is the port and interface name
	Name string

	// OFPort is the OpenFlow port number assigned by the switch
	OFPort int

	// GREKey is the tier's GRE key
	GREKey uint32

	// RemoteIP is the far end's underlay address
	RemoteIP string

	// LocalHostID and RemoteHostID identify the host pair
	LocalHostID  int64
	RemoteHostID int64

	// NetworkID is the tier network id, set on distributed-router bridges
	NetworkID string
}

// CreateRequest describes a tunnel to create
type CreateRequest struct {
	Bridge       string
	RemoteIP     string
	GREKey       uint32
	LocalHostID  int64
	RemoteHostID int64

	// NetworkID is required when the bridge runs the distributed router
	NetworkID string
}

// Validate checks request fields before anything touches the switch
func (r CreateRequest) Validate() error {
	if r.Bridge == "" {
		return fmt.Errorf("bridge is required")
	}
	ip := net.ParseIP(r.RemoteIP)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid remote IP %q", r.RemoteIP)
	}
	return nil
}

// FloodUpdater recomputes the L2 flooding table of a bridge
type FloodUpdater interface {
	Update(ctx context.Context, bridge string) error
}

// Manager creates, verifies and destroys tunnel ports
type Manager struct {
	ovs   ovs.Interface
	hv    hypervisor.Interface
	flood FloodUpdater
}

// NewManager creates a new tunnel manager.
//
// Parameters:
//   - ovsif: Switch CLI
//   - hv: Hypervisor CLI, used to read the bridge's network flags
//   - flood: Flooding engine refreshed after distributed-router tunnels change
//
// Returns:
//   - *Manager: Tunnel manager instance
func NewManager(ovsif ovs.Interface, hv hypervisor.Interface, flood FloodUpdater) *Manager {
	return &Manager{ovs: ovsif, hv: hv, flood: flood}
}

// Exists reports whether the tunnel port is attached to the bridge
func (m *Manager) Exists(bridge, name string) (bool, error) {
	return ovs.PortExists(m.ovs, bridge, name)
}

// Get returns the tunnel if its port exists, nil otherwise
func (m *Manager) Get(bridge, name string) (*Tunnel, error) {
	exists, err := m.Exists(bridge, name)
	if err != nil || !exists {
		return nil, err
	}
	ofport, err := ovs.OFPort(m.ovs, name)
	if err != nil {
		return nil, err
	}
	t := &Tunnel{Bridge: bridge, Name: name, OFPort: ofport}
	if key, err := m.ovs.GetInterface(name, "options:key"); err == nil {
		if k, err := strconv.ParseUint(key, 10, 32); err == nil {
			t.GREKey = uint32(k)
		}
	}
	if ip, err := m.ovs.GetInterface(name, "options:remote_ip"); err == nil {
		t.RemoteIP = ip
	}
	if id, err := m.ovs.GetInterface(name, "options:"+hypervisor.NetworkIDKey); err == nil {
		t.NetworkID = id
	}
	return t, nil
}

// Create creates and verifies a tunnel port. An existing port with the same
// name is returned as is when its key and remote_ip match the request, and
// fails verification otherwise.
//
// Steps:
//  1. Check switch daemons and tools
//  2. Wait for the bridge (bounded)
//  3. Add the GRE port with key and remote_ip
//  4. Verify the port and its single interface read back as requested
//  5. Resolve the OpenFlow port
//  6. Install tunnel-ingress Classifier rules for the bridge's network kind
//
// Any failure after step 3 rolls back the port and its flows.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Tunnel, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := m.ovs.CheckSwitch(); err != nil {
		metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultFailure)
		return nil, err
	}
	if err := m.ovs.WaitForBridge(ctx, req.Bridge); err != nil {
		metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultFailure)
		return nil, err
	}

	name := Name(req.GREKey, req.LocalHostID, req.RemoteHostID)
	existing, err := m.Get(req.Bridge, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check tunnel %s: %w", name, err)
	}
	if existing != nil {
		// Names are truncated, so distinct host pairs can collide
		if existing.GREKey != req.GREKey || existing.RemoteIP != req.RemoteIP {
			metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultFailure)
			return nil, status.New(status.ReasonVerifyInterfaceFailed,
				"existing port %s on %s has key %d and remote_ip %q, requested key %d and remote_ip %q",
				name, req.Bridge, existing.GREKey, existing.RemoteIP, req.GREKey, req.RemoteIP)
		}
		klog.V(4).Infof("Tunnel %s already exists on %s (ofport %d)", name, req.Bridge, existing.OFPort)
		metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultExists)
		existing.LocalHostID = req.LocalHostID
		existing.RemoteHostID = req.RemoteHostID
		return existing, nil
	}

	regular, distributed, err := m.networkKind(req.Bridge)
	if err != nil {
		metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultFailure)
		return nil, err
	}
	if distributed && req.NetworkID == "" {
		metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultFailure)
		return nil, fmt.Errorf("network id is required for tunnel %s on distributed-router bridge %s", name, req.Bridge)
	}

	t := &Tunnel{
		Bridge:       req.Bridge,
		Name:         name,
		OFPort:       -1,
		GREKey:       req.GREKey,
		RemoteIP:     req.RemoteIP,
		LocalHostID:  req.LocalHostID,
		RemoteHostID: req.RemoteHostID,
	}

	if err := m.create(ctx, t, regular, distributed, req.NetworkID); err != nil {
		m.rollback(t)
		metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultFailure)
		return nil, err
	}

	metrics.RecordTunnelOperation(metrics.TunnelOpCreate, metrics.ResultSuccess)
	klog.Infof("Created GRE tunnel %s on %s to %s (key %d, ofport %d)", t.Name, t.Bridge, t.RemoteIP, t.GREKey, t.OFPort)
	return t, nil
}

func (m *Manager) create(ctx context.Context, t *Tunnel, regular, distributed bool, networkID string) error {
	key := strconv.FormatUint(uint64(t.GREKey), 10)
	if err := m.ovs.AddPort(t.Bridge, t.Name,
		"type="+InterfaceType,
		"options:key="+key,
		"options:remote_ip="+t.RemoteIP,
	); err != nil {
		return fmt.Errorf("failed to add tunnel port %s: %w", t.Name, err)
	}

	if err := m.verify(t, key); err != nil {
		return err
	}

	ofport, err := ovs.OFPort(m.ovs, t.Name)
	if err != nil {
		return fmt.Errorf("failed to get ofport of tunnel %s: %w", t.Name, err)
	}
	t.OFPort = ofport

	switch {
	case distributed:
		for _, rule := range DistributedIngressRules(ofport) {
			if err := m.ovs.AddFlow(t.Bridge, rule); err != nil {
				return fmt.Errorf("failed to add ingress rule for tunnel %s: %w", t.Name, err)
			}
		}
		if err := m.ovs.SetInterface(t.Name, fmt.Sprintf("options:%s=%s", hypervisor.NetworkIDKey, networkID)); err != nil {
			return fmt.Errorf("failed to tag tunnel %s with network %s: %w", t.Name, networkID, err)
		}
		t.NetworkID = networkID
		if m.flood != nil {
			if err := m.flood.Update(ctx, t.Bridge); err != nil {
				return fmt.Errorf("failed to update flooding rules for tunnel %s: %w", t.Name, err)
			}
		}
	case regular:
		for _, rule := range RegularIngressRules(ofport) {
			if err := m.ovs.AddFlow(t.Bridge, rule); err != nil {
				return fmt.Errorf("failed to add ingress rule for tunnel %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// verify reads the port back and checks it matches what was requested
func (m *Manager) verify(t *Tunnel, key string) error {
	exists, err := m.Exists(t.Bridge, t.Name)
	if err != nil {
		return status.Wrap(status.ReasonVerifyPortFailed, err, "cannot list ports of %s", t.Bridge)
	}
	if !exists {
		return status.New(status.ReasonVerifyPortFailed, "port %s not found on %s after creation", t.Name, t.Bridge)
	}

	ifaces, err := m.ovs.PortInterfaces(t.Name)
	if err != nil {
		return status.Wrap(status.ReasonVerifyInterfaceFailed, err, "cannot read interfaces of %s", t.Name)
	}
	if len(ifaces) != 1 {
		return status.New(status.ReasonVerifyInterfaceFailed, "port %s has %d interfaces, expected 1", t.Name, len(ifaces))
	}

	checks := []struct {
		column string
		want   string
	}{
		{"options:key", key},
		{"options:remote_ip", t.RemoteIP},
	}
	for _, c := range checks {
		got, err := m.ovs.GetInterface(t.Name, c.column)
		if err != nil {
			return status.Wrap(status.ReasonVerifyInterfaceFailed, err, "cannot read %s of %s", c.column, t.Name)
		}
		if got != c.want {
			return status.New(status.ReasonVerifyInterfaceFailed, "%s of %s is %q, expected %q", c.column, t.Name, got, c.want)
		}
	}
	return nil
}

// rollback removes a partially created tunnel. Failures are logged, never returned.
func (m *Manager) rollback(t *Tunnel) {
	var errs []error
	if t.OFPort > 0 {
		if err := m.ovs.DeleteFlows(t.Bridge, openflow.AnyTable, openflow.NewMatch().InPort(t.OFPort)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.ovs.DeletePort(t.Bridge, t.Name); err != nil {
		errs = append(errs, err)
	}
	metrics.RecordTunnelRollback()
	if agg := utilerrors.NewAggregate(errs); agg != nil {
		klog.Errorf("Rollback of tunnel %s on %s incomplete: %v", t.Name, t.Bridge, agg)
		return
	}
	klog.Warningf("Rolled back tunnel %s on %s", t.Name, t.Bridge)
}

// Destroy removes the tunnel's flows and port. A missing port is not an error.
func (m *Manager) Destroy(ctx context.Context, bridge, name string) error {
	t, err := m.Get(bridge, name)
	if err != nil {
		metrics.RecordTunnelOperation(metrics.TunnelOpDestroy, metrics.ResultFailure)
		return fmt.Errorf("failed to look up tunnel %s: %w", name, err)
	}
	if t == nil {
		klog.V(4).Infof("Tunnel %s not present on %s, nothing to destroy", name, bridge)
		metrics.RecordTunnelOperation(metrics.TunnelOpDestroy, metrics.ResultSuccess)
		return nil
	}

	if err := m.ovs.DeleteFlows(bridge, openflow.AnyTable, openflow.NewMatch().InPort(t.OFPort)); err != nil {
		metrics.RecordTunnelOperation(metrics.TunnelOpDestroy, metrics.ResultFailure)
		return fmt.Errorf("failed to delete flows of tunnel %s: %w", name, err)
	}
	if err := m.ovs.DeletePort(bridge, name); err != nil {
		metrics.RecordTunnelOperation(metrics.TunnelOpDestroy, metrics.ResultFailure)
		return fmt.Errorf("failed to delete tunnel port %s: %w", name, err)
	}

	if t.NetworkID != "" && m.flood != nil {
		if err := m.flood.Update(ctx, bridge); err != nil {
			metrics.RecordTunnelOperation(metrics.TunnelOpDestroy, metrics.ResultFailure)
			return fmt.Errorf("failed to update flooding rules after removing %s: %w", name, err)
		}
	}

	metrics.RecordTunnelOperation(metrics.TunnelOpDestroy, metrics.ResultSuccess)
	klog.Infof("Destroyed GRE tunnel %s on %s", name, bridge)
	return nil
}

func (m *Manager) networkKind(bridge string) (regular, distributed bool, err error) {
	distributed, err = hypervisor.IsDistributedRoutingNetwork(m.hv, bridge)
	if err != nil {
		return false, false, fmt.Errorf("failed to read network flags of %s: %w", bridge, err)
	}
	regular, err = hypervisor.IsRegularTunnelNetwork(m.hv, bridge)
	if err != nil {
		return false, false, fmt.Errorf("failed to read network flags of %s: %w", bridge, err)
	}
	return regular, distributed, nil
}

// RegularIngressRules drops broadcast and link-local multicast arriving from a tunnel
func RegularIngressRules(ofport int) []openflow.FlowRule {
	return []openflow.FlowRule{
		openflow.NewFlow(openflow.TableClassifier, PriorityRegularDrop).
			Match(openflow.NewMatch().InPort(ofport).DlDst(openflow.BroadcastMAC)).
			Actions(openflow.Drop()).MustBuild(),
		openflow.NewFlow(openflow.TableClassifier, PriorityRegularDrop).
			Match(openflow.NewMatch().InPort(ofport).NwDst(openflow.LinkLocalMulticast)).
			Actions(openflow.Drop()).MustBuild(),
	}
}

// DistributedIngressRules drops broadcast and link-local multicast arriving from a
// tunnel and sends everything else straight to L2Lookup. The drops sit above the
// catch-all resubmit so they are matched first.
func DistributedIngressRules(ofport int) []openflow.FlowRule {
	return []openflow.FlowRule{
		openflow.NewFlow(openflow.TableClassifier, PriorityDistributedDrop).
			Match(openflow.NewMatch().InPort(ofport).DlDst(openflow.BroadcastMAC)).
			Actions(openflow.Drop()).MustBuild(),
		openflow.NewFlow(openflow.TableClassifier, PriorityDistributedDrop).
			Match(openflow.NewMatch().InPort(ofport).NwDst(openflow.LinkLocalMulticast)).
			Actions(openflow.Drop()).MustBuild(),
		openflow.NewFlow(openflow.TableClassifier, PriorityDistributedL2).
			Match(openflow.NewMatch().InPort(ofport)).
			Actions(openflow.Resubmit(openflow.TableL2Lookup)).MustBuild(),
	}
}
