// Package vpc synchronizes a bridge's flow tables with the VPC topology pushed
// by the orchestrator.
//
// A topology request runs through a fixed sequence of states:
//
//	Idle -> BuildingLocal -> BuildingRemote -> Flushing -> Applied
//
// and ends in Failed on the first error. Rules are computed in memory while
// building; the switch is only written while Flushing, except for tunnel
// ports which are created on demand while building remote rules.
//
// Requests for the same bridge are serialized with a BridgeLocker.
package vpc

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/acl"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/flood"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/logging"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/metrics"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/topology"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/tunnel"
)

// Options configures a Synchronizer
type Options struct {
	// LocalHostID identifies this host in topologies. Zero means ask the hypervisor.
	LocalHostID int64

	// BatchDir is the scratch directory for batch flow files
	BatchDir string

	// LockDir holds the per-bridge lock files. Empty disables them.
	LockDir string

	// LockTimeout bounds the wait for another request on the same bridge
	LockTimeout time.Duration
}

// Synchronizer applies orchestrator requests to the local switch
type Synchronizer struct {
	ovs     ovs.Interface
	hv      hypervisor.Interface
	tunnels *tunnel.Manager
	acls    *acl.Compiler
	flood   *flood.Engine
	locker  *BridgeLocker
	opts    Options
}

// NewSynchronizer wires the tunnel, ACL and flooding components over the given CLIs
func NewSynchronizer(ovsif ovs.Interface, hv hypervisor.Interface, opts Options) *Synchronizer {
	floodEngine := flood.NewEngine(ovsif, hv, opts.BatchDir)
	return &Synchronizer{
		ovs:     ovsif,
		hv:      hv,
		tunnels: tunnel.NewManager(ovsif, hv, floodEngine),
		acls:    acl.NewCompiler(ovsif, opts.BatchDir),
		flood:   floodEngine,
		locker:  NewBridgeLocker(opts.LockDir, opts.LockTimeout),
		opts:    opts,
	}
}

// run tracks one request
type run struct {
	op     string
	report *Report
	log    *logging.Logger
	timer  *metrics.Timer
}

func (s *Synchronizer) newRun(ctx context.Context, op, bridge, seq string) *run {
	log := logging.LoggerForBridge(ctx, bridge).WithValues("operation", op)
	if seq != "" {
		log = log.WithValues("sequence", seq)
	}
	return &run{
		op:     op,
		report: &Report{Bridge: bridge, Sequence: seq, State: StateIdle},
		log:    log,
		timer:  metrics.NewTimer(),
	}
}

func (r *run) enter(state State) {
	r.log.V(1).Info("State transition", "from", r.report.State.String(), "to", state.String())
	r.report.State = state
}

func (r *run) fail(err error) error {
	state := r.report.State
	r.report.State = StateFailed
	r.log.Error(err, "Request failed", "state", state.String())
	return &SyncError{
		Operation: r.op,
		Bridge:    r.report.Bridge,
		Sequence:  r.report.Sequence,
		State:     state,
		Cause:     err,
	}
}

func (r *run) finish(err error) {
	metrics.RecordSync(r.op, r.report.Bridge, err, r.timer.ObserveDuration())
}

// LocalHostID returns the configured host id, falling back to the hypervisor's
func (s *Synchronizer) LocalHostID() (int64, error) {
	if s.opts.LocalHostID > 0 {
		return s.opts.LocalHostID, nil
	}
	id, err := s.hv.LocalHostID()
	if err != nil {
		return 0, fmt.Errorf("failed to determine local host id: %w", err)
	}
	return id, nil
}

// ConfigureTopology rebuilds the L2Lookup and L3Lookup tables of bridge and
// the Classifier rules of local NICs from a topology payload. Tunnels to
// remote hosts are created as needed.
func (s *Synchronizer) ConfigureTopology(ctx context.Context, bridge string, payload []byte, seq string) (report *Report, err error) {
	r := s.newRun(ctx, metrics.OperationTopology, bridge, seq)
	defer func() { r.finish(err) }()

	vpc, err := topology.Decode(payload)
	if err != nil {
		return r.report, r.fail(err)
	}

	unlock, err := s.locker.Lock(ctx, bridge)
	if err != nil {
		return r.report, r.fail(err)
	}
	defer unlock()

	hostID, err := s.LocalHostID()
	if err != nil {
		return r.report, r.fail(err)
	}
	r.log.V(1).Info("Configuring topology", "vpc", vpc.ID, "host", hostID)

	r.enter(StateBuildingLocal)
	rules, err := s.buildLocal(vpc, hostID)
	if err != nil {
		return r.report, r.fail(err)
	}

	r.enter(StateBuildingRemote)
	remote, tunnels, err := s.buildRemote(ctx, bridge, vpc, hostID)
	if err != nil {
		return r.report, r.fail(err)
	}
	rules = append(rules, remote...)
	rules = append(rules, DefaultRules()...)

	r.enter(StateFlushing)
	err = ovs.ReplaceFlows(s.ovs, ovs.ReplaceRequest{
		Bridge:    bridge,
		Flush:     []openflow.Table{openflow.TableL2Lookup, openflow.TableL3Lookup},
		Rules:     rules,
		BatchDir:  s.opts.BatchDir,
		BatchName: openflow.BatchFileName(bridge, openflow.GroupTopology, seq),
	})
	if err != nil {
		return r.report, r.fail(err)
	}
	metrics.RecordFlowsLoaded(bridge, openflow.GroupTopology, len(rules))
	counts := openflow.CountByTable(rules)
	for _, table := range openflow.PipelineTables() {
		if n := counts[table]; n > 0 {
			r.log.V(2).Info("Loaded rules", "table", table.String(), "count", n)
		}
	}

	r.enter(StateApplied)
	r.report.Rules = len(rules)
	r.report.Tunnels = tunnels
	r.log.Info("Applied topology", "vpc", vpc.ID, "rules", len(rules), "tunnels", len(tunnels))
	return r.report, nil
}

// buildLocal returns the rules of every NIC of the VMs on this host.
// Each NIC's VIF is tagged with its tier so flooding can group it later.
func (s *Synchronizer) buildLocal(vpc *topology.VPC, hostID int64) ([]openflow.FlowRule, error) {
	var rules []openflow.FlowRule
	for _, vm := range vpc.VMsOnHost(hostID) {
		for _, nic := range vm.NICs {
			tier, ok := vpc.Tier(nic.NetworkID)
			if !ok {
				return nil, fmt.Errorf("vm %s nic %s references unknown tier %s", vm.ID, nic.MAC, nic.NetworkID)
			}

			port, err := hypervisor.VIFNameForMAC(s.hv, nic.MAC)
			if err != nil {
				return nil, fmt.Errorf("vm %s: %w", vm.ID, err)
			}
			ofport, err := ovs.OFPort(s.ovs, port)
			if err != nil {
				return nil, fmt.Errorf("vm %s: %w", vm.ID, err)
			}
			if err := hypervisor.TagVIF(s.hv, port, tier.NetworkID); err != nil {
				return nil, fmt.Errorf("failed to tag %s with network %s: %w", port, tier.NetworkID, err)
			}

			nicRules, err := LocalNICRules(vpc, tier, nic, ofport)
			if err != nil {
				return nil, fmt.Errorf("vm %s nic %s: %w", vm.ID, nic.MAC, err)
			}
			rules = append(rules, nicRules...)
		}
	}
	return rules, nil
}

// buildRemote ensures one tunnel per (tier, remote host) carrying a remote NIC
// and returns the rules delivering to remote NICs with the sorted tunnel names.
func (s *Synchronizer) buildRemote(ctx context.Context, bridge string, vpc *topology.VPC, hostID int64) ([]openflow.FlowRule, []string, error) {
	var rules []openflow.FlowRule
	tunnels := make(map[string]*tunnel.Tunnel)

	for _, remoteID := range vpc.RemoteHostIDs(hostID) {
		host, ok := vpc.Host(remoteID)
		if !ok {
			return nil, nil, fmt.Errorf("vms are placed on unknown host %d", remoteID)
		}
		for _, vm := range vpc.VMsOnHost(remoteID) {
			for _, nic := range vm.NICs {
				tier, ok := vpc.Tier(nic.NetworkID)
				if !ok {
					return nil, nil, fmt.Errorf("vm %s nic %s references unknown tier %s", vm.ID, nic.MAC, nic.NetworkID)
				}

				name := tunnel.Name(tier.GREKey, hostID, remoteID)
				t, ok := tunnels[name]
				if !ok {
					var err error
					t, err = s.tunnels.Create(ctx, tunnel.CreateRequest{
						Bridge:       bridge,
						RemoteIP:     host.IP,
						GREKey:       tier.GREKey,
						LocalHostID:  hostID,
						RemoteHostID: remoteID,
						NetworkID:    tier.NetworkID,
					})
					if err != nil {
						return nil, nil, fmt.Errorf("tunnel to host %d for tier %s: %w", remoteID, tier.NetworkID, err)
					}
					tunnels[name] = t
				}

				nicRules, err := RemoteNICRules(tier, nic, t.OFPort)
				if err != nil {
					return nil, nil, fmt.Errorf("vm %s nic %s: %w", vm.ID, nic.MAC, err)
				}
				rules = append(rules, nicRules...)
			}
		}
	}

	names := sets.New[string]()
	for name := range tunnels {
		names.Insert(name)
	}
	return rules, sets.List(names), nil
}

// ConfigureRoutingPolicies replaces the ACL tables of bridge with the ACLs of a topology payload
func (s *Synchronizer) ConfigureRoutingPolicies(ctx context.Context, bridge string, payload []byte, seq string) (report *Report, err error) {
	r := s.newRun(ctx, metrics.OperationACL, bridge, seq)
	defer func() { r.finish(err) }()

	vpc, err := topology.Decode(payload)
	if err != nil {
		return r.report, r.fail(err)
	}

	unlock, err := s.locker.Lock(ctx, bridge)
	if err != nil {
		return r.report, r.fail(err)
	}
	defer unlock()

	r.enter(StateFlushing)
	n, err := s.acls.Apply(ctx, bridge, vpc, seq)
	if err != nil {
		return r.report, r.fail(err)
	}

	r.enter(StateApplied)
	r.report.Rules = n
	return r.report, nil
}

// UpdateFlooding recomputes the L2Flood table of bridge from its current ports
func (s *Synchronizer) UpdateFlooding(ctx context.Context, bridge string) (report *Report, err error) {
	return s.floodRequest(ctx, bridge, func() error {
		return s.flood.Update(ctx, bridge)
	})
}

// PortEvent recomputes the L2Flood table after port was plugged or unplugged
func (s *Synchronizer) PortEvent(ctx context.Context, bridge, port string, plugged bool) (report *Report, err error) {
	return s.floodRequest(ctx, bridge, func() error {
		return s.flood.OnPortEvent(ctx, bridge, port, plugged)
	})
}

func (s *Synchronizer) floodRequest(ctx context.Context, bridge string, apply func() error) (report *Report, err error) {
	r := s.newRun(ctx, metrics.OperationFlood, bridge, "")
	defer func() { r.finish(err) }()

	unlock, err := s.locker.Lock(ctx, bridge)
	if err != nil {
		return r.report, r.fail(err)
	}
	defer unlock()

	r.enter(StateFlushing)
	if err := apply(); err != nil {
		return r.report, r.fail(err)
	}
	r.enter(StateApplied)
	return r.report, nil
}

// CreateTunnel creates a tunnel on req.Bridge. A zero LocalHostID is filled
// in with this host's id.
func (s *Synchronizer) CreateTunnel(ctx context.Context, req tunnel.CreateRequest) (t *tunnel.Tunnel, err error) {
	r := s.newRun(ctx, metrics.OperationCreateTunnel, req.Bridge, "")
	defer func() { r.finish(err) }()

	unlock, err := s.locker.Lock(ctx, req.Bridge)
	if err != nil {
		return nil, r.fail(err)
	}
	defer unlock()

	if req.LocalHostID == 0 {
		if req.LocalHostID, err = s.LocalHostID(); err != nil {
			return nil, r.fail(err)
		}
	}

	r.enter(StateBuildingRemote)
	t, err = s.tunnels.Create(ctx, req)
	if err != nil {
		return nil, r.fail(err)
	}
	r.enter(StateApplied)
	return t, nil
}

// DestroyTunnel removes a tunnel port and its flows from bridge
func (s *Synchronizer) DestroyTunnel(ctx context.Context, bridge, name string) (err error) {
	r := s.newRun(ctx, metrics.OperationDestroyTunnel, bridge, "")
	defer func() { r.finish(err) }()

	unlock, err := s.locker.Lock(ctx, bridge)
	if err != nil {
		return r.fail(err)
	}
	defer unlock()

	r.enter(StateFlushing)
	if err := s.tunnels.Destroy(ctx, bridge, name); err != nil {
		return r.fail(err)
	}
	r.enter(StateApplied)
	return nil
}

// CheckSwitch verifies the switch daemons and tools are present
func (s *Synchronizer) CheckSwitch(ctx context.Context) (err error) {
	timer := metrics.NewTimer()
	defer func() { metrics.RecordSync(metrics.OperationCheckSwitch, "", err, timer.ObserveDuration()) }()
	if err := s.ovs.CheckSwitch(); err != nil {
		logging.FromContext(ctx).Error(err, "Switch check failed")
		return err
	}
	return nil
}
