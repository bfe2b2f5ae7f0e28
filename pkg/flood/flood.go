// Package flood computes the L2Flood table of a VPC bridge.
//
// Every port on the bridge is assigned to a tier broadcast domain:
// - GRE tunnel ports by the network id tagged on the interface
// - Guest VIF ports by the network id stored in the VIF's other-config
//
// Within a tier, traffic from a tunnel floods only to the tier's VM ports so
// broadcasts never bounce between hosts, while traffic from a VM floods to
// every other port of the tier. Everything else is dropped.
package flood

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/metrics"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/tunnel"
)

// PriorityFlood is the priority of per-port flood rules
const PriorityFlood = 1100

// Port is one classified bridge port
type Port struct {
	Name      string
	OFPort    int
	NetworkID string
	Tunnel    bool
}

// Engine recomputes flood rules from the ports currently on a bridge
type Engine struct {
	ovs      ovs.Interface
	hv       hypervisor.Interface
	batchDir string
}

// NewEngine returns an Engine writing batch files into batchDir
func NewEngine(ovsif ovs.Interface, hv hypervisor.Interface, batchDir string) *Engine {
	return &Engine{ovs: ovsif, hv: hv, batchDir: batchDir}
}

// Ports lists and classifies the bridge's ports, grouped by tier network id.
// Ports that cannot be classified are skipped.
func (e *Engine) Ports(bridge string) (map[string][]Port, error) {
	names, err := e.ovs.ListPorts(bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports of %s: %w", bridge, err)
	}

	tiers := make(map[string][]Port)
	for _, name := range names {
		port, ok, err := e.classify(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		tiers[port.NetworkID] = append(tiers[port.NetworkID], port)
	}
	for id := range tiers {
		ports := tiers[id]
		sort.Slice(ports, func(i, j int) bool { return ports[i].OFPort < ports[j].OFPort })
	}
	return tiers, nil
}

func (e *Engine) classify(name string) (Port, bool, error) {
	ifaceType, err := e.ovs.GetInterface(name, "type")
	if err != nil {
		return Port{}, false, fmt.Errorf("failed to read type of %s: %w", name, err)
	}

	port := Port{Name: name}
	switch {
	case ifaceType == tunnel.InterfaceType:
		id, err := e.ovs.GetInterface(name, "options:"+hypervisor.NetworkIDKey)
		if err != nil {
			klog.V(2).Infof("Tunnel %s has no network id, not flooding to it: %v", name, err)
			return Port{}, false, nil
		}
		port.NetworkID = id
		port.Tunnel = true
	case hypervisor.IsVIFPort(name):
		id, err := hypervisor.NetworkIDForVIF(e.hv, name)
		if err != nil {
			klog.V(2).Infof("Cannot resolve network of %s, not flooding to it: %v", name, err)
			return Port{}, false, nil
		}
		port.NetworkID = id
	default:
		klog.V(4).Infof("Port %s is neither a VIF nor a tunnel, skipping", name)
		return Port{}, false, nil
	}
	if port.NetworkID == "" {
		klog.V(2).Infof("Port %s has no network id, skipping", name)
		return Port{}, false, nil
	}

	ofport, err := ovs.OFPort(e.ovs, name)
	if err != nil {
		klog.V(2).Infof("Port %s has no ofport yet, skipping: %v", name, err)
		return Port{}, false, nil
	}
	port.OFPort = ofport
	return port, true, nil
}

// TierRules returns the flood rules of one tier's ports
func TierRules(ports []Port) []openflow.FlowRule {
	if len(ports) < 2 {
		return nil
	}

	var vms, tunnels []int
	for _, p := range ports {
		if p.Tunnel {
			tunnels = append(tunnels, p.OFPort)
		} else {
			vms = append(vms, p.OFPort)
		}
	}

	var rules []openflow.FlowRule
	for _, p := range ports {
		var outs []int
		if p.Tunnel {
			outs = vms
		} else {
			for _, vm := range vms {
				if vm != p.OFPort {
					outs = append(outs, vm)
				}
			}
			outs = append(outs, tunnels...)
		}

		action := openflow.Drop()
		if len(outs) > 0 {
			action = openflow.Output(outs...)
		}
		rules = append(rules, openflow.NewFlow(openflow.TableL2Flood, PriorityFlood).
			Match(openflow.NewMatch().InPort(p.OFPort)).
			Actions(action).MustBuild())
	}
	return rules
}

// Default returns the terminal L2Flood rule
func Default() openflow.FlowRule {
	return openflow.NewFlow(openflow.TableL2Flood, 0).Actions(openflow.Drop()).MustBuild()
}

// Rules returns the complete L2Flood table for the bridge's current ports
func (e *Engine) Rules(bridge string) ([]openflow.FlowRule, error) {
	tiers, err := e.Ports(bridge)
	if err != nil {
		return nil, err
	}

	ids := sets.New[string]()
	for id := range tiers {
		ids.Insert(id)
	}

	var rules []openflow.FlowRule
	for _, id := range sets.List(ids) {
		tierRules := TierRules(tiers[id])
		klog.V(4).Infof("Tier %s on %s: %d ports, %d flood rules", id, bridge, len(tiers[id]), len(tierRules))
		rules = append(rules, tierRules...)
	}
	return append(rules, Default()), nil
}

// Update flushes L2Flood and reloads it from the bridge's current ports
func (e *Engine) Update(ctx context.Context, bridge string) error {
	rules, err := e.Rules(bridge)
	if err != nil {
		return err
	}

	err = ovs.ReplaceFlows(e.ovs, ovs.ReplaceRequest{
		Bridge:    bridge,
		Flush:     []openflow.Table{openflow.TableL2Flood},
		Rules:     rules,
		BatchDir:  e.batchDir,
		BatchName: openflow.BatchFileName(bridge, openflow.GroupFlood, strconv.FormatInt(time.Now().UnixNano(), 10)),
	})
	if err != nil {
		return fmt.Errorf("failed to apply flooding rules to %s: %w", bridge, err)
	}

	metrics.RecordFlowsLoaded(bridge, openflow.GroupFlood, len(rules))
	klog.Infof("Applied %d flooding rules to %s", len(rules), bridge)
	return nil
}

// OnPortEvent recomputes flooding after a port is plugged into or unplugged from bridge
func (e *Engine) OnPortEvent(ctx context.Context, bridge, port string, plugged bool) error {
	event := "unplugged"
	if plugged {
		event = "plugged"
	}
	klog.V(2).Infof("Port %s %s on %s, updating flooding rules", port, event, bridge)
	if err := e.Update(ctx, bridge); err != nil {
		return fmt.Errorf("port %s %s: %w", port, event, err)
	}
	return nil
}
