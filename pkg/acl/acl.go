// Package acl compiles tier network ACLs into flow rules for the ACL tables.
//
// Pipeline placement:
// - Egress items land in EgressACL and match packets leaving the tier
//   (nw_src = tier CIDR); allowed packets continue to L3Lookup
// - Ingress items land in IngressACL and match packets entering the tier
//   (nw_dst = tier CIDR); allowed packets continue to L2Lookup
// - Denied packets are dropped
//
// An item with number N gets priority 1000+N. Without any item, egress is
// allowed and ingress is dropped by the priority-0 defaults.
package acl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/metrics"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/topology"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/util"
)

const (
	// BasePriority is added to an item's number to get its flow priority
	BasePriority = 1000

	// ProtocolAll matches every IP protocol
	ProtocolAll = "all"
)

// ParseProtocol maps an ACL protocol token to an IP protocol number.
// "all" (or empty) returns wildcard=true; "tcp", "udp" and "icmp" map to their
// numbers; decimal strings pass through.
func ParseProtocol(token string) (proto openflow.Protocol, wildcard bool, err error) {
	switch t := strings.ToLower(strings.TrimSpace(token)); t {
	case "", ProtocolAll:
		return 0, true, nil
	case "tcp":
		return openflow.ProtocolTCP, false, nil
	case "udp":
		return openflow.ProtocolUDP, false, nil
	case "icmp":
		return openflow.ProtocolICMP, false, nil
	default:
		n, err := strconv.ParseUint(t, 10, 8)
		if err != nil {
			return 0, false, fmt.Errorf("unknown protocol %q", token)
		}
		return openflow.Protocol(n), false, nil
	}
}

// portRange returns the ports an item matches, nil when it has no range.
// A single bound stands for one port.
func portRange(item topology.ACLItem) []uint16 {
	start, end := item.SourcePortStart, item.SourcePortEnd
	switch {
	case start == nil && end == nil:
		return nil
	case start == nil:
		return []uint16{*end}
	case end == nil:
		return []uint16{*start}
	}
	ports := make([]uint16, 0, int(*end)-int(*start)+1)
	for p := int(*start); p <= int(*end); p++ {
		ports = append(ports, uint16(p))
	}
	return ports
}

// CompileTier returns the rules for one tier's ACL items in ascending item order
func CompileTier(tier *topology.Tier, acl *topology.ACL) ([]openflow.FlowRule, error) {
	if acl == nil {
		return nil, nil
	}

	var rules []openflow.FlowRule
	for _, item := range acl.SortedItems() {
		itemRules, err := compileItem(tier, item)
		if err != nil {
			return nil, fmt.Errorf("tier %s acl %d item %s: %w", tier.NetworkID, acl.ID, item.UUID, err)
		}
		rules = append(rules, itemRules...)
	}
	return rules, nil
}

func compileItem(tier *topology.Tier, item topology.ACLItem) ([]openflow.FlowRule, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	proto, anyProto, err := ParseProtocol(item.Protocol)
	if err != nil {
		return nil, err
	}
	ports := portRange(item)
	if len(ports) > 0 && (anyProto || !proto.HasPorts()) {
		return nil, fmt.Errorf("port range requires tcp or udp, got %q", item.Protocol)
	}
	if len(item.SourceCIDRs) == 0 {
		klog.V(4).Infof("ACL item %s of tier %s has no CIDRs, skipping", item.UUID, tier.NetworkID)
		return nil, nil
	}

	var (
		table openflow.Table
		next  openflow.Table
		base  = openflow.NewMatch().EthType(openflow.EthTypeIPv4)
	)
	egress := item.Direction.Normalize() == topology.DirectionEgress
	if egress {
		table, next = openflow.TableEgressACL, openflow.TableL3Lookup
		base = base.NwSrc(tier.CIDR)
	} else {
		table, next = openflow.TableIngressACL, openflow.TableL2Lookup
		base = base.NwDst(tier.CIDR)
	}
	if !anyProto {
		base = base.Protocol(proto)
	}

	action := openflow.Resubmit(next)
	if item.Action.Normalize() == topology.ActionDeny {
		action = openflow.Drop()
	}
	priority := uint16(BasePriority + item.Number)

	var rules []openflow.FlowRule
	for _, cidr := range item.SourceCIDRs {
		m := base
		if !util.IsAnyCIDR(cidr) {
			if egress {
				m = m.NwDst(cidr)
			} else {
				m = m.NwSrc(cidr)
			}
		}

		if len(ports) == 0 {
			rule, err := openflow.NewFlow(table, priority).Match(m).Actions(action).Build()
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
			continue
		}
		for _, port := range ports {
			rule, err := openflow.NewFlow(table, priority).Match(m.TpDst(port)).Actions(action).Build()
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Defaults returns the terminal ACL rules: egress allowed, ingress dropped
func Defaults() []openflow.FlowRule {
	return []openflow.FlowRule{
		openflow.NewFlow(openflow.TableEgressACL, 0).Actions(openflow.Resubmit(openflow.TableL3Lookup)).MustBuild(),
		openflow.NewFlow(openflow.TableIngressACL, 0).Actions(openflow.Drop()).MustBuild(),
	}
}

// Compile returns the ACL rules of every tier followed by the defaults
func Compile(vpc *topology.VPC) ([]openflow.FlowRule, error) {
	var rules []openflow.FlowRule
	for i := range vpc.Tiers {
		tier := &vpc.Tiers[i]
		if tier.ACLID != nil && vpc.TierACL(tier) == nil {
			return nil, fmt.Errorf("tier %s references unknown acl %d", tier.NetworkID, *tier.ACLID)
		}
		tierRules, err := CompileTier(tier, vpc.TierACL(tier))
		if err != nil {
			return nil, err
		}
		rules = append(rules, tierRules...)
	}
	return append(rules, Defaults()...), nil
}

// Compiler applies compiled ACL rules to a bridge
type Compiler struct {
	ovs      ovs.Interface
	batchDir string
}

// NewCompiler returns a Compiler writing batch files into batchDir
func NewCompiler(ovsif ovs.Interface, batchDir string) *Compiler {
	return &Compiler{ovs: ovsif, batchDir: batchDir}
}

// Apply replaces the EgressACL and IngressACL tables of bridge with the
// VPC's compiled rules and returns the number of rules loaded.
func (c *Compiler) Apply(ctx context.Context, bridge string, vpc *topology.VPC, seq string) (int, error) {
	rules, err := Compile(vpc)
	if err != nil {
		return 0, fmt.Errorf("failed to compile acl rules for %s (sequence %s): %w", bridge, seq, err)
	}

	err = ovs.ReplaceFlows(c.ovs, ovs.ReplaceRequest{
		Bridge:    bridge,
		Flush:     []openflow.Table{openflow.TableEgressACL, openflow.TableIngressACL},
		Rules:     rules,
		BatchDir:  c.batchDir,
		BatchName: openflow.BatchFileName(bridge, openflow.GroupACL, seq),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to apply acl rules to %s (sequence %s): %w", bridge, seq, err)
	}

	metrics.RecordFlowsLoaded(bridge, openflow.GroupACL, len(rules))
	klog.Infof("Applied %d acl rules to %s (vpc %d, sequence %s)", len(rules), bridge, vpc.ID, seq)
	return len(rules), nil
}
