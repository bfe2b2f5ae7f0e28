package vpc

import (
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/topology"
)

// Priorities of topology rules
const (
	PriorityLookup        = 1100
	PriorityIntraTier     = 1200
	PriorityGatewayRouted = 1100
)

// lookupRules returns the L2Lookup and L3Lookup rules delivering to a NIC behind ofport
func lookupRules(tier *topology.Tier, nic topology.NIC, ofport int) ([]openflow.FlowRule, error) {
	l2, err := openflow.NewFlow(openflow.TableL2Lookup, PriorityLookup).
		Match(openflow.NewMatch().DlDst(nic.MAC)).
		Actions(openflow.Output(ofport)).Build()
	if err != nil {
		return nil, err
	}
	l3, err := openflow.NewFlow(openflow.TableL3Lookup, PriorityLookup).
		Match(openflow.NewMatch().EthType(openflow.EthTypeIPv4).NwDst(nic.IP)).
		Actions(
			openflow.ModDlSrc(tier.GatewayMAC),
			openflow.ModDlDst(nic.MAC),
			openflow.Resubmit(openflow.TableIngressACL),
		).Build()
	if err != nil {
		return nil, err
	}
	return []openflow.FlowRule{l2, l3}, nil
}

// LocalNICRules returns the rules of a NIC plugged into this host's bridge:
// L2 and L3 delivery, plus Classifier dispatch of the NIC's own traffic.
// Traffic to the NIC's tier goes straight to L2Lookup; traffic addressed to
// the tier gateway for elsewhere in the VPC goes through EgressACL.
func LocalNICRules(vpc *topology.VPC, tier *topology.Tier, nic topology.NIC, ofport int) ([]openflow.FlowRule, error) {
	rules, err := lookupRules(tier, nic, ofport)
	if err != nil {
		return nil, err
	}

	intra, err := openflow.NewFlow(openflow.TableClassifier, PriorityIntraTier).
		Match(openflow.NewMatch().InPort(ofport).EthType(openflow.EthTypeIPv4).NwDst(tier.CIDR)).
		Actions(openflow.Resubmit(openflow.TableL2Lookup)).Build()
	if err != nil {
		return nil, err
	}

	routed := openflow.NewMatch().InPort(ofport).DlDst(tier.GatewayMAC).EthType(openflow.EthTypeIPv4)
	if vpc.CIDR != "" {
		routed = routed.NwDst(vpc.CIDR)
	}
	inter, err := openflow.NewFlow(openflow.TableClassifier, PriorityGatewayRouted).
		Match(routed).
		Actions(openflow.Resubmit(openflow.TableEgressACL)).Build()
	if err != nil {
		return nil, err
	}

	return append(rules, intra, inter), nil
}

// RemoteNICRules returns the L2 and L3 delivery rules of a NIC reached through a tunnel
func RemoteNICRules(tier *topology.Tier, nic topology.NIC, tunnelOFPort int) ([]openflow.FlowRule, error) {
	return lookupRules(tier, nic, tunnelOFPort)
}

// DefaultRules returns the terminal lookup rules: unknown MACs flood,
// unrouted IPs fall back to L2Lookup.
func DefaultRules() []openflow.FlowRule {
	return []openflow.FlowRule{
		openflow.NewFlow(openflow.TableL2Lookup, 0).Actions(openflow.Resubmit(openflow.TableL2Flood)).MustBuild(),
		openflow.NewFlow(openflow.TableL3Lookup, 0).Actions(openflow.Resubmit(openflow.TableL2Lookup)).MustBuild(),
	}
}
