// Package topology defines the VPC topology snapshot pushed by the orchestrator.
//
// A snapshot describes one VPC as seen from any host in its span:
//   - Tiers: the VPC's sub-networks, each with a CIDR, gateway, GRE key and optional ACL
//   - Hosts: every hypervisor carrying a VM of the VPC
//   - VMs: guest placement and NICs
//   - ACLs: ordered network ACL items referenced by tiers
//
// The payload is JSON of the form {"vpc": {...}}. Decode parses and
// validates it; every decoding or validation failure carries the
// IMPROPER_JSON_CONFIG_FILE status reason.
package topology

import (
	"sort"
	"strings"
)

// Snapshot is the top-level payload
type Snapshot struct {
	VPC *VPC `json:"vpc"`
}

// VPC is one virtual private cloud
type VPC struct {
	ID    int64  `json:"vpcid"`
	CIDR  string `json:"cidr"`
	Tiers []Tier `json:"tiers"`
	Hosts []Host `json:"hosts"`
	VMs   []VM   `json:"vms"`
	ACLs  []ACL  `json:"acls"`
}

// Tier is a VPC sub-network
type Tier struct {
	NetworkID  string `json:"networkuuid"`
	CIDR       string `json:"cidr"`
	GatewayIP  string `json:"gatewayip"`
	GatewayMAC string `json:"gatewaymac"`
	GREKey     uint32 `json:"grekey"`

	// ACLID references an entry of VPC.ACLs; nil means no ACL items
	ACLID *int64 `json:"aclid,omitempty"`
}

// Host is a hypervisor in the VPC's span
type Host struct {
	ID int64  `json:"hostid"`
	IP string `json:"ipaddress"`
}

// VM is a guest placed on a host
type VM struct {
	ID     string `json:"vmid"`
	HostID int64  `json:"hostid"`
	NICs   []NIC  `json:"nics"`
}

// NIC is a guest network interface attached to a tier
type NIC struct {
	MAC       string `json:"macaddress"`
	IP        string `json:"ipaddress"`
	NetworkID string `json:"networkuuid"`
}

// ACL is a network ACL
type ACL struct {
	ID    int64     `json:"id"`
	Items []ACLItem `json:"aclitems"`
}

// ACLAction is allow or deny
type ACLAction string

// ACLDirection is ingress or egress
type ACLDirection string

const (
	ActionAllow ACLAction = "allow"
	ActionDeny  ACLAction = "deny"

	DirectionIngress ACLDirection = "ingress"
	DirectionEgress  ACLDirection = "egress"
)

// Normalize lower-cases the action so "Allow" and "allow" compare equal
func (a ACLAction) Normalize() ACLAction {
	return ACLAction(strings.ToLower(strings.TrimSpace(string(a))))
}

// Valid reports whether the action is allow or deny
func (a ACLAction) Valid() bool {
	n := a.Normalize()
	return n == ActionAllow || n == ActionDeny
}

// Normalize lower-cases the direction
func (d ACLDirection) Normalize() ACLDirection {
	return ACLDirection(strings.ToLower(strings.TrimSpace(string(d))))
}

// Valid reports whether the direction is ingress or egress
func (d ACLDirection) Valid() bool {
	n := d.Normalize()
	return n == DirectionIngress || n == DirectionEgress
}

// ACLItem is one ordered ACL rule
type ACLItem struct {
	Number    int          `json:"number"`
	UUID      string       `json:"uuid"`
	Action    ACLAction    `json:"action"`
	Direction ACLDirection `json:"direction"`
	Protocol  string       `json:"protocol"`

	// SourcePortStart and SourcePortEnd bound the port range; either may be nil
	SourcePortStart *uint16 `json:"sourceportstart,omitempty"`
	SourcePortEnd   *uint16 `json:"sourceportend,omitempty"`

	SourceCIDRs []string `json:"sourcecidrs"`
}

// Tier returns the tier with the given network id
func (v *VPC) Tier(networkID string) (*Tier, bool) {
	for i := range v.Tiers {
		if v.Tiers[i].NetworkID == networkID {
			return &v.Tiers[i], true
		}
	}
	return nil, false
}

// Host returns the host with the given id
func (v *VPC) Host(id int64) (*Host, bool) {
	for i := range v.Hosts {
		if v.Hosts[i].ID == id {
			return &v.Hosts[i], true
		}
	}
	return nil, false
}

// ACL returns the ACL with the given id
func (v *VPC) ACL(id int64) (*ACL, bool) {
	for i := range v.ACLs {
		if v.ACLs[i].ID == id {
			return &v.ACLs[i], true
		}
	}
	return nil, false
}

// TierACL returns the ACL referenced by a tier, nil when the tier has none
func (v *VPC) TierACL(t *Tier) *ACL {
	if t.ACLID == nil {
		return nil
	}
	acl, _ := v.ACL(*t.ACLID)
	return acl
}

// VMsOnHost returns the VMs placed on hostID
func (v *VPC) VMsOnHost(hostID int64) []VM {
	var vms []VM
	for _, vm := range v.VMs {
		if vm.HostID == hostID {
			vms = append(vms, vm)
		}
	}
	return vms
}

// RemoteHostIDs returns the ids of every host carrying a VM, except localHostID, sorted
func (v *VPC) RemoteHostIDs(localHostID int64) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, vm := range v.VMs {
		if vm.HostID == localHostID || seen[vm.HostID] {
			continue
		}
		seen[vm.HostID] = true
		ids = append(ids, vm.HostID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SortedItems returns the ACL's items in ascending Number order
func (a *ACL) SortedItems() []ACLItem {
	items := append([]ACLItem(nil), a.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Number < items[j].Number })
	return items
}
