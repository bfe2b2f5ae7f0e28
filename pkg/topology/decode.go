package topology

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/util"
)

// MaxACLItemNumber keeps 1000+Number within the 16-bit flow priority range
const MaxACLItemNumber = 64535

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decode parses and validates a topology payload. A missing "vpc" root,
// malformed JSON or an inconsistent topology yields IMPROPER_JSON_CONFIG_FILE.
func Decode(payload []byte) (*VPC, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, status.Wrap(status.ReasonImproperJSONConfigFile, err, "cannot parse topology")
	}
	if snapshot.VPC == nil {
		return nil, status.New(status.ReasonImproperJSONConfigFile, "topology has no vpc root")
	}
	if err := snapshot.VPC.Validate(); err != nil {
		return nil, status.Wrap(status.ReasonImproperJSONConfigFile, err, "invalid topology for vpc %d", snapshot.VPC.ID)
	}
	return snapshot.VPC, nil
}

// Encode renders a VPC as a topology payload
func Encode(v *VPC) ([]byte, error) {
	return json.Marshal(Snapshot{VPC: v})
}

// Validate checks the cross references and address formats of the topology.
// All problems are collected and returned together.
func (v *VPC) Validate() error {
	var errs []error

	if v.CIDR != "" {
		if _, err := util.ParseCIDR(v.CIDR); err != nil {
			errs = append(errs, fmt.Errorf("vpc cidr: %w", err))
		}
	}

	acls := make(map[int64]bool)
	for _, acl := range v.ACLs {
		if acls[acl.ID] {
			errs = append(errs, fmt.Errorf("duplicate acl id %d", acl.ID))
		}
		acls[acl.ID] = true
		for _, item := range acl.Items {
			if err := item.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("acl %d: %w", acl.ID, err))
			}
		}
	}

	tiers := make(map[string]bool)
	greKeys := make(map[uint32]string)
	for _, tier := range v.Tiers {
		if tier.NetworkID == "" {
			errs = append(errs, fmt.Errorf("tier without networkuuid"))
			continue
		}
		if tiers[tier.NetworkID] {
			errs = append(errs, fmt.Errorf("duplicate tier %s", tier.NetworkID))
		}
		tiers[tier.NetworkID] = true
		if other, ok := greKeys[tier.GREKey]; ok {
			errs = append(errs, fmt.Errorf("tiers %s and %s share gre key %d", other, tier.NetworkID, tier.GREKey))
		}
		greKeys[tier.GREKey] = tier.NetworkID
		if _, err := util.ParseCIDR(tier.CIDR); err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", tier.NetworkID, err))
		}
		if _, err := util.NormalizeMAC(tier.GatewayMAC); err != nil {
			errs = append(errs, fmt.Errorf("tier %s gateway: %w", tier.NetworkID, err))
		}
		if tier.GatewayIP != "" {
			if _, err := util.ParseIPv4(tier.GatewayIP); err != nil {
				errs = append(errs, fmt.Errorf("tier %s gateway: %w", tier.NetworkID, err))
			}
		}
		if tier.ACLID != nil && !acls[*tier.ACLID] {
			errs = append(errs, fmt.Errorf("tier %s references unknown acl %d", tier.NetworkID, *tier.ACLID))
		}
	}

	hosts := make(map[int64]bool)
	for _, host := range v.Hosts {
		if hosts[host.ID] {
			errs = append(errs, fmt.Errorf("duplicate host %d", host.ID))
		}
		hosts[host.ID] = true
		if _, err := util.ParseIPv4(host.IP); err != nil {
			errs = append(errs, fmt.Errorf("host %d: %w", host.ID, err))
		}
	}

	for _, vm := range v.VMs {
		if !hosts[vm.HostID] {
			errs = append(errs, fmt.Errorf("vm %s is on unknown host %d", vm.ID, vm.HostID))
		}
		for _, nic := range vm.NICs {
			if !tiers[nic.NetworkID] {
				errs = append(errs, fmt.Errorf("vm %s nic %s is on unknown tier %s", vm.ID, nic.MAC, nic.NetworkID))
			}
			if _, err := util.NormalizeMAC(nic.MAC); err != nil {
				errs = append(errs, fmt.Errorf("vm %s: %w", vm.ID, err))
			}
			if _, err := util.ParseIPv4(nic.IP); err != nil {
				errs = append(errs, fmt.Errorf("vm %s nic %s: %w", vm.ID, nic.MAC, err))
			}
		}
	}

	return utilerrors.NewAggregate(errs)
}

// Validate checks one ACL item's enumerations and bounds
func (i ACLItem) Validate() error {
	if i.Number < 0 || i.Number > MaxACLItemNumber {
		return fmt.Errorf("item %s: number %d out of range [0, %d]", i.UUID, i.Number, MaxACLItemNumber)
	}
	if !i.Action.Valid() {
		return fmt.Errorf("item %s: unknown action %q", i.UUID, i.Action)
	}
	if !i.Direction.Valid() {
		return fmt.Errorf("item %s: unknown direction %q", i.UUID, i.Direction)
	}
	if i.SourcePortStart != nil && i.SourcePortEnd != nil && *i.SourcePortStart > *i.SourcePortEnd {
		return fmt.Errorf("item %s: port range %d-%d is reversed", i.UUID, *i.SourcePortStart, *i.SourcePortEnd)
	}
	for _, cidr := range i.SourceCIDRs {
		if util.IsAnyCIDR(cidr) {
			continue
		}
		if _, err := util.ParseCIDR(cidr); err != nil {
			if _, ipErr := util.ParseIPv4(cidr); ipErr != nil {
				return fmt.Errorf("item %s: %w", i.UUID, err)
			}
		}
	}
	return nil
}
