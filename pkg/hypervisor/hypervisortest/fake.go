// Package hypervisortest provides an in-memory hypervisor implementing hypervisor.Interface.
package hypervisortest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
)

// VIF is one fake VIF record
type VIF struct {
	UUID        string
	VMUUID      string
	MAC         string
	Device      string
	OtherConfig map[string]string
}

type vm struct {
	uuid  string
	domID string
}

type network struct {
	uuid        string
	otherConfig map[string]string
}

// FakeHypervisor is an in-memory hypervisor
type FakeHypervisor struct {
	mu sync.Mutex

	// HostID is returned by LocalHostID
	HostID int64

	// HostIDErr, when set, is returned by LocalHostID
	HostIDErr error

	vms      map[string]*vm
	vifs     map[string]*VIF
	networks map[string]*network

	// Calls records every method invocation in order
	Calls []string
}

var _ hypervisor.Interface = &FakeHypervisor{}

// NewFakeHypervisor returns an empty hypervisor for host hostID
func NewFakeHypervisor(hostID int64) *FakeHypervisor {
	return &FakeHypervisor{
		HostID:   hostID,
		vms:      make(map[string]*vm),
		vifs:     make(map[string]*VIF),
		networks: make(map[string]*network),
	}
}

// AddVIF registers a VIF of a running VM and returns its switch port name.
// The VM is created on first use.
func (f *FakeHypervisor) AddVIF(vmUUID, domID, device, mac, networkID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vms[vmUUID]; !ok {
		f.vms[vmUUID] = &vm{uuid: vmUUID, domID: domID}
	}
	vif := &VIF{
		UUID:        fmt.Sprintf("vif-%s-%s", vmUUID, device),
		VMUUID:      vmUUID,
		MAC:         strings.ToLower(mac),
		Device:      device,
		OtherConfig: make(map[string]string),
	}
	if networkID != "" {
		vif.OtherConfig[hypervisor.NetworkIDKey] = networkID
	}
	f.vifs[vif.UUID] = vif
	return hypervisor.VIFName(domID, device)
}

// AddNetwork registers the network backing bridge
func (f *FakeHypervisor) AddNetwork(bridge, uuid string, otherConfig map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := make(map[string]string, len(otherConfig))
	for k, v := range otherConfig {
		c[k] = v
	}
	f.networks[bridge] = &network{uuid: uuid, otherConfig: c}
}

// VIFByMAC returns a copy of the VIF with this MAC
func (f *FakeHypervisor) VIFByMAC(mac string) (VIF, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vifs {
		if v.MAC == strings.ToLower(mac) {
			c := *v
			c.OtherConfig = make(map[string]string, len(v.OtherConfig))
			for k, val := range v.OtherConfig {
				c.OtherConfig[k] = val
			}
			return c, true
		}
	}
	return VIF{}, false
}

func (f *FakeHypervisor) record(format string, args ...interface{}) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// LocalHostID implements hypervisor.Interface
func (f *FakeHypervisor) LocalHostID() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LocalHostID")
	return f.HostID, f.HostIDErr
}

// VMByMAC implements hypervisor.Interface
func (f *FakeHypervisor) VMByMAC(mac string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("VMByMAC %s", mac)
	for _, v := range f.vifs {
		if v.MAC == strings.ToLower(mac) {
			return v.VMUUID, nil
		}
	}
	return "", hypervisor.NewNotFoundError("vm with mac", mac)
}

// DomainID implements hypervisor.Interface
func (f *FakeHypervisor) DomainID(vmUUID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DomainID %s", vmUUID)
	v, ok := f.vms[vmUUID]
	if !ok {
		return "", hypervisor.NewNotFoundError("vm", vmUUID)
	}
	return v.domID, nil
}

// VIFDevice implements hypervisor.Interface
func (f *FakeHypervisor) VIFDevice(vmUUID, mac string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("VIFDevice %s %s", vmUUID, mac)
	for _, v := range f.vifs {
		if v.VMUUID == vmUUID && v.MAC == strings.ToLower(mac) {
			return v.Device, nil
		}
	}
	return "", hypervisor.NewNotFoundError("vif device", vmUUID+"/"+mac)
}

// VMByDomainID implements hypervisor.Interface
func (f *FakeHypervisor) VMByDomainID(domID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("VMByDomainID %s", domID)
	for _, v := range f.vms {
		if v.domID == domID {
			return v.uuid, nil
		}
	}
	return "", hypervisor.NewNotFoundError("vm with dom-id", domID)
}

// VIFByDevice implements hypervisor.Interface
func (f *FakeHypervisor) VIFByDevice(vmUUID, device string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("VIFByDevice %s %s", vmUUID, device)
	for _, v := range f.vifs {
		if v.VMUUID == vmUUID && v.Device == device {
			return v.UUID, nil
		}
	}
	return "", hypervisor.NewNotFoundError("vif", vmUUID+"/"+device)
}

// VIFOtherConfig implements hypervisor.Interface
func (f *FakeHypervisor) VIFOtherConfig(vifUUID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("VIFOtherConfig %s %s", vifUUID, key)
	v, ok := f.vifs[vifUUID]
	if !ok {
		return "", hypervisor.NewNotFoundError("vif", vifUUID)
	}
	value, ok := v.OtherConfig[key]
	if !ok {
		return "", hypervisor.NewNotFoundError("other-config key", key)
	}
	return value, nil
}

// SetVIFOtherConfig implements hypervisor.Interface
func (f *FakeHypervisor) SetVIFOtherConfig(vifUUID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetVIFOtherConfig %s %s=%s", vifUUID, key, value)
	v, ok := f.vifs[vifUUID]
	if !ok {
		return hypervisor.NewNotFoundError("vif", vifUUID)
	}
	v.OtherConfig[key] = value
	return nil
}

// NetworkByBridge implements hypervisor.Interface
func (f *FakeHypervisor) NetworkByBridge(bridge string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("NetworkByBridge %s", bridge)
	n, ok := f.networks[bridge]
	if !ok {
		return "", hypervisor.NewNotFoundError("network", bridge)
	}
	return n.uuid, nil
}

// NetworkOtherConfig implements hypervisor.Interface
func (f *FakeHypervisor) NetworkOtherConfig(networkUUID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("NetworkOtherConfig %s %s", networkUUID, key)
	for _, n := range f.networks {
		if n.uuid == networkUUID {
			if value, ok := n.otherConfig[key]; ok {
				return value, nil
			}
			return "", hypervisor.NewNotFoundError("other-config key", key)
		}
	}
	return "", hypervisor.NewNotFoundError("network", networkUUID)
}
