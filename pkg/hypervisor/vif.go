package hypervisor

import (
	"fmt"
	"regexp"
	"strings"
)

var vifNamePattern = regexp.MustCompile(`^vif(\d+)\.(\d+)$`)

// VIFName returns the switch port name of a VIF
func VIFName(domID, device string) string {
	return fmt.Sprintf("vif%s.%s", domID, device)
}

// ParseVIFName splits a vif<dom>.<dev> port name
func ParseVIFName(port string) (domID, device string, ok bool) {
	m := vifNamePattern.FindStringSubmatch(port)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsVIFPort reports whether a switch port belongs to a guest VIF
func IsVIFPort(port string) bool {
	_, _, ok := ParseVIFName(port)
	return ok
}

// VIFNameForMAC resolves MAC -> VM -> domain id + device -> vif<dom>.<dev>.
// A halted VM (dom-id -1) has no switch port.
func VIFNameForMAC(hv Interface, mac string) (string, error) {
	vmUUID, err := hv.VMByMAC(mac)
	if err != nil {
		return "", fmt.Errorf("failed to find VM for %s: %w", mac, err)
	}
	domID, err := hv.DomainID(vmUUID)
	if err != nil {
		return "", fmt.Errorf("failed to get domain id of VM %s: %w", vmUUID, err)
	}
	if domID == "" || strings.HasPrefix(domID, "-") {
		return "", fmt.Errorf("VM %s is not running (dom-id %q)", vmUUID, domID)
	}
	device, err := hv.VIFDevice(vmUUID, mac)
	if err != nil {
		return "", fmt.Errorf("failed to get VIF device of VM %s for %s: %w", vmUUID, mac, err)
	}
	return VIFName(domID, device), nil
}

// VIFUUIDForPort resolves a vif<dom>.<dev> port name to the VIF record uuid
func VIFUUIDForPort(hv Interface, port string) (string, error) {
	domID, device, ok := ParseVIFName(port)
	if !ok {
		return "", fmt.Errorf("%s is not a VIF port name", port)
	}
	vmUUID, err := hv.VMByDomainID(domID)
	if err != nil {
		return "", fmt.Errorf("failed to find VM of domain %s: %w", domID, err)
	}
	vifUUID, err := hv.VIFByDevice(vmUUID, device)
	if err != nil {
		return "", fmt.Errorf("failed to find VIF %s of VM %s: %w", device, vmUUID, err)
	}
	return vifUUID, nil
}

// NetworkIDForVIF returns the tier network id tagged on a VIF port.
// An untagged VIF yields "" and no error.
func NetworkIDForVIF(hv Interface, port string) (string, error) {
	vifUUID, err := VIFUUIDForPort(hv, port)
	if err != nil {
		return "", err
	}
	id, err := hv.VIFOtherConfig(vifUUID, NetworkIDKey)
	if IsNotFound(err) {
		return "", nil
	}
	return id, err
}

// TagVIF stores networkID on the VIF behind port, skipping the write when already set
func TagVIF(hv Interface, port, networkID string) error {
	vifUUID, err := VIFUUIDForPort(hv, port)
	if err != nil {
		return err
	}
	current, err := hv.VIFOtherConfig(vifUUID, NetworkIDKey)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if current == networkID {
		return nil
	}
	return hv.SetVIFOtherConfig(vifUUID, NetworkIDKey, networkID)
}

// IsRegularTunnelNetwork reports whether the bridge's network is flagged as a plain tunnel network
func IsRegularTunnelNetwork(hv Interface, bridge string) (bool, error) {
	return networkFlag(hv, bridge, TunnelNetworkKey)
}

// IsDistributedRoutingNetwork reports whether the bridge's network runs the distributed VPC router
func IsDistributedRoutingNetwork(hv Interface, bridge string) (bool, error) {
	return networkFlag(hv, bridge, DistributedRoutingKey)
}

func networkFlag(hv Interface, bridge, key string) (bool, error) {
	networkUUID, err := hv.NetworkByBridge(bridge)
	if err != nil {
		return false, fmt.Errorf("failed to find network of bridge %s: %w", bridge, err)
	}
	value, err := hv.NetworkOtherConfig(networkUUID, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(value), "true"), nil
}
