// Package util provides utility functions for network operations.
//
// This package contains helper functions for:
// - IPv4 address and CIDR parsing
// - MAC address normalization
// - Recognizing "any address" CIDRs in ACL input
package util

import (
	"fmt"
	"net"
	"strings"
)

// ParseCIDR parses an IPv4 CIDR string and returns the IP network
//
// Parameters:
//   - cidr: CIDR string (e.g., "10.1.0.0/16")
//
// Returns:
//   - *net.IPNet: Parsed IP network
//   - error: Parse error
func ParseCIDR(cidr string) (*net.IPNet, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %s: %v", cidr, err)
	}
	if ipNet.IP.To4() == nil {
		return nil, fmt.Errorf("invalid CIDR %s: not IPv4", cidr)
	}
	return ipNet, nil
}

// ParseIPv4 parses an IPv4 address
func ParseIPv4(addr string) (net.IP, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", addr)
	}
	return ip.To4(), nil
}

// NormalizeMAC parses a MAC address and returns it in lower-case colon form
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return "", fmt.Errorf("invalid MAC address %q: %v", mac, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address %q: not 48-bit", mac)
	}
	return hw.String(), nil
}

// IsAnyCIDR reports whether an ACL source CIDR stands for every address.
// Any spelling starting with 0.0.0.0 counts, e.g. "0.0.0.0/0" or "0.0.0.0".
func IsAnyCIDR(cidr string) bool {
	return strings.HasPrefix(strings.TrimSpace(cidr), "0.0.0.0")
}
