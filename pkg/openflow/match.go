package openflow

import (
	"fmt"
	"net"
	"strings"
)

// Ethernet types
const (
	EthTypeIPv4 uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
)

// Protocol is an IP protocol number
type Protocol uint8

const (
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
)

// keyword returns the ovs-ofctl shorthand for the protocol, if there is one
func (p Protocol) keyword() (string, bool) {
	switch p {
	case ProtocolICMP:
		return "icmp", true
	case ProtocolTCP:
		return "tcp", true
	case ProtocolUDP:
		return "udp", true
	}
	return "", false
}

// HasPorts reports whether the protocol carries transport ports
func (p Protocol) HasPorts() bool {
	return p == ProtocolTCP || p == ProtocolUDP
}

// Well-known destinations used by overlay drop rules
const (
	BroadcastMAC       = "ff:ff:ff:ff:ff:ff"
	LinkLocalMulticast = "224.0.0.0/24"
)

// Match is a flow match predicate. The zero value matches everything.
// Setters return a modified copy, so a Match can be shared as a template.
type Match struct {
	inPort   int
	hasPort  bool
	ethType  uint16
	dlSrc    string
	dlDst    string
	nwSrc    string
	nwDst    string
	protocol Protocol
	hasProto bool
	tpDst    uint16
	hasTpDst bool
}

// NewMatch returns an empty (wildcard) match
func NewMatch() Match {
	return Match{}
}

// InPort matches the ingress OpenFlow port
func (m Match) InPort(port int) Match {
	m.inPort = port
	m.hasPort = true
	return m
}

// EthType matches the Ethernet type
func (m Match) EthType(ethType uint16) Match {
	m.ethType = ethType
	return m
}

// DlSrc matches the source MAC address
func (m Match) DlSrc(mac string) Match {
	m.dlSrc = strings.ToLower(mac)
	return m
}

// DlDst matches the destination MAC address
func (m Match) DlDst(mac string) Match {
	m.dlDst = strings.ToLower(mac)
	return m
}

// NwSrc matches the source IPv4 address or CIDR
func (m Match) NwSrc(cidr string) Match {
	m.nwSrc = cidr
	return m
}

// NwDst matches the destination IPv4 address or CIDR
func (m Match) NwDst(cidr string) Match {
	m.nwDst = cidr
	return m
}

// Protocol matches the IP protocol
func (m Match) Protocol(p Protocol) Match {
	m.protocol = p
	m.hasProto = true
	return m
}

// TpDst matches the transport destination port
func (m Match) TpDst(port uint16) Match {
	m.tpDst = port
	m.hasTpDst = true
	return m
}

// IsEmpty reports whether the match has no fields set
func (m Match) IsEmpty() bool {
	return m == Match{}
}

func (m Match) hasIPFields() bool {
	return m.nwSrc != "" || m.nwDst != "" || m.hasProto || m.hasTpDst
}

// Validate checks that the fields form a match the switch accepts
func (m Match) Validate() error {
	if m.hasPort && m.inPort <= 0 {
		return fmt.Errorf("invalid in_port %d", m.inPort)
	}
	for field, mac := range map[string]string{"dl_src": m.dlSrc, "dl_dst": m.dlDst} {
		if mac == "" {
			continue
		}
		if _, err := net.ParseMAC(mac); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field, mac, err)
		}
	}
	for field, addr := range map[string]string{"nw_src": m.nwSrc, "nw_dst": m.nwDst} {
		if addr == "" {
			continue
		}
		if err := validateIPv4(addr); err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
	}
	if m.hasIPFields() && m.ethType != 0 && m.ethType != EthTypeIPv4 {
		return fmt.Errorf("IP match fields require dl_type 0x%04x, got 0x%04x", EthTypeIPv4, m.ethType)
	}
	if m.hasTpDst && !(m.hasProto && m.protocol.HasPorts()) {
		return fmt.Errorf("tp_dst requires protocol tcp or udp")
	}
	return nil
}

// String renders the match in ovs-ofctl syntax, without a leading comma.
// Field order: in_port, dl_type, dl_src, dl_dst, ip/protocol, nw_src, nw_dst, tp_dst.
func (m Match) String() string {
	var fields []string

	if m.hasPort {
		fields = append(fields, fmt.Sprintf("in_port=%d", m.inPort))
	}

	ipQualifier := m.ipQualifier()
	if m.ethType != 0 && !(ipQualifier != "" && m.ethType == EthTypeIPv4) {
		fields = append(fields, fmt.Sprintf("dl_type=0x%04x", m.ethType))
	}
	if m.dlSrc != "" {
		fields = append(fields, "dl_src="+m.dlSrc)
	}
	if m.dlDst != "" {
		fields = append(fields, "dl_dst="+m.dlDst)
	}
	if ipQualifier != "" {
		fields = append(fields, ipQualifier)
	}
	if m.nwSrc != "" {
		fields = append(fields, "nw_src="+m.nwSrc)
	}
	if m.nwDst != "" {
		fields = append(fields, "nw_dst="+m.nwDst)
	}
	if m.hasTpDst {
		fields = append(fields, fmt.Sprintf("tp_dst=%d", m.tpDst))
	}

	return strings.Join(fields, ",")
}

// ipQualifier returns the protocol shorthand, "ip", or nothing.
// A qualifier is emitted only when an IP-specific field is present.
func (m Match) ipQualifier() string {
	if m.hasProto {
		if kw, ok := m.protocol.keyword(); ok {
			return kw
		}
		return fmt.Sprintf("ip,nw_proto=%d", m.protocol)
	}
	if m.nwSrc != "" || m.nwDst != "" {
		return "ip"
	}
	return ""
}

func validateIPv4(addr string) error {
	if strings.Contains(addr, "/") {
		ip, _, err := net.ParseCIDR(addr)
		if err != nil || ip.To4() == nil {
			return fmt.Errorf("%q is not an IPv4 CIDR", addr)
		}
		return nil
	}
	if ip := net.ParseIP(addr); ip == nil || ip.To4() == nil {
		return fmt.Errorf("%q is not an IPv4 address", addr)
	}
	return nil
}
