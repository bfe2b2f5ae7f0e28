package openflow

import (
	"fmt"
	"net"
	"strings"
)

type actionKind int

const (
	actionOutput actionKind = iota
	actionDrop
	actionResubmit
	actionModDlSrc
	actionModDlDst
)

// Action is one OpenFlow action
type Action struct {
	kind  actionKind
	ports []int
	table Table
	mac   string
}

// Output sends the packet to each of the given ports, in order
func Output(ports ...int) Action {
	return Action{kind: actionOutput, ports: append([]int(nil), ports...)}
}

// Drop discards the packet
func Drop() Action {
	return Action{kind: actionDrop}
}

// Resubmit re-evaluates the packet against another table
func Resubmit(t Table) Action {
	return Action{kind: actionResubmit, table: t}
}

// ModDlSrc rewrites the source MAC address
func ModDlSrc(mac string) Action {
	return Action{kind: actionModDlSrc, mac: strings.ToLower(mac)}
}

// ModDlDst rewrites the destination MAC address
func ModDlDst(mac string) Action {
	return Action{kind: actionModDlDst, mac: strings.ToLower(mac)}
}

// IsDrop reports whether the action drops the packet
func (a Action) IsDrop() bool {
	return a.kind == actionDrop
}

// Ports returns the output ports of an output action
func (a Action) Ports() []int {
	return append([]int(nil), a.ports...)
}

func (a Action) validate() error {
	switch a.kind {
	case actionOutput:
		if len(a.ports) == 0 {
			return fmt.Errorf("output action has no ports")
		}
		for _, p := range a.ports {
			if p <= 0 {
				return fmt.Errorf("invalid output port %d", p)
			}
		}
	case actionResubmit:
		if !a.table.Valid() {
			return fmt.Errorf("cannot resubmit to %s", a.table)
		}
	case actionModDlSrc, actionModDlDst:
		if _, err := net.ParseMAC(a.mac); err != nil {
			return fmt.Errorf("invalid MAC %q: %w", a.mac, err)
		}
	}
	return nil
}

func (a Action) String() string {
	switch a.kind {
	case actionOutput:
		outs := make([]string, 0, len(a.ports))
		for _, p := range a.ports {
			outs = append(outs, fmt.Sprintf("output:%d", p))
		}
		return strings.Join(outs, ",")
	case actionDrop:
		return "drop"
	case actionResubmit:
		return fmt.Sprintf("resubmit(,%d)", a.table)
	case actionModDlSrc:
		return "mod_dl_src:" + a.mac
	case actionModDlDst:
		return "mod_dl_dst:" + a.mac
	}
	return ""
}
