// Package openflow builds the OpenFlow rules programmed into a VPC bridge.
//
// Pipeline layout (shared by every host in a VPC, so the numbering is fixed):
//
//	Table 0 Classifier:   dispatch by in_port; intra-tier traffic to L2Lookup,
//	                      traffic routed through the tier gateway to EgressACL,
//	                      tunnel traffic to L2Lookup
//	Table 1 L2Lookup:     dl_dst -> output port; unknown destinations to L2Flood
//	Table 2 L2Flood:      per-tier broadcast domains; default drop
//	Table 3 EgressACL:    tier egress ACL; default resubmit to L3Lookup
//	Table 4 L3Lookup:     nw_dst -> rewrite MACs, resubmit to IngressACL;
//	                      default resubmit to L2Lookup
//	Table 5 IngressACL:   tier ingress ACL; default drop
//
// Rules are immutable values. Tables are never edited in place: callers delete
// a table's rules and reload the full replacement set from a batch file.
package openflow

import "fmt"

// Table identifies an OpenFlow table of the VPC pipeline
type Table uint8

const (
	TableClassifier Table = 0
	TableL2Lookup   Table = 1
	TableL2Flood    Table = 2
	TableEgressACL  Table = 3
	TableL3Lookup   Table = 4
	TableIngressACL Table = 5

	// AnyTable matches every table. Only valid in delete filters.
	AnyTable Table = 255
)

var tableNames = map[Table]string{
	TableClassifier: "Classifier",
	TableL2Lookup:   "L2Lookup",
	TableL2Flood:    "L2Flood",
	TableEgressACL:  "EgressACL",
	TableL3Lookup:   "L3Lookup",
	TableIngressACL: "IngressACL",
	AnyTable:        "Any",
}

func (t Table) String() string {
	if name, ok := tableNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Table(%d)", uint8(t))
}

// Valid reports whether t is one of the pipeline tables
func (t Table) Valid() bool {
	return t <= TableIngressACL
}

// PipelineTables lists the pipeline tables in order
func PipelineTables() []Table {
	return []Table{
		TableClassifier,
		TableL2Lookup,
		TableL2Flood,
		TableEgressACL,
		TableL3Lookup,
		TableIngressACL,
	}
}
