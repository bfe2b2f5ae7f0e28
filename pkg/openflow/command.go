package openflow

import "fmt"

// The functions below build ovs-ofctl arguments (everything after the binary
// name). They are pure; running them is the switch client's job.

// AddFlowArgs returns the arguments installing a single rule
func AddFlowArgs(bridge string, rule FlowRule) []string {
	return []string{"add-flow", bridge, rule.String()}
}

// DelFlowsArgs returns the arguments deleting every rule of table that matches m.
// Matching is non-strict: rules with additional fields are deleted too.
func DelFlowsArgs(bridge string, table Table, m Match) []string {
	args := []string{"del-flows", bridge}
	if expr := DelFlowsExpr(table, m); expr != "" {
		args = append(args, expr)
	}
	return args
}

// DelFlowsExpr renders a delete filter. AnyTable omits the table field.
func DelFlowsExpr(table Table, m Match) string {
	expr := ""
	if table != AnyTable {
		expr = fmt.Sprintf("table=%d", table)
	}
	if ms := m.String(); ms != "" {
		if expr != "" {
			expr += ","
		}
		expr += ms
	}
	return expr
}

// AddFlowsArgs returns the arguments bulk-loading rules from a batch file
func AddFlowsArgs(bridge, path string) []string {
	return []string{"add-flows", bridge, path}
}
