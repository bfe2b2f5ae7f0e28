package openflow

import (
	"fmt"
	"strings"
)

// FlowRule is a fully validated OpenFlow rule. It is immutable once built.
type FlowRule struct {
	table       Table
	priority    uint16
	cookie      uint64
	hasCookie   bool
	idleTimeout uint16
	hardTimeout uint16
	match       Match
	actions     []Action
}

// FlowBuilder assembles a FlowRule
type FlowBuilder struct {
	rule FlowRule
}

// NewFlow starts a rule for the given table and priority.
// Higher priorities win; rules without timeouts are permanent.
func NewFlow(table Table, priority uint16) *FlowBuilder {
	return &FlowBuilder{rule: FlowRule{table: table, priority: priority}}
}

// Match sets the match predicate
func (b *FlowBuilder) Match(m Match) *FlowBuilder {
	b.rule.match = m
	return b
}

// Cookie tags the rule with an opaque cookie
func (b *FlowBuilder) Cookie(cookie uint64) *FlowBuilder {
	b.rule.cookie = cookie
	b.rule.hasCookie = true
	return b
}

// Timeouts sets idle and hard timeouts in seconds. Zero means no timeout.
func (b *FlowBuilder) Timeouts(idle, hard uint16) *FlowBuilder {
	b.rule.idleTimeout = idle
	b.rule.hardTimeout = hard
	return b
}

// Actions appends actions, applied in order
func (b *FlowBuilder) Actions(actions ...Action) *FlowBuilder {
	b.rule.actions = append(b.rule.actions, actions...)
	return b
}

// Build validates the rule and returns it
func (b *FlowBuilder) Build() (FlowRule, error) {
	r := b.rule
	r.actions = append([]Action(nil), b.rule.actions...)

	if !r.table.Valid() {
		return FlowRule{}, fmt.Errorf("invalid table %s for a flow rule", r.table)
	}
	if err := r.match.Validate(); err != nil {
		return FlowRule{}, fmt.Errorf("table %s priority %d: %w", r.table, r.priority, err)
	}
	if len(r.actions) == 0 {
		return FlowRule{}, fmt.Errorf("table %s priority %d: no actions", r.table, r.priority)
	}
	for _, a := range r.actions {
		if a.IsDrop() && len(r.actions) > 1 {
			return FlowRule{}, fmt.Errorf("table %s priority %d: drop cannot be combined with other actions", r.table, r.priority)
		}
		if err := a.validate(); err != nil {
			return FlowRule{}, fmt.Errorf("table %s priority %d: %w", r.table, r.priority, err)
		}
	}
	return r, nil
}

// MustBuild is like Build but panics on invalid input.
// Only use it for rules built from constants.
func (b *FlowBuilder) MustBuild() FlowRule {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Table returns the rule's table
func (r FlowRule) Table() Table { return r.table }

// Priority returns the rule's priority
func (r FlowRule) Priority() uint16 { return r.priority }

// Match returns the rule's match predicate
func (r FlowRule) Match() Match { return r.match }

// Actions returns a copy of the rule's actions
func (r FlowRule) Actions() []Action { return append([]Action(nil), r.actions...) }

// String renders the rule as an ovs-ofctl flow specification
func (r FlowRule) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "table=%d,priority=%d", r.table, r.priority)
	if r.hasCookie {
		fmt.Fprintf(&sb, ",cookie=0x%x", r.cookie)
	}
	if r.idleTimeout > 0 {
		fmt.Fprintf(&sb, ",idle_timeout=%d", r.idleTimeout)
	}
	if r.hardTimeout > 0 {
		fmt.Fprintf(&sb, ",hard_timeout=%d", r.hardTimeout)
	}
	if m := r.match.String(); m != "" {
		sb.WriteString(",")
		sb.WriteString(m)
	}

	acts := make([]string, 0, len(r.actions))
	for _, a := range r.actions {
		acts = append(acts, a.String())
	}
	sb.WriteString(",actions=")
	sb.WriteString(strings.Join(acts, ","))

	return sb.String()
}

// CountByTable returns the number of rules per table
func CountByTable(rules []FlowRule) map[Table]int {
	counts := make(map[Table]int)
	for _, r := range rules {
		counts[r.table]++
	}
	return counts
}
