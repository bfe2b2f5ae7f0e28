// Package ovstest provides an in-memory switch implementing ovs.Interface.
package ovstest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
)

// Interface is one fake interface record
type Interface struct {
	Name    string
	Type    string
	OFPort  int
	Options map[string]string
	Columns map[string]string
}

// FakeSwitch is an in-memory switch. Flows are stored as their textual form
// keyed by everything but the actions, so reloading a rule replaces it.
type FakeSwitch struct {
	mu sync.Mutex

	bridges    map[string][]string
	interfaces map[string]*Interface
	flows      map[string]map[string]string
	nextOFPort int

	// CheckErr is returned by CheckSwitch
	CheckErr error

	// Errors injects a failure for the named method, e.g. "AddPort"
	Errors map[string]error

	// Overrides replaces GetInterface results, keyed by "iface/column"
	Overrides map[string]string

	// ExtraInterfaces adds bogus interface records to PortInterfaces results
	ExtraInterfaces int

	// LosePorts makes AddPort report success without creating the port
	LosePorts bool

	// Calls records every method invocation in order
	Calls []string

	// Batches records the contents of every loaded batch file
	Batches [][]string
}

var _ ovs.Interface = &FakeSwitch{}

// NewFakeSwitch returns a switch with the given empty bridges
func NewFakeSwitch(bridges ...string) *FakeSwitch {
	f := &FakeSwitch{
		bridges:    make(map[string][]string),
		interfaces: make(map[string]*Interface),
		flows:      make(map[string]map[string]string),
		nextOFPort: 1,
		Errors:     make(map[string]error),
		Overrides:  make(map[string]string),
	}
	for _, b := range bridges {
		f.AddBridge(b)
	}
	return f
}

// AddBridge creates an empty bridge
func (f *FakeSwitch) AddBridge(bridge string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bridges[bridge]; !ok {
		f.bridges[bridge] = nil
		f.flows[bridge] = make(map[string]string)
	}
}

// AttachPort adds a port as the hypervisor would, e.g. a VM vif, and returns its ofport
func (f *FakeSwitch) AttachPort(bridge, port, ifaceType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attach(bridge, port)
	f.interfaces[port].Type = ifaceType
	return f.interfaces[port].OFPort
}

// Interface returns a copy of an interface record
func (f *FakeSwitch) Interface(name string) (Interface, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iface, ok := f.interfaces[name]
	if !ok {
		return Interface{}, false
	}
	c := *iface
	c.Options = copyMap(iface.Options)
	c.Columns = copyMap(iface.Columns)
	return c, true
}

// Flows returns the installed flows of a bridge, sorted
func (f *FakeSwitch) Flows(bridge string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, line := range f.flows[bridge] {
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

// FlowsInTable returns the installed flows of one table, sorted
func (f *FakeSwitch) FlowsInTable(bridge string, table openflow.Table) []string {
	prefix := fmt.Sprintf("table=%d,", table)
	var out []string
	for _, line := range f.Flows(bridge) {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

// CallCount returns how many recorded calls start with prefix
func (f *FakeSwitch) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *FakeSwitch) record(format string, args ...interface{}) error {
	call := fmt.Sprintf(format, args...)
	f.Calls = append(f.Calls, call)
	name := call
	if i := strings.IndexByte(call, ' '); i >= 0 {
		name = call[:i]
	}
	return f.Errors[name]
}

// CheckSwitch implements ovs.Interface
func (f *FakeSwitch) CheckSwitch() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "CheckSwitch")
	return f.CheckErr
}

// BridgeExists implements ovs.Interface
func (f *FakeSwitch) BridgeExists(bridge string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BridgeExists %s", bridge); err != nil {
		return false, err
	}
	_, ok := f.bridges[bridge]
	return ok, nil
}

// WaitForBridge implements ovs.Interface without waiting
func (f *FakeSwitch) WaitForBridge(ctx context.Context, bridge string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WaitForBridge %s", bridge); err != nil {
		return err
	}
	if _, ok := f.bridges[bridge]; !ok {
		return status.New(status.ReasonNoBridge, "bridge %s does not exist", bridge)
	}
	return nil
}

// ListPorts implements ovs.Interface
func (f *FakeSwitch) ListPorts(bridge string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListPorts %s", bridge); err != nil {
		return nil, err
	}
	ports, ok := f.bridges[bridge]
	if !ok {
		return nil, fmt.Errorf("no bridge named %s", bridge)
	}
	return append([]string(nil), ports...), nil
}

// AddPort implements ovs.Interface
func (f *FakeSwitch) AddPort(bridge, port string, properties ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddPort %s %s %s", bridge, port, strings.Join(properties, " ")); err != nil {
		return err
	}
	if _, ok := f.bridges[bridge]; !ok {
		return fmt.Errorf("no bridge named %s", bridge)
	}
	if _, ok := f.interfaces[port]; ok {
		return fmt.Errorf("cannot create a port named %s because a port named %s already exists", port, port)
	}
	if f.LosePorts {
		return nil
	}
	f.attach(bridge, port)
	return f.set(port, properties)
}

// DeletePort implements ovs.Interface
func (f *FakeSwitch) DeletePort(bridge, port string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeletePort %s %s", bridge, port); err != nil {
		return err
	}
	ports := f.bridges[bridge]
	for i, p := range ports {
		if p == port {
			f.bridges[bridge] = append(ports[:i:i], ports[i+1:]...)
			delete(f.interfaces, port)
			break
		}
	}
	return nil
}

// PortInterfaces implements ovs.Interface
func (f *FakeSwitch) PortInterfaces(port string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PortInterfaces %s", port); err != nil {
		return nil, err
	}
	if _, ok := f.interfaces[port]; !ok {
		return nil, fmt.Errorf("no row %q in table Port", port)
	}
	ids := []string{"iface-" + port}
	for i := 0; i < f.ExtraInterfaces; i++ {
		ids = append(ids, fmt.Sprintf("iface-%s-%d", port, i))
	}
	return ids, nil
}

// GetInterface implements ovs.Interface
func (f *FakeSwitch) GetInterface(name, column string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetInterface %s %s", name, column); err != nil {
		return "", err
	}
	if v, ok := f.Overrides[name+"/"+column]; ok {
		return v, nil
	}
	iface, ok := f.interfaces[name]
	if !ok {
		return "", fmt.Errorf("no row %q in table Interface", name)
	}
	switch {
	case column == "ofport":
		return strconv.Itoa(iface.OFPort), nil
	case column == "type":
		return iface.Type, nil
	case strings.HasPrefix(column, "options:"):
		if v, ok := iface.Options[strings.TrimPrefix(column, "options:")]; ok {
			return v, nil
		}
	default:
		if v, ok := iface.Columns[column]; ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("no key %q in Interface record %q", column, name)
}

// SetInterface implements ovs.Interface
func (f *FakeSwitch) SetInterface(name string, properties ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetInterface %s %s", name, strings.Join(properties, " ")); err != nil {
		return err
	}
	if _, ok := f.interfaces[name]; !ok {
		return fmt.Errorf("no row %q in table Interface", name)
	}
	return f.set(name, properties)
}

// AddFlow implements ovs.Interface
func (f *FakeSwitch) AddFlow(bridge string, rule openflow.FlowRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddFlow %s %s", bridge, rule.String()); err != nil {
		return err
	}
	return f.install(bridge, rule.String())
}

// DeleteFlows implements ovs.Interface
func (f *FakeSwitch) DeleteFlows(bridge string, table openflow.Table, m openflow.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteFlows %s %s", bridge, openflow.DelFlowsExpr(table, m)); err != nil {
		return err
	}
	flows, ok := f.flows[bridge]
	if !ok {
		return fmt.Errorf("no bridge named %s", bridge)
	}
	for key := range flows {
		if flowMatches(key, table, m) {
			delete(flows, key)
		}
	}
	return nil
}

// AddFlowsFromFile implements ovs.Interface
func (f *FakeSwitch) AddFlowsFromFile(bridge, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddFlowsFromFile %s", bridge); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var batch []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		batch = append(batch, line)
	}
	f.Batches = append(f.Batches, batch)
	for _, line := range batch {
		if err := f.install(bridge, line); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeSwitch) attach(bridge, port string) {
	if _, ok := f.bridges[bridge]; !ok {
		f.bridges[bridge] = nil
		f.flows[bridge] = make(map[string]string)
	}
	f.bridges[bridge] = append(f.bridges[bridge], port)
	f.interfaces[port] = &Interface{
		Name:    port,
		OFPort:  f.nextOFPort,
		Options: make(map[string]string),
		Columns: make(map[string]string),
	}
	f.nextOFPort++
}

func (f *FakeSwitch) set(name string, properties []string) error {
	iface := f.interfaces[name]
	for _, p := range properties {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("%q: argument does not end in \"=\" followed by a value", p)
		}
		switch {
		case key == "type":
			iface.Type = value
		case strings.HasPrefix(key, "options:"):
			iface.Options[strings.TrimPrefix(key, "options:")] = value
		default:
			iface.Columns[key] = value
		}
	}
	return nil
}

func (f *FakeSwitch) install(bridge, line string) error {
	flows, ok := f.flows[bridge]
	if !ok {
		return fmt.Errorf("no bridge named %s", bridge)
	}
	i := strings.Index(line, ",actions=")
	if i < 0 {
		return fmt.Errorf("flow %q has no actions", line)
	}
	flows[line[:i]] = line
	return nil
}

// flowMatches reports whether a stored flow key falls under a del-flows expression.
// A stored flow matches when it is in the table (or table is AnyTable) and
// carries every field of m.
func flowMatches(key string, table openflow.Table, m openflow.Match) bool {
	fields := strings.Split(key, ",")
	if table != openflow.AnyTable && fields[0] != fmt.Sprintf("table=%d", table) {
		return false
	}
	have := make(map[string]bool, len(fields))
	for _, field := range fields {
		have[field] = true
	}
	if m.IsEmpty() {
		return true
	}
	for _, want := range strings.Split(m.String(), ",") {
		if !have[want] {
			return false
		}
	}
	return true
}

func copyMap(m map[string]string) map[string]string {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
