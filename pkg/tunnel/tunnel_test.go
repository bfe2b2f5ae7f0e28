package tunnel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor/hypervisortest"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs/ovstest"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
)

type recordingFlood struct {
	bridges []string
	err     error
}

func (r *recordingFlood) Update(ctx context.Context, bridge string) error {
	r.bridges = append(r.bridges, bridge)
	return r.err
}

// newTestManager returns a manager over a fake switch holding xapi1, whose
// network carries the given other-config flags.
func newTestManager(flags map[string]string) (*Manager, *ovstest.FakeSwitch, *recordingFlood) {
	sw := ovstest.NewFakeSwitch("xapi1")
	hv := hypervisortest.NewFakeHypervisor(1)
	hv.AddNetwork("xapi1", "net-uuid-1", flags)
	flood := &recordingFlood{}
	return NewManager(sw, hv, flood), sw, flood
}

func defaultRequest() CreateRequest {
	return CreateRequest{
		Bridge:       "xapi1",
		RemoteIP:     "192.168.1.2",
		GREKey:       10,
		LocalHostID:  1,
		RemoteHostID: 2,
		NetworkID:    "net-1",
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		key      uint32
		local    int64
		remote   int64
		expected string
	}{
		{10, 1, 2, "t10-1-2"},
		{10, 2, 1, "t10-2-1"},
		{1234, 56, 789, "t1234-56-789"},
		{4294967295, 123456, 654321, "t4294967295-12"},
	}
	for _, tt := range tests {
		if got := Name(tt.key, tt.local, tt.remote); got != tt.expected {
			t.Errorf("Name(%d, %d, %d): expected %q, got %q", tt.key, tt.local, tt.remote, tt.expected, got)
		}
	}
}

// TestProperty_NameIsPure verifies that tunnel naming is deterministic, bounded
// and order-sensitive for realistic key and host id ranges.
func TestProperty_NameIsPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs give the same bounded name", prop.ForAll(
		func(key uint32, a, b int64) bool {
			n := Name(key, a, b)
			return n == Name(key, a, b) && len(n) <= MaxNameLength && n[0] == 't'
		},
		gen.UInt32(),
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("host order matters", prop.ForAll(
		func(key uint32, a, b int64) bool {
			if a == b {
				return Name(key, a, b) == Name(key, b, a)
			}
			return Name(key, a, b) != Name(key, b, a)
		},
		gen.UInt32Range(1, 9999),
		gen.Int64Range(1, 999),
		gen.Int64Range(1, 999),
	))

	properties.TestingRun(t)
}

func TestCreateRegularTunnel(t *testing.T) {
	m, sw, flood := newTestManager(map[string]string{hypervisor.TunnelNetworkKey: "True"})

	tun, err := m.Create(context.Background(), defaultRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tun.Name != "t10-1-2" || tun.OFPort <= 0 {
		t.Fatalf("unexpected tunnel %+v", tun)
	}

	iface, ok := sw.Interface("t10-1-2")
	if !ok {
		t.Fatal("tunnel interface not created")
	}
	if iface.Type != "gre" || iface.Options["key"] != "10" || iface.Options["remote_ip"] != "192.168.1.2" {
		t.Errorf("unexpected interface %+v", iface)
	}

	expected := []string{
		fmt.Sprintf("table=0,priority=1000,in_port=%d,dl_dst=ff:ff:ff:ff:ff:ff,actions=drop", tun.OFPort),
		fmt.Sprintf("table=0,priority=1000,in_port=%d,ip,nw_dst=224.0.0.0/24,actions=drop", tun.OFPort),
	}
	if diff := cmp.Diff(expected, sw.Flows("xapi1")); diff != "" {
		t.Errorf("unexpected flows (-want +got):\n%s", diff)
	}
	if len(flood.bridges) != 0 {
		t.Errorf("flooding should not be touched for a regular tunnel network")
	}
}

func TestCreateDistributedTunnel(t *testing.T) {
	m, sw, flood := newTestManager(map[string]string{
		hypervisor.TunnelNetworkKey:      "true",
		hypervisor.DistributedRoutingKey: "true",
	})

	tun, err := m.Create(context.Background(), defaultRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{
		fmt.Sprintf("table=0,priority=1100,in_port=%d,actions=resubmit(,1)", tun.OFPort),
		fmt.Sprintf("table=0,priority=1200,in_port=%d,dl_dst=ff:ff:ff:ff:ff:ff,actions=drop", tun.OFPort),
		fmt.Sprintf("table=0,priority=1200,in_port=%d,ip,nw_dst=224.0.0.0/24,actions=drop", tun.OFPort),
	}
	if diff := cmp.Diff(expected, sw.Flows("xapi1")); diff != "" {
		t.Errorf("unexpected flows (-want +got):\n%s", diff)
	}

	iface, _ := sw.Interface("t10-1-2")
	if iface.Options[hypervisor.NetworkIDKey] != "net-1" {
		t.Errorf("tunnel not tagged with network id: %+v", iface.Options)
	}
	if diff := cmp.Diff([]string{"xapi1"}, flood.bridges); diff != "" {
		t.Errorf("expected one flood update (-want +got):\n%s", diff)
	}
}

func TestCreateDistributedRequiresNetworkID(t *testing.T) {
	m, sw, _ := newTestManager(map[string]string{hypervisor.DistributedRoutingKey: "true"})
	req := defaultRequest()
	req.NetworkID = ""

	if _, err := m.Create(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	if sw.CallCount("AddPort") != 0 {
		t.Error("no port should be created without a network id")
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	m, sw, _ := newTestManager(map[string]string{hypervisor.TunnelNetworkKey: "true"})

	first, err := m.Create(context.Background(), defaultRequest())
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Create(context.Background(), defaultRequest())
	if err != nil {
		t.Fatal(err)
	}
	if first.OFPort != second.OFPort || second.RemoteIP != "192.168.1.2" || second.GREKey != 10 {
		t.Errorf("expected existing tunnel, got %+v", second)
	}
	if sw.CallCount("AddPort") != 1 {
		t.Errorf("expected one AddPort, got %d", sw.CallCount("AddPort"))
	}
}

func TestCreateRejectsCollidingName(t *testing.T) {
	m, sw, _ := newTestManager(map[string]string{hypervisor.TunnelNetworkKey: "true"})

	first := defaultRequest()
	first.GREKey = 1000000
	first.RemoteHostID = 100
	first.RemoteIP = "192.168.1.100"
	a, err := m.Create(context.Background(), first)
	if err != nil {
		t.Fatal(err)
	}

	second := first
	second.RemoteHostID = 1000
	second.RemoteIP = "192.168.1.200"
	if Name(second.GREKey, second.LocalHostID, second.RemoteHostID) != a.Name {
		t.Fatalf("expected %s to collide with host 1000's name", a.Name)
	}
	_, err = m.Create(context.Background(), second)
	if !status.Is(err, status.ReasonVerifyInterfaceFailed) {
		t.Fatalf("expected %s, got %v", status.ReasonVerifyInterfaceFailed, err)
	}

	if sw.CallCount("AddPort") != 1 {
		t.Errorf("expected one AddPort, got %d", sw.CallCount("AddPort"))
	}
	got, err := m.Get("xapi1", a.Name)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.RemoteIP != "192.168.1.100" {
		t.Errorf("existing tunnel must be left alone, got %+v", got)
	}
}

func TestCreateFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(sw *ovstest.FakeSwitch)
		req      func(r *CreateRequest)
		expected status.Reason
		addPort  bool
	}{
		{
			name:     "switch down",
			setup:    func(sw *ovstest.FakeSwitch) { sw.CheckErr = status.New(status.ReasonSwitchNotRun, "no vswitchd") },
			expected: status.ReasonSwitchNotRun,
		},
		{
			name:     "no bridge",
			req:      func(r *CreateRequest) { r.Bridge = "xapi9" },
			expected: status.ReasonNoBridge,
		},
		{
			name:     "port lost",
			setup:    func(sw *ovstest.FakeSwitch) { sw.LosePorts = true },
			expected: status.ReasonVerifyPortFailed,
			addPort:  true,
		},
		{
			name:     "remote ip mismatch",
			setup:    func(sw *ovstest.FakeSwitch) { sw.Overrides["t10-1-2/options:remote_ip"] = "192.168.1.99" },
			expected: status.ReasonVerifyInterfaceFailed,
			addPort:  true,
		},
		{
			name:     "key mismatch",
			setup:    func(sw *ovstest.FakeSwitch) { sw.Overrides["t10-1-2/options:key"] = "11" },
			expected: status.ReasonVerifyInterfaceFailed,
			addPort:  true,
		},
		{
			name:     "multiple interfaces",
			setup:    func(sw *ovstest.FakeSwitch) { sw.ExtraInterfaces = 1 },
			expected: status.ReasonVerifyInterfaceFailed,
			addPort:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sw, _ := newTestManager(map[string]string{hypervisor.TunnelNetworkKey: "true"})
			if tt.setup != nil {
				tt.setup(sw)
			}
			req := defaultRequest()
			if tt.req != nil {
				tt.req(&req)
			}

			_, err := m.Create(context.Background(), req)
			if !status.Is(err, tt.expected) {
				t.Fatalf("expected %s, got %v", tt.expected, err)
			}
			if got := sw.CallCount("AddPort") > 0; got != tt.addPort {
				t.Errorf("expected AddPort called=%v, calls: %v", tt.addPort, sw.Calls)
			}

			exists, err := m.Exists("xapi1", "t10-1-2")
			if err != nil {
				t.Fatal(err)
			}
			if exists {
				t.Error("tunnel must not exist after a failed create")
			}
			if flows := sw.Flows("xapi1"); len(flows) != 0 {
				t.Errorf("expected no flows after rollback, got %v", flows)
			}
		})
	}
}

func TestCreateRollsBackFlowsAfterOFPort(t *testing.T) {
	m, sw, flood := newTestManager(map[string]string{hypervisor.DistributedRoutingKey: "true"})
	flood.err = errors.New("flood table load failed")

	if _, err := m.Create(context.Background(), defaultRequest()); err == nil {
		t.Fatal("expected error")
	}
	if flows := sw.Flows("xapi1"); len(flows) != 0 {
		t.Errorf("expected tunnel flows removed, got %v", flows)
	}
	if sw.CallCount("DeleteFlows xapi1 in_port=") != 1 {
		t.Errorf("expected in_port flow deletion, calls: %v", sw.Calls)
	}
	if _, ok := sw.Interface("t10-1-2"); ok {
		t.Error("tunnel port must be removed")
	}
}

func TestCreateRejectsBadRemoteIP(t *testing.T) {
	m, sw, _ := newTestManager(nil)
	req := defaultRequest()
	req.RemoteIP = "not-an-ip"
	if _, err := m.Create(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	if len(sw.Calls) != 0 {
		t.Errorf("expected no switch calls, got %v", sw.Calls)
	}
}

func TestDestroy(t *testing.T) {
	m, sw, flood := newTestManager(map[string]string{hypervisor.DistributedRoutingKey: "true"})
	tun, err := m.Create(context.Background(), defaultRequest())
	if err != nil {
		t.Fatal(err)
	}
	other := openflow.NewFlow(openflow.TableL2Flood, 0).Actions(openflow.Drop()).MustBuild()
	if err := sw.AddFlow("xapi1", other); err != nil {
		t.Fatal(err)
	}

	if err := m.Destroy(context.Background(), "xapi1", tun.Name); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{other.String()}, sw.Flows("xapi1")); diff != "" {
		t.Errorf("unexpected flows (-want +got):\n%s", diff)
	}
	if len(flood.bridges) != 2 {
		t.Errorf("expected flood update on create and destroy, got %v", flood.bridges)
	}

	if err := m.Destroy(context.Background(), "xapi1", tun.Name); err != nil {
		t.Errorf("destroying a missing tunnel should succeed, got %v", err)
	}
}
