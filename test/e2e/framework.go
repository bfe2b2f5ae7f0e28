// Package e2e provides the E2E testing framework for ovs-vpc-agent.
package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/executor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/hypervisor/hypervisortest"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/vpc"
)

const (
	DefaultBridge  = "vpce2e0"
	DefaultTimeout = 30 * time.Second
	PollInterval   = time.Second

	// LocalHostID is this host's id in testdata/vpc.json
	LocalHostID = 1
)

// VM ports plugged into the scratch bridge, matching the local VMs of the topology
var localVIFs = []struct {
	vm, domID, mac string
	ofport         int
}{
	{vm: "vm-a", domID: "1", mac: "02:00:00:01:00:0a", ofport: 1},
	{vm: "vm-b", domID: "2", mac: "02:00:00:02:00:0b", ofport: 2},
}

type TestFramework struct {
	Bridge        string
	BatchDir      string
	Switch        *ovs.Client
	Hypervisor    *hypervisortest.FakeHypervisor
	Sync          *vpc.Synchronizer
	BridgeCreated bool
}

var framework *TestFramework

func InitTestFramework() error {
	opts := ovs.DefaultOptions()
	for _, tool := range []*string{&opts.VsctlPath, &opts.OfctlPath} {
		path, err := exec.LookPath(filepath.Base(*tool))
		if err != nil {
			return fmt.Errorf("%s not found: %w", *tool, err)
		}
		*tool = path
	}

	batchDir, err := os.MkdirTemp("", "ovs-vpc-e2e-*")
	if err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}

	framework = &TestFramework{
		Bridge:     getEnvOrDefault("E2E_BRIDGE", DefaultBridge),
		BatchDir:   batchDir,
		Switch:     ovs.New(executor.New(), opts),
		Hypervisor: hypervisortest.NewFakeHypervisor(LocalHostID),
	}
	if err := framework.CreateBridge(); err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	framework.BridgeCreated = true

	framework.Hypervisor.AddNetwork(framework.Bridge, "e2e-network", map[string]string{
		hypervisor.TunnelNetworkKey: "true",
	})
	for _, v := range localVIFs {
		name := framework.Hypervisor.AddVIF(v.vm, v.domID, "0", v.mac, "")
		if err := framework.PlugVIF(name, v.ofport); err != nil {
			return fmt.Errorf("failed to plug %s: %w", name, err)
		}
	}

	framework.Sync = vpc.NewSynchronizer(framework.Switch, framework.Hypervisor, vpc.Options{
		LocalHostID: LocalHostID,
		BatchDir:    batchDir,
	})
	return nil
}

func CleanupTestFramework() {
	if framework == nil {
		return
	}
	if framework.BridgeCreated && os.Getenv("E2E_SKIP_CLEANUP") != "true" {
		_ = framework.DeleteBridge()
	}
	_ = os.RemoveAll(framework.BatchDir)
}

func GetFramework() *TestFramework { return framework }

// CreateBridge creates the scratch bridge in secure fail mode so the switch
// installs no flows of its own
func (f *TestFramework) CreateBridge() error {
	out, err := RunCommand("ovs-vsctl", "--may-exist", "add-br", f.Bridge,
		"--", "set", "Bridge", f.Bridge, "fail_mode=secure")
	if err != nil {
		return fmt.Errorf("%v: %s", err, out)
	}
	return nil
}

func (f *TestFramework) DeleteBridge() error {
	out, err := RunCommand("ovs-vsctl", "--if-exists", "del-br", f.Bridge)
	if err != nil {
		return fmt.Errorf("%v: %s", err, out)
	}
	return nil
}

// PlugVIF adds an internal port standing in for a VM interface
func (f *TestFramework) PlugVIF(name string, ofport int) error {
	out, err := RunCommand("ovs-vsctl", "--may-exist", "add-port", f.Bridge, name,
		"--", "set", "Interface", name, "type=internal", fmt.Sprintf("ofport_request=%d", ofport))
	if err != nil {
		return fmt.Errorf("%v: %s", err, out)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
