// Package e2e provides helper functions for E2E tests.
package e2e

import (
	"fmt"
	"os"
	"strings"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/ovs"
)

// TopologyFile is the topology shared with the synchronizer unit tests
const TopologyFile = "../../pkg/vpc/testdata/vpc.json"

// ReadTopology returns the topology payload
func ReadTopology() ([]byte, error) {
	return os.ReadFile(TopologyFile)
}

// DumpFlows returns the flows of one table without statistics, one per line,
// e.g. "priority=1100,dl_dst=02:00:00:01:00:0a actions=output:1"
func (f *TestFramework) DumpFlows(table openflow.Table) ([]string, error) {
	out, err := RunCommand("ovs-ofctl", "--no-stats", "dump-flows", f.Bridge, fmt.Sprintf("table=%d", table))
	if err != nil {
		return nil, fmt.Errorf("%v: %s", err, out)
	}
	var flows []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "NXST_FLOW") || strings.HasPrefix(line, "OFPST_FLOW") {
			continue
		}
		// Non-zero tables are printed as a leading "table=N, " field
		if i := strings.Index(line, "priority="); i > 0 {
			line = line[i:]
		}
		flows = append(flows, line)
	}
	return flows, nil
}

// PortExists reports whether the scratch bridge has the named port
func (f *TestFramework) PortExists(name string) (bool, error) {
	return ovs.PortExists(f.Switch, f.Bridge, name)
}
