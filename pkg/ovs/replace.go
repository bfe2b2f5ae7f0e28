package ovs

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
)

// ReplaceRequest describes one flush-and-reload of a group of tables
type ReplaceRequest struct {
	// Bridge is the target bridge
	Bridge string

	// Flush lists the tables emptied before loading
	Flush []openflow.Table

	// Rules is the full replacement set. Rules may target tables outside
	// Flush; add-flows overwrites an identical match in place.
	Rules []openflow.FlowRule

	// BatchDir is the scratch directory for the batch file
	BatchDir string

	// BatchName is the batch file name, see openflow.BatchFileName
	BatchName string
}

// ReplaceFlows writes the batch file, flushes the tables, and bulk-loads the
// batch. The batch file is removed whether or not the load succeeds.
// A failure between flush and load leaves the flushed tables empty.
func ReplaceFlows(ovsif Interface, req ReplaceRequest) error {
	path, err := openflow.WriteBatch(req.BatchDir, req.BatchName, req.Rules)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			klog.Warningf("Failed to remove batch file %s: %v", path, rmErr)
		}
	}()

	for _, table := range req.Flush {
		if err := ovsif.DeleteFlows(req.Bridge, table, openflow.NewMatch()); err != nil {
			return fmt.Errorf("failed to flush table %s on %s: %w", table, req.Bridge, err)
		}
	}

	if err := ovsif.AddFlowsFromFile(req.Bridge, path); err != nil {
		return fmt.Errorf("failed to load %d flows into %s: %w", len(req.Rules), req.Bridge, err)
	}

	klog.V(4).Infof("Loaded %d flows into %s (flushed %v)", len(req.Rules), req.Bridge, req.Flush)
	return nil
}
