package ovs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/status"
)

// CheckSwitch implements Interface.
//
// Checks, in order:
//  1. ovsdb-server pid file present, process alive
//  2. ovs-vswitchd pid file present, process alive
//  3. ovs-vsctl and ovs-ofctl resolvable
func (c *Client) CheckSwitch() error {
	if err := c.checkDaemon(c.opts.DBPidFile, status.ReasonNoDBPidFile, status.ReasonDBNotRun); err != nil {
		return err
	}
	if err := c.checkDaemon(c.opts.SwitchPidFile, status.ReasonNoSwitchPidFile, status.ReasonSwitchNotRun); err != nil {
		return err
	}
	if _, err := c.runner.LookPath(c.opts.VsctlPath); err != nil {
		return status.Wrap(status.ReasonNoVsctl, err, "%s not found", c.opts.VsctlPath)
	}
	if _, err := c.runner.LookPath(c.opts.OfctlPath); err != nil {
		return status.Wrap(status.ReasonNoOfctl, err, "%s not found", c.opts.OfctlPath)
	}
	klog.V(4).Infof("Open vSwitch daemons and tools present")
	return nil
}

func (c *Client) checkDaemon(pidFile string, noPidFile, notRunning status.Reason) error {
	path := filepath.Join(c.opts.RunDir, pidFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return status.Wrap(noPidFile, err, "cannot read %s", path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return status.New(notRunning, "pid file %s holds no valid pid", path)
	}

	procPath := filepath.Join(c.opts.ProcDir, strconv.Itoa(pid))
	if _, err := os.Stat(procPath); err != nil {
		return status.Wrap(notRunning, err, "process %d from %s is not running", pid, path)
	}
	return nil
}
