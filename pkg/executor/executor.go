// Package executor runs external command-line tools on behalf of the agent.
//
// Every switch and hypervisor operation goes through a Runner. Commands are
// passed as an argv vector and never interpreted by a shell. A command fails
// when it exits non-zero or writes anything to stderr; the failure is
// reported as an *ExternalCommandError carrying the argv and captured stderr.
package executor

import (
	"bytes"
	"errors"
	"strings"

	"k8s.io/klog/v2"
	utilexec "k8s.io/utils/exec"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/metrics"
)

// Runner runs external commands
type Runner interface {
	// Run executes argv[0] with the remaining arguments and returns its stdout
	// with one trailing newline removed.
	Run(argv ...string) (string, error)

	// LookPath resolves an executable the same way the command would be found
	LookPath(file string) (string, error)
}

// Executor is the Runner backed by real processes
type Executor struct {
	exec utilexec.Interface
}

// New returns an Executor that runs real processes
func New() *Executor {
	return &Executor{exec: utilexec.New()}
}

// NewWithExec returns an Executor using the given exec implementation.
// Tests pass a k8s.io/utils/exec/testing.FakeExec.
func NewWithExec(e utilexec.Interface) *Executor {
	return &Executor{exec: e}
}

// Run implements Runner
func (e *Executor) Run(argv ...string) (string, error) {
	if len(argv) == 0 {
		return "", &ExternalCommandError{ExitCode: -1, Cause: errors.New("empty command")}
	}

	klog.V(5).Infof("Executing: %s", strings.Join(argv, " "))

	var stdout, stderr bytes.Buffer
	cmd := e.exec.Command(argv[0], argv[1:]...)
	cmd.SetStdout(&stdout)
	cmd.SetStderr(&stderr)

	err := cmd.Run()
	errOut := strings.TrimSpace(stderr.String())
	if err != nil {
		exitCode := -1
		var exitErr utilexec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		}
		klog.V(5).Infof("Error executing %s: exit=%d stderr=%q", argv[0], exitCode, errOut)
		metrics.RecordCommandFailure(argv[0])
		return "", newExternalCommandError(argv, exitCode, errOut, err)
	}
	if errOut != "" {
		klog.V(5).Infof("Command %s wrote to stderr: %q", argv[0], errOut)
		metrics.RecordCommandFailure(argv[0])
		return "", newExternalCommandError(argv, 0, errOut, nil)
	}

	return strings.TrimSuffix(stdout.String(), "\n"), nil
}

// LookPath implements Runner
func (e *Executor) LookPath(file string) (string, error) {
	return e.exec.LookPath(file)
}
