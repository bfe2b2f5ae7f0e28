package executor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	utilexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
)

// newFakeRunner returns an Executor whose single command runs the given action
func newFakeRunner(action fakeexec.FakeAction) (*Executor, *fakeexec.FakeCmd) {
	fcmd := &fakeexec.FakeCmd{
		RunScript: []fakeexec.FakeAction{action},
	}
	fexec := &fakeexec.FakeExec{
		CommandScript: []fakeexec.FakeCommandAction{
			func(cmd string, args ...string) utilexec.Cmd {
				return fakeexec.InitFakeCmd(fcmd, cmd, args...)
			},
		},
		LookPathFunc: func(file string) (string, error) {
			if file == "ovs-vsctl" {
				return "/usr/bin/ovs-vsctl", nil
			}
			return "", utilexec.ErrExecutableNotFound
		},
	}
	return NewWithExec(fexec), fcmd
}

func TestRunStripsTrailingNewline(t *testing.T) {
	e, fcmd := newFakeRunner(func() ([]byte, []byte, error) {
		return []byte("br0\nbr1\n"), nil, nil
	})

	out, err := e.Run("ovs-vsctl", "list-br")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "br0\nbr1" {
		t.Errorf("expected %q, got %q", "br0\nbr1", out)
	}
	if diff := cmp.Diff([]string{"ovs-vsctl", "list-br"}, fcmd.RunLog[0]); diff != "" {
		t.Errorf("unexpected argv (-want +got):\n%s", diff)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	e, _ := newFakeRunner(func() ([]byte, []byte, error) {
		return nil, []byte("ovs-vsctl: no bridge named br9\n"), &fakeexec.FakeExitError{Status: 1}
	})

	_, err := e.Run("ovs-vsctl", "list-ports", "br9")
	if err == nil {
		t.Fatal("expected error")
	}

	var ece *ExternalCommandError
	if !errors.As(err, &ece) {
		t.Fatalf("expected *ExternalCommandError, got %T", err)
	}
	if ece.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", ece.ExitCode)
	}
	if ece.Stderr != "ovs-vsctl: no bridge named br9" {
		t.Errorf("unexpected stderr %q", ece.Stderr)
	}
	if diff := cmp.Diff([]string{"ovs-vsctl", "list-ports", "br9"}, ece.Argv); diff != "" {
		t.Errorf("unexpected argv (-want +got):\n%s", diff)
	}
	if ExitCode(err) != 1 {
		t.Errorf("expected ExitCode() 1, got %d", ExitCode(err))
	}
}

func TestRunStderrWithZeroExit(t *testing.T) {
	e, _ := newFakeRunner(func() ([]byte, []byte, error) {
		return []byte("ok\n"), []byte("warning: something odd"), nil
	})

	out, err := e.Run("ovs-ofctl", "add-flow", "br0", "table=0,actions=drop")
	if err == nil {
		t.Fatal("expected stderr output to be treated as failure")
	}
	if out != "" {
		t.Errorf("expected empty output on failure, got %q", out)
	}
	if !IsExternalCommandError(err) {
		t.Errorf("expected ExternalCommandError, got %T", err)
	}
	if ExitCode(err) != 0 {
		t.Errorf("expected exit code 0, got %d", ExitCode(err))
	}
}

func TestRunEmptyArgv(t *testing.T) {
	e := NewWithExec(&fakeexec.FakeExec{})
	if _, err := e.Run(); !IsExternalCommandError(err) {
		t.Errorf("expected ExternalCommandError for empty argv, got %v", err)
	}
}

func TestLookPath(t *testing.T) {
	e, _ := newFakeRunner(nil)

	if p, err := e.LookPath("ovs-vsctl"); err != nil || p != "/usr/bin/ovs-vsctl" {
		t.Errorf("expected /usr/bin/ovs-vsctl, got %q (%v)", p, err)
	}
	if _, err := e.LookPath("ovs-ofctl"); err == nil {
		t.Error("expected lookup failure for ovs-ofctl")
	}
}
