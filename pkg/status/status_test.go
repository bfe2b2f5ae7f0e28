package status

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "typed error",
			err:      New(ReasonNoBridge, "bridge %s not found", "br0"),
			expected: "FAILURE:NO_BRIDGE",
		},
		{
			name:     "wrapped typed error",
			err:      fmt.Errorf("sync br0 seq 7: %w", New(ReasonImproperJSONConfigFile, "no vpc")),
			expected: "FAILURE:IMPROPER_JSON_CONFIG_FILE",
		},
		{
			name:     "plain error",
			err:      errors.New("ovs-ofctl exited 1\nsecond line"),
			expected: "FAILURE:ovs-ofctl exited 1 second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Failure(tt.err); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSuccess(t *testing.T) {
	if got := Success(""); got != "SUCCESS" {
		t.Errorf("expected SUCCESS, got %q", got)
	}
	if got := Success("t42-1-2"); got != "SUCCESS:t42-1-2" {
		t.Errorf("expected SUCCESS:t42-1-2, got %q", got)
	}
	if !IsSuccess(Success("12")) || IsSuccess("FAILURE:NO_BRIDGE") {
		t.Error("IsSuccess misclassified a status string")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(ReasonVerifyInterfaceFailed, cause, "remote_ip mismatch on %s", "t1-1-2")

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
	if !Is(err, ReasonVerifyInterfaceFailed) {
		t.Error("expected reason VERIFY_INTERFACE_FAILED")
	}
	if Is(errors.New("other"), ReasonVerifyInterfaceFailed) {
		t.Error("untyped error must not report a reason")
	}
	expected := "VERIFY_INTERFACE_FAILED: remote_ip mismatch on t1-1-2: exit status 1"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}
