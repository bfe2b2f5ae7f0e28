package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ExternalCommandError is returned when a command exits non-zero or writes to stderr
type ExternalCommandError struct {
	// Argv is the full command line that was run
	Argv []string

	// ExitCode is the process exit status, -1 if the process never ran
	ExitCode int

	// Stderr is the captured standard error output
	Stderr string

	// Cause is the underlying exec error, nil when the command exited 0
	// but wrote to stderr
	Cause error
}

func (e *ExternalCommandError) Error() string {
	msg := fmt.Sprintf("command %q failed with exit code %d", strings.Join(e.Argv, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Cause != nil && e.Stderr == "" {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExternalCommandError) Unwrap() error {
	return e.Cause
}

func newExternalCommandError(argv []string, exitCode int, stderr string, cause error) *ExternalCommandError {
	return &ExternalCommandError{
		Argv:     append([]string(nil), argv...),
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}

// IsExternalCommandError checks if an error is an ExternalCommandError
func IsExternalCommandError(err error) bool {
	var ece *ExternalCommandError
	return errors.As(err, &ece)
}

// ExitCode returns the exit code carried by err, or -1 if err is not an ExternalCommandError
func ExitCode(err error) int {
	var ece *ExternalCommandError
	if errors.As(err, &ece) {
		return ece.ExitCode
	}
	return -1
}
