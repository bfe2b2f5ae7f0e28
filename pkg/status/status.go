// Package status provides the result codes reported at the agent's outer API boundary.
//
// Every operation the orchestrator triggers ends in a single status string:
//
//	SUCCESS[:data]
//	FAILURE:<REASON>
//
// Lower layers return typed *Error values carrying a Reason; the CLI turns
// those into status strings with Failure().
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Reason is a machine-readable failure code
type Reason string

const (
	// Switch environment
	ReasonNoDBPidFile     Reason = "NO_DB_PID_FILE"
	ReasonDBNotRun        Reason = "DB_NOT_RUN"
	ReasonNoSwitchPidFile Reason = "NO_SWITCH_PID_FILE"
	ReasonSwitchNotRun    Reason = "SWITCH_NOT_RUN"
	ReasonNoVsctl         Reason = "NO_VSCTL"
	ReasonNoOfctl         Reason = "NO_OFCTL"

	// Switch state
	ReasonNoBridge              Reason = "NO_BRIDGE"
	ReasonVerifyPortFailed      Reason = "VERIFY_PORT_FAILED"
	ReasonVerifyInterfaceFailed Reason = "VERIFY_INTERFACE_FAILED"

	// Input
	ReasonImproperJSONConfigFile Reason = "IMPROPER_JSON_CONFIG_FILE"
)

const (
	successPrefix = "SUCCESS"
	failurePrefix = "FAILURE"
)

// Error is a failure tagged with a Reason
type Error struct {
	// Reason is the failure code reported to the caller
	Reason Reason

	// Detail is a human readable description
	Detail string

	// Cause is the underlying error, if any
	Cause error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with a formatted detail message
func New(reason Reason, format string, args ...interface{}) *Error {
	return &Error{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an Error around an underlying cause
func Wrap(reason Reason, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
		Cause:  cause,
	}
}

// ReasonOf returns the Reason of the first *Error in err's chain
func ReasonOf(err error) (Reason, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// Is reports whether err carries the given reason
func Is(err error, reason Reason) bool {
	r, ok := ReasonOf(err)
	return ok && r == reason
}

// Success formats a success status, optionally carrying data
func Success(data string) string {
	if data == "" {
		return successPrefix
	}
	return successPrefix + ":" + data
}

// Failure formats a failure status for err.
// Typed errors report their Reason; anything else reports its message.
func Failure(err error) string {
	if err == nil {
		return failurePrefix
	}
	if r, ok := ReasonOf(err); ok {
		return failurePrefix + ":" + string(r)
	}
	return failurePrefix + ":" + strings.ReplaceAll(err.Error(), "\n", " ")
}

// IsSuccess reports whether a status string denotes success
func IsSuccess(s string) bool {
	return s == successPrefix || strings.HasPrefix(s, successPrefix+":")
}
