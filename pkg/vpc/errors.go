package vpc

import (
	"errors"
	"fmt"
)

// SyncError is returned when a synchronization request fails.
// It records where the request stopped; Cause keeps its status reason.
type SyncError struct {
	Operation string
	Bridge    string
	Sequence  string
	State     State
	Cause     error
}

func (e *SyncError) Error() string {
	where := e.Bridge
	if e.Sequence != "" {
		where = fmt.Sprintf("%s (sequence %s)", e.Bridge, e.Sequence)
	}
	return fmt.Sprintf("%s on %s failed in %s: %v", e.Operation, where, e.State, e.Cause)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// IsSyncError reports whether err is or wraps a *SyncError
func IsSyncError(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr)
}

// FailedState returns the state a failed request stopped in
func FailedState(err error) (State, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.State, true
	}
	return StateIdle, false
}
