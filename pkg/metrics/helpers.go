package metrics

import (
	"path/filepath"
	"time"
)

// Result constants for metric labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultExists  = "exists"
)

// Sync operation constants
const (
	OperationTopology      = "topology"
	OperationACL           = "acl"
	OperationFlood         = "flood"
	OperationCreateTunnel  = "create_tunnel"
	OperationDestroyTunnel = "destroy_tunnel"
	OperationCheckSwitch   = "check_switch"
)

// Tunnel operation constants
const (
	TunnelOpCreate  = "create"
	TunnelOpDestroy = "destroy"
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting from now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration returns the duration since the timer was created
func (t *Timer) ObserveDuration() time.Duration {
	return time.Since(t.start)
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordSync records one synchronization request
//
// Parameters:
//   - operation: The sync operation (topology/acl/flood/...)
//   - bridge: The bridge that was synchronized
//   - err: The error from the operation (nil for success)
//   - duration: The duration of the operation
func RecordSync(operation, bridge string, err error, duration time.Duration) {
	result := resultOf(err)
	SyncDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
	SyncTotal.WithLabelValues(operation, result).Inc()
	if err == nil && bridge != "" {
		LastSuccessTimestamp.WithLabelValues(bridge, operation).SetToCurrentTime()
	}
}

// RecordFlowsLoaded sets the number of rules in the batch last loaded for a group
func RecordFlowsLoaded(bridge, group string, count int) {
	FlowsLoaded.WithLabelValues(bridge, group).Set(float64(count))
}

// RecordTunnelOperation records a tunnel create or destroy
func RecordTunnelOperation(operation, result string) {
	TunnelOperationTotal.WithLabelValues(operation, result).Inc()
}

// RecordTunnelRollback counts one rollback of a partially created tunnel
func RecordTunnelRollback() {
	TunnelRollbackTotal.Inc()
}

// RecordCommandFailure counts a failed external command by binary name
func RecordCommandFailure(binary string) {
	CommandFailureTotal.WithLabelValues(filepath.Base(binary)).Inc()
}
