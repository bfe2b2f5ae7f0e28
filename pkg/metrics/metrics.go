// Package metrics provides Prometheus metrics for the OVS VPC agent.
//
// This package exposes metrics for:
// - Synchronization latency and outcome per operation
// - Flow counts loaded into each bridge table group
// - GRE tunnel create/destroy outcomes
// - External command failures
//
// The agent runs as a short-lived CLI invocation, so metrics are kept in a
// private registry and written to a node-exporter textfile (see WriteTextfile)
// instead of being served over HTTP.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the Prometheus metrics namespace
	Namespace = "ovs_vpc"

	// Subsystem names for different metric categories
	SubsystemSync    = "sync"
	SubsystemTunnel  = "tunnel"
	SubsystemFlows   = "flows"
	SubsystemCommand = "command"

	// TextfileName is the file written into the textfile collector directory
	TextfileName = "ovs_vpc_agent.prom"
)

var (
	// registerOnce ensures metrics are registered only once
	registerOnce sync.Once

	// Registry holds every agent metric
	Registry = prometheus.NewRegistry()

	// ---- Sync Metrics ----

	// SyncDuration measures the time taken by one synchronization request
	// Labels: operation (topology/acl/flood/create_tunnel/destroy_tunnel), result (success/failure)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSync,
			Name:      "duration_seconds",
			Help:      "Time taken to synchronize bridge state in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation", "result"},
	)

	// SyncTotal counts synchronization requests
	// Labels: operation, result
	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSync,
			Name:      "total",
			Help:      "Total number of synchronization requests",
		},
		[]string{"operation", "result"},
	)

	// LastSuccessTimestamp records when a bridge last synchronized successfully
	// Labels: bridge, operation
	LastSuccessTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSync,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful synchronization",
		},
		[]string{"bridge", "operation"},
	)

	// ---- Flow Metrics ----

	// FlowsLoaded tracks the number of rules in the last batch loaded per table group
	// Labels: bridge, group (topology/acl/flood)
	FlowsLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemFlows,
			Name:      "loaded",
			Help:      "Number of flow rules in the last batch loaded into a bridge",
		},
		[]string{"bridge", "group"},
	)

	// ---- Tunnel Metrics ----

	// TunnelOperationTotal counts tunnel operations
	// Labels: operation (create/destroy), result (success/failure/exists)
	TunnelOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTunnel,
			Name:      "operation_total",
			Help:      "Total number of GRE tunnel operations",
		},
		[]string{"operation", "result"},
	)

	// TunnelRollbackTotal counts rollbacks of partially created tunnels
	TunnelRollbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTunnel,
			Name:      "rollback_total",
			Help:      "Total number of partially created tunnels rolled back",
		},
	)

	// ---- Command Metrics ----

	// CommandFailureTotal counts failed external commands
	// Labels: command (ovs-vsctl/ovs-ofctl/xe)
	CommandFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCommand,
			Name:      "failure_total",
			Help:      "Total number of external commands that failed",
		},
		[]string{"command"},
	)
)

// Register registers all metrics with Registry.
// This function is safe to call multiple times; metrics will only be registered once.
func Register() {
	registerOnce.Do(func() {
		// Sync metrics
		Registry.MustRegister(SyncDuration)
		Registry.MustRegister(SyncTotal)
		Registry.MustRegister(LastSuccessTimestamp)

		// Flow metrics
		Registry.MustRegister(FlowsLoaded)

		// Tunnel metrics
		Registry.MustRegister(TunnelOperationTotal)
		Registry.MustRegister(TunnelRollbackTotal)

		// Command metrics
		Registry.MustRegister(CommandFailureTotal)
	})
}

// WriteTextfile writes the current metric values to dir/TextfileName in the
// Prometheus text format. The file is replaced atomically.
func WriteTextfile(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, TextfileName)
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
