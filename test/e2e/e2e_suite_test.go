// Package e2e contains end-to-end tests for ovs-vpc-agent.
// These tests program a scratch bridge on a real Open vSwitch and read the
// resulting flow tables back with ovs-ofctl.
//
// Test Requirements:
// - Open vSwitch installed and running (ovsdb-server, ovs-vswitchd)
// - ovs-vsctl and ovs-ofctl in PATH
// - Root privileges
//
// Running Tests:
//
//	OVS_VPC_E2E=true go test -v ./test/e2e/... -timeout 10m
package e2e

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// TestE2E is the entry point for running E2E tests using Ginkgo.
// It registers the Ginkgo test framework with Go's testing package.
func TestE2E(t *testing.T) {
	if os.Getenv("OVS_VPC_E2E") != "true" {
		t.Skip("set OVS_VPC_E2E=true to run against a real Open vSwitch")
	}
	RegisterFailHandler(Fail)
	RunSpecs(t, "OVS VPC Agent E2E Suite")
}

var _ = BeforeSuite(func() {
	By("Setting up E2E test environment")

	err := InitTestFramework()
	Expect(err).NotTo(HaveOccurred(), "Failed to initialize test framework")
})

var _ = AfterSuite(func() {
	By("Cleaning up E2E test environment")

	CleanupTestFramework()
})
