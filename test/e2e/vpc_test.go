// Package e2e contains flow programming E2E tests for ovs-vpc-agent.
// These tests verify that topology, ACL and flooding requests leave the
// expected rules in the bridge's flow tables.
package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/openflow"
	"github.com/jiayi-1994/zstack-ovs-vpc/pkg/vpc"
)

var _ = Describe("VPC Flow Programming", Ordered, func() {
	var (
		ctx     context.Context
		f       *TestFramework
		payload []byte
	)

	BeforeAll(func() {
		ctx = context.Background()
		f = GetFramework()
		Expect(f).NotTo(BeNil(), "Test framework not initialized")

		var err error
		payload, err = ReadTopology()
		Expect(err).NotTo(HaveOccurred())
	})

	It("should find the switch running", func() {
		Expect(f.Sync.CheckSwitch(ctx)).To(Succeed())
	})

	Describe("Topology", func() {
		It("should program local and remote NICs", func() {
			By("Applying the topology")
			report, err := f.Sync.ConfigureTopology(ctx, f.Bridge, payload, "1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.State).To(Equal(vpc.StateApplied))
			Expect(report.Tunnels).To(ConsistOf("t101-1-2"))

			By("Checking the tunnel port")
			exists, err := f.PortExists("t101-1-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			By("Checking L2Lookup")
			l2, err := f.DumpFlows(openflow.TableL2Lookup)
			Expect(err).NotTo(HaveOccurred())
			Expect(l2).To(ContainElements(
				"priority=1100,dl_dst=02:00:00:01:00:0a actions=output:1",
				"priority=1100,dl_dst=02:00:00:02:00:0b actions=output:2",
				"priority=0 actions=resubmit(,2)",
			))
			Expect(l2).To(ContainElement(HavePrefix("priority=1100,dl_dst=02:00:00:01:00:0c actions=output:")))

			By("Checking L3Lookup")
			l3, err := f.DumpFlows(openflow.TableL3Lookup)
			Expect(err).NotTo(HaveOccurred())
			Expect(l3).To(ContainElement(
				"priority=1100,ip,nw_dst=10.1.1.10 actions=mod_dl_src:02:00:00:01:00:01,mod_dl_dst:02:00:00:01:00:0a,resubmit(,5)",
			))
			Expect(l3).To(ContainElement("priority=0 actions=resubmit(,1)"))

			By("Checking the Classifier")
			classifier, err := f.DumpFlows(openflow.TableClassifier)
			Expect(err).NotTo(HaveOccurred())
			Expect(classifier).To(ContainElement("priority=1200,ip,in_port=1,nw_dst=10.1.1.0/24 actions=resubmit(,1)"))
		})

		It("should leave the tables unchanged when the topology is applied again", func() {
			before, err := f.DumpFlows(openflow.TableL2Lookup)
			Expect(err).NotTo(HaveOccurred())

			_, err = f.Sync.ConfigureTopology(ctx, f.Bridge, payload, "2")
			Expect(err).NotTo(HaveOccurred())

			after, err := f.DumpFlows(openflow.TableL2Lookup)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(ConsistOf(before))
		})

		It("should reject a document without a vpc", func() {
			_, err := f.Sync.ConfigureTopology(ctx, f.Bridge, []byte(`{}`), "3")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Routing Policies", func() {
		It("should allow ssh into the tier and drop everything else", func() {
			report, err := f.Sync.ConfigureRoutingPolicies(ctx, f.Bridge, payload, "4")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Rules).To(Equal(4))

			ingress, err := f.DumpFlows(openflow.TableIngressACL)
			Expect(err).NotTo(HaveOccurred())
			Expect(ingress).To(ContainElements(
				"priority=1010,tcp,nw_dst=10.1.1.0/24,tp_dst=22 actions=resubmit(,1)",
				"priority=0 actions=drop",
			))

			egress, err := f.DumpFlows(openflow.TableEgressACL)
			Expect(err).NotTo(HaveOccurred())
			Expect(egress).To(ContainElement("priority=0 actions=resubmit(,4)"))
		})
	})

	Describe("Flooding", func() {
		It("should install the default drop", func() {
			_, err := f.Sync.UpdateFlooding(ctx, f.Bridge)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() ([]string, error) {
				return f.DumpFlows(openflow.TableL2Flood)
			}, DefaultTimeout, PollInterval).Should(ContainElement("priority=0 actions=drop"))
		})
	})

	Describe("Tunnels", func() {
		It("should remove a tunnel and its flows", func() {
			Expect(f.Sync.DestroyTunnel(ctx, f.Bridge, "t101-1-2")).To(Succeed())

			exists, err := f.PortExists("t101-1-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})
})
