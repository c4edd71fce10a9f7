//go:build e2e
// +build e2e

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package e2e

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/chazu/ballast/pkg/driver"
	"github.com/chazu/ballast/pkg/engine"
	"github.com/chazu/ballast/pkg/graph"
	"github.com/chazu/ballast/pkg/manifest"
	"github.com/chazu/ballast/pkg/plan"
	"github.com/chazu/ballast/pkg/resource"
	"github.com/chazu/ballast/pkg/state"
)

// lbTopology declares the full nine-resource serverless load balancer
// stack: a Cloud Run service fronted by a global HTTPS load balancer
const lbTopology = `
resources:
  - type: GlobalAddress
    name: lb-ip
  - type: ManagedCertificate
    name: cert
    attributes:
      domains:
        - example.com
  - type: SecurityPolicy
    name: edge
  - type: ComputeService
    name: api
    attributes:
      region: us-central1
      image: gcr.io/acme/api:v1
  - type: NetworkEndpointGroup
    name: api-neg
    attributes:
      region: us-central1
      cloud_run_service:
        $ref: ComputeService/api
        field: name
  - type: BackendService
    name: api-bs
    attributes:
      backend_group:
        $ref: NetworkEndpointGroup/api-neg
        field: self_link
      security_policy: edge
  - type: UrlMap
    name: routes
    attributes:
      default_service:
        $ref: BackendService/api-bs
        field: name
  - type: HttpsProxy
    name: web
    attributes:
      url_map:
        $ref: UrlMap/routes
        field: self_link
      ssl_certificates:
        - $ref: ManagedCertificate/cert
          field: self_link
  - type: ForwardingRule
    name: https
    attributes:
      target:
        $ref: HttpsProxy/web
        field: self_link
      ip_address:
        $ref: GlobalAddress/lb-ip
        field: address
`

const serviceChain = `
resources:
  - type: ComputeService
    name: api
    attributes:
      region: us-central1
      image: gcr.io/acme/api:v1
  - type: NetworkEndpointGroup
    name: api-neg
    attributes:
      region: us-central1
      cloud_run_service:
        $ref: ComputeService/api
        field: name
  - type: BackendService
    name: api-bs
    attributes:
      backend_group:
        $ref: NetworkEndpointGroup/api-neg
        field: self_link
`

const cyclicTopology = `
resources:
  - type: BackendService
    name: alpha
    attributes:
      backend_group: projects/acme/zones/us-central1-a/networkEndpointGroups/pinned
      security_policy:
        $ref: BackendService/beta
        field: self_link
  - type: BackendService
    name: beta
    attributes:
      backend_group: projects/acme/zones/us-central1-a/networkEndpointGroups/pinned
      security_policy:
        $ref: BackendService/alpha
        field: self_link
`

var (
	addrID   = resource.ID{Type: resource.TypeGlobalAddress, Name: "lb-ip"}
	certID   = resource.ID{Type: resource.TypeManagedCertificate, Name: "cert"}
	policyID = resource.ID{Type: resource.TypeSecurityPolicy, Name: "edge"}
	svcID    = resource.ID{Type: resource.TypeComputeService, Name: "api"}
	negID    = resource.ID{Type: resource.TypeNetworkEndpointGroup, Name: "api-neg"}
	bsID     = resource.ID{Type: resource.TypeBackendService, Name: "api-bs"}
	umID     = resource.ID{Type: resource.TypeUrlMap, Name: "routes"}
	proxyID  = resource.ID{Type: resource.TypeHttpsProxy, Name: "web"}
	ruleID   = resource.ID{Type: resource.TypeForwardingRule, Name: "https"}
)

var _ = Describe("Apply", func() {
	Context("converging a fresh topology", Ordered, func() {
		var (
			w      *world
			report *engine.Report
		)

		BeforeAll(func() {
			w = newWorld()

			By("planning and applying the declared topology")
			var err error
			report, err = w.apply(context.Background(), lbTopology)
			Expect(err).NotTo(HaveOccurred(), "Failed to apply the topology")
		})

		It("should converge every resource", func() {
			Expect(report.Converged()).To(BeTrue(), "Expected a converged report")
			Expect(report.Status).To(Equal(engine.StatusConverged))
			Expect(w.fake.ObjectCount()).To(Equal(9), "Expected every resource provisioned")

			records, err := w.store.List(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(9), "Expected observed state for every resource")
			for _, obs := range records {
				Expect(obs.Serial).To(Equal(int64(1)), "Expected first serial for %s", obs.ID)
				Expect(obs.Fingerprint).NotTo(BeEmpty(), "Expected a fingerprint for %s", obs.ID)
			}
		})

		It("should create producers before their consumers", func() {
			calls := w.fake.Calls()
			chain := []resource.ID{svcID, negID, bsID, umID, proxyID, ruleID}
			for i := 1; i < len(chain); i++ {
				Expect(callIndex(calls, "create", chain[i-1])).To(
					BeNumerically("<", callIndex(calls, "create", chain[i])),
					"Expected %s created before %s", chain[i-1], chain[i])
			}
			Expect(callIndex(calls, "create", certID)).To(
				BeNumerically("<", callIndex(calls, "create", proxyID)),
				"Expected the certificate before the proxy that serves it")
			Expect(callIndex(calls, "create", addrID)).To(
				BeNumerically("<", callIndex(calls, "create", ruleID)),
				"Expected the address before the rule that binds it")
		})

		It("should resolve provider outputs across tiers", func() {
			negObj, ok := w.fake.Object(negID)
			Expect(ok).To(BeTrue())
			bsObj, ok := w.fake.Object(bsID)
			Expect(ok).To(BeTrue())
			Expect(bsObj["backend_group"]).To(Equal(negObj["self_link"]),
				"Expected the backend wired to the endpoint group it waited for")

			proxyObj, ok := w.fake.Object(proxyID)
			Expect(ok).To(BeTrue())
			ruleObj, ok := w.fake.Object(ruleID)
			Expect(ok).To(BeTrue())
			Expect(ruleObj["target"]).To(Equal(proxyObj["self_link"]))

			addrObj, ok := w.fake.Object(addrID)
			Expect(ok).To(BeTrue())
			Expect(ruleObj["ip_address"]).To(Equal(addrObj["address"]),
				"Expected the rule bound to the reserved address")
		})

		It("should plan nothing on a second pass", func() {
			p, err := w.plan(context.Background(), lbTopology)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Changes.HasChanges()).To(BeFalse(), "Expected a converged plan")

			summary := p.Changes.Summarize()
			Expect(summary.NoOp).To(Equal(9), "Expected every resource unchanged")
		})

		It("should not touch the provider when re-applying", func() {
			before := len(w.fake.Calls())

			report, err := w.apply(context.Background(), lbTopology)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Converged()).To(BeTrue())
			Expect(w.fake.Calls()).To(HaveLen(before), "Expected no driver calls for a no-op apply")
		})
	})

	Context("updating one mutable attribute", Ordered, func() {
		var w *world

		BeforeAll(func() {
			w = newWorld()
			_, err := w.apply(context.Background(), lbTopology)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should plan exactly one update", func() {
			p, err := w.plan(context.Background(), raisedTimeoutTopology())
			Expect(err).NotTo(HaveOccurred())

			summary := p.Changes.Summarize()
			Expect(summary.Update).To(Equal(1), "Expected a single update, got %+v", summary)
			Expect(summary.Create).To(BeZero())
			Expect(summary.Delete).To(BeZero())
			Expect(summary.Replace).To(BeZero())
		})

		It("should apply the new value and bump only that serial", func() {
			report, err := w.apply(context.Background(), raisedTimeoutTopology())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Converged()).To(BeTrue())

			obj, ok := w.fake.Object(bsID)
			Expect(ok).To(BeTrue())
			Expect(obj["timeout_sec"]).To(Equal(int64(60)))

			records, err := w.store.List(context.Background())
			Expect(err).NotTo(HaveOccurred())
			for _, obs := range records {
				want := int64(1)
				if obs.ID == bsID {
					want = 2
				}
				Expect(obs.Serial).To(Equal(want), "Unexpected serial for %s", obs.ID)
			}
		})
	})

	Context("when certificate provisioning fails terminally", Ordered, func() {
		var (
			w      *world
			report *engine.Report
		)

		BeforeAll(func() {
			w = newWorld()
			w.fake.FailNext("create", certID, 1,
				driver.Terminalf("create", "certificate authority rejected example.com"))

			var err error
			report, err = w.apply(context.Background(), lbTopology)
			Expect(err).NotTo(HaveOccurred(), "Execution errors are recorded per operation")
		})

		It("should report partial failure", func() {
			Expect(report.Converged()).To(BeFalse())
			Expect(report.Status).To(Equal(engine.StatusPartiallyFailed))
			Expect(report.Canceled).To(BeFalse())
		})

		It("should fail the certificate and skip its consumers", func() {
			res := resultFor(report, certID)
			Expect(res.State).To(Equal(engine.OpFailed))
			Expect(res.Error).To(ContainSubstring("certificate authority rejected"))

			for _, id := range []resource.ID{proxyID, ruleID} {
				res := resultFor(report, id)
				Expect(res.State).To(Equal(engine.OpSkipped), "Expected %s skipped", id)
				Expect(res.Reason).To(ContainSubstring("did not succeed"))
			}
			Expect(resultFor(report, proxyID).Reason).To(ContainSubstring(certID.String()))
		})

		It("should still converge the independent branch", func() {
			for _, id := range []resource.ID{addrID, policyID, svcID, negID, bsID, umID} {
				Expect(resultFor(report, id).State).To(Equal(engine.OpSucceeded),
					"Expected %s to succeed", id)
			}
			Expect(w.fake.ObjectCount()).To(Equal(6))
		})

		It("should record state only for resources that succeeded", func() {
			records, err := w.store.List(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(6))

			_, err = w.store.Get(context.Background(), certID)
			Expect(err).To(MatchError(state.ErrNotFound))
		})

		It("should converge the rest after the failure is fixed", func() {
			report, err := w.apply(context.Background(), lbTopology)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Converged()).To(BeTrue(), "Expected the retry run to converge")

			p, err := w.plan(context.Background(), lbTopology)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Changes.HasChanges()).To(BeFalse())
		})
	})

	Context("with a reference cycle", func() {
		It("should refuse to plan and apply nothing", func() {
			w := newWorld()

			_, err := w.plan(context.Background(), cyclicTopology)
			Expect(err).To(HaveOccurred())

			var cycle *graph.CycleError
			Expect(errors.As(err, &cycle)).To(BeTrue(), "Expected a cycle error, got %v", err)
			Expect(w.fake.Calls()).To(BeEmpty(), "Expected the provider untouched")
			Expect(w.fake.ObjectCount()).To(BeZero())
		})
	})

	Context("canceling mid-apply", func() {
		It("should finish in-flight work and skip the rest", func() {
			w := newWorld()
			w.fake.WithLatency(80 * time.Millisecond)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			report, err := w.apply(ctx, serviceChain)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Canceled).To(BeTrue())
			Expect(report.Status).To(Equal(engine.StatusPartiallyFailed))

			res := resultFor(report, svcID)
			Expect(res.State).To(Equal(engine.OpSucceeded), "Expected the in-flight create to finish")
			obs, err := w.store.Get(context.Background(), svcID)
			Expect(err).NotTo(HaveOccurred(), "Expected the finished create recorded")
			Expect(obs.Serial).To(Equal(int64(1)))

			for _, id := range []resource.ID{negID, bsID} {
				res := resultFor(report, id)
				Expect(res.State).To(Equal(engine.OpSkipped), "Expected %s skipped", id)
				Expect(res.Reason).To(ContainSubstring("canceled"))
			}
		})
	})

	Context("running independent resources", func() {
		It("should apply them concurrently", func() {
			w := newWorld()
			w.fake.WithLatency(60 * time.Millisecond)

			start := time.Now()
			report, err := w.apply(context.Background(), addressFarm(6))
			elapsed := time.Since(start)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Converged()).To(BeTrue())
			Expect(w.fake.ObjectCount()).To(Equal(6))
			// Serial execution would take at least 360ms
			Expect(elapsed).To(BeNumerically("<", 300*time.Millisecond),
				"Expected independent creates to overlap")
		})
	})
})

// world bundles the moving parts of one apply run: a fresh in-memory
// state store and an emulated provider.
type world struct {
	store *state.Memory
	fake  *driver.Fake
	cfg   engine.Config
}

func newWorld() *world {
	cfg := engine.DefaultConfig()
	cfg.RetryBackoffBase = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return &world{
		store: state.NewMemory(),
		fake:  driver.NewFake("acme-prod"),
		cfg:   cfg,
	}
}

func (w *world) plan(ctx context.Context, doc string) (*plan.Plan, error) {
	specs, err := manifest.Parse([]byte(doc))
	if err != nil {
		return nil, err
	}
	return plan.Compute(ctx, specs, w.store)
}

func (w *world) apply(ctx context.Context, doc string) (*engine.Report, error) {
	p, err := w.plan(ctx, doc)
	if err != nil {
		return nil, err
	}
	exec := engine.NewExecutor(w.fake.Registry(), w.store, w.cfg, logr.Discard())
	return exec.Execute(ctx, p)
}

// resultFor returns the apply result for the non-replace operation on id
func resultFor(report *engine.Report, id resource.ID) engine.OperationResult {
	for _, res := range report.Results {
		if res.Target == id {
			return res
		}
	}
	Fail(fmt.Sprintf("no result for %s", id))
	return engine.OperationResult{}
}

// callIndex returns the position of the first (verb, id) driver call
func callIndex(calls []driver.Call, verb string, id resource.ID) int {
	for i, call := range calls {
		if call.Verb == verb && call.ID == id {
			return i
		}
	}
	return -1
}

// addressFarm declares n GlobalAddress resources with no edges between them
func addressFarm(n int) string {
	var b strings.Builder
	b.WriteString("resources:\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "  - type: GlobalAddress\n    name: ip-%d\n", i)
	}
	return b.String()
}

// raisedTimeoutTopology is lbTopology with the backend timeout raised
// from its default
func raisedTimeoutTopology() string {
	return strings.Replace(lbTopology,
		"      security_policy: edge",
		"      security_policy: edge\n      timeout_sec: 60", 1)
}
