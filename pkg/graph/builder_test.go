package graph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/ballast/pkg/resource"
)

func addressSpec(name string) *resource.Spec {
	return resource.NewSpec(resource.TypeGlobalAddress, name, nil)
}

func certSpec(name string, domains ...string) *resource.Spec {
	return resource.NewSpec(resource.TypeManagedCertificate, name, map[string]resource.Value{
		"domains": resource.Strings(domains...),
	})
}

func policySpec(name string) *resource.Spec {
	return resource.NewSpec(resource.TypeSecurityPolicy, name, nil)
}

func serviceSpec(name string) *resource.Spec {
	return resource.NewSpec(resource.TypeComputeService, name, map[string]resource.Value{
		"region": resource.String("us-central1"),
		"image":  resource.String("gcr.io/acme/" + name + ":v1"),
	})
}

func negSpec(name, service string) *resource.Spec {
	return resource.NewSpec(resource.TypeNetworkEndpointGroup, name, map[string]resource.Value{
		"region":            resource.String("us-central1"),
		"cloud_run_service": resource.Ref(resource.ID{Type: resource.TypeComputeService, Name: service}, "name"),
	})
}

func backendSpec(name, neg string, extra map[string]resource.Value) *resource.Spec {
	attrs := map[string]resource.Value{
		"backend_group": resource.Ref(resource.ID{Type: resource.TypeNetworkEndpointGroup, Name: neg}, "self_link"),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return resource.NewSpec(resource.TypeBackendService, name, attrs)
}

func urlMapSpec(name, backend string) *resource.Spec {
	return resource.NewSpec(resource.TypeUrlMap, name, map[string]resource.Value{
		"default_service": resource.Ref(resource.ID{Type: resource.TypeBackendService, Name: backend}, "name"),
	})
}

func httpsProxySpec(name, urlMap, cert string) *resource.Spec {
	return resource.NewSpec(resource.TypeHttpsProxy, name, map[string]resource.Value{
		"url_map": resource.Ref(resource.ID{Type: resource.TypeUrlMap, Name: urlMap}, "self_link"),
		"ssl_certificates": resource.List(
			resource.Ref(resource.ID{Type: resource.TypeManagedCertificate, Name: cert}, "self_link"),
		),
	})
}

func forwardingRuleSpec(name, proxy, address string) *resource.Spec {
	return resource.NewSpec(resource.TypeForwardingRule, name, map[string]resource.Value{
		"target":     resource.Ref(resource.ID{Type: resource.TypeHttpsProxy, Name: proxy}, "self_link"),
		"ip_address": resource.Ref(resource.ID{Type: resource.TypeGlobalAddress, Name: address}, "address"),
	})
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		specs   []*resource.Spec
		wantErr bool
	}{
		{
			name: "linear chain",
			specs: []*resource.Spec{
				serviceSpec("api"),
				negSpec("api-neg", "api"),
				backendSpec("api-bs", "api-neg", nil),
			},
			wantErr: false,
		},
		{
			name: "diamond",
			specs: []*resource.Spec{
				serviceSpec("api"),
				negSpec("neg-a", "api"),
				negSpec("neg-b", "api"),
				backendSpec("bs-a", "neg-a", nil),
				backendSpec("bs-b", "neg-b", nil),
			},
			wantErr: false,
		},
		{
			name: "duplicate identity",
			specs: []*resource.Spec{
				serviceSpec("api"),
				serviceSpec("api"),
			},
			wantErr: true,
		},
		{
			name: "dangling reference",
			specs: []*resource.Spec{
				negSpec("api-neg", "nowhere"),
			},
			wantErr: true,
		},
		{
			name: "invalid spec",
			specs: []*resource.Spec{
				resource.NewSpec(resource.TypeComputeService, "api", nil),
			},
			wantErr: true,
		},
		{
			name:    "empty plan",
			specs:   nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Errorf("Build() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && g == nil {
				t.Error("Build() returned nil graph without error")
			}
		})
	}
}

func TestBuildStableOrder(t *testing.T) {
	// Deliberately declared entry-first; the sorted order must come out
	// foundation-first regardless
	specs := []*resource.Spec{
		forwardingRuleSpec("https", "web", "lb-ip"),
		httpsProxySpec("web", "routes", "cert"),
		urlMapSpec("routes", "api-bs"),
		backendSpec("api-bs", "api-neg", map[string]resource.Value{
			"security_policy": resource.String("edge"),
		}),
		negSpec("api-neg", "api"),
		serviceSpec("api"),
		policySpec("edge"),
		certSpec("cert", "example.com"),
		addressSpec("lb-ip"),
	}

	g, err := Build(specs)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	want := []string{
		"SecurityPolicy/edge",
		"ManagedCertificate/cert",
		"GlobalAddress/lb-ip",
		"ComputeService/api",
		"NetworkEndpointGroup/api-neg",
		"BackendService/api-bs",
		"UrlMap/routes",
		"HttpsProxy/web",
		"ForwardingRule/https",
	}
	got := make([]string, 0, g.Size())
	for _, id := range g.GetOrder() {
		got = append(got, id.String())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}

	// Same input must produce the same order every time
	for i := 0; i < 5; i++ {
		again, err := Build(specs)
		if err != nil {
			t.Fatalf("Build() iteration %d failed: %v", i, err)
		}
		if diff := cmp.Diff(g.GetOrder(), again.GetOrder()); diff != "" {
			t.Errorf("Order not deterministic on iteration %d (-first +again):\n%s", i, diff)
		}
	}
}

func TestBuildAdoptsAttachmentsByName(t *testing.T) {
	specs := []*resource.Spec{
		policySpec("edge"),
		serviceSpec("api"),
		negSpec("api-neg", "api"),
		backendSpec("api-bs", "api-neg", map[string]resource.Value{
			"security_policy": resource.String("edge"),
		}),
	}

	g, err := Build(specs)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	bs := resource.ID{Type: resource.TypeBackendService, Name: "api-bs"}
	edge := resource.ID{Type: resource.TypeSecurityPolicy, Name: "edge"}

	deps := g.GetDependencies(bs)
	found := false
	for _, dep := range deps {
		if dep == edge {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected %s among dependencies of %s, got %v", edge, bs, deps)
	}

	// Adoption orders execution but never substitutes values, so the edge
	// must not show up as an explicit reference
	for _, ref := range g.GetReferences(bs) {
		if ref.Target == edge {
			t.Errorf("Adopted attachment leaked into references: %s", ref)
		}
	}
}

func TestBuildIgnoresUnmatchedLiterals(t *testing.T) {
	// security_policy names nothing in the plan; that is a plain literal,
	// not a dangling reference
	specs := []*resource.Spec{
		serviceSpec("api"),
		negSpec("api-neg", "api"),
		backendSpec("api-bs", "api-neg", map[string]resource.Value{
			"security_policy": resource.String("managed-elsewhere"),
		}),
	}

	g, err := Build(specs)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	bs := resource.ID{Type: resource.TypeBackendService, Name: "api-bs"}
	if got := len(g.GetDependencies(bs)); got != 1 {
		t.Errorf("Expected only the backend_group dependency, got %v", g.GetDependencies(bs))
	}
}

func TestBuildRejectsPresentReferencingAbsent(t *testing.T) {
	api := serviceSpec("api")
	api.Desired = resource.DesiredAbsent

	_, err := Build([]*resource.Spec{api, negSpec("api-neg", "api")})

	var unresolved *UnresolvedReferenceError
	if !errors.As(err, &unresolved) {
		t.Fatalf("Expected UnresolvedReferenceError, got %v", err)
	}
	if unresolved.From.Name != "api-neg" {
		t.Errorf("Expected error to blame the consumer, got %s", unresolved.From)
	}
}

func TestBuildAllowsAbsentReferencingAbsent(t *testing.T) {
	api := serviceSpec("api")
	api.Desired = resource.DesiredAbsent
	neg := negSpec("api-neg", "api")
	neg.Desired = resource.DesiredAbsent

	g, err := Build([]*resource.Spec{api, neg})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	// The edge survives so deletes can run consumer-first
	deps := g.GetDependencies(resource.ID{Type: resource.TypeNetworkEndpointGroup, Name: "api-neg"})
	if len(deps) != 1 {
		t.Errorf("Expected the reference edge between absent resources, got %v", deps)
	}
}

func TestBuildCycleError(t *testing.T) {
	// Two URL maps defaulting to each other's backend cannot happen with
	// typed positions, so wire the loop through backend_group references
	a := resource.NewSpec(resource.TypeBackendService, "bs-a", map[string]resource.Value{
		"backend_group": resource.Ref(resource.ID{Type: resource.TypeBackendService, Name: "bs-b"}, "self_link"),
	})
	b := resource.NewSpec(resource.TypeBackendService, "bs-b", map[string]resource.Value{
		"backend_group": resource.Ref(resource.ID{Type: resource.TypeBackendService, Name: "bs-a"}, "self_link"),
	})

	_, err := Build([]*resource.Spec{a, b})

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("Expected CycleError, got %v", err)
	}
	if len(cycle.Cycle) != 3 {
		t.Fatalf("Expected a two-node loop (3 entries), got %v", cycle.Cycle)
	}
	if cycle.Cycle[0] != cycle.Cycle[len(cycle.Cycle)-1] {
		t.Errorf("Expected the cycle to close on its starting identity, got %v", cycle.Cycle)
	}
}

func TestBuildSelfReference(t *testing.T) {
	s := resource.NewSpec(resource.TypeBackendService, "self", map[string]resource.Value{
		"backend_group": resource.Ref(resource.ID{Type: resource.TypeBackendService, Name: "self"}, "self_link"),
	})

	var cycle *CycleError
	if _, err := Build([]*resource.Spec{s}); !errors.As(err, &cycle) {
		t.Errorf("Expected CycleError for self reference, got %v", err)
	}
}

func TestGraphAccessors(t *testing.T) {
	g, err := Build([]*resource.Spec{
		serviceSpec("api"),
		negSpec("api-neg", "api"),
		backendSpec("api-bs", "api-neg", nil),
	})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	api := resource.ID{Type: resource.TypeComputeService, Name: "api"}
	neg := resource.ID{Type: resource.TypeNetworkEndpointGroup, Name: "api-neg"}
	bs := resource.ID{Type: resource.TypeBackendService, Name: "api-bs"}

	if g.Size() != 3 {
		t.Errorf("Expected size 3, got %d", g.Size())
	}
	if roots := g.GetRootNodes(); len(roots) != 1 || roots[0] != api {
		t.Errorf("Expected root [%s], got %v", api, roots)
	}
	if leaves := g.GetLeafNodes(); len(leaves) != 1 || leaves[0] != bs {
		t.Errorf("Expected leaf [%s], got %v", bs, leaves)
	}
	if dependents := g.GetDependents(api); len(dependents) != 1 || dependents[0] != neg {
		t.Errorf("Expected dependents of %s to be [%s], got %v", api, neg, dependents)
	}
	if _, found := g.GetSpec(bs); !found {
		t.Errorf("Expected GetSpec(%s) to succeed", bs)
	}
	if _, found := g.GetSpec(resource.ID{Type: resource.TypeUrlMap, Name: "ghost"}); found {
		t.Error("Expected GetSpec of undeclared identity to fail")
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

// createWideTopology builds one compute service fronted by n endpoint groups,
// each with its own backend service
func createWideTopology(n int) []*resource.Spec {
	specs := []*resource.Spec{serviceSpec("api")}
	for i := 0; i < n; i++ {
		neg := fmt.Sprintf("neg-%d", i)
		specs = append(specs, negSpec(neg, "api"))
		specs = append(specs, backendSpec(fmt.Sprintf("bs-%d", i), neg, nil))
	}
	return specs
}

func BenchmarkBuild_20Nodes(b *testing.B) {
	for i := 0; i < b.N; i++ {
		specs := createWideTopology(10)
		_, _ = Build(specs)
	}
}

func BenchmarkBuild_200Nodes(b *testing.B) {
	for i := 0; i < b.N; i++ {
		specs := createWideTopology(100)
		_, _ = Build(specs)
	}
}
