package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/ballast/pkg/resource"
)

// Call records one invocation against the fake provider.
type Call struct {
	Verb string
	ID   resource.ID
}

// fault is an injected failure for a (verb, identity) pair. A negative count
// fails every call.
type fault struct {
	remaining int
	err       error
}

// Fake is an in-memory provider covering every resource type. Outputs are
// formulaic so tests can assert exact values: addresses come from the
// 203.0.113.0/24 documentation range, self links follow the
// projects/<project>/... shape, and managed certificates go ACTIVE
// immediately. Fault injection and artificial latency make it usable for
// retry and concurrency tests, and the CLI's simulate mode runs against it.
type Fake struct {
	mu      sync.Mutex
	project string
	latency time.Duration
	objects map[resource.ID]map[string]any
	faults  map[string]*fault
	calls   []Call
	addrSeq int
}

// NewFake creates a fake provider scoped to the given project name.
func NewFake(project string) *Fake {
	return &Fake{
		project: project,
		objects: make(map[resource.ID]map[string]any),
		faults:  make(map[string]*fault),
	}
}

// WithLatency makes every provider call sleep for d before answering.
func (f *Fake) WithLatency(d time.Duration) *Fake {
	f.latency = d
	return f
}

// Registry returns a Registry with a driver for every resource type, all
// backed by this fake's shared object store.
func (f *Fake) Registry() *Registry {
	r := NewRegistry()
	for _, t := range resource.Types() {
		_ = r.Register(&fakeDriver{provider: f, typ: t})
	}
	return r
}

// FailNext makes the next n calls of verb against id fail with err. A
// negative n fails every call. Verbs are create, read, update, delete.
func (f *Fake) FailNext(verb string, id resource.ID, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[faultKey(verb, id)] = &fault{remaining: n, err: err}
}

// Seed places an object directly into the provider without recording a call,
// for tests that start from pre-existing remote state.
func (f *Fake) Seed(id resource.ID, live map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id] = copyAttrs(live)
}

// Calls returns a copy of the recorded call log in invocation order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]Call, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// CallCount returns how many times verb was invoked against id.
func (f *Fake) CallCount(verb string, id resource.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.calls {
		if c.Verb == verb && c.ID == id {
			count++
		}
	}
	return count
}

// Object returns a copy of the stored object for id, if present.
func (f *Fake) Object(id resource.ID) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, false
	}
	return copyAttrs(obj), true
}

// ObjectCount returns the number of objects the provider currently holds.
func (f *Fake) ObjectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// begin applies latency, records the call, and consumes any injected fault.
func (f *Fake) begin(ctx context.Context, verb string, id resource.ID) error {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Verb: verb, ID: id})

	if fl, ok := f.faults[faultKey(verb, id)]; ok && fl.remaining != 0 {
		if fl.remaining > 0 {
			fl.remaining--
		}
		return fl.err
	}
	return nil
}

func (f *Fake) create(ctx context.Context, id resource.ID, attrs map[string]any) (map[string]any, error) {
	if err := f.begin(ctx, "create", id); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.objects[id]; exists {
		return nil, Terminalf("create "+id.String(), "already exists")
	}

	live := copyAttrs(attrs)
	live["id"] = uuid.NewString()
	live["name"] = id.Name
	f.assignOutputs(id, live)
	f.objects[id] = live
	return copyAttrs(live), nil
}

func (f *Fake) read(ctx context.Context, id resource.ID) (map[string]any, error) {
	if err := f.begin(ctx, "read", id); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return copyAttrs(obj), nil
}

func (f *Fake) update(ctx context.Context, id resource.ID, attrs map[string]any) (map[string]any, error) {
	if err := f.begin(ctx, "update", id); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.objects[id]
	if !ok {
		return nil, Terminal("update "+id.String(), ErrNotFound)
	}

	// Provider-assigned outputs survive updates unchanged
	live := copyAttrs(attrs)
	for _, field := range resource.OutputFields(id.Type) {
		if v, ok := existing[field]; ok {
			live[field] = v
		}
	}
	f.objects[id] = live
	return copyAttrs(live), nil
}

func (f *Fake) delete(ctx context.Context, id resource.ID) error {
	if err := f.begin(ctx, "delete", id); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
	return nil
}

// assignOutputs stamps the provider-assigned outputs for a freshly created
// object. Callers hold f.mu.
func (f *Fake) assignOutputs(id resource.ID, live map[string]any) {
	name := id.Name
	switch id.Type {
	case resource.TypeComputeService:
		live["uri"] = fmt.Sprintf("https://%s-%s-uc.a.run.app", name, f.project)
	case resource.TypeIAMBinding:
		live["etag"] = strings.ReplaceAll(uuid.NewString(), "-", "")[:11]
	case resource.TypeNetworkEndpointGroup:
		live["self_link"] = fmt.Sprintf("projects/%s/regions/%s/networkEndpointGroups/%s", f.project, regionOf(live), name)
	case resource.TypeSecurityPolicy:
		live["self_link"] = fmt.Sprintf("projects/%s/global/securityPolicies/%s", f.project, name)
	case resource.TypeBackendService:
		live["self_link"] = fmt.Sprintf("projects/%s/global/backendServices/%s", f.project, name)
	case resource.TypeUrlMap:
		live["self_link"] = fmt.Sprintf("projects/%s/global/urlMaps/%s", f.project, name)
	case resource.TypeManagedCertificate:
		live["self_link"] = fmt.Sprintf("projects/%s/global/sslCertificates/%s", f.project, name)
		live["status"] = "ACTIVE"
	case resource.TypeGlobalAddress:
		f.addrSeq++
		live["self_link"] = fmt.Sprintf("projects/%s/global/addresses/%s", f.project, name)
		live["address"] = fmt.Sprintf("203.0.113.%d", f.addrSeq)
	case resource.TypeHttpProxy:
		live["self_link"] = fmt.Sprintf("projects/%s/global/targetHttpProxies/%s", f.project, name)
	case resource.TypeHttpsProxy:
		live["self_link"] = fmt.Sprintf("projects/%s/global/targetHttpsProxies/%s", f.project, name)
	case resource.TypeForwardingRule:
		live["self_link"] = fmt.Sprintf("projects/%s/global/forwardingRules/%s", f.project, name)
	}
}

func regionOf(live map[string]any) string {
	if r, ok := live["region"].(string); ok && r != "" {
		return r
	}
	return "us-central1"
}

func faultKey(verb string, id resource.ID) string {
	return verb + " " + id.String()
}

func copyAttrs(attrs map[string]any) map[string]any {
	cp := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return cp
}

// fakeDriver exposes one resource type of a shared fake provider through the
// Driver interface.
type fakeDriver struct {
	provider *Fake
	typ      resource.Type
}

func (d *fakeDriver) Type() resource.Type { return d.typ }

func (d *fakeDriver) Create(ctx context.Context, id resource.ID, attrs map[string]any) (map[string]any, error) {
	if err := d.check(id); err != nil {
		return nil, err
	}
	return d.provider.create(ctx, id, attrs)
}

func (d *fakeDriver) Read(ctx context.Context, id resource.ID) (map[string]any, error) {
	if err := d.check(id); err != nil {
		return nil, err
	}
	return d.provider.read(ctx, id)
}

func (d *fakeDriver) Update(ctx context.Context, id resource.ID, attrs map[string]any) (map[string]any, error) {
	if err := d.check(id); err != nil {
		return nil, err
	}
	return d.provider.update(ctx, id, attrs)
}

func (d *fakeDriver) Delete(ctx context.Context, id resource.ID) error {
	if err := d.check(id); err != nil {
		return err
	}
	return d.provider.delete(ctx, id)
}

func (d *fakeDriver) check(id resource.ID) error {
	if id.Type != d.typ {
		return Terminalf(id.String(), "driver for %s cannot manage %s", d.typ, id.Type)
	}
	return nil
}
