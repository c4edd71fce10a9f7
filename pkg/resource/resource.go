package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Type identifies a resource type in the topology
type Type string

const (
	TypeComputeService       Type = "ComputeService"
	TypeIAMBinding           Type = "IAMBinding"
	TypeNetworkEndpointGroup Type = "NetworkEndpointGroup"
	TypeSecurityPolicy       Type = "SecurityPolicy"
	TypeBackendService       Type = "BackendService"
	TypeUrlMap               Type = "UrlMap"
	TypeManagedCertificate   Type = "ManagedCertificate"
	TypeGlobalAddress        Type = "GlobalAddress"
	TypeHttpProxy            Type = "HttpProxy"
	TypeHttpsProxy           Type = "HttpsProxy"
	TypeForwardingRule       Type = "ForwardingRule"
)

// Types lists every resource type in a stable order
func Types() []Type {
	return []Type{
		TypeComputeService,
		TypeIAMBinding,
		TypeNetworkEndpointGroup,
		TypeSecurityPolicy,
		TypeBackendService,
		TypeUrlMap,
		TypeManagedCertificate,
		TypeGlobalAddress,
		TypeHttpProxy,
		TypeHttpsProxy,
		TypeForwardingRule,
	}
}

// Valid reports whether t is a known resource type
func (t Type) Valid() bool {
	_, ok := schemas[t]
	return ok
}

// ID is the unique identity of a resource: its type plus its declared name
type ID struct {
	Type Type   `json:"type"`
	Name string `json:"name"`
}

// String renders the identity as "Type/name"
func (id ID) String() string {
	return string(id.Type) + "/" + id.Name
}

// ParseID parses an identity of the form "Type/name"
func ParseID(s string) (ID, error) {
	t, name, found := strings.Cut(s, "/")
	if !found || t == "" || name == "" {
		return ID{}, fmt.Errorf("malformed resource id %q (want Type/name)", s)
	}
	id := ID{Type: Type(t), Name: name}
	if !id.Type.Valid() {
		return ID{}, fmt.Errorf("unknown resource type %q in id %q", t, s)
	}
	return id, nil
}

// DesiredState declares whether a resource should exist
type DesiredState string

const (
	// DesiredPresent means the resource should exist and match its attributes
	DesiredPresent DesiredState = "present"

	// DesiredAbsent means the resource should be removed if it exists
	DesiredAbsent DesiredState = "absent"
)

// Reference points at another resource's output field. It establishes an
// ordering constraint (the referencing resource applies after the target)
// and a value-substitution constraint (the live attribute uses the target's
// live output, never a literal).
type Reference struct {
	Target ID     `json:"target"`
	Field  string `json:"field"`
}

// String renders the reference as "Type/name.field"
func (r Reference) String() string {
	return r.Target.String() + "." + r.Field
}

// Value is a single attribute value: a literal, a Reference, or an ordered
// list whose elements are themselves literals or references.
type Value struct {
	Literal any        `json:"literal,omitempty"`
	Ref     *Reference `json:"ref,omitempty"`
	List    []Value    `json:"list,omitempty"`
}

// IsRef reports whether the value is a reference
func (v Value) IsRef() bool { return v.Ref != nil }

// IsList reports whether the value is a list
func (v Value) IsList() bool { return v.List != nil }

// String constructs a string literal value
func String(s string) Value { return Value{Literal: s} }

// Int constructs an integer literal value
func Int(i int64) Value { return Value{Literal: i} }

// Float constructs a float literal value
func Float(f float64) Value { return Value{Literal: f} }

// Bool constructs a boolean literal value
func Bool(b bool) Value { return Value{Literal: b} }

// Strings constructs a string-set literal value
func Strings(ss ...string) Value { return Value{Literal: ss} }

// StringMap constructs a string-map literal value
func StringMap(m map[string]string) Value { return Value{Literal: m} }

// Rules constructs a rule-list literal value
func Rules(rules ...Rule) Value { return Value{Literal: rules} }

// Ref constructs a reference value pointing at target's output field
func Ref(target ID, field string) Value {
	return Value{Ref: &Reference{Target: target, Field: field}}
}

// List constructs an ordered list value
func List(vs ...Value) Value { return Value{List: vs} }

// Rule is a single security policy rule
type Rule struct {
	Priority    int64    `json:"priority"`
	Action      string   `json:"action"`
	SrcIPRanges []string `json:"src_ip_ranges,omitempty"`
}

// Spec is a typed, named declaration of desired infrastructure state.
// Identity is (Type, Name); a Spec is immutable once a plan has been built
// from it.
type Spec struct {
	ID         ID               `json:"id"`
	Attributes map[string]Value `json:"attributes,omitempty"`
	Desired    DesiredState     `json:"desired"`
}

// NewSpec constructs a Spec with the given identity and attributes,
// defaulting to DesiredPresent
func NewSpec(t Type, name string, attrs map[string]Value) *Spec {
	if attrs == nil {
		attrs = map[string]Value{}
	}
	return &Spec{
		ID:         ID{Type: t, Name: name},
		Attributes: attrs,
		Desired:    DesiredPresent,
	}
}

// AttrNames returns the declared attribute names in sorted order
func (s *Spec) AttrNames() []string {
	names := make([]string, 0, len(s.Attributes))
	for name := range s.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// References returns every reference declared by the spec, in deterministic
// order (sorted by attribute name, then list position)
func (s *Spec) References() []Reference {
	var refs []Reference
	for _, name := range s.AttrNames() {
		v := s.Attributes[name]
		if v.IsRef() {
			refs = append(refs, *v.Ref)
			continue
		}
		for _, elem := range v.List {
			if elem.IsRef() {
				refs = append(refs, *elem.Ref)
			}
		}
	}
	return refs
}
