package resource

import (
	"fmt"
	"regexp"
	"sort"
)

// Kind is the semantic type of an attribute value
type Kind string

const (
	KindString    Kind = "string"
	KindInt       Kind = "int"
	KindBool      Kind = "bool"
	KindFloat     Kind = "float"
	KindStringSet Kind = "stringset"
	KindStringMap Kind = "stringmap"
	KindRuleList  Kind = "rulelist"
)

// AttrSchema describes a single attribute position of a resource type
type AttrSchema struct {
	// Kind is the expected semantic type of the value
	Kind Kind

	// Required attributes must be present (after defaulting) when the
	// resource's desired state is present
	Required bool

	// Default is materialized into the spec during validation when the
	// attribute is not declared
	Default any

	// Immutable attributes cannot change in place; a change forces the
	// resource to be replaced
	Immutable bool

	// AllowRef permits a Reference (or references inside a list) in this
	// position
	AllowRef bool
}

// Schema maps attribute names to their schemas for one resource type
type Schema map[string]AttrSchema

// schemas declares the attribute schema for every resource type in the
// topology. Attribute vocabulary follows the serverless load balancer
// stack: compute service behind a serverless NEG, backend service with an
// attached security policy, URL map, managed certificate, proxies, static
// address, and forwarding rules.
var schemas = map[Type]Schema{
	TypeComputeService: {
		"region":          {Kind: KindString, Required: true, Immutable: true},
		"image":           {Kind: KindString, Required: true},
		"ingress":         {Kind: KindString, Default: "internal-and-cloud-load-balancing"},
		"min_instances":   {Kind: KindInt, Default: int64(0)},
		"max_instances":   {Kind: KindInt, Default: int64(100)},
		"timeout_sec":     {Kind: KindInt, Default: int64(300)},
		"service_account": {Kind: KindString},
		"env":             {Kind: KindStringMap},
	},
	TypeIAMBinding: {
		"service": {Kind: KindString, Required: true, Immutable: true, AllowRef: true},
		"role":    {Kind: KindString, Required: true, Immutable: true},
		"members": {Kind: KindStringSet, Required: true},
	},
	TypeNetworkEndpointGroup: {
		"region":                {Kind: KindString, Required: true, Immutable: true},
		"network_endpoint_type": {Kind: KindString, Default: "SERVERLESS", Immutable: true},
		"cloud_run_service":     {Kind: KindString, Required: true, Immutable: true, AllowRef: true},
	},
	TypeSecurityPolicy: {
		"description": {Kind: KindString},
		"rules":       {Kind: KindRuleList},
	},
	TypeBackendService: {
		"protocol":        {Kind: KindString, Default: "HTTPS"},
		"timeout_sec":     {Kind: KindInt, Default: int64(30)},
		"enable_cdn":      {Kind: KindBool, Default: false},
		"backend_group":   {Kind: KindString, Required: true, AllowRef: true},
		"security_policy": {Kind: KindString, AllowRef: true},
		"log_sample_rate": {Kind: KindFloat},
	},
	TypeUrlMap: {
		"default_service": {Kind: KindString, Required: true, AllowRef: true},
	},
	TypeManagedCertificate: {
		"domains": {Kind: KindStringSet, Required: true, Immutable: true},
	},
	TypeGlobalAddress: {
		"address_type": {Kind: KindString, Default: "EXTERNAL", Immutable: true},
		"ip_version":   {Kind: KindString, Default: "IPV4", Immutable: true},
	},
	TypeHttpProxy: {
		"url_map": {Kind: KindString, Required: true, AllowRef: true},
	},
	TypeHttpsProxy: {
		"url_map":          {Kind: KindString, Required: true, AllowRef: true},
		"ssl_certificates": {Kind: KindStringSet, Required: true, AllowRef: true},
	},
	TypeForwardingRule: {
		"target":                {Kind: KindString, Required: true, AllowRef: true},
		"ip_address":            {Kind: KindString, AllowRef: true},
		"port_range":            {Kind: KindString, Default: "443"},
		"load_balancing_scheme": {Kind: KindString, Default: "EXTERNAL_MANAGED", Immutable: true},
	},
}

// outputFields lists the output fields each resource type exposes to
// references. "id" and "name" are universal; the rest are provider-assigned
// after creation.
var outputFields = map[Type][]string{
	TypeComputeService:       {"id", "name", "uri"},
	TypeIAMBinding:           {"id", "name", "etag"},
	TypeNetworkEndpointGroup: {"id", "name", "self_link"},
	TypeSecurityPolicy:       {"id", "name", "self_link"},
	TypeBackendService:       {"id", "name", "self_link"},
	TypeUrlMap:               {"id", "name", "self_link"},
	TypeManagedCertificate:   {"id", "name", "self_link", "status"},
	TypeGlobalAddress:        {"id", "name", "self_link", "address"},
	TypeHttpProxy:            {"id", "name", "self_link"},
	TypeHttpsProxy:           {"id", "name", "self_link"},
	TypeForwardingRule:       {"id", "name", "self_link"},
}

// SchemaFor returns the attribute schema for a resource type
func SchemaFor(t Type) (Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// OutputFields returns the output fields a resource type exposes
func OutputFields(t Type) []string {
	fields := make([]string, len(outputFields[t]))
	copy(fields, outputFields[t])
	return fields
}

// HasOutput reports whether a resource type exposes the given output field
func HasOutput(t Type, field string) bool {
	for _, f := range outputFields[t] {
		if f == field {
			return true
		}
	}
	return false
}

// ImmutableAttrs returns the attribute names of t that cannot change in
// place, sorted
func ImmutableAttrs(t Type) []string {
	var attrs []string
	for name, as := range schemas[t] {
		if as.Immutable {
			attrs = append(attrs, name)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// ValidationError reports a malformed resource declaration
type ValidationError struct {
	ID     ID
	Attr   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Attr == "" {
		return fmt.Sprintf("invalid resource %s: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("invalid resource %s: attribute %q: %s", e.ID, e.Attr, e.Reason)
}

// nameRE matches provider-legal resource names
var nameRE = regexp.MustCompile(`^[a-z]([-a-z0-9]*[a-z0-9])?$`)

// ruleActions are the accepted security policy rule actions
var ruleActions = map[string]bool{
	"allow":     true,
	"deny":      true,
	"deny(403)": true,
	"deny(404)": true,
	"deny(502)": true,
}

// Validate checks the spec against its type's attribute schema, rejecting
// unknown and mistyped attributes, and materializes defaults for attributes
// that were not declared. Required attributes are enforced only when the
// desired state is present.
func (s *Spec) Validate() error {
	schema, ok := schemas[s.ID.Type]
	if !ok {
		return &ValidationError{ID: s.ID, Reason: fmt.Sprintf("unknown resource type %q", s.ID.Type)}
	}
	if s.ID.Name == "" {
		return &ValidationError{ID: s.ID, Reason: "name is required"}
	}
	if len(s.ID.Name) > 63 || !nameRE.MatchString(s.ID.Name) {
		return &ValidationError{ID: s.ID, Reason: fmt.Sprintf("name %q must match %s and be at most 63 characters", s.ID.Name, nameRE)}
	}

	if s.Desired == "" {
		s.Desired = DesiredPresent
	}
	if s.Desired != DesiredPresent && s.Desired != DesiredAbsent {
		return &ValidationError{ID: s.ID, Reason: fmt.Sprintf("desired state must be %q or %q, got %q", DesiredPresent, DesiredAbsent, s.Desired)}
	}

	if s.Attributes == nil {
		s.Attributes = map[string]Value{}
	}

	// Check declared attributes against the schema
	for _, name := range s.AttrNames() {
		as, known := schema[name]
		if !known {
			return &ValidationError{ID: s.ID, Attr: name, Reason: "unknown attribute"}
		}
		if err := checkValue(s.ID, name, as, s.Attributes[name]); err != nil {
			return err
		}
	}

	// Materialize defaults
	for name, as := range schema {
		if as.Default == nil {
			continue
		}
		if _, declared := s.Attributes[name]; !declared {
			s.Attributes[name] = Value{Literal: as.Default}
		}
	}

	// Enforce required attributes for present resources
	if s.Desired == DesiredPresent {
		for name, as := range schema {
			if !as.Required {
				continue
			}
			if _, declared := s.Attributes[name]; !declared {
				return &ValidationError{ID: s.ID, Attr: name, Reason: "required attribute is missing"}
			}
		}
	}

	return nil
}

func checkValue(id ID, name string, as AttrSchema, v Value) error {
	switch {
	case v.IsRef():
		if !as.AllowRef {
			return &ValidationError{ID: id, Attr: name, Reason: "references are not permitted in this position"}
		}
		return checkReference(id, name, *v.Ref)
	case v.IsList():
		if as.Kind != KindStringSet {
			return &ValidationError{ID: id, Attr: name, Reason: fmt.Sprintf("expected %s, got a list", as.Kind)}
		}
		for _, elem := range v.List {
			if elem.IsRef() {
				if !as.AllowRef {
					return &ValidationError{ID: id, Attr: name, Reason: "references are not permitted in this position"}
				}
				if err := checkReference(id, name, *elem.Ref); err != nil {
					return err
				}
				continue
			}
			if _, isString := elem.Literal.(string); !isString {
				return &ValidationError{ID: id, Attr: name, Reason: "list elements must be strings or references"}
			}
		}
		return nil
	default:
		return checkLiteral(id, name, as.Kind, v.Literal)
	}
}

func checkReference(id ID, name string, ref Reference) error {
	if !ref.Target.Type.Valid() {
		return &ValidationError{ID: id, Attr: name, Reason: fmt.Sprintf("reference targets unknown resource type %q", ref.Target.Type)}
	}
	if ref.Target.Name == "" {
		return &ValidationError{ID: id, Attr: name, Reason: "reference target name is required"}
	}
	if ref.Field == "" {
		return &ValidationError{ID: id, Attr: name, Reason: "reference output field is required"}
	}
	if !HasOutput(ref.Target.Type, ref.Field) {
		return &ValidationError{ID: id, Attr: name, Reason: fmt.Sprintf("%s exposes no output field %q", ref.Target.Type, ref.Field)}
	}
	return nil
}

func checkLiteral(id ID, name string, kind Kind, lit any) error {
	mistyped := func(want string) error {
		return &ValidationError{ID: id, Attr: name, Reason: fmt.Sprintf("expected %s, got %T", want, lit)}
	}

	switch kind {
	case KindString:
		if _, ok := lit.(string); !ok {
			return mistyped("a string")
		}
	case KindInt:
		if _, ok := lit.(int64); !ok {
			return mistyped("an integer")
		}
	case KindBool:
		if _, ok := lit.(bool); !ok {
			return mistyped("a boolean")
		}
	case KindFloat:
		switch lit.(type) {
		case float64, int64:
		default:
			return mistyped("a number")
		}
	case KindStringSet:
		if _, ok := lit.([]string); !ok {
			return mistyped("a set of strings")
		}
	case KindStringMap:
		if _, ok := lit.(map[string]string); !ok {
			return mistyped("a string map")
		}
	case KindRuleList:
		rules, ok := lit.([]Rule)
		if !ok {
			return mistyped("a list of rules")
		}
		for i, r := range rules {
			if r.Priority < 0 {
				return &ValidationError{ID: id, Attr: name, Reason: fmt.Sprintf("rules[%d]: priority must be non-negative", i)}
			}
			if !ruleActions[r.Action] {
				return &ValidationError{ID: id, Attr: name, Reason: fmt.Sprintf("rules[%d]: unknown action %q", i, r.Action)}
			}
		}
	default:
		return &ValidationError{ID: id, Attr: name, Reason: fmt.Sprintf("unknown attribute kind %q", kind)}
	}
	return nil
}
