// Package manifest loads topology declarations from YAML documents.
//
// A topology document lists resources with typed attributes. A reference
// to another resource's output is written as a mapping with a $ref key:
//
//	resources:
//	  - type: ComputeService
//	    name: api
//	    attributes:
//	      region: us-central1
//	      image: gcr.io/acme/api:v1
//	  - type: NetworkEndpointGroup
//	    name: api-neg
//	    attributes:
//	      region: us-central1
//	      cloud_run_service:
//	        $ref: ComputeService/api
//	        field: name
//
// Values stay declarative: there is no interpolation, and a $ref never
// mixes into a scalar. List positions may hold plain strings and $ref
// mappings side by side.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chazu/ballast/pkg/resource"
)

// Document is the top-level shape of a topology file
type Document struct {
	Resources []Entry `yaml:"resources"`
}

// Entry is one declared resource
type Entry struct {
	Type       string               `yaml:"type"`
	Name       string               `yaml:"name"`
	Desired    string               `yaml:"desired"`
	Attributes map[string]yaml.Node `yaml:"attributes"`
}

type refEntry struct {
	Ref   string `yaml:"$ref"`
	Field string `yaml:"field"`
}

type ruleEntry struct {
	Priority    int64    `yaml:"priority"`
	Action      string   `yaml:"action"`
	SrcIPRanges []string `yaml:"src_ip_ranges"`
}

// Load reads and parses a topology file
func Load(path string) ([]*resource.Spec, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}
	specs, err := Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// Parse converts a topology document into resource specs. Identity,
// attribute, and reference-target checks happen later at plan time; Parse
// rejects only what cannot be shaped at all.
func Parse(payload []byte) ([]*resource.Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("topology document is empty")
		}
		return nil, fmt.Errorf("parsing topology: %w", err)
	}

	specs := make([]*resource.Spec, 0, len(doc.Resources))
	for i, entry := range doc.Resources {
		spec, err := entrySpec(entry)
		if err != nil {
			return nil, fmt.Errorf("resource %d (%s/%s): %w", i, entry.Type, entry.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func entrySpec(entry Entry) (*resource.Spec, error) {
	if entry.Type == "" {
		return nil, fmt.Errorf("type is required")
	}
	if entry.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	t := resource.Type(entry.Type)
	if !t.Valid() {
		return nil, fmt.Errorf("unknown resource type %q", entry.Type)
	}

	attrs := make(map[string]resource.Value, len(entry.Attributes))
	for name, node := range entry.Attributes {
		v, err := attrValue(&node)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		attrs[name] = v
	}

	spec := resource.NewSpec(t, entry.Name, attrs)
	switch entry.Desired {
	case "", string(resource.DesiredPresent):
	case string(resource.DesiredAbsent):
		spec.Desired = resource.DesiredAbsent
	default:
		return nil, fmt.Errorf("desired must be %q or %q, got %q", resource.DesiredPresent, resource.DesiredAbsent, entry.Desired)
	}
	return spec, nil
}

func attrValue(node *yaml.Node) (resource.Value, error) {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}

	switch node.Kind {
	case yaml.ScalarNode:
		return scalarValue(node)
	case yaml.MappingNode:
		if hasKey(node, "$ref") {
			return refValue(node)
		}
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return resource.Value{}, fmt.Errorf("expected a string map or a $ref mapping: %w", err)
		}
		return resource.StringMap(m), nil
	case yaml.SequenceNode:
		return listValue(node)
	default:
		return resource.Value{}, fmt.Errorf("unsupported YAML node")
	}
}

func scalarValue(node *yaml.Node) (resource.Value, error) {
	switch node.Tag {
	case "!!str":
		return resource.String(node.Value), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return resource.Value{}, err
		}
		return resource.Int(i), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return resource.Value{}, err
		}
		return resource.Bool(b), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return resource.Value{}, err
		}
		return resource.Float(f), nil
	case "!!null":
		return resource.Value{}, fmt.Errorf("null is not a value; omit the attribute instead")
	default:
		return resource.Value{}, fmt.Errorf("unsupported scalar tag %s", node.Tag)
	}
}

func refValue(node *yaml.Node) (resource.Value, error) {
	var ref refEntry
	if err := node.Decode(&ref); err != nil {
		return resource.Value{}, fmt.Errorf("malformed $ref mapping: %w", err)
	}
	target, err := resource.ParseID(ref.Ref)
	if err != nil {
		return resource.Value{}, err
	}
	if ref.Field == "" {
		return resource.Value{}, fmt.Errorf("reference to %s needs a field", target)
	}
	return resource.Ref(target, ref.Field), nil
}

func listValue(node *yaml.Node) (resource.Value, error) {
	if len(node.Content) == 0 {
		return resource.Strings(), nil
	}

	// A sequence of plain mappings is a security policy rule list
	if node.Content[0].Kind == yaml.MappingNode && !hasKey(node.Content[0], "$ref") {
		var entries []ruleEntry
		if err := node.Decode(&entries); err != nil {
			return resource.Value{}, fmt.Errorf("malformed rule list: %w", err)
		}
		rules := make([]resource.Rule, len(entries))
		for i, e := range entries {
			rules[i] = resource.Rule{Priority: e.Priority, Action: e.Action, SrcIPRanges: e.SrcIPRanges}
		}
		return resource.Rules(rules...), nil
	}

	// All-string sequences stay a plain string set
	plain := true
	for _, elem := range node.Content {
		if elem.Kind != yaml.ScalarNode || elem.Tag != "!!str" {
			plain = false
			break
		}
	}
	if plain {
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return resource.Value{}, err
		}
		return resource.Strings(ss...), nil
	}

	// Mixed sequences carry references
	vals := make([]resource.Value, 0, len(node.Content))
	for i, elem := range node.Content {
		if elem.Kind == yaml.AliasNode {
			elem = elem.Alias
		}
		switch {
		case elem.Kind == yaml.ScalarNode:
			v, err := scalarValue(elem)
			if err != nil {
				return resource.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			vals = append(vals, v)
		case elem.Kind == yaml.MappingNode && hasKey(elem, "$ref"):
			v, err := refValue(elem)
			if err != nil {
				return resource.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			vals = append(vals, v)
		default:
			return resource.Value{}, fmt.Errorf("element %d: unsupported list element", i)
		}
	}
	return resource.List(vals...), nil
}

// hasKey reports whether a mapping node declares the given key
func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
