package resource

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes a content hash of the spec's desired attributes and
// desired state. References are canonicalized to their (target, field) form,
// never to resolved values, so a fingerprint is stable across plans as long
// as the declaration itself is unchanged. String sets are order-insensitive.
func Fingerprint(s *Spec) string {
	canon := struct {
		Attributes map[string]any `json:"attributes"`
		Desired    DesiredState   `json:"desired"`
	}{
		Attributes: make(map[string]any, len(s.Attributes)),
		Desired:    s.Desired,
	}
	for name, v := range s.Attributes {
		canon.Attributes[name] = canonicalValue(v)
	}

	// json.Marshal emits map keys in sorted order, giving a canonical byte
	// stream for hashing
	data, err := json.Marshal(canon)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func canonicalValue(v Value) any {
	switch {
	case v.IsRef():
		return map[string]string{"$ref": v.Ref.String()}
	case v.IsList():
		elems := make([]any, len(v.List))
		for i, elem := range v.List {
			elems[i] = canonicalValue(elem)
		}
		return elems
	default:
		return canonicalLiteral(v.Literal)
	}
}

func canonicalLiteral(lit any) any {
	switch l := lit.(type) {
	case []string:
		sorted := make([]string, len(l))
		copy(sorted, l)
		sort.Strings(sorted)
		return sorted
	case []Rule:
		sorted := make([]Rule, len(l))
		copy(sorted, l)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
		for i := range sorted {
			ranges := make([]string, len(sorted[i].SrcIPRanges))
			copy(ranges, sorted[i].SrcIPRanges)
			sort.Strings(ranges)
			sorted[i].SrcIPRanges = ranges
		}
		return sorted
	default:
		return lit
	}
}
