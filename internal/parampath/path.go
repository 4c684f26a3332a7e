// v3
// internal/parampath/path.go
//
// Dotted paths into a topology tree, with [*] wildcards over slices,
// e.g. clusters[*].hosts[*].cpuPowerModel.asymUtil. Resolution works on
// the JSON form of the tree so path segments use wire names.
package parampath

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlarge-research/opendt/internal/model"
)

type segment struct {
	field    string
	indexed  bool
	wildcard bool
	index    int
}

// Path is a parsed parameter path. The final segment must name a numeric
// leaf.
type Path struct {
	raw      string
	segments []segment
}

var segmentRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(\[(\*|\d+)\])?$`)

// Parse validates the path grammar. Unknown fields are only detected at
// patch time, against a concrete topology.
func Parse(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Path{}, fmt.Errorf("empty parameter path")
	}
	parts := strings.Split(raw, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		m := segmentRe.FindStringSubmatch(p)
		if m == nil {
			return Path{}, fmt.Errorf("invalid path segment %q in %q", p, raw)
		}
		s := segment{field: m[1]}
		if m[2] != "" {
			s.indexed = true
			if m[3] == "*" {
				s.wildcard = true
			} else {
				idx, err := strconv.Atoi(m[3])
				if err != nil {
					return Path{}, fmt.Errorf("invalid index in segment %q", p)
				}
				s.index = idx
			}
		}
		segs = append(segs, s)
	}
	return Path{raw: raw, segments: segs}, nil
}

func (p Path) String() string { return p.raw }

// Patch deep-copies the topology and sets every leaf the path resolves
// to, returning the patched copy and the number of leaves written.
// Zero leaves is a configuration error surfaced to the caller.
func (p Path) Patch(topo model.Topology, value float64) (model.Topology, int, error) {
	raw, err := json.Marshal(topo)
	if err != nil {
		return model.Topology{}, 0, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return model.Topology{}, 0, err
	}
	n, err := p.apply(tree, 0, value)
	if err != nil {
		return model.Topology{}, 0, err
	}
	if n == 0 {
		return model.Topology{}, 0, fmt.Errorf("path %q resolved to no leaves", p.raw)
	}
	patched, err := json.Marshal(tree)
	if err != nil {
		return model.Topology{}, 0, err
	}
	var out model.Topology
	if err := json.Unmarshal(patched, &out); err != nil {
		return model.Topology{}, 0, err
	}
	if err := out.Validate(); err != nil {
		return model.Topology{}, 0, fmt.Errorf("patched topology invalid: %w", err)
	}
	return out, n, nil
}

func (p Path) apply(node any, depth int, value float64) (int, error) {
	seg := p.segments[depth]
	obj, ok := node.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("path %q: segment %q reached a non-object node", p.raw, seg.field)
	}
	child, ok := obj[seg.field]
	if !ok {
		return 0, fmt.Errorf("path %q: unknown field %q", p.raw, seg.field)
	}

	last := depth == len(p.segments)-1
	if last {
		if seg.indexed {
			return 0, fmt.Errorf("path %q: leaf segment may not be indexed", p.raw)
		}
		if _, isNum := child.(float64); !isNum {
			return 0, fmt.Errorf("path %q: field %q is not a numeric leaf", p.raw, seg.field)
		}
		obj[seg.field] = value
		return 1, nil
	}

	if !seg.indexed {
		return p.apply(child, depth+1, value)
	}
	arr, ok := child.([]any)
	if !ok {
		return 0, fmt.Errorf("path %q: field %q is not a list", p.raw, seg.field)
	}
	if seg.wildcard {
		total := 0
		for _, e := range arr {
			n, err := p.apply(e, depth+1, value)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}
	if seg.index < 0 || seg.index >= len(arr) {
		return 0, fmt.Errorf("path %q: index %d out of range (len %d)", p.raw, seg.index, len(arr))
	}
	return p.apply(arr[seg.index], depth+1, value)
}
