// Package variables builds the variable set handed to templates.
//
// Sources are layered in a fixed order, later layers winning key by key:
//
//   - the plain YAML variables file (optional)
//   - the SOPS-encrypted overlay (optional, deep-merged)
//   - the process environment (always strings)
//
// No allow-list is applied. Every environment variable is visible to
// templates, so anything that must not leak into rendered output has to be
// kept out of the environment.
package variables

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a variables file does not exist.
	ErrNotFound = errors.New("variables file not found")

	// ErrNotMapping is returned when a YAML document root is a list or scalar.
	ErrNotMapping = errors.New("document root is not a mapping")
)

// Set maps variable names to values. File values are the scalars yaml.v3
// produces (string, int, float64, bool, nil) plus *Map for mappings and
// []any for sequences. Environment entries are plain strings.
type Set map[string]any

// Keys returns the variable names in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Parse decodes a YAML document into a Set.
// An empty document yields an empty Set; a non-mapping root is an error.
// Nested mappings become *Map values so their key order survives.
func Parse(data []byte) (Set, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return Set{}, nil
		}
		root = root.Content[0]
	}
	if root.Kind == yaml.AliasNode && root.Alias != nil {
		root = root.Alias
	}

	switch {
	case root.Kind == 0:
		return Set{}, nil
	case root.Kind == yaml.ScalarNode && root.Tag == "!!null":
		return Set{}, nil
	case root.Kind != yaml.MappingNode:
		return nil, fmt.Errorf("%w (got %s at line %d)", ErrNotMapping, kindName(root.Kind), root.Line)
	}

	m, err := decodeMapping(root)
	if err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	set := make(Set, m.Len())
	for _, k := range m.keys {
		set[k] = m.values[k]
	}
	return set, nil
}

func decodeNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return decodeNode(n.Alias)
	case yaml.MappingNode:
		return decodeMapping(n)
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported %s at line %d", kindName(n.Kind), n.Line)
	}
}

// decodeMapping builds a Map from a mapping node. Merge keys (<<) are
// expanded the way PyYAML does: merged entries come first, explicit keys
// override their values, and among merged sources the earlier one wins.
func decodeMapping(n *yaml.Node) (*Map, error) {
	type entry struct {
		key   string
		value any
	}
	var merged, explicit []entry

	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valueNode := n.Content[i], n.Content[i+1]

		if keyNode.Kind == yaml.ScalarNode && keyNode.Tag == "!!merge" {
			sources, err := mergeSources(valueNode)
			if err != nil {
				return nil, err
			}
			for j := len(sources) - 1; j >= 0; j-- {
				for _, k := range sources[j].keys {
					merged = append(merged, entry{k, sources[j].values[k]})
				}
			}
			continue
		}

		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("unsupported %s mapping key at line %d", kindName(keyNode.Kind), keyNode.Line)
		}
		value, err := decodeNode(valueNode)
		if err != nil {
			return nil, err
		}
		explicit = append(explicit, entry{keyNode.Value, value})
	}

	m := NewMap()
	for _, e := range merged {
		m.Set(e.key, e.value)
	}
	for _, e := range explicit {
		m.Set(e.key, e.value)
	}
	return m, nil
}

func mergeSources(n *yaml.Node) ([]*Map, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}

	var nodes []*yaml.Node
	switch n.Kind {
	case yaml.MappingNode:
		nodes = []*yaml.Node{n}
	case yaml.SequenceNode:
		nodes = n.Content
	default:
		return nil, fmt.Errorf("merge key at line %d needs a mapping or a list of mappings", n.Line)
	}

	sources := make([]*Map, 0, len(nodes))
	for _, node := range nodes {
		if node.Kind == yaml.AliasNode {
			node = node.Alias
		}
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("merge key at line %d needs a mapping or a list of mappings", node.Line)
		}
		m, err := decodeMapping(node)
		if err != nil {
			return nil, err
		}
		sources = append(sources, m)
	}
	return sources, nil
}

// LoadFile reads and parses a YAML variables file.
// A missing file returns an error wrapping ErrNotFound.
func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read variables file: %w", err)
	}

	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// FromEnviron converts KEY=VALUE pairs, as returned by os.Environ, into a Set.
// The value is everything after the first '='. Later duplicates win.
func FromEnviron(environ []string) Set {
	set := make(Set, len(environ))
	for _, kv := range environ {
		key, value, _ := strings.Cut(kv, "=")
		if key == "" {
			// Windows exposes per-drive working directories as "=C:=C:\...".
			continue
		}
		set[key] = value
	}
	return set
}

// Merge returns a new Set holding base with each overlay applied in order.
// Keys are replaced wholesale; nested mappings are not merged.
func Merge(base Set, overlays ...Set) Set {
	out := base.Clone()
	for _, overlay := range overlays {
		for k, v := range overlay {
			out[k] = v
		}
	}
	return out
}

// DeepMerge returns a new Set with src merged into dst.
// When both sides hold a mapping for a key the mappings are merged
// recursively; any other src value replaces the dst value.
func DeepMerge(dst, src Set) Set {
	out := dst.Clone()
	for key, srcVal := range src {
		if dstVal, exists := out[key]; exists {
			out[key] = mergeValue(dstVal, srcVal)
			continue
		}
		out[key] = srcVal
	}
	return out
}

func mergeValue(dst, src any) any {
	dstMap, dstOk := dst.(*Map)
	srcMap, srcOk := src.(*Map)
	if !dstOk || !srcOk {
		return src
	}

	out := dstMap.Clone()
	for _, key := range srcMap.keys {
		srcVal := srcMap.values[key]
		if dstVal, exists := out.values[key]; exists {
			out.Set(key, mergeValue(dstVal, srcVal))
			continue
		}
		out.Set(key, srcVal)
	}
	return out
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}
