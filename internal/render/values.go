package render

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
)

// OrderedMapping is a mapping that remembers its key order, such as
// *variables.Map. Loops over it follow that order.
type OrderedMapping interface {
	Keys() []string
	Get(key string) (any, bool)
}

// keyOrderVar is the context entry holding the key order of every mapping
// in the render context. It is looked up by the for tag.
const keyOrderVar = "_stackrender_key_order"

// keyOrder maps a converted mapping, by map pointer, to its key order.
type keyOrder map[uintptr][]string

// validName matches the context keys pongo2 accepts.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// newContext converts vars into a pongo2 context. Keys that cannot be
// referenced from a template (INPUT_MY-INPUT, a.b) are left out because
// pongo2 rejects the whole context otherwise.
func newContext(vars map[string]any) pongo2.Context {
	order := keyOrder{}
	ctx := make(pongo2.Context, len(vars)+1)
	for k, v := range vars {
		if !validName.MatchString(k) || k == keyOrderVar {
			continue
		}
		ctx[k] = convertValue(v, order)
	}
	ctx[keyOrderVar] = order
	return ctx
}

// convertValue rewrites variable values into types that print the way
// Jinja prints them. Mappings become dict and their key order is recorded.
func convertValue(v any, order keyOrder) any {
	switch val := v.(type) {
	case OrderedMapping:
		keys := val.Keys()
		d := make(dict, len(keys))
		for _, k := range keys {
			item, _ := val.Get(k)
			d[k] = convertValue(item, order)
		}
		order[reflect.ValueOf(d).Pointer()] = keys
		return d
	case map[string]any:
		d := make(dict, len(val))
		for k, item := range val {
			d[k] = convertValue(item, order)
		}
		order[reflect.ValueOf(d).Pointer()] = d.sortedKeys()
		return d
	case []any:
		l := make(list, len(val))
		for i, item := range val {
			l[i] = convertValue(item, order)
		}
		return l
	case float64:
		return float(val)
	default:
		return v
	}
}

// orderedKeys returns the keys of a mapping value in iteration order.
// Mappings not found in the context's table iterate in sorted order.
func orderedKeys(ctx *pongo2.ExecutionContext, m reflect.Value) []reflect.Value {
	if table, ok := ctx.Public[keyOrderVar].(keyOrder); ok {
		if keys, ok := table[m.Pointer()]; ok && len(keys) == m.Len() {
			out := make([]reflect.Value, len(keys))
			for i, k := range keys {
				out[i] = reflect.ValueOf(k)
			}
			return out
		}
	}

	keys := m.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	return keys
}

// dict is a mapping in the render context.
type dict map[string]any

func (d dict) sortedKeys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String prints the mapping as a Python dict literal, keys sorted.
func (d dict) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range d.sortedKeys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(repr(k))
		b.WriteString(": ")
		b.WriteString(repr(d[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// list is a sequence in the render context.
type list []any

// String prints the sequence as a Python list literal.
func (l list) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, item := range l {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(repr(item))
	}
	b.WriteByte(']')
	return b.String()
}

// float is a floating point number in the render context.
type float float64

// String formats like Python's repr: 0.5, 1.0, 1e+20.
func (f float) String() string {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// repr formats a value nested in a list or dict.
func repr(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return quotePython(val)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case float64:
		return float(val).String()
	case time.Time:
		return quotePython(val.Format(time.RFC3339))
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// quotePython quotes s the way Python's repr quotes a str.
func quotePython(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}

	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
