package render

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Masterminds/sprig/v3"
	"github.com/flosch/pongo2/v6"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// sprigFilters are sprig string helpers exposed as pongo2 filters.
var sprigFilters = []string{
	"b64enc",
	"b64dec",
	"sha1sum",
	"sha256sum",
	"snakecase",
	"camelcase",
	"kebabcase",
	"quote",
	"squote",
	"trim",
}

var (
	registerOnce sync.Once
	registerErr  error
)

// registerExtensions installs the extra filters and the for tag. pongo2
// keeps filters and tags in process-wide registries, so this runs once and
// every Engine shares the result. Filter names pongo2 already knows are left
// alone.
func registerExtensions() error {
	registerOnce.Do(func() {
		registerErr = doRegister()
	})
	return registerErr
}

func doRegister() error {
	filters := map[string]pongo2.FilterFunction{
		"tojson":  filterToJSON,
		"to_yaml": filterToYAML,
	}
	funcs := sprig.TxtFuncMap()
	for _, name := range sprigFilters {
		if filter, ok := adaptSprig(funcs[name]); ok {
			filters[name] = filter
		}
	}
	for test, fn := range testFilters {
		filters["is_"+test] = fn
	}

	for name, fn := range filters {
		if pongo2.FilterExists(name) {
			continue
		}
		if err := pongo2.RegisterFilter(name, fn); err != nil {
			return errors.Wrapf(err, "register filter %s", name)
		}
	}

	if err := pongo2.ReplaceTag("for", parseFor); err != nil {
		return errors.Wrap(err, "replace for tag")
	}
	return nil
}

// adaptSprig wraps the two sprig signatures used for string helpers.
func adaptSprig(fn any) (pongo2.FilterFunction, bool) {
	switch f := fn.(type) {
	case func(string) string:
		return func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			return pongo2.AsValue(f(in.String())), nil
		}, true
	case func(...any) string:
		return func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			return pongo2.AsValue(f(in.String())), nil
		}, true
	default:
		return nil, false
	}
}

func filterToJSON(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	data, err := json.Marshal(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:tojson", OrigError: err}
	}
	return pongo2.AsValue(string(data)), nil
}

func filterToYAML(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	data, err := yaml.Marshal(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:to_yaml", OrigError: fmt.Errorf("marshal yaml: %w", err)}
	}
	return pongo2.AsValue(strings.TrimRight(string(data), "\n")), nil
}

// testFilters back the "x is <test>" expressions. A null value counts as
// undefined.
var testFilters = map[string]pongo2.FilterFunction{
	"defined":   testFilter(func(v *pongo2.Value) bool { return !v.IsNil() }),
	"undefined": testFilter(func(v *pongo2.Value) bool { return v.IsNil() }),
	"none":      testFilter(func(v *pongo2.Value) bool { return v.IsNil() }),
	"string":    testFilter(func(v *pongo2.Value) bool { return v.IsString() }),
	"number":    testFilter(func(v *pongo2.Value) bool { return v.IsNumber() }),
	"integer":   testFilter(func(v *pongo2.Value) bool { return v.IsInteger() }),
	"float":     testFilter(func(v *pongo2.Value) bool { return v.IsFloat() }),
	"boolean":   testFilter(func(v *pongo2.Value) bool { return v.IsBool() }),
	"mapping":   testFilter(func(v *pongo2.Value) bool { return kindOf(v) == reflect.Map }),
	"sequence": testFilter(func(v *pongo2.Value) bool {
		k := kindOf(v)
		return k == reflect.Slice || k == reflect.Array || k == reflect.String
	}),
	"iterable": testFilter(func(v *pongo2.Value) bool {
		k := kindOf(v)
		return k == reflect.Slice || k == reflect.Array || k == reflect.String || k == reflect.Map
	}),
	"even":  testFilter(func(v *pongo2.Value) bool { return v.IsInteger() && v.Integer()%2 == 0 }),
	"odd":   testFilter(func(v *pongo2.Value) bool { return v.IsInteger() && v.Integer()%2 != 0 }),
	"lower": testFilter(func(v *pongo2.Value) bool { return v.IsString() && strings.ToLower(v.String()) == v.String() }),
	"upper": testFilter(func(v *pongo2.Value) bool { return v.IsString() && strings.ToUpper(v.String()) == v.String() }),
	"divisibleby": func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		if param.Integer() == 0 {
			return nil, &pongo2.Error{Sender: "filter:is_divisibleby", OrigError: errors.New("division by zero")}
		}
		return pongo2.AsValue(in.Integer()%param.Integer() == 0), nil
	},
}

func testFilter(test func(*pongo2.Value) bool) pongo2.FilterFunction {
	return func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		return pongo2.AsValue(test(in)), nil
	}
}

func kindOf(v *pongo2.Value) reflect.Kind {
	if v.IsNil() {
		return reflect.Invalid
	}
	return reflect.ValueOf(v.Interface()).Kind()
}
