package render

import (
	"reflect"
	"slices"

	"github.com/flosch/pongo2/v6"
)

// forNode replaces pongo2's for tag. It iterates mappings in key order,
// publishes Jinja's loop variable next to pongo2's forloop, and accepts
// Jinja's "for x in y if cond" filter and "else" clause.
type forNode struct {
	key       string
	value     string
	object    pongo2.IEvaluator
	condition pongo2.IEvaluator
	reversed  bool
	sorted    bool

	body  *pongo2.NodeWrapper
	empty *pongo2.NodeWrapper
}

type loopItem struct {
	key   *pongo2.Value
	value *pongo2.Value
}

func (n *forNode) Execute(ctx *pongo2.ExecutionContext, writer pongo2.TemplateWriter) *pongo2.Error {
	obj, err := n.object.Evaluate(ctx)
	if err != nil {
		return err
	}

	items, err := n.collect(ctx, obj)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		if n.empty != nil {
			return n.empty.Execute(pongo2.NewChildExecutionContext(ctx), writer)
		}
		return nil
	}

	for idx, item := range items {
		loopCtx := n.bind(ctx, item)
		loopCtx.Private["loop"] = loopVars(items, idx)
		loopCtx.Private["forloop"] = map[string]any{
			"Counter":     idx + 1,
			"Counter0":    idx,
			"Revcounter":  len(items) - idx,
			"Revcounter0": len(items) - idx - 1,
			"First":       idx == 0,
			"Last":        idx == len(items)-1,
		}
		if err := n.body.Execute(loopCtx, writer); err != nil {
			return err
		}
	}
	return nil
}

// collect gathers the items to loop over, with the filter condition applied.
func (n *forNode) collect(ctx *pongo2.ExecutionContext, obj *pongo2.Value) ([]loopItem, *pongo2.Error) {
	var all []loopItem

	rv := reflect.ValueOf(obj.Interface())
	if rv.Kind() == reflect.Map {
		keys := orderedKeys(ctx, rv)
		if n.sorted {
			keys = sortedMapKeys(rv)
		}
		if n.reversed {
			slices.Reverse(keys)
		}
		for _, k := range keys {
			all = append(all, loopItem{
				key:   pongo2.AsValue(k.Interface()),
				value: pongo2.AsValue(rv.MapIndex(k).Interface()),
			})
		}
	} else {
		obj.IterateOrder(func(_, _ int, key, value *pongo2.Value) bool {
			all = append(all, loopItem{key: key, value: value})
			return true
		}, func() {}, n.reversed, n.sorted)
	}

	if n.condition == nil {
		return all, nil
	}

	kept := all[:0]
	for _, item := range all {
		ok, err := n.condition.Evaluate(n.bind(ctx, item))
		if err != nil {
			return nil, err
		}
		if ok.IsTrue() {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// bind returns a child context with the loop target names set for item.
func (n *forNode) bind(ctx *pongo2.ExecutionContext, item loopItem) *pongo2.ExecutionContext {
	child := pongo2.NewChildExecutionContext(ctx)
	child.Private[n.key] = item.key
	if n.value != "" && item.value != nil {
		child.Private[n.value] = item.value
	}
	return child
}

func loopVars(items []loopItem, idx int) map[string]any {
	vars := map[string]any{
		"index":     idx + 1,
		"index0":    idx,
		"revindex":  len(items) - idx,
		"revindex0": len(items) - idx - 1,
		"first":     idx == 0,
		"last":      idx == len(items)-1,
		"length":    len(items),
		"previtem":  nil,
		"nextitem":  nil,
	}
	if idx > 0 {
		vars["previtem"] = items[idx-1].key.Interface()
	}
	if idx < len(items)-1 {
		vars["nextitem"] = items[idx+1].key.Interface()
	}
	return vars
}

func sortedMapKeys(m reflect.Value) []reflect.Value {
	keys := m.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		switch sa, sb := a.String(), b.String(); {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	})
	return keys
}

func parseFor(doc *pongo2.Parser, _ *pongo2.Token, args *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
	node := &forNode{}

	keyToken := args.MatchType(pongo2.TokenIdentifier)
	if keyToken == nil {
		return nil, args.Error("Expected a key identifier as first argument for 'for'-tag", nil)
	}
	node.key = keyToken.Val

	if args.Match(pongo2.TokenSymbol, ",") != nil {
		valueToken := args.MatchType(pongo2.TokenIdentifier)
		if valueToken == nil {
			return nil, args.Error("Value name must be an identifier.", nil)
		}
		node.value = valueToken.Val
	}

	if args.Match(pongo2.TokenKeyword, "in") == nil {
		return nil, args.Error("Expected keyword 'in'.", nil)
	}

	object, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.object = object

	if args.Match(pongo2.TokenIdentifier, "reversed") != nil {
		node.reversed = true
	}
	if args.Match(pongo2.TokenIdentifier, "sorted") != nil {
		node.sorted = true
	}
	if args.Match(pongo2.TokenIdentifier, "if") != nil {
		condition, err := args.ParseExpression()
		if err != nil {
			return nil, err
		}
		node.condition = condition
	}

	if args.Remaining() > 0 {
		return nil, args.Error("Malformed for-loop arguments.", nil)
	}

	body, endArgs, err := doc.WrapUntilTag("else", "empty", "endfor")
	if err != nil {
		return nil, err
	}
	if endArgs.Count() > 0 {
		return nil, endArgs.Error("Arguments not allowed here.", nil)
	}
	node.body = body

	if body.Endtag != "endfor" {
		empty, endArgs, err := doc.WrapUntilTag("endfor")
		if err != nil {
			return nil, err
		}
		if endArgs.Count() > 0 {
			return nil, endArgs.Error("Arguments not allowed here.", nil)
		}
		node.empty = empty
	}

	return node, nil
}
