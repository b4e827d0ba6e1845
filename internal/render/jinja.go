package render

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// lexConfig holds the Jinja environment switches that shape whitespace.
type lexConfig struct {
	trimBlocks          bool
	lstripBlocks        bool
	keepTrailingNewline bool
}

type tagKind int

const (
	tagVariable tagKind = iota
	tagBlock
	tagComment
)

// stringEscaper escapes a literal for pongo2, which knows only \" and \\.
var stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// endRaw matches the tag closing a {% raw %} section.
var endRaw = regexp.MustCompile(`\{%([-+]?)\s*endraw\s*([-+]?)%\}`)

// preprocess turns Jinja source into pongo2 source. Whitespace is handled
// the way Jinja's lexer handles it: "-" signs strip, "+" signs disable
// lstrip_blocks or trim_blocks for one tag, lstrip_blocks only removes
// indentation when the tag starts its line, and trim_blocks removes one
// newline after block and comment tags. Comments are dropped, raw sections
// become verbatim, and tag bodies are rewritten by rewriteTag.
func preprocess(src string, cfg lexConfig) (string, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")
	if !cfg.keepTrailingNewline {
		src = strings.TrimSuffix(src, "\n")
	}

	var out strings.Builder
	pos := 0
	lineStarting := true
	for {
		start, kind := nextTag(src, pos)
		if start < 0 {
			out.WriteString(src[pos:])
			return out.String(), nil
		}

		text := src[pos:start]
		inner := start + 2
		var sign byte
		if inner < len(src) && (src[inner] == '-' || (src[inner] == '+' && kind != tagVariable)) {
			sign = src[inner]
			inner++
		}
		switch {
		case sign == '-':
			text = strings.TrimRightFunc(text, unicode.IsSpace)
		case sign != '+' && cfg.lstripBlocks && kind != tagVariable:
			text = lstrip(text, lineStarting)
		}
		out.WriteString(text)

		delim := closingDelim(kind)
		end := findClose(src, inner, delim, kind != tagComment)
		if end < 0 {
			return "", errors.Errorf("line %d: unclosed %s tag", lineAt(src, start), kind)
		}

		bodyEnd := end
		var endSign byte
		if end > inner && (src[end-1] == '-' || (src[end-1] == '+' && kind != tagVariable)) {
			endSign = src[end-1]
			bodyEnd--
		}
		body := src[inner:bodyEnd]
		pos = skipAfter(src, end+len(delim), endSign, cfg.trimBlocks && kind != tagVariable)

		switch {
		case kind == tagComment:
		case kind == tagBlock && strings.TrimSpace(body) == "raw":
			// The opening raw tag ignores trim_blocks.
			pos = skipAfter(src, end+len(delim), endSign, false)
			m := endRaw.FindStringSubmatchIndex(src[pos:])
			if m == nil {
				return "", errors.Errorf("line %d: missing endraw tag", lineAt(src, start))
			}
			content := src[pos : pos+m[0]]
			closeSign, closeEndSign := src[pos+m[2]:pos+m[3]], src[pos+m[4]:pos+m[5]]
			switch {
			case closeSign == "-":
				content = strings.TrimRightFunc(content, unicode.IsSpace)
			case closeSign != "+" && cfg.lstripBlocks:
				content = lstrip(content, endsLine(src, pos))
			}
			out.WriteString("{% verbatim %}")
			out.WriteString(content)
			out.WriteString("{% endverbatim %}")
			var s byte
			if closeEndSign != "" {
				s = closeEndSign[0]
			}
			pos = skipAfter(src, pos+m[1], s, cfg.trimBlocks)
		default:
			rewritten, err := rewriteTag(body)
			if err != nil {
				return "", errors.Wrapf(err, "line %d", lineAt(src, start))
			}
			out.WriteString(openingDelim(kind))
			out.WriteString(" ")
			out.WriteString(strings.TrimSpace(rewritten))
			out.WriteString(" ")
			out.WriteString(delim)
		}
		lineStarting = endsLine(src, pos)
	}
}

func (k tagKind) String() string {
	switch k {
	case tagVariable:
		return "variable"
	case tagBlock:
		return "block"
	default:
		return "comment"
	}
}

func openingDelim(k tagKind) string {
	if k == tagVariable {
		return "{{"
	}
	return "{%"
}

func closingDelim(k tagKind) string {
	switch k {
	case tagVariable:
		return "}}"
	case tagBlock:
		return "%}"
	default:
		return "#}"
	}
}

// nextTag finds the first tag opening at or after pos.
func nextTag(src string, pos int) (int, tagKind) {
	for i := strings.IndexByte(src[pos:], '{'); i >= 0; i = strings.IndexByte(src[pos:], '{') {
		at := pos + i
		if at+1 < len(src) {
			switch src[at+1] {
			case '{':
				return at, tagVariable
			case '%':
				return at, tagBlock
			case '#':
				return at, tagComment
			}
		}
		pos = at + 1
	}
	return -1, 0
}

// findClose returns the index of delim, skipping quoted strings when
// quotes is set.
func findClose(src string, from int, delim string, quotes bool) int {
	for i := from; i < len(src); i++ {
		c := src[i]
		if quotes && (c == '"' || c == '\'') {
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			i = j
			continue
		}
		if strings.HasPrefix(src[i:], delim) {
			return i
		}
	}
	return -1
}

// lstrip removes the indentation before a block tag when only whitespace
// separates the tag from the start of its line.
func lstrip(text string, lineStarting bool) string {
	i := strings.LastIndexByte(text, '\n') + 1
	if i == 0 && !lineStarting {
		return text
	}
	if i < len(text) && strings.TrimLeftFunc(text[i:], unicode.IsSpace) == "" {
		return text[:i]
	}
	return text
}

// skipAfter applies the whitespace control of a closing delimiter ending
// at pos.
func skipAfter(src string, pos int, sign byte, trim bool) int {
	switch {
	case sign == '-':
		return len(src) - len(strings.TrimLeftFunc(src[pos:], unicode.IsSpace))
	case sign == '+':
		return pos
	case trim && strings.HasPrefix(src[pos:], "\n"):
		return pos + 1
	}
	return pos
}

func endsLine(src string, pos int) bool {
	return pos == 0 || src[pos-1] == '\n'
}

func lineAt(src string, pos int) int {
	return strings.Count(src[:pos], "\n") + 1
}

type tokenKind int

const (
	tokSpace tokenKind = iota
	tokName
	tokNumber
	tokString
	tokSymbol
)

type token struct {
	kind tokenKind
	text string // decoded value for strings
}

func (t token) is(sym string) bool {
	return t.kind == tokSymbol && t.text == sym
}

func (t token) isName(name string) bool {
	return t.kind == tokName && t.text == name
}

// filterAliases maps Jinja filter names onto their pongo2 counterparts.
var filterAliases = map[string]string{
	"count": "length",
	"e":     "escape",
	"int":   "integer",
}

// jinjaTests lists the "is" tests available in templates. Each is a filter
// named is_<test>.
var jinjaTests = map[string]bool{
	"defined":     true,
	"undefined":   true,
	"none":        true,
	"string":      true,
	"number":      true,
	"integer":     true,
	"float":       true,
	"boolean":     true,
	"mapping":     true,
	"sequence":    true,
	"iterable":    true,
	"even":        true,
	"odd":         true,
	"divisibleby": true,
	"lower":       true,
	"upper":       true,
}

// rewriteTag rewrites the Jinja spellings in a tag body that pongo2 does
// not parse:
//
//	'a'                    ->  "a"
//	m.items()              ->  m
//	x | default('a')       ->  x | default_if_none:"a"
//	x | default('a', true) ->  x | default:"a"
//	x | upper()            ->  x | upper
//	a ~ b                  ->  a + "" + b
//	x is not defined       ->  (not x|is_defined)
func rewriteTag(body string) (string, error) {
	toks, err := scanTokens(body)
	if err != nil {
		return "", err
	}

	var out []token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is(".") && isMapView(toks, i+1):
			i += 3

		case t.is("~"):
			out = append(out,
				token{kind: tokSymbol, text: "+"},
				token{kind: tokSpace, text: " "},
				token{kind: tokString, text: ""},
				token{kind: tokSpace, text: " "},
				token{kind: tokSymbol, text: "+"})

		case t.is("|"):
			next, filter, err := rewriteFilter(toks, i+1)
			if err != nil {
				return "", err
			}
			out = append(out, t)
			out = append(out, filter...)
			i = next - 1

		case t.isName("is") && hasOperand(out):
			next, rewritten, err := rewriteTest(out, toks, i+1)
			if err != nil {
				return "", err
			}
			out = rewritten
			i = next - 1

		default:
			out = append(out, t)
		}
	}
	return joinTokens(out), nil
}

// isMapView reports whether toks[i:] starts with items() or keys().
func isMapView(toks []token, i int) bool {
	return i+2 < len(toks) &&
		(toks[i].isName("items") || toks[i].isName("keys")) &&
		toks[i+1].is("(") && toks[i+2].is(")")
}

// rewriteFilter converts the filter call starting at toks[i] and returns
// the index after it.
func rewriteFilter(toks []token, i int) (int, []token, error) {
	var out []token
	for i < len(toks) && toks[i].kind == tokSpace {
		out = append(out, toks[i])
		i++
	}
	if i >= len(toks) || toks[i].kind != tokName {
		return i, out, nil
	}
	name := toks[i].text
	i++

	var args [][]token
	if i < len(toks) && toks[i].is("(") {
		closing := matchClose(toks, i)
		if closing < 0 {
			return 0, nil, errors.Errorf("unclosed call of filter %q", name)
		}
		args = splitArgs(toks[i+1 : closing])
		i = closing + 1
	}

	if name == "default" || name == "d" {
		name = "default_if_none"
		if len(args) == 2 && isTrue(args[1]) {
			name = "default"
			args = args[:1]
		}
	}
	if alias, ok := filterAliases[name]; ok {
		name = alias
	}
	if len(args) > 1 {
		return 0, nil, errors.Errorf("filter %q takes at most one argument, got %d", name, len(args))
	}

	out = append(out, token{kind: tokName, text: name})
	if len(args) == 1 {
		out = append(out, token{kind: tokSymbol, text: ":"})
		out = append(out, trimSpace(args[0])...)
	}
	return i, out, nil
}

// rewriteTest turns "operand is [not] test[(arg)]" into a filter call on
// the operand, which is cut from the end of out.
func rewriteTest(out, toks []token, i int) (int, []token, error) {
	start := operandStart(out)
	operand := trimSpace(out[start:])

	i = skipSpace(toks, i)
	negate := false
	if i < len(toks) && toks[i].isName("not") {
		negate = true
		i = skipSpace(toks, i+1)
	}
	if i >= len(toks) || toks[i].kind != tokName {
		return 0, nil, errors.New(`expected a test name after "is"`)
	}
	test := toks[i].text
	if !jinjaTests[test] {
		return 0, nil, errors.Errorf("unknown test %q", test)
	}
	i++

	var arg []token
	if i < len(toks) && toks[i].is("(") {
		closing := matchClose(toks, i)
		if closing < 0 {
			return 0, nil, errors.Errorf("unclosed call of test %q", test)
		}
		arg = trimSpace(toks[i+1 : closing])
		i = closing + 1
	}

	rewritten := append([]token{}, out[:start]...)
	rewritten = append(rewritten, token{kind: tokSymbol, text: "("})
	if negate {
		rewritten = append(rewritten, token{kind: tokName, text: "not"}, token{kind: tokSpace, text: " "})
	}
	rewritten = append(rewritten, operand...)
	rewritten = append(rewritten,
		token{kind: tokSymbol, text: "|"},
		token{kind: tokName, text: "is_" + test})
	if len(arg) > 0 {
		rewritten = append(rewritten, token{kind: tokSymbol, text: ":"})
		rewritten = append(rewritten, arg...)
	}
	rewritten = append(rewritten, token{kind: tokSymbol, text: ")"})
	return i, rewritten, nil
}

func hasOperand(out []token) bool {
	end := len(out)
	for end > 0 && out[end-1].kind == tokSpace {
		end--
	}
	return operandStart(out) < end
}

// operandStart finds where the expression ending out begins: names and
// literals joined by ".", ":" or a filter pipe, with call or index groups.
func operandStart(out []token) int {
	i := len(out)
	for i > 0 && out[i-1].kind == tokSpace {
		i--
	}
	for i > 0 {
		t := out[i-1]
		switch {
		case t.is(")") || t.is("]"):
			open := matchOpen(out, i-1)
			if open < 0 {
				return i
			}
			i = open
			if i > 0 && (out[i-1].kind == tokName || out[i-1].is(")") || out[i-1].is("]")) {
				continue
			}
		case t.kind == tokName || t.kind == tokNumber || t.kind == tokString:
			i--
		default:
			return i
		}
		if i > 0 && (out[i-1].is(".") || out[i-1].is(":")) {
			i--
			continue
		}
		j := i
		for j > 0 && out[j-1].kind == tokSpace {
			j--
		}
		if j > 0 && out[j-1].is("|") {
			i = j - 1
			for i > 0 && out[i-1].kind == tokSpace {
				i--
			}
			continue
		}
		return i
	}
	return i
}

func matchClose(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].is("(") || toks[i].is("["):
			depth++
		case toks[i].is(")") || toks[i].is("]"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func matchOpen(toks []token, closing int) int {
	depth := 0
	for i := closing; i >= 0; i-- {
		switch {
		case toks[i].is(")") || toks[i].is("]"):
			depth++
		case toks[i].is("(") || toks[i].is("["):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits call arguments on top-level commas.
func splitArgs(toks []token) [][]token {
	if len(trimSpace(toks)) == 0 {
		return nil
	}
	var args [][]token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.is("(") || t.is("["):
			depth++
		case t.is(")") || t.is("]"):
			depth--
		case t.is(",") && depth == 0:
			args = append(args, toks[start:i])
			start = i + 1
		}
	}
	return append(args, toks[start:])
}

func isTrue(arg []token) bool {
	arg = trimSpace(arg)
	return len(arg) == 1 && (arg[0].isName("true") || arg[0].isName("True"))
}

func trimSpace(toks []token) []token {
	for len(toks) > 0 && toks[0].kind == tokSpace {
		toks = toks[1:]
	}
	for len(toks) > 0 && toks[len(toks)-1].kind == tokSpace {
		toks = toks[:len(toks)-1]
	}
	return toks
}

func skipSpace(toks []token, i int) int {
	for i < len(toks) && toks[i].kind == tokSpace {
		i++
	}
	return i
}

// scanTokens splits a tag body into tokens. String literals are decoded.
func scanTokens(body string) ([]token, error) {
	var toks []token
	for i := 0; i < len(body); {
		c := body[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			j := i
			for j < len(body) && (body[j] == ' ' || body[j] == '\t' || body[j] == '\n') {
				j++
			}
			toks = append(toks, token{kind: tokSpace, text: body[i:j]})
			i = j
		case c == '_' || isLetter(c):
			j := i
			for j < len(body) && (body[j] == '_' || isLetter(body[j]) || isDigit(body[j])) {
				j++
			}
			toks = append(toks, token{kind: tokName, text: body[i:j]})
			i = j
		case isDigit(c):
			j := i
			for j < len(body) && isDigit(body[j]) {
				j++
			}
			if j+1 < len(body) && body[j] == '.' && isDigit(body[j+1]) {
				j++
				for j < len(body) && isDigit(body[j]) {
					j++
				}
			}
			toks = append(toks, token{kind: tokNumber, text: body[i:j]})
			i = j
		case c == '"' || c == '\'':
			value, n, err := decodeString(body[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: value})
			i += n
		default:
			toks = append(toks, token{kind: tokSymbol, text: string(c)})
			i++
		}
	}
	return toks, nil
}

// decodeString reads the quoted literal at the start of s and returns its
// value and length.
func decodeString(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(s[i])
			default:
				b.WriteByte('\\')
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.Errorf("unterminated string %s", s)
}

func joinTokens(toks []token) string {
	var b strings.Builder
	for _, t := range toks {
		if t.kind == tokString {
			b.WriteByte('"')
			b.WriteString(stringEscaper.Replace(t.text))
			b.WriteByte('"')
			continue
		}
		b.WriteString(t.text)
	}
	return b.String()
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
