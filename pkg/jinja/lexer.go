package jinja

import (
	"fmt"
	"regexp"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokText
	tokVarBegin
	tokVarEnd
	tokBlockBegin
	tokBlockEnd
	tokName
	tokString
	tokInt
	tokFloat
	tokOp
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of template"
	case tokText:
		return "text"
	case tokVarBegin:
		return "'{{'"
	case tokVarEnd:
		return "'}}'"
	case tokBlockBegin:
		return "'{%'"
	case tokBlockEnd:
		return "'%}'"
	case tokName:
		return "name"
	case tokString:
		return "string"
	case tokInt:
		return "integer"
	case tokFloat:
		return "float"
	default:
		return "operator"
	}
}

type token struct {
	kind  tokenKind
	value string
	line  int
}

func (t token) String() string {
	switch t.kind {
	case tokName, tokOp, tokInt, tokFloat:
		return fmt.Sprintf("'%s'", t.value)
	case tokString:
		return "string"
	default:
		return t.kind.String()
	}
}

// SyntaxError is returned for malformed templates.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

var (
	rawStartRe = regexp.MustCompile(`^\{%[-+]?\s*raw\s*[-+]?%\}`)
	rawEndRe   = regexp.MustCompile(`\{%[-+]?\s*endraw\s*[-+]?%\}`)
)

// operators, longest first.
var operators = []string{
	"**", "//", "==", "!=", "<=", ">=",
	"+", "-", "*", "/", "%", "~", "|", ".", ",", ":", "(", ")", "[", "]",
	"{", "}", "=", "<", ">",
}

type lexer struct {
	src    string
	pos    int
	line   int
	tokens []token
}

// tokenize splits src into tokens. Comments are dropped.
func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src, line: 1}
	if err := lx.run(); err != nil {
		return nil, err
	}
	lx.emit(tokEOF, "")
	return lx.tokens, nil
}

func (lx *lexer) emit(k tokenKind, v string) {
	lx.tokens = append(lx.tokens, token{kind: k, value: v, line: lx.line})
}

func (lx *lexer) errorf(format string, args ...any) error {
	return &SyntaxError{Line: lx.line, Msg: fmt.Sprintf(format, args...)}
}

func (lx *lexer) advance(n int) {
	lx.line += strings.Count(lx.src[lx.pos:lx.pos+n], "\n")
	lx.pos += n
}

func (lx *lexer) run() error {
	for lx.pos < len(lx.src) {
		rest := lx.src[lx.pos:]
		idx := nextDelimiter(rest)
		if idx < 0 {
			lx.emit(tokText, rest)
			lx.advance(len(rest))
			return nil
		}
		if idx > 0 {
			lx.emit(tokText, rest[:idx])
			lx.advance(idx)
			rest = lx.src[lx.pos:]
		}
		switch {
		case strings.HasPrefix(rest, "{#"):
			end := strings.Index(rest[2:], "#}")
			if end < 0 {
				return lx.errorf("missing end of comment tag")
			}
			lx.advance(end + 4)
		case rawStartRe.MatchString(rest):
			start := rawStartRe.FindString(rest)
			loc := rawEndRe.FindStringIndex(rest[len(start):])
			if loc == nil {
				return lx.errorf("missing end of raw directive")
			}
			lx.advance(len(start))
			lx.emit(tokText, rest[len(start):len(start)+loc[0]])
			lx.advance(loc[1])
		case strings.HasPrefix(rest, "{{"):
			lx.emit(tokVarBegin, "{{")
			lx.advance(2)
			lx.skipControl()
			if err := lx.lexExpr(tokVarEnd); err != nil {
				return err
			}
		default: // {%
			lx.emit(tokBlockBegin, "{%")
			lx.advance(2)
			lx.skipControl()
			if err := lx.lexExpr(tokBlockEnd); err != nil {
				return err
			}
		}
	}
	return nil
}

func nextDelimiter(s string) int {
	best := -1
	for _, d := range []string{"{{", "{%", "{#"} {
		if i := strings.Index(s, d); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// skipControl consumes a whitespace-control marker after an opening tag.
func (lx *lexer) skipControl() {
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == '-' || lx.src[lx.pos] == '+') {
		lx.advance(1)
	}
}

// lexExpr tokenizes the inside of a {{ }} or {% %} until its terminator.
// A "}}" only closes the block when no brackets are open.
func (lx *lexer) lexExpr(end tokenKind) error {
	startLine := lx.line
	var stack []byte
	for {
		lx.skipSpace()
		if lx.pos >= len(lx.src) {
			lx.line = startLine
			if end == tokVarEnd {
				return lx.errorf("unexpected end of template, expected '}}'")
			}
			return lx.errorf("unexpected end of template, expected '%%}'")
		}
		rest := lx.src[lx.pos:]

		if len(stack) == 0 {
			if n := closer(rest, end); n > 0 {
				lx.emit(end, "")
				lx.advance(n)
				return nil
			}
		}

		c := rest[0]
		switch {
		case isNameStart(c):
			n := 1
			for n < len(rest) && isNameChar(rest[n]) {
				n++
			}
			lx.emit(tokName, rest[:n])
			lx.advance(n)
		case isDigit(c):
			n, kind := scanNumber(rest)
			lx.emit(kind, strings.ReplaceAll(rest[:n], "_", ""))
			lx.advance(n)
		case c == '\'' || c == '"':
			val, n, ok := scanString(rest)
			if !ok {
				return lx.errorf("unexpected end of string")
			}
			lx.emit(tokString, val)
			lx.advance(n)
		default:
			op := matchOperator(rest)
			if op == "" {
				return lx.errorf("unexpected char %q", c)
			}
			switch op {
			case "(", "[", "{":
				stack = append(stack, op[0])
			case ")", "]", "}":
				if len(stack) == 0 {
					return lx.errorf("unexpected '%s'", op)
				}
				want := map[byte]byte{')': '(', ']': '[', '}': '{'}[op[0]]
				if stack[len(stack)-1] != want {
					return lx.errorf("unexpected '%s', expected closing for '%c'", op, stack[len(stack)-1])
				}
				stack = stack[:len(stack)-1]
			}
			lx.emit(tokOp, op)
			lx.advance(len(op))
		}
	}
}

// closer returns the length of the terminator at the start of s, or 0.
func closer(s string, end tokenKind) int {
	tail := "}}"
	if end == tokBlockEnd {
		tail = "%}"
	}
	if strings.HasPrefix(s, tail) {
		return 2
	}
	if len(s) >= 3 && (s[0] == '-' || s[0] == '+') && s[1:3] == tail {
		return 3
	}
	return 0
}

func (lx *lexer) skipSpace() {
	n := 0
	for lx.pos+n < len(lx.src) {
		switch lx.src[lx.pos+n] {
		case ' ', '\t', '\n', '\r':
			n++
			continue
		}
		break
	}
	if n > 0 {
		lx.advance(n)
	}
}

func matchOperator(s string) string {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool { return isNameStart(c) || isDigit(c) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func scanNumber(s string) (int, tokenKind) {
	n := 0
	kind := tokInt
	for n < len(s) && (isDigit(s[n]) || s[n] == '_') {
		n++
	}
	if n+1 < len(s) && s[n] == '.' && isDigit(s[n+1]) {
		kind = tokFloat
		n++
		for n < len(s) && (isDigit(s[n]) || s[n] == '_') {
			n++
		}
	}
	if n < len(s) && (s[n] == 'e' || s[n] == 'E') {
		m := n + 1
		if m < len(s) && (s[m] == '+' || s[m] == '-') {
			m++
		}
		if m < len(s) && isDigit(s[m]) {
			kind = tokFloat
			n = m
			for n < len(s) && isDigit(s[n]) {
				n++
			}
		}
	}
	return n, kind
}

// scanString decodes a quoted literal. It returns the value, consumed
// length and whether the literal was closed.
func scanString(s string) (string, int, bool) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
		case c == quote:
			return b.String(), i + 1, true
		default:
			b.WriteByte(c)
		}
	}
	return "", len(s), false
}
