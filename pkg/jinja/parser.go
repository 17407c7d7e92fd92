package jinja

import (
	"fmt"
)

// Parse parses src into a Template. The returned error, if any, is a
// *SyntaxError.
func Parse(src string) (tmpl *Template, err error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*SyntaxError)
			if !ok {
				panic(r)
			}
			tmpl, err = nil, se
		}
	}()
	body, end := p.subparse(nil)
	if end != "" {
		p.failf(p.cur().line, "unexpected '%s'", end)
	}
	return &Template{base: base{Line: 1}, Body: body}, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) cur() token  { return p.toks[p.i] }
func (p *parser) peek() token { return p.toks[min(p.i+1, len(p.toks)-1)] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) failf(line int, format string, args ...any) {
	panic(&SyntaxError{Line: line, Msg: fmt.Sprintf(format, args...)})
}

func (p *parser) isOp(op string) bool {
	t := p.cur()
	return t.kind == tokOp && t.value == op
}

func (p *parser) isName(name string) bool {
	t := p.cur()
	return t.kind == tokName && t.value == name
}

func (p *parser) skipOp(op string) bool {
	if p.isOp(op) {
		p.next()
		return true
	}
	return false
}

func (p *parser) skipName(name string) bool {
	if p.isName(name) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectOp(op string) token {
	if !p.isOp(op) {
		p.failf(p.cur().line, "expected '%s', got %s", op, p.cur())
	}
	return p.next()
}

func (p *parser) expectKind(k tokenKind) token {
	if p.cur().kind != k {
		p.failf(p.cur().line, "expected %s, got %s", k, p.cur())
	}
	return p.next()
}

func (p *parser) expectNameTok() token { return p.expectKind(tokName) }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// subparse reads body statements until a block tag in ends is reached. The
// parser is left on that tag's name token and the name is returned.
func (p *parser) subparse(ends []string) ([]Stmt, string) {
	var body []Stmt
	for {
		t := p.cur()
		switch t.kind {
		case tokEOF:
			if len(ends) > 0 {
				p.failf(t.line, "unexpected end of template, expected '%s'", ends[len(ends)-1])
			}
			return body, ""
		case tokText:
			p.next()
			body = append(body, &Text{base: base{t.line}, Data: t.value})
		case tokVarBegin:
			p.next()
			x := p.parseTuple(true)
			p.expectKind(tokVarEnd)
			body = append(body, &Output{base: base{t.line}, X: x})
		case tokBlockBegin:
			p.next()
			name := p.cur()
			if name.kind != tokName {
				p.failf(name.line, "tag name expected")
			}
			for _, e := range ends {
				if name.value == e {
					return body, e
				}
			}
			body = append(body, p.parseStatement())
		default:
			p.failf(t.line, "unexpected %s", t)
		}
	}
}

// endBlock consumes the end tag name and the closing %}.
func (p *parser) endBlock() {
	p.next()
	p.expectKind(tokBlockEnd)
}

func (p *parser) parseStatement() Stmt {
	t := p.cur()
	switch t.value {
	case "if":
		return p.parseIf()
	case "for":
		return p.parseFor()
	case "set":
		return p.parseSet()
	case "macro":
		return p.parseMacro()
	case "call":
		return p.parseCallBlock()
	case "filter":
		return p.parseFilterBlock()
	case "with":
		return p.parseWith()
	case "do":
		p.next()
		x := p.parseTuple(true)
		p.expectKind(tokBlockEnd)
		return &Do{base: base{t.line}, X: x}
	case "import":
		return p.parseImport()
	case "from":
		return p.parseFrom()
	case "include":
		return p.parseInclude()
	case "extends":
		p.next()
		x := p.parseExpression(true)
		p.expectKind(tokBlockEnd)
		return &Extends{base: base{t.line}, Template: x}
	case "block":
		return p.parseBlock()
	case "break":
		p.next()
		p.expectKind(tokBlockEnd)
		return &Break{base{t.line}}
	case "continue":
		p.next()
		p.expectKind(tokBlockEnd)
		return &Continue{base{t.line}}
	}
	p.failf(t.line, "encountered unknown tag '%s'", t.value)
	return nil
}

func (p *parser) parseIf() Stmt {
	t := p.next()
	node := &If{base: base{t.line}, Test: p.parseTuple(false)}
	p.expectKind(tokBlockEnd)
	var end string
	node.Body, end = p.subparse([]string{"elif", "else", "endif"})
	switch end {
	case "elif":
		node.Else = []Stmt{p.parseIf()}
		return node
	case "else":
		p.endBlock()
		node.Else, _ = p.subparse([]string{"endif"})
	}
	p.endBlock()
	return node
}

func (p *parser) parseFor() Stmt {
	t := p.next()
	node := &For{base: base{t.line}}
	node.Target = p.parseAssignTarget(true)
	if !p.skipName("in") {
		p.failf(p.cur().line, "expected 'in', got %s", p.cur())
	}
	node.Iter = p.parseTupleNoCond()
	if p.skipName("if") {
		node.Filter = p.parseExpression(true)
	}
	node.Recursive = p.skipName("recursive")
	p.expectKind(tokBlockEnd)
	var end string
	node.Body, end = p.subparse([]string{"else", "endfor"})
	if end == "else" {
		p.endBlock()
		node.Else, _ = p.subparse([]string{"endfor"})
	}
	p.endBlock()
	return node
}

func (p *parser) parseSet() Stmt {
	t := p.next()
	target := p.parseAssignTarget(true)
	if p.skipOp("=") {
		v := p.parseTuple(true)
		p.expectKind(tokBlockEnd)
		return &Set{base: base{t.line}, Target: target, Value: v}
	}
	node := &SetBlock{base: base{t.line}, Target: target}
	for p.skipOp("|") {
		node.Filters = append(node.Filters, p.parseFilterTail(nil))
	}
	p.expectKind(tokBlockEnd)
	node.Body, _ = p.subparse([]string{"endset"})
	p.endBlock()
	return node
}

func (p *parser) parseMacro() Stmt {
	t := p.next()
	node := &Macro{base: base{t.line}, Name: p.expectNameTok().value}
	node.Params, node.Defaults = p.parseSignature()
	p.expectKind(tokBlockEnd)
	node.Body, _ = p.subparse([]string{"endmacro"})
	p.endBlock()
	return node
}

func (p *parser) parseSignature() ([]*Name, []Expr) {
	var params []*Name
	var defaults []Expr
	p.expectOp("(")
	for !p.isOp(")") {
		if len(params) > 0 {
			p.expectOp(",")
			if p.isOp(")") {
				break
			}
		}
		nt := p.expectNameTok()
		params = append(params, &Name{base: base{nt.line}, Name: nt.value, Ctx: Param})
		if p.skipOp("=") {
			defaults = append(defaults, p.parseExpression(true))
		}
	}
	p.expectOp(")")
	return params, defaults
}

func (p *parser) parseCallBlock() Stmt {
	t := p.next()
	node := &CallBlock{base: base{t.line}}
	if p.isOp("(") {
		node.Params, _ = p.parseSignature()
	}
	x := p.parseExpression(true)
	call, ok := x.(*Call)
	if !ok {
		p.failf(t.line, "expected call")
	}
	node.Call = call
	p.expectKind(tokBlockEnd)
	node.Body, _ = p.subparse([]string{"endcall"})
	p.endBlock()
	return node
}

func (p *parser) parseFilterBlock() Stmt {
	t := p.next()
	node := &FilterBlock{base: base{t.line}}
	node.Filters = append(node.Filters, p.parseFilterTail(nil))
	for p.skipOp("|") {
		node.Filters = append(node.Filters, p.parseFilterTail(nil))
	}
	p.expectKind(tokBlockEnd)
	node.Body, _ = p.subparse([]string{"endfilter"})
	p.endBlock()
	return node
}

func (p *parser) parseWith() Stmt {
	t := p.next()
	node := &With{base: base{t.line}}
	for p.cur().kind != tokBlockEnd {
		if len(node.Targets) > 0 {
			p.expectOp(",")
		}
		node.Targets = append(node.Targets, p.parseAssignTarget(false))
		p.expectOp("=")
		node.Values = append(node.Values, p.parseExpression(true))
	}
	p.expectKind(tokBlockEnd)
	node.Body, _ = p.subparse([]string{"endwith"})
	p.endBlock()
	return node
}

func (p *parser) skipContext() {
	if (p.isName("with") || p.isName("without")) && p.peek().kind == tokName && p.peek().value == "context" {
		p.next()
		p.next()
	}
}

func (p *parser) parseImport() Stmt {
	t := p.next()
	node := &Import{base: base{t.line}, Template: p.parseExpression(true)}
	if !p.skipName("as") {
		p.failf(p.cur().line, "expected 'as', got %s", p.cur())
	}
	node.Target = p.expectNameTok().value
	p.skipContext()
	p.expectKind(tokBlockEnd)
	return node
}

func (p *parser) parseFrom() Stmt {
	t := p.next()
	node := &FromImport{base: base{t.line}, Template: p.parseExpression(true)}
	if !p.skipName("import") {
		p.failf(p.cur().line, "expected 'import', got %s", p.cur())
	}
	for {
		if p.isName("with") || p.isName("without") {
			p.skipContext()
			break
		}
		if len(node.Names) > 0 && !p.skipOp(",") {
			break
		}
		if p.cur().kind != tokName {
			break
		}
		n := ImportName{Name: p.next().value}
		if p.skipName("as") {
			n.Alias = p.expectNameTok().value
		}
		node.Names = append(node.Names, n)
	}
	if len(node.Names) == 0 {
		p.failf(t.line, "expected name to import")
	}
	p.expectKind(tokBlockEnd)
	return node
}

func (p *parser) parseInclude() Stmt {
	t := p.next()
	node := &Include{base: base{t.line}, Template: p.parseExpression(true)}
	if p.isName("ignore") && p.peek().kind == tokName && p.peek().value == "missing" {
		p.next()
		p.next()
	}
	p.skipContext()
	p.expectKind(tokBlockEnd)
	return node
}

func (p *parser) parseBlock() Stmt {
	t := p.next()
	node := &Block{base: base{t.line}, Name: p.expectNameTok().value}
	p.skipName("scoped")
	p.skipName("required")
	p.expectKind(tokBlockEnd)
	node.Body, _ = p.subparse([]string{"endblock"})
	p.next()
	if p.cur().kind == tokName {
		p.next()
	}
	p.expectKind(tokBlockEnd)
	return node
}

// parseAssignTarget parses a binding: a name, name.attr (namespace
// assignment) or, when tuples are allowed, a comma list of names.
func (p *parser) parseAssignTarget(allowTuple bool) Expr {
	line := p.cur().line
	parseOne := func() Expr {
		if p.skipOp("(") {
			x := p.parseAssignTarget(true)
			p.expectOp(")")
			return x
		}
		nt := p.expectNameTok()
		if p.isOp(".") {
			p.next()
			attr := p.expectNameTok()
			return &Getattr{base: base{nt.line}, X: &Name{base: base{nt.line}, Name: nt.value, Ctx: Load}, Attr: attr.value}
		}
		return &Name{base: base{nt.line}, Name: nt.value, Ctx: Store}
	}
	first := parseOne()
	if !allowTuple || !p.isOp(",") {
		return first
	}
	items := []Expr{first}
	for p.skipOp(",") {
		if p.cur().kind != tokName && !p.isOp("(") {
			break
		}
		items = append(items, parseOne())
	}
	return &Tuple{base: base{line}, Items: items}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseTuple parses a comma-separated expression list; a single element
// without a trailing comma is returned unwrapped.
func (p *parser) parseTuple(withCond bool) Expr {
	line := p.cur().line
	var items []Expr
	trailing := false
	for {
		if len(items) > 0 {
			if !p.skipOp(",") {
				break
			}
			trailing = true
			if p.tupleEnds() {
				break
			}
		}
		items = append(items, p.parseExpression(withCond))
		trailing = false
	}
	if len(items) == 1 && !trailing {
		return items[0]
	}
	if len(items) == 0 {
		p.failf(line, "expected an expression, got %s", p.cur())
	}
	return &Tuple{base: base{line}, Items: items}
}

func (p *parser) parseTupleNoCond() Expr { return p.parseTuple(false) }

func (p *parser) tupleEnds() bool {
	t := p.cur()
	switch t.kind {
	case tokVarEnd, tokBlockEnd, tokEOF:
		return true
	case tokOp:
		return t.value == ")" || t.value == "]" || t.value == "}"
	case tokName:
		return t.value == "in" || t.value == "if" || t.value == "recursive"
	}
	return false
}

func (p *parser) parseExpression(withCond bool) Expr {
	if !withCond {
		return p.parseOr()
	}
	x := p.parseOr()
	for p.isName("if") {
		t := p.next()
		test := p.parseOr()
		var els Expr
		if p.skipName("else") {
			els = p.parseExpression(true)
		}
		x = &CondExpr{base: base{t.line}, Test: test, Then: x, Else: els}
	}
	return x
}

func (p *parser) parseOr() Expr {
	x := p.parseAnd()
	for p.isName("or") {
		t := p.next()
		x = &BinOp{base: base{t.line}, Op: "or", L: x, R: p.parseAnd()}
	}
	return x
}

func (p *parser) parseAnd() Expr {
	x := p.parseNot()
	for p.isName("and") {
		t := p.next()
		x = &BinOp{base: base{t.line}, Op: "and", L: x, R: p.parseNot()}
	}
	return x
}

func (p *parser) parseNot() Expr {
	if p.isName("not") {
		t := p.next()
		return &UnaryOp{base: base{t.line}, Op: "not", X: p.parseNot()}
	}
	return p.parseCompare()
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseCompare() Expr {
	line := p.cur().line
	x := p.parseMath1()
	var ops []Operand
	for {
		t := p.cur()
		switch {
		case t.kind == tokOp && compareOps[t.value]:
			p.next()
			ops = append(ops, Operand{Op: t.value, X: p.parseMath1()})
		case p.isName("in"):
			p.next()
			ops = append(ops, Operand{Op: "in", X: p.parseMath1()})
		case p.isName("not") && p.peek().kind == tokName && p.peek().value == "in":
			p.next()
			p.next()
			ops = append(ops, Operand{Op: "notin", X: p.parseMath1()})
		default:
			if len(ops) == 0 {
				return x
			}
			return &Compare{base: base{line}, X: x, Ops: ops}
		}
	}
}

func (p *parser) parseMath1() Expr {
	x := p.parseConcat()
	for p.isOp("+") || p.isOp("-") {
		t := p.next()
		x = &BinOp{base: base{t.line}, Op: t.value, L: x, R: p.parseConcat()}
	}
	return x
}

func (p *parser) parseConcat() Expr {
	x := p.parseMath2()
	for p.isOp("~") {
		t := p.next()
		x = &BinOp{base: base{t.line}, Op: "~", L: x, R: p.parseMath2()}
	}
	return x
}

func (p *parser) parseMath2() Expr {
	x := p.parsePow()
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		t := p.next()
		x = &BinOp{base: base{t.line}, Op: t.value, L: x, R: p.parsePow()}
	}
	return x
}

func (p *parser) parsePow() Expr {
	x := p.parseUnary(true)
	for p.isOp("**") {
		t := p.next()
		x = &BinOp{base: base{t.line}, Op: "**", L: x, R: p.parseUnary(true)}
	}
	return x
}

func (p *parser) parseUnary(withFilter bool) Expr {
	t := p.cur()
	var x Expr
	switch {
	case p.isOp("-") || p.isOp("+"):
		p.next()
		x = &UnaryOp{base: base{t.line}, Op: t.value, X: p.parseUnary(false)}
	default:
		x = p.parsePostfix(p.parsePrimary())
	}
	if withFilter {
		x = p.parseFilterExpr(x)
	}
	return x
}

func (p *parser) parsePrimary() Expr {
	t := p.cur()
	switch t.kind {
	case tokName:
		p.next()
		switch t.value {
		case "true", "True", "false", "False":
			return &Const{base: base{t.line}, Kind: ConstBool, Value: t.value}
		case "none", "None":
			return &Const{base: base{t.line}, Kind: ConstNone, Value: t.value}
		}
		return &Name{base: base{t.line}, Name: t.value, Ctx: Load}
	case tokString:
		p.next()
		val := t.value
		for p.cur().kind == tokString {
			val += p.next().value
		}
		return &Const{base: base{t.line}, Kind: ConstString, Value: val}
	case tokInt:
		p.next()
		return &Const{base: base{t.line}, Kind: ConstInt, Value: t.value}
	case tokFloat:
		p.next()
		return &Const{base: base{t.line}, Kind: ConstFloat, Value: t.value}
	case tokOp:
		switch t.value {
		case "(":
			p.next()
			if p.skipOp(")") {
				return &Tuple{base: base{t.line}}
			}
			x := p.parseTuple(true)
			p.expectOp(")")
			return x
		case "[":
			p.next()
			node := &List{base: base{t.line}}
			for !p.isOp("]") {
				if len(node.Items) > 0 {
					p.expectOp(",")
					if p.isOp("]") {
						break
					}
				}
				node.Items = append(node.Items, p.parseExpression(true))
			}
			p.expectOp("]")
			return node
		case "{":
			p.next()
			node := &Dict{base: base{t.line}}
			for !p.isOp("}") {
				if len(node.Items) > 0 {
					p.expectOp(",")
					if p.isOp("}") {
						break
					}
				}
				k := p.parseExpression(true)
				p.expectOp(":")
				node.Items = append(node.Items, Pair{Key: k, Value: p.parseExpression(true)})
			}
			p.expectOp("}")
			return node
		}
	}
	p.failf(t.line, "unexpected %s", t)
	return nil
}

func (p *parser) parsePostfix(x Expr) Expr {
	for {
		t := p.cur()
		switch {
		case p.isOp("."):
			p.next()
			at := p.cur()
			switch at.kind {
			case tokName:
				p.next()
				x = &Getattr{base: base{t.line}, X: x, Attr: at.value}
			case tokInt:
				p.next()
				x = &Getitem{base: base{t.line}, X: x, Index: &Const{base: base{at.line}, Kind: ConstInt, Value: at.value}}
			default:
				p.failf(at.line, "expected name or number after '.'")
			}
		case p.isOp("["):
			p.next()
			x = &Getitem{base: base{t.line}, X: x, Index: p.parseSubscript()}
			p.expectOp("]")
		case p.isOp("("):
			x = p.parseCall(x)
		default:
			return x
		}
	}
}

func (p *parser) parseSubscript() Expr {
	line := p.cur().line
	var parts [3]Expr
	idx := 0
	isSlice := false
	if !p.isOp(":") {
		parts[0] = p.parseExpression(true)
	}
	for p.isOp(":") && idx < 2 {
		p.next()
		isSlice = true
		idx++
		if !p.isOp(":") && !p.isOp("]") {
			parts[idx] = p.parseExpression(true)
		}
	}
	if !isSlice {
		return parts[0]
	}
	return &Slice{base: base{line}, Start: parts[0], Stop: parts[1], Step: parts[2]}
}

func (p *parser) parseArgs() Args {
	var a Args
	p.expectOp("(")
	first := true
	for !p.isOp(")") {
		if !first {
			p.expectOp(",")
			if p.isOp(")") {
				break
			}
		}
		first = false
		switch {
		case p.isOp("*"):
			p.next()
			a.DynArgs = p.parseExpression(true)
		case p.isOp("**"):
			p.next()
			a.DynKwargs = p.parseExpression(true)
		case p.cur().kind == tokName && p.peek().kind == tokOp && p.peek().value == "=":
			key := p.next().value
			p.next()
			a.Keywords = append(a.Keywords, Keyword{Key: key, Value: p.parseExpression(true)})
		default:
			if len(a.Keywords) > 0 || a.DynArgs != nil || a.DynKwargs != nil {
				p.failf(p.cur().line, "positional argument follows keyword argument")
			}
			a.Positional = append(a.Positional, p.parseExpression(true))
		}
	}
	p.expectOp(")")
	return a
}

func (p *parser) parseCall(fn Expr) Expr {
	line := p.cur().line
	return &Call{base: base{line}, Fn: fn, Args: p.parseArgs()}
}

func (p *parser) parseFilterExpr(x Expr) Expr {
	for {
		switch {
		case p.isOp("|"):
			p.next()
			x = p.parseFilterTail(x)
		case p.isName("is"):
			x = p.parseTest(x)
		case p.isOp("("):
			x = p.parseCall(x)
		default:
			return x
		}
	}
}

// parseDottedName reads name(.name)* used for filter and test names.
func (p *parser) parseDottedName() token {
	t := p.expectNameTok()
	for p.isOp(".") && p.peek().kind == tokName {
		p.next()
		t.value += "." + p.next().value
	}
	return t
}

// parseFilterTail parses a filter after the '|' has been consumed.
func (p *parser) parseFilterTail(x Expr) *Filter {
	t := p.parseDottedName()
	f := &Filter{base: base{t.line}, X: x, Name: t.value}
	if p.isOp("(") {
		f.Args = p.parseArgs()
	}
	return f
}

func (p *parser) parseTest(x Expr) Expr {
	t := p.next() // is
	negate := p.skipName("not")
	nt := p.parseDottedName()
	node := &Test{base: base{t.line}, X: x, Name: nt.value, Negate: negate}
	cur := p.cur()
	switch {
	case p.isOp("("):
		node.Args = p.parseArgs()
	case cur.kind == tokString || cur.kind == tokInt || cur.kind == tokFloat ||
		(cur.kind == tokOp && (cur.value == "[" || cur.value == "{")) ||
		(cur.kind == tokName && !isTestStopWord(cur.value)):
		arg := p.parsePostfix(p.parsePrimary())
		node.Positional = []Expr{arg}
	}
	return node
}

func isTestStopWord(s string) bool {
	switch s {
	case "else", "or", "and", "if", "in", "not", "is", "recursive":
		return true
	}
	return false
}
