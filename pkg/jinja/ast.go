// Package jinja parses the template dialect embedded in automation string
// fields into a typed syntax tree. It only parses: nothing is rendered or
// evaluated.
//
// The node set mirrors the engine's own taxonomy (Output, If, For, Filter,
// Test, Getattr, ...) so that analyses written against it line up with what
// the host would execute.
package jinja

// Node is any element of a template syntax tree.
type Node interface {
	Pos() int // 1-based line
	node()
}

// Stmt is a node that appears in a template body.
type Stmt interface {
	Node
	stmt()
}

// Expr is an expression node.
type Expr interface {
	Node
	expr()
}

type base struct{ Line int }

func (b base) Pos() int { return b.Line }
func (base) node()      {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Template is the root of a parsed template.
type Template struct {
	base
	Body []Stmt
}

// Text is literal template data between tags.
type Text struct {
	base
	Data string
}

// Output is a {{ expression }} block.
type Output struct {
	base
	X Expr
}

// If is if/elif/else. Elif chains are nested Ifs in Else.
type If struct {
	base
	Test Expr
	Body []Stmt
	Else []Stmt
}

// For is a loop. Target is a Name or Tuple of Names.
type For struct {
	base
	Target    Expr
	Iter      Expr
	Filter    Expr // optional inline "if"
	Body      []Stmt
	Else      []Stmt
	Recursive bool
}

// Set is {% set target = value %}. Target is a Name, Tuple or Getattr
// (namespace attribute assignment).
type Set struct {
	base
	Target Expr
	Value  Expr
}

// SetBlock is {% set name %}...{% endset %}.
type SetBlock struct {
	base
	Target  Expr
	Filters []*Filter
	Body    []Stmt
}

// Macro defines a callable template fragment.
type Macro struct {
	base
	Name     string
	Params   []*Name
	Defaults []Expr
	Body     []Stmt
}

// CallBlock is {% call macro() %}...{% endcall %}.
type CallBlock struct {
	base
	Call   *Call
	Params []*Name
	Body   []Stmt
}

// FilterBlock applies filters to a body.
type FilterBlock struct {
	base
	Filters []*Filter
	Body    []Stmt
}

// With introduces scoped assignments.
type With struct {
	base
	Targets []Expr
	Values  []Expr
	Body    []Stmt
}

// Do evaluates an expression for its side effects.
type Do struct {
	base
	X Expr
}

// Import is {% import expr as name %}.
type Import struct {
	base
	Template Expr
	Target   string
}

// FromImport is {% from expr import a as b, c %}.
type FromImport struct {
	base
	Template Expr
	Names    []ImportName
}

// ImportName is one imported symbol.
type ImportName struct {
	Name  string
	Alias string
}

// Include is {% include expr %}.
type Include struct {
	base
	Template Expr
}

// Extends is {% extends expr %}.
type Extends struct {
	base
	Template Expr
}

// Block is {% block name %}...{% endblock %}.
type Block struct {
	base
	Name string
	Body []Stmt
}

// Break is {% break %}.
type Break struct{ base }

// Continue is {% continue %}.
type Continue struct{ base }

func (*Template) stmt()    {}
func (*Text) stmt()        {}
func (*Output) stmt()      {}
func (*If) stmt()          {}
func (*For) stmt()         {}
func (*Set) stmt()         {}
func (*SetBlock) stmt()    {}
func (*Macro) stmt()       {}
func (*CallBlock) stmt()   {}
func (*FilterBlock) stmt() {}
func (*With) stmt()        {}
func (*Do) stmt()          {}
func (*Import) stmt()      {}
func (*FromImport) stmt()  {}
func (*Include) stmt()     {}
func (*Extends) stmt()     {}
func (*Block) stmt()       {}
func (*Break) stmt()       {}
func (*Continue) stmt()    {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// NameCtx says whether a Name is read or bound.
type NameCtx int

const (
	Load NameCtx = iota
	Store
	Param
)

// Name is a variable reference or binding.
type Name struct {
	base
	Name string
	Ctx  NameCtx
}

// ConstKind is the type of a literal.
type ConstKind int

const (
	ConstString ConstKind = iota
	ConstInt
	ConstFloat
	ConstBool
	ConstNone
)

// Const is a literal. Value holds the decoded string form.
type Const struct {
	base
	Kind  ConstKind
	Value string
}

// List is [a, b].
type List struct {
	base
	Items []Expr
}

// Tuple is (a, b) or a bare a, b.
type Tuple struct {
	base
	Items []Expr
}

// Pair is one key/value of a Dict.
type Pair struct {
	Key   Expr
	Value Expr
}

// Dict is {k: v}.
type Dict struct {
	base
	Items []Pair
}

// Getattr is x.name.
type Getattr struct {
	base
	X    Expr
	Attr string
}

// Getitem is x[index].
type Getitem struct {
	base
	X     Expr
	Index Expr
}

// Slice is start:stop:step inside a subscript. Any part may be nil.
type Slice struct {
	base
	Start, Stop, Step Expr
}

// Keyword is name=value in an argument list.
type Keyword struct {
	Key   string
	Value Expr
}

// Args is a call, filter or test argument list.
type Args struct {
	Positional []Expr
	Keywords   []Keyword
	DynArgs    Expr // *args
	DynKwargs  Expr // **kwargs
}

// HasDynamic reports whether keyword or splatted arguments are present.
func (a Args) HasDynamic() bool {
	return len(a.Keywords) > 0 || a.DynArgs != nil || a.DynKwargs != nil
}

// Call is fn(args).
type Call struct {
	base
	Fn Expr
	Args
}

// Filter is x | name(args). X is nil inside filter blocks.
type Filter struct {
	base
	X    Expr
	Name string
	Args
}

// Test is x is [not] name(args).
type Test struct {
	base
	X      Expr
	Name   string
	Negate bool
	Args
}

// BinOp covers arithmetic, concatenation (~) and the boolean and/or.
type BinOp struct {
	base
	Op   string
	L, R Expr
}

// UnaryOp is not/-/+.
type UnaryOp struct {
	base
	Op string
	X  Expr
}

// Operand is one comparison step.
type Operand struct {
	Op string // ==, !=, <, <=, >, >=, in, notin
	X  Expr
}

// Compare is a chained comparison.
type Compare struct {
	base
	X   Expr
	Ops []Operand
}

// CondExpr is a if cond else b.
type CondExpr struct {
	base
	Test Expr
	Then Expr
	Else Expr // may be nil
}

func (*Name) expr()     {}
func (*Const) expr()    {}
func (*List) expr()     {}
func (*Tuple) expr()    {}
func (*Dict) expr()     {}
func (*Getattr) expr()  {}
func (*Getitem) expr()  {}
func (*Slice) expr()    {}
func (*Call) expr()     {}
func (*Filter) expr()   {}
func (*Test) expr()     {}
func (*BinOp) expr()    {}
func (*UnaryOp) expr()  {}
func (*Compare) expr()  {}
func (*CondExpr) expr() {}

// StringLiteral returns the value of e if it is a string constant.
func StringLiteral(e Expr) (string, bool) {
	c, ok := e.(*Const)
	if !ok || c.Kind != ConstString {
		return "", false
	}
	return c.Value, true
}
