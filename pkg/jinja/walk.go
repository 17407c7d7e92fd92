package jinja

// Visitor is called for each node encountered by Walk. If the returned
// visitor w is not nil, Walk visits each child of node with w, followed by a
// call of w.Visit(nil).
type Visitor interface {
	Visit(node Node) (w Visitor)
}

// Walk traverses a syntax tree in depth-first order.
func Walk(v Visitor, node Node) {
	if node == nil {
		return
	}
	if v = v.Visit(node); v == nil {
		return
	}

	switch n := node.(type) {
	case *Template:
		walkStmts(v, n.Body)
	case *Text, *Break, *Continue:
		// leaves
	case *Output:
		walkExpr(v, n.X)
	case *If:
		walkExpr(v, n.Test)
		walkStmts(v, n.Body)
		walkStmts(v, n.Else)
	case *For:
		walkExpr(v, n.Target)
		walkExpr(v, n.Iter)
		walkExpr(v, n.Filter)
		walkStmts(v, n.Body)
		walkStmts(v, n.Else)
	case *Set:
		walkExpr(v, n.Target)
		walkExpr(v, n.Value)
	case *SetBlock:
		walkExpr(v, n.Target)
		for _, f := range n.Filters {
			Walk(v, f)
		}
		walkStmts(v, n.Body)
	case *Macro:
		for _, p := range n.Params {
			Walk(v, p)
		}
		walkExprs(v, n.Defaults)
		walkStmts(v, n.Body)
	case *CallBlock:
		for _, p := range n.Params {
			Walk(v, p)
		}
		Walk(v, n.Call)
		walkStmts(v, n.Body)
	case *FilterBlock:
		for _, f := range n.Filters {
			Walk(v, f)
		}
		walkStmts(v, n.Body)
	case *With:
		walkExprs(v, n.Targets)
		walkExprs(v, n.Values)
		walkStmts(v, n.Body)
	case *Do:
		walkExpr(v, n.X)
	case *Import:
		walkExpr(v, n.Template)
	case *FromImport:
		walkExpr(v, n.Template)
	case *Include:
		walkExpr(v, n.Template)
	case *Extends:
		walkExpr(v, n.Template)
	case *Block:
		walkStmts(v, n.Body)

	case *Name, *Const:
		// leaves
	case *List:
		walkExprs(v, n.Items)
	case *Tuple:
		walkExprs(v, n.Items)
	case *Dict:
		for _, p := range n.Items {
			walkExpr(v, p.Key)
			walkExpr(v, p.Value)
		}
	case *Getattr:
		walkExpr(v, n.X)
	case *Getitem:
		walkExpr(v, n.X)
		walkExpr(v, n.Index)
	case *Slice:
		walkExpr(v, n.Start)
		walkExpr(v, n.Stop)
		walkExpr(v, n.Step)
	case *Call:
		walkExpr(v, n.Fn)
		walkArgs(v, n.Args)
	case *Filter:
		walkExpr(v, n.X)
		walkArgs(v, n.Args)
	case *Test:
		walkExpr(v, n.X)
		walkArgs(v, n.Args)
	case *BinOp:
		walkExpr(v, n.L)
		walkExpr(v, n.R)
	case *UnaryOp:
		walkExpr(v, n.X)
	case *Compare:
		walkExpr(v, n.X)
		for _, op := range n.Ops {
			walkExpr(v, op.X)
		}
	case *CondExpr:
		walkExpr(v, n.Test)
		walkExpr(v, n.Then)
		walkExpr(v, n.Else)
	}

	v.Visit(nil)
}

func walkStmts(v Visitor, list []Stmt) {
	for _, s := range list {
		Walk(v, s)
	}
}

// walkExpr skips nil interface values, which optional fields leave behind.
func walkExpr(v Visitor, e Expr) {
	if e != nil {
		Walk(v, e)
	}
}

func walkExprs(v Visitor, list []Expr) {
	for _, e := range list {
		walkExpr(v, e)
	}
}

func walkArgs(v Visitor, a Args) {
	walkExprs(v, a.Positional)
	for _, kw := range a.Keywords {
		walkExpr(v, kw.Value)
	}
	walkExpr(v, a.DynArgs)
	walkExpr(v, a.DynKwargs)
}

type inspector func(Node) bool

func (f inspector) Visit(node Node) Visitor {
	if f(node) {
		return f
	}
	return nil
}

// Inspect traverses a tree calling f for each node; if f returns true the
// node's children are visited too. Inspect calls f(nil) after the children.
func Inspect(node Node, f func(Node) bool) {
	Walk(inspector(f), node)
}
