package formula

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Node is an element of a parsed expression tree.
type Node interface {
	// Pos returns the 1-based column where the node starts.
	Pos() int
	// String renders the node in canonical, fully parenthesized form.
	String() string
	node()
}

// Operator is a unary or binary operator.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
	OpMod Operator = "%"
	OpEq  Operator = "=="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpLt  Operator = "<"
	OpGte Operator = ">="
	OpLte Operator = "<="
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
	OpNeg Operator = "-"
)

// Number is a numeric literal.
type Number struct {
	Value decimal.Decimal
	At    int
}

// Var references a fact by name.
type Var struct {
	Name string
	At   int
}

// Unary applies OpNeg to X.
type Unary struct {
	Op Operator
	X  Node
	At int
}

// Binary applies Op to L and R.
type Binary struct {
	Op   Operator
	L, R Node
	At   int
}

// Call invokes one of the built-in functions. Func is upper-cased.
type Call struct {
	Func string
	Args []Node
	At   int
}

func (n *Number) Pos() int { return n.At }
func (n *Var) Pos() int    { return n.At }
func (n *Unary) Pos() int  { return n.At }
func (n *Binary) Pos() int { return n.At }
func (n *Call) Pos() int   { return n.At }

func (*Number) node() {}
func (*Var) node()    {}
func (*Unary) node()  {}
func (*Binary) node() {}
func (*Call) node()   {}

func (n *Number) String() string { return n.Value.String() }
func (n *Var) String() string    { return n.Name }
func (n *Unary) String() string  { return "(" + string(n.Op) + n.X.String() + ")" }

func (n *Binary) String() string {
	return "(" + n.L.String() + " " + string(n.Op) + " " + n.R.String() + ")"
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Func + "(" + strings.Join(args, ", ") + ")"
}

// walk visits n and its descendants depth-first.
func walk(n Node, fn func(Node)) {
	fn(n)
	switch n := n.(type) {
	case *Unary:
		walk(n.X, fn)
	case *Binary:
		walk(n.L, fn)
		walk(n.R, fn)
	case *Call:
		for _, a := range n.Args {
			walk(a, fn)
		}
	}
}
