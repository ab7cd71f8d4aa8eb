package formula

import (
	"github.com/shopspring/decimal"
)

// Facts maps variable names to values. Evaluation never mutates Facts.
type Facts map[string]decimal.Decimal

// Names returns the fact names in no particular order.
func (f Facts) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	return names
}

var (
	one  = decimal.NewFromInt(1)
	zero = decimal.Zero
)

func truth(b bool) decimal.Decimal {
	if b {
		return one
	}
	return zero
}

func truthy(d decimal.Decimal) bool { return !d.IsZero() }

// Evaluate runs the program against facts.
func (p *Program) Evaluate(facts Facts) (decimal.Decimal, error) {
	return eval(p.root, facts)
}

// Evaluate parses and evaluates expr in one step. Prefer Parse plus
// Program.Evaluate when the same expression is evaluated repeatedly.
func Evaluate(expr string, facts Facts) (decimal.Decimal, error) {
	p, err := Parse(expr)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Evaluate(facts)
}

func eval(n Node, facts Facts) (decimal.Decimal, error) {
	switch n := n.(type) {
	case *Number:
		return n.Value, nil

	case *Var:
		v, ok := facts[n.Name]
		if !ok {
			return zero, UnknownVariable(n.Name, n.At)
		}
		return v, nil

	case *Unary:
		x, err := eval(n.X, facts)
		if err != nil {
			return zero, err
		}
		return x.Neg(), nil

	case *Binary:
		return evalBinary(n, facts)

	case *Call:
		return builtins[n.Func].call(n, facts)
	}
	return zero, &EvalError{Kind: KindInvalidArgument, Pos: n.Pos(), Msg: "unsupported node"}
}

func evalBinary(n *Binary, facts Facts) (decimal.Decimal, error) {
	l, err := eval(n.L, facts)
	if err != nil {
		return zero, err
	}

	// AND/OR short-circuit; there are no side effects to preserve.
	switch n.Op {
	case OpAnd:
		if !truthy(l) {
			return zero, nil
		}
		r, err := eval(n.R, facts)
		if err != nil {
			return zero, err
		}
		return truth(truthy(r)), nil
	case OpOr:
		if truthy(l) {
			return one, nil
		}
		r, err := eval(n.R, facts)
		if err != nil {
			return zero, err
		}
		return truth(truthy(r)), nil
	}

	r, err := eval(n.R, facts)
	if err != nil {
		return zero, err
	}

	switch n.Op {
	case OpAdd:
		return l.Add(r), nil
	case OpSub:
		return l.Sub(r), nil
	case OpMul:
		return l.Mul(r), nil
	case OpDiv:
		if r.IsZero() {
			return zero, &EvalError{Kind: KindDivisionByZero, Name: "/", Pos: n.At}
		}
		return l.Div(r), nil
	case OpMod:
		if r.IsZero() {
			return zero, &EvalError{Kind: KindDivisionByZero, Name: "%", Pos: n.At}
		}
		return l.Mod(r), nil
	case OpEq:
		return truth(l.Equal(r)), nil
	case OpNeq:
		return truth(!l.Equal(r)), nil
	case OpGt:
		return truth(l.GreaterThan(r)), nil
	case OpLt:
		return truth(l.LessThan(r)), nil
	case OpGte:
		return truth(l.GreaterThanOrEqual(r)), nil
	case OpLte:
		return truth(l.LessThanOrEqual(r)), nil
	}
	return zero, &EvalError{Kind: KindInvalidArgument, Name: string(n.Op), Pos: n.At, Msg: "unsupported operator"}
}
