package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxExpressionLength bounds the source text accepted by Parse.
	MaxExpressionLength = 4096

	// MaxDepth bounds nesting of parentheses, calls and unary minus.
	MaxDepth = 64
)

// Program is a parsed, immutable expression. A Program is safe for
// concurrent use and should be parsed once per distinct expression.
type Program struct {
	source string
	root   Node
	vars   []string
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Root returns the expression tree.
func (p *Program) Root() Node { return p.root }

// String returns the canonical form of the expression.
func (p *Program) String() string { return p.root.String() }

// Variables returns the sorted, de-duplicated fact names the expression
// references.
func (p *Program) Variables() []string {
	out := make([]string, len(p.vars))
	copy(out, p.vars)
	return out
}

// MissingVariables returns the referenced variables not present in known.
func (p *Program) MissingVariables(known []string) []string {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var missing []string
	for _, v := range p.vars {
		if _, ok := set[v]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}

// Parse compiles expr into a Program.
func Parse(expr string) (*Program, error) {
	if len(expr) > MaxExpressionLength {
		return nil, &ParseError{
			Kind: KindTooLong,
			Pos:  MaxExpressionLength + 1,
			Msg:  fmt.Sprintf("expression is %d bytes, maximum is %d", len(expr), MaxExpressionLength),
		}
	}
	if strings.TrimSpace(expr) == "" {
		return nil, &ParseError{Kind: KindEmpty, Pos: 1, Msg: "expression is empty"}
	}

	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		if t.kind == tokRParen {
			return nil, &ParseError{Kind: KindUnbalancedParens, Pos: t.pos, Token: t.text, Msg: "unmatched closing parenthesis"}
		}
		return nil, unexpected(t, "operator or end of expression")
	}

	return &Program{source: expr, root: root, vars: collectVars(root)}, nil
}

// MustParse is like Parse but panics on error. Intended for presets and tests.
func MustParse(expr string) *Program {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func collectVars(root Node) []string {
	seen := map[string]struct{}{}
	walk(root, func(n Node) {
		if v, ok := n.(*Var); ok {
			seen[v.Name] = struct{}{}
		}
	})
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

type parser struct {
	toks  []token
	i     int
	depth int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) enter(t token) error {
	p.depth++
	if p.depth > MaxDepth {
		return &ParseError{Kind: KindTooDeep, Pos: t.pos, Token: t.text, Msg: fmt.Sprintf("nesting deeper than %d levels", MaxDepth)}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpOr, L: left, R: right, At: op.pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		op := p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpAnd, L: left, R: right, At: op.pos}
	}
	return left, nil
}

var comparisonOps = map[tokenKind]Operator{
	tokEq:  OpEq,
	tokNeq: OpNeq,
	tokGt:  OpGt,
	tokLt:  OpLt,
	tokGte: OpGte,
	tokLte: OpLte,
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := comparisonOps[p.peek().kind]
	if !ok {
		return left, nil
	}
	t := p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if next := p.peek(); comparisonOps[next.kind] != "" {
		return nil, &ParseError{Kind: KindUnexpectedToken, Pos: next.pos, Token: next.text, Msg: "comparisons cannot be chained; combine them with AND"}
	}
	return &Binary{Op: op, L: left, R: right, At: t.pos}, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op Operator
		switch p.peek().kind {
		case tokPlus:
			op = OpAdd
		case tokMinus:
			op = OpSub
		default:
			return left, nil
		}
		t := p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right, At: t.pos}
	}
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op Operator
		switch p.peek().kind {
		case tokStar:
			op = OpMul
		case tokSlash:
			op = OpDiv
		case tokPercent:
			op = OpMod
		default:
			return left, nil
		}
		t := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right, At: t.pos}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind != tokMinus {
		return p.parsePrimary()
	}
	t := p.next()
	if err := p.enter(t); err != nil {
		return nil, err
	}
	defer p.leave()

	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &Unary{Op: OpNeg, X: x, At: t.pos}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, &ParseError{Kind: KindInvalidNumber, Pos: t.pos, Token: t.text, Msg: "invalid number"}
		}
		return &Number{Value: v, At: t.pos}, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		if _, isFunc := builtins[strings.ToUpper(t.text)]; isFunc {
			return nil, &ParseError{Kind: KindInvalidFunction, Pos: t.pos, Token: t.text, Msg: "function name used without arguments"}
		}
		return &Var{Name: t.text, At: t.pos}, nil

	case tokLParen:
		if err := p.enter(t); err != nil {
			return nil, err
		}
		defer p.leave()

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, unbalanced(t, closing)
		}
		return inner, nil

	case tokEOF:
		return nil, &ParseError{Kind: KindUnexpectedToken, Pos: t.pos, Msg: "unexpected end of expression, operand expected"}

	case tokRParen:
		return nil, &ParseError{Kind: KindUnbalancedParens, Pos: t.pos, Token: t.text, Msg: "operand expected before closing parenthesis"}

	default:
		return nil, unexpected(t, "number, variable, function call or '('")
	}
}

func (p *parser) parseCall(name token) (Node, error) {
	open := p.next() // '('
	if err := p.enter(open); err != nil {
		return nil, err
	}
	defer p.leave()

	fn := strings.ToUpper(name.text)
	spec, ok := builtins[fn]
	if !ok {
		return nil, &ParseError{Kind: KindInvalidFunction, Pos: name.pos, Token: name.text, Msg: "unknown function " + name.text}
	}

	var args []Node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, unbalanced(open, closing)
	}

	if len(args) != spec.arity {
		return nil, &ParseError{
			Kind:  KindInvalidFunction,
			Pos:   name.pos,
			Token: name.text,
			Msg:   fmt.Sprintf("%s expects %d argument(s), got %d", fn, spec.arity, len(args)),
		}
	}
	return &Call{Func: fn, Args: args, At: name.pos}, nil
}

func unexpected(t token, want string) *ParseError {
	return &ParseError{Kind: KindUnexpectedToken, Pos: t.pos, Token: t.text, Msg: fmt.Sprintf("unexpected %s, expected %s", t.display(), want)}
}

func unbalanced(open, got token) *ParseError {
	if got.kind == tokEOF {
		return &ParseError{Kind: KindUnbalancedParens, Pos: open.pos, Token: open.text, Msg: "missing closing parenthesis"}
	}
	return unexpected(got, "')'")
}
