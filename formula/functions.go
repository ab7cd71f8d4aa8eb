package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxRoundPlaces is the largest precision ROUND accepts.
const MaxRoundPlaces = 10

type builtin struct {
	arity int
	call  func(c *Call, facts Facts) (decimal.Decimal, error)
}

// builtins is read-only after init.
var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"MIN":     {arity: 2, call: strict(func(_ *Call, a []decimal.Decimal) (decimal.Decimal, error) { return decimal.Min(a[0], a[1]), nil })},
		"MAX":     {arity: 2, call: strict(func(_ *Call, a []decimal.Decimal) (decimal.Decimal, error) { return decimal.Max(a[0], a[1]), nil })},
		"ROUND":   {arity: 2, call: strict(round)},
		"FLOOR":   {arity: 1, call: strict(func(_ *Call, a []decimal.Decimal) (decimal.Decimal, error) { return a[0].Floor(), nil })},
		"CEILING": {arity: 1, call: strict(func(_ *Call, a []decimal.Decimal) (decimal.Decimal, error) { return a[0].Ceil(), nil })},
		"ABS":     {arity: 1, call: strict(func(_ *Call, a []decimal.Decimal) (decimal.Decimal, error) { return a[0].Abs(), nil })},
		"IF":      {arity: 3, call: evalIf},
	}
}

// Functions lists the built-in function names with their arity.
func Functions() map[string]int {
	out := make(map[string]int, len(builtins))
	for name, b := range builtins {
		out[name] = b.arity
	}
	return out
}

// strict evaluates every argument before calling fn.
func strict(fn func(c *Call, args []decimal.Decimal) (decimal.Decimal, error)) func(*Call, Facts) (decimal.Decimal, error) {
	return func(c *Call, facts Facts) (decimal.Decimal, error) {
		args := make([]decimal.Decimal, len(c.Args))
		for i, a := range c.Args {
			v, err := eval(a, facts)
			if err != nil {
				return zero, err
			}
			args[i] = v
		}
		return fn(c, args)
	}
}

// evalIf only evaluates the selected branch, so guards such as
// IF(working_days > 0, gross / working_days, 0) never divide by zero.
func evalIf(c *Call, facts Facts) (decimal.Decimal, error) {
	cond, err := eval(c.Args[0], facts)
	if err != nil {
		return zero, err
	}
	if truthy(cond) {
		return eval(c.Args[1], facts)
	}
	return eval(c.Args[2], facts)
}

// round rounds half away from zero, which is "round half up" for the
// non-negative amounts payroll deals with.
func round(c *Call, a []decimal.Decimal) (decimal.Decimal, error) {
	places := a[1]
	if !places.IsInteger() || places.IsNegative() || places.GreaterThan(decimal.NewFromInt(MaxRoundPlaces)) {
		return zero, &EvalError{
			Kind: KindInvalidArgument,
			Name: "ROUND",
			Pos:  c.At,
			Msg:  fmt.Sprintf("places must be a whole number between 0 and %d, got %s", MaxRoundPlaces, places),
		}
	}
	return a[0].Round(int32(places.IntPart())), nil
}
