package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/formula"
)

// =============================================================================
// CONSTRUCTION - The only way a rule enters the candidate pool
// =============================================================================

var (
	hundred = decimal.NewFromInt(100)

	// Same identifier shape the formula lexer accepts.
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// New validates r and returns a copy safe to place in a Snapshot.
// Every violated invariant is reported, not just the first one.
func New(r Rule) (*Rule, error) {
	var errs []*FieldError
	add := func(field, msg string) {
		errs = append(errs, &FieldError{Field: field, Msg: msg})
	}

	if strings.TrimSpace(string(r.ID)) == "" {
		add("id", "is required")
	}
	if strings.TrimSpace(r.ComponentCode) == "" {
		add("component_code", "is required")
	}
	if !r.ComponentType.Valid() {
		add("component_type", fmt.Sprintf("unknown component type %q", r.ComponentType))
	}
	if r.EffectiveFrom.IsZero() {
		add("effective_from", "is required")
	}
	if r.EffectiveTo != nil && r.EffectiveTo.Before(r.EffectiveFrom) {
		add("effective_to", fmt.Sprintf("%s is before effective_from %s", r.EffectiveTo, r.EffectiveFrom))
	}

	switch c := r.Config.(type) {
	case nil:
		add("formula_config", "is required")
	case PercentageConfig, FixedConfig, SlabConfig, FormulaConfig:
		errs = append(errs, c.validate()...)
	default:
		// Pointer variants satisfy Config too but the evaluator only knows values.
		add("formula_config", fmt.Sprintf("unsupported config %T", c))
	}

	if len(errs) > 0 {
		return nil, &ValidationError{RuleID: r.ID, Fields: errs}
	}

	out := r.Clone()
	out.ComponentCode = strings.TrimSpace(r.ComponentCode)
	return out, nil
}

// Clone returns a deep copy that shares nothing mutable with r.
func (r *Rule) Clone() *Rule {
	out := *r
	if r.EffectiveTo != nil {
		to := *r.EffectiveTo
		out.EffectiveTo = &to
	}
	if sc, ok := r.Config.(SlabConfig); ok {
		out.Config = sc.clone()
	}
	return &out
}

// MustNew is New for presets and tests.
func MustNew(r Rule) *Rule {
	rule, err := New(r)
	if err != nil {
		panic(err)
	}
	return rule
}

// =============================================================================
// CONFIG VALIDATION
// =============================================================================

func validateBase(base string) *FieldError {
	if base == "" {
		return &FieldError{Field: "base", Msg: "is required"}
	}
	if !identRe.MatchString(base) {
		return &FieldError{Field: "base", Msg: fmt.Sprintf("%q is not a valid variable name", base)}
	}
	return nil
}

func (c PercentageConfig) validate() []*FieldError {
	var errs []*FieldError
	if c.Percentage.IsNegative() || c.Percentage.GreaterThan(hundred) {
		errs = append(errs, &FieldError{Field: "percentage", Msg: fmt.Sprintf("%s is outside [0, 100]", c.Percentage)})
	}
	if fe := validateBase(c.Base); fe != nil {
		errs = append(errs, fe)
	}
	return errs
}

func (c FixedConfig) validate() []*FieldError {
	if c.Amount.IsNegative() {
		return []*FieldError{{Field: "amount", Msg: "must not be negative"}}
	}
	return nil
}

// Slabs must ascend strictly, and only the last one may be unbounded.
func (c SlabConfig) validate() []*FieldError {
	var errs []*FieldError
	if fe := validateBase(c.Base); fe != nil {
		errs = append(errs, fe)
	}
	if len(c.Slabs) == 0 {
		return append(errs, &FieldError{Field: "slabs", Msg: "at least one slab is required"})
	}

	for i, s := range c.Slabs {
		field := fmt.Sprintf("slabs[%d]", i)
		if s.UpTo == nil && i != len(c.Slabs)-1 {
			errs = append(errs, &FieldError{Field: field, Msg: "only the last slab may be unbounded"})
		}
		if s.UpTo != nil && s.UpTo.IsNegative() {
			errs = append(errs, &FieldError{Field: field, Msg: "upto_amount must not be negative"})
		}
		if i > 0 {
			prev := c.Slabs[i-1].UpTo
			if prev != nil && s.UpTo != nil && !s.UpTo.GreaterThan(*prev) {
				errs = append(errs, &FieldError{Field: field, Msg: fmt.Sprintf("upto_amount %s must be greater than %s", s.UpTo, prev)})
			}
		}
		if s.Value.IsNegative() {
			errs = append(errs, &FieldError{Field: field, Msg: "value must not be negative"})
		}
		if s.IsPercentage && s.Value.GreaterThan(hundred) {
			errs = append(errs, &FieldError{Field: field, Msg: fmt.Sprintf("percentage %s is above 100", s.Value)})
		}
	}
	return errs
}

func (c FormulaConfig) validate() []*FieldError {
	if strings.TrimSpace(c.Expression) == "" {
		return []*FieldError{{Field: "expression", Msg: "is required"}}
	}
	if _, err := formula.Parse(c.Expression); err != nil {
		return []*FieldError{{Field: "expression", Msg: "does not parse", Err: err}}
	}
	return nil
}

func (c SlabConfig) clone() SlabConfig {
	slabs := make([]Slab, len(c.Slabs))
	for i, s := range c.Slabs {
		slabs[i] = s
		if s.UpTo != nil {
			v := *s.UpTo
			slabs[i].UpTo = &v
		}
	}
	return SlabConfig{Base: c.Base, Slabs: slabs}
}
