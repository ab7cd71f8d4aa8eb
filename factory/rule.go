/*
Package factory converts serialized calculation rules into rules.Rule.

PURPOSE:
  Rules are authored in the admin portal and stored as JSON, with the
  rule-type specific payload in "formula_config". This package is the one
  boundary where that loosely typed payload becomes the tagged union in
  rules.Config, so a config that doesn't match its declared rule_type is
  rejected here instead of surfacing mid-payroll.

JSON SCHEMA:
  {
    "id": "pf-employee-default",        // optional, a UUID is generated
    "name": "PF Ceiling 12%",
    "company_id": "",                   // empty or absent = system default
    "component_code": "pf_employee",
    "component_type": "deduction",      // earning | deduction | employer_contribution
    "rule_type": "formula",             // percentage | fixed | slab | formula
    "formula_config": {"expression": "MIN(pf_wage, 15000) * 12 / 100"},
    "priority": 100,
    "is_active": true,                  // default true
    "is_system": true,
    "effective_from": "2024-04-01",
    "effective_to": null                // null = open-ended
  }

FORMULA_CONFIG BY RULE TYPE:
  percentage: {"percentage": 12, "base": "pf_wage"}
  fixed:      {"amount": 1600}
  slab:       {"base": "gross_earnings", "slabs": [
                 {"upto_amount": 25000, "value": 0, "is_percentage": false},
                 {"upto_amount": "Infinity", "value": 200}]}
  formula:    {"expression": "..."}

  Numbers may be JSON numbers or numeric strings. upto_amount also accepts
  null or "Infinity" for the unbounded last slab.

SEE ALSO:
  - rules/types.go: Config variants
  - yaml.go:        YAML rule sets (statutory presets)
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/rules"
)

// DefaultSlabBase is the fact a slab table reads when "base" is omitted.
const DefaultSlabBase = "gross_earnings"

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the wire representation of a calculation rule.
type RuleJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	CompanyID     string          `json:"company_id"`
	ComponentCode string          `json:"component_code"`
	ComponentType string          `json:"component_type"`
	RuleType      string          `json:"rule_type"`
	FormulaConfig json.RawMessage `json:"formula_config"`
	Priority      int             `json:"priority"`
	IsActive      *bool           `json:"is_active,omitempty"`
	IsSystem      bool            `json:"is_system"`
	EffectiveFrom string          `json:"effective_from"`
	EffectiveTo   *string         `json:"effective_to"`
}

// PercentageJSON is formula_config for percentage rules.
type PercentageJSON struct {
	Percentage *decimal.Decimal `json:"percentage"`
	Base       string           `json:"base"`
}

// FixedJSON is formula_config for fixed rules.
type FixedJSON struct {
	Amount *decimal.Decimal `json:"amount"`
}

// SlabJSON is formula_config for slab rules.
type SlabJSON struct {
	Base  string          `json:"base,omitempty"`
	Slabs []SlabEntryJSON `json:"slabs"`
}

// SlabEntryJSON is one bracket.
type SlabEntryJSON struct {
	UptoAmount UptoAmount      `json:"upto_amount"`
	Value      decimal.Decimal `json:"value"`
	// IsPercentage applies Value as a percentage of the input.
	IsPercentage bool `json:"is_percentage"`
}

// FormulaJSON is formula_config for formula rules.
type FormulaJSON struct {
	Expression string `json:"expression"`
}

// UptoAmount is a slab limit; nil means unbounded.
type UptoAmount struct {
	Value *decimal.Decimal
}

func (u UptoAmount) MarshalJSON() ([]byte, error) {
	if u.Value == nil {
		return []byte("null"), nil
	}
	return []byte(u.Value.String()), nil
}

func (u *UptoAmount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		u.Value = nil
		return nil
	}
	s = strings.Trim(s, `"`)
	if strings.EqualFold(s, rules.Infinity) || strings.EqualFold(s, "inf") {
		u.Value = nil
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("upto_amount: %q is not a number or %q", s, rules.Infinity)
	}
	u.Value = &v
	return nil
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts wire rules to validated rules.Rule values.
type RuleFactory struct {
	newID func() string
}

// NewRuleFactory creates a factory that assigns UUIDs to rules without an ID.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{newID: uuid.NewString}
}

// ParseRule parses and validates one JSON rule.
func (f *RuleFactory) ParseRule(data []byte) (*rules.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// ParseRuleSet parses a JSON array of rules. Every invalid rule is
// reported, each error prefixed with its index.
func (f *RuleFactory) ParseRuleSet(data []byte) ([]rules.Rule, error) {
	var rjs []RuleJSON
	if err := json.Unmarshal(data, &rjs); err != nil {
		return nil, fmt.Errorf("failed to parse rule set JSON: %w", err)
	}

	out := make([]rules.Rule, 0, len(rjs))
	var errs []error
	for i, rj := range rjs {
		r, err := f.FromJSON(rj)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		out = append(out, *r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// FromJSON decodes formula_config according to rule_type and validates the
// result through rules.New. Decoding problems are reported as a
// *rules.ValidationError, the same as invariant violations.
func (f *RuleFactory) FromJSON(rj RuleJSON) (*rules.Rule, error) {
	var fields []*rules.FieldError
	add := func(field, msg string, err error) {
		fields = append(fields, &rules.FieldError{Field: field, Msg: msg, Err: err})
	}

	id := strings.TrimSpace(rj.ID)
	if id == "" {
		id = f.newID()
	}

	r := rules.Rule{
		ID:            rules.RuleID(id),
		Name:          rj.Name,
		Description:   rj.Description,
		CompanyID:     rules.CompanyID(strings.TrimSpace(rj.CompanyID)),
		ComponentCode: rj.ComponentCode,
		ComponentType: rules.ComponentType(rj.ComponentType),
		Priority:      rj.Priority,
		IsActive:      rj.IsActive == nil || *rj.IsActive,
		IsSystem:      rj.IsSystem,
	}

	from, err := rules.ParseDate(rj.EffectiveFrom)
	if err != nil {
		add("effective_from", "must be YYYY-MM-DD", err)
	}
	r.EffectiveFrom = from

	if rj.EffectiveTo != nil && *rj.EffectiveTo != "" {
		to, err := rules.ParseDate(*rj.EffectiveTo)
		if err != nil {
			add("effective_to", "must be YYYY-MM-DD", err)
		} else {
			r.EffectiveTo = &to
		}
	}

	cfg, cfgErrs := decodeConfig(rules.RuleType(rj.RuleType), rj.FormulaConfig)
	fields = append(fields, cfgErrs...)
	r.Config = cfg

	if len(fields) > 0 {
		return nil, &rules.ValidationError{RuleID: r.ID, Fields: fields}
	}
	return rules.New(r)
}

func decodeConfig(rt rules.RuleType, raw json.RawMessage) (rules.Config, []*rules.FieldError) {
	fail := func(msg string, err error) (rules.Config, []*rules.FieldError) {
		return nil, []*rules.FieldError{{Field: "formula_config", Msg: msg, Err: err}}
	}

	if !rt.Valid() {
		return nil, []*rules.FieldError{{Field: "rule_type", Msg: fmt.Sprintf("unknown rule type %q", rt)}}
	}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return fail("is required", nil)
	}

	// Unknown fields mean the payload belongs to a different rule type.
	strict := func(v any) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		return dec.Decode(v)
	}
	mismatch := fmt.Sprintf("does not match rule_type %s", rt)

	switch rt {
	case rules.TypePercentage:
		var pj PercentageJSON
		if err := strict(&pj); err != nil {
			return fail(mismatch, err)
		}
		if pj.Percentage == nil {
			return nil, []*rules.FieldError{{Field: "percentage", Msg: "is required"}}
		}
		return rules.PercentageConfig{Percentage: *pj.Percentage, Base: pj.Base}, nil

	case rules.TypeFixed:
		var fj FixedJSON
		if err := strict(&fj); err != nil {
			return fail(mismatch, err)
		}
		if fj.Amount == nil {
			return nil, []*rules.FieldError{{Field: "amount", Msg: "is required"}}
		}
		return rules.FixedConfig{Amount: *fj.Amount}, nil

	case rules.TypeSlab:
		var sj SlabJSON
		if err := strict(&sj); err != nil {
			return fail(mismatch, err)
		}
		base := sj.Base
		if base == "" {
			base = DefaultSlabBase
		}
		slabs := make([]rules.Slab, len(sj.Slabs))
		for i, s := range sj.Slabs {
			slabs[i] = rules.Slab{UpTo: s.UptoAmount.Value, Value: s.Value, IsPercentage: s.IsPercentage}
		}
		return rules.SlabConfig{Base: base, Slabs: slabs}, nil

	case rules.TypeFormula:
		var fj FormulaJSON
		if err := strict(&fj); err != nil {
			return fail(mismatch, err)
		}
		return rules.FormulaConfig{Expression: fj.Expression}, nil
	}
	return fail(mismatch, nil)
}

// =============================================================================
// ENCODING
// =============================================================================

// ToRuleJSON converts a rule to its wire form.
func (f *RuleFactory) ToRuleJSON(r *rules.Rule) (RuleJSON, error) {
	active := r.IsActive
	rj := RuleJSON{
		ID:            string(r.ID),
		Name:          r.Name,
		Description:   r.Description,
		CompanyID:     string(r.CompanyID),
		ComponentCode: r.ComponentCode,
		ComponentType: string(r.ComponentType),
		RuleType:      string(r.Type()),
		Priority:      r.Priority,
		IsActive:      &active,
		IsSystem:      r.IsSystem,
		EffectiveFrom: r.EffectiveFrom.String(),
	}
	if r.EffectiveTo != nil {
		to := r.EffectiveTo.String()
		rj.EffectiveTo = &to
	}

	var payload any
	switch c := r.Config.(type) {
	case rules.PercentageConfig:
		pct := c.Percentage
		payload = PercentageJSON{Percentage: &pct, Base: c.Base}
	case rules.FixedConfig:
		amt := c.Amount
		payload = FixedJSON{Amount: &amt}
	case rules.SlabConfig:
		sj := SlabJSON{Base: c.Base, Slabs: make([]SlabEntryJSON, len(c.Slabs))}
		for i, s := range c.Slabs {
			sj.Slabs[i] = SlabEntryJSON{UptoAmount: UptoAmount{Value: s.UpTo}, Value: s.Value, IsPercentage: s.IsPercentage}
		}
		payload = sj
	case rules.FormulaConfig:
		payload = FormulaJSON{Expression: c.Expression}
	default:
		return RuleJSON{}, fmt.Errorf("rule %s has no config", r.ID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return RuleJSON{}, fmt.Errorf("encode formula_config: %w", err)
	}
	rj.FormulaConfig = raw
	return rj, nil
}

// ToJSON encodes a rule as JSON.
func (f *RuleFactory) ToJSON(r *rules.Rule) ([]byte, error) {
	rj, err := f.ToRuleJSON(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rj)
}
