/*
Package rules holds the calculation-rule model and the resolution logic
that picks the single rule a payroll component is computed with.

PURPOSE:
  A company's payroll is a set of components (basic, hra, pf_employee, pt,
  esi_employer, ...). Each component is computed by exactly one rule for a
  given company and date. Several rules can compete for that slot:

  - System defaults (CompanyID == SystemScope) shipped with the product
  - Company overrides of those defaults
  - Future-dated rate changes scheduled ahead of time

KEY CONCEPTS:
  - Rule:     A validated rule (see New). Its Config is a tagged union.
  - Config:   PercentageConfig | FixedConfig | SlabConfig | FormulaConfig
  - Snapshot: An immutable, validated rule set; the only thing the resolver
              and the engine read from.
  - Resolve:  scope -> priority -> latest EffectiveFrom -> ambiguity error

PRIORITY ORDERING:
  Lower priority number wins, but only within a scope. Any rule scoped to
  the company beats every system rule for that company.

EXAMPLE:
  snap, err := rules.NewSnapshot(all)
  rule, err := snap.Resolve("acme", "pf_employee", rules.NewDate(2025, time.April, 30))
  if errors.Is(err, rules.ErrNoApplicableRule) {
      // component not applicable this period
  }

SEE ALSO:
  - validate.go: Construction-time invariants
  - resolver.go: Resolution algorithm
  - slab.go:     Bracket lookup for slab rules
*/
package rules

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RuleID string
type CompanyID string

// SystemScope is the CompanyID of rules that apply to every company.
const SystemScope CompanyID = ""

// =============================================================================
// ENUMERATIONS
// =============================================================================

// ComponentType says how a component's amount flows into pay.
type ComponentType string

const (
	Earning              ComponentType = "earning"
	Deduction            ComponentType = "deduction"
	EmployerContribution ComponentType = "employer_contribution"
)

func (t ComponentType) Valid() bool {
	switch t {
	case Earning, Deduction, EmployerContribution:
		return true
	}
	return false
}

// RuleType discriminates the Config union.
type RuleType string

const (
	TypePercentage RuleType = "percentage"
	TypeFixed      RuleType = "fixed"
	TypeSlab       RuleType = "slab"
	TypeFormula    RuleType = "formula"
)

func (t RuleType) Valid() bool {
	switch t {
	case TypePercentage, TypeFixed, TypeSlab, TypeFormula:
		return true
	}
	return false
}

// =============================================================================
// CONFIG - Tagged union, one shape per rule type
// =============================================================================

// Config is the rule-type specific payload of a Rule. The set of
// implementations is closed: PercentageConfig, FixedConfig, SlabConfig and
// FormulaConfig.
type Config interface {
	RuleType() RuleType
	validate() []*FieldError
}

// PercentageConfig computes Percentage% of the Base fact.
type PercentageConfig struct {
	Percentage decimal.Decimal
	Base       string
}

// FixedConfig yields a literal amount.
type FixedConfig struct {
	Amount decimal.Decimal
}

// SlabConfig looks up the Base fact in an ascending bracket table.
type SlabConfig struct {
	Base  string
	Slabs []Slab
}

// Slab is one bracket. UpTo == nil means the bracket is unbounded and must
// be the last one.
type Slab struct {
	UpTo         *decimal.Decimal
	Value        decimal.Decimal
	IsPercentage bool
}

// FormulaConfig evaluates an expression written in the formula language.
type FormulaConfig struct {
	Expression string
}

func (PercentageConfig) RuleType() RuleType { return TypePercentage }
func (FixedConfig) RuleType() RuleType      { return TypeFixed }
func (SlabConfig) RuleType() RuleType       { return TypeSlab }
func (FormulaConfig) RuleType() RuleType    { return TypeFormula }

// =============================================================================
// RULE
// =============================================================================

// Rule computes one component for one scope during a validity window.
// Obtain rules through New or NewSnapshot so the invariants hold.
type Rule struct {
	ID            RuleID
	Name          string
	Description   string
	CompanyID     CompanyID
	ComponentCode string
	ComponentType ComponentType
	Config        Config

	// Lower wins within a scope.
	Priority int

	IsActive bool
	// IsSystem marks rules company admins cannot edit.
	IsSystem bool

	EffectiveFrom Date
	EffectiveTo   *Date // nil = open-ended
}

// Type returns the rule type implied by the config.
func (r *Rule) Type() RuleType {
	if r.Config == nil {
		return ""
	}
	return r.Config.RuleType()
}

// IsSystemScope reports whether the rule applies to every company.
func (r *Rule) IsSystemScope() bool { return r.CompanyID == SystemScope }

// Window returns the rule's validity window.
func (r *Rule) Window() Window { return Window{From: r.EffectiveFrom, To: r.EffectiveTo} }

// ActiveOn reports whether the rule is a candidate on d.
func (r *Rule) ActiveOn(d Date) bool {
	return r.IsActive && r.Window().Contains(d)
}

// DisplayName returns the name, falling back to the ID.
func (r *Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return string(r.ID)
}

func (r *Rule) scopeLabel() string {
	if r.IsSystemScope() {
		return "system"
	}
	return "company " + string(r.CompanyID)
}
