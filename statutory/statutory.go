/*
Package statutory ships the Indian statutory rules every company starts with.

PURPOSE:
  Payroll administrators should not have to type the PF or ESI formulas.
  This package provides them as system default rules, plus state-wise
  Professional Tax tables a company opts into.

AVAILABLE RULES:
  Defaults (system scope, priority 100, IsSystem):
    pf_employee, eps_employer, epf_employer, esi_employee, esi_employer,
    statutory_bonus, lop
  ProfessionalTax (company scope): KA, MH, WB, TS

CUSTOMIZATION:
  A company overrides a default by adding its own rule for the same
  component. The default stays in place for everyone else.

EXAMPLE:
  defaults, _ := statutory.Defaults()
  pt, _ := statutory.ProfessionalTax("acme", "KA", rules.MustParseDate("2024-04-01"))
  snap, _ := rules.NewSnapshot(append(defaults, *pt))

SEE ALSO:
  - defaults.yaml: The default rule set
  - factory/yaml.go: Parser used for the defaults
*/
package statutory

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/rules"
)

// DefaultPriority is the priority of every system default.
const DefaultPriority = 100

// PTComponent is the component code Professional Tax rules compute.
const PTComponent = "pt"

// ErrUnknownState is returned for states without a PT table.
var ErrUnknownState = errors.New("no professional tax table for state")

//go:embed defaults.yaml
var defaultsYAML []byte

var loadDefaults = sync.OnceValues(func() ([]rules.Rule, error) {
	return factory.NewRuleFactory().ParseRuleSetYAML(defaultsYAML)
})

// Defaults returns the system default rules. Callers get their own copy.
func Defaults() ([]rules.Rule, error) {
	rs, err := loadDefaults()
	if err != nil {
		return nil, fmt.Errorf("statutory defaults: %w", err)
	}
	out := make([]rules.Rule, len(rs))
	copy(out, rs)
	return out, nil
}

// Seed saves every default into store. Existing rules with the same IDs are
// replaced, so seeding is idempotent.
func Seed(ctx context.Context, store rules.Store) (int, error) {
	rs, err := Defaults()
	if err != nil {
		return 0, err
	}
	for i := range rs {
		if err := store.Save(ctx, &rs[i]); err != nil {
			return i, fmt.Errorf("seed %s: %w", rs[i].ID, err)
		}
	}
	return len(rs), nil
}

// =============================================================================
// PROFESSIONAL TAX - State-wise monthly tables on monthly_gross
// =============================================================================

type ptTable struct {
	name   string
	config func() rules.Config
}

func slab(upto string, value int64) rules.Slab {
	s := rules.Slab{Value: decimal.NewFromInt(value)}
	if upto != "" {
		s.UpTo = rules.Bounded(decimal.RequireFromString(upto))
	}
	return s
}

var ptTables = map[string]ptTable{
	"KA": {
		name: "Karnataka",
		config: func() rules.Config {
			return rules.SlabConfig{Base: "monthly_gross", Slabs: []rules.Slab{
				slab("25000", 0),
				slab("", 200),
			}}
		},
	},
	// Maharashtra collects 300 in February to reach the 2500 annual cap.
	"MH": {
		name: "Maharashtra",
		config: func() rules.Config {
			return rules.FormulaConfig{Expression: "IF(monthly_gross <= 7500, 0, IF(monthly_gross <= 10000, 175, IF(payroll_month == 2, 300, 200)))"}
		},
	},
	"WB": {
		name: "West Bengal",
		config: func() rules.Config {
			return rules.SlabConfig{Base: "monthly_gross", Slabs: []rules.Slab{
				slab("10000", 0),
				slab("15000", 110),
				slab("25000", 130),
				slab("40000", 150),
				slab("", 200),
			}}
		},
	},
	"TS": {
		name: "Telangana",
		config: func() rules.Config {
			return rules.SlabConfig{Base: "monthly_gross", Slabs: []rules.Slab{
				slab("15000", 0),
				slab("20000", 150),
				slab("", 200),
			}}
		},
	},
}

// States lists the state codes with a PT table.
func States() []string {
	out := make([]string, 0, len(ptTables))
	for code := range ptTables {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// ProfessionalTax returns the company's PT rule for a state, effective from
// the given date.
func ProfessionalTax(companyID rules.CompanyID, state string, from rules.Date) (*rules.Rule, error) {
	code := strings.ToUpper(strings.TrimSpace(state))
	t, ok := ptTables[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	if companyID == rules.SystemScope {
		return nil, fmt.Errorf("professional tax rules are company scoped")
	}

	return rules.New(rules.Rule{
		ID:            rules.RuleID(fmt.Sprintf("pt-%s-%s", strings.ToLower(code), companyID)),
		Name:          "Professional Tax (" + t.name + ")",
		CompanyID:     companyID,
		ComponentCode: PTComponent,
		ComponentType: rules.Deduction,
		Config:        t.config(),
		Priority:      DefaultPriority,
		IsActive:      true,
		IsSystem:      true,
		EffectiveFrom: from,
	})
}
