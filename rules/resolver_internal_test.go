package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tiedSnapshot bypasses NewSnapshot, which refuses tied rule sets.
func tiedSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	from := NewDate(2024, time.April, 1)
	mk := func(id RuleID, pct string) *Rule {
		return MustNew(Rule{
			ID:            id,
			CompanyID:     "acme",
			ComponentCode: "pf_employee",
			ComponentType: Deduction,
			Config:        PercentageConfig{Percentage: decimal.RequireFromString(pct), Base: "pf_wage"},
			Priority:      10,
			IsActive:      true,
			EffectiveFrom: from,
		})
	}
	a, b := mk("pf-a", "12"), mk("pf-b", "10")
	return &Snapshot{
		rules:       []*Rule{a, b},
		byID:        map[RuleID]*Rule{a.ID: a, b.ID: b},
		byComponent: map[string][]*Rule{"pf_employee": {a, b}},
	}
}

func TestResolve_TieIsAmbiguityError(t *testing.T) {
	// GIVEN: Two active company rules tied on priority and EffectiveFrom
	// WHEN: The component is resolved
	// THEN: No rule is picked and both tied IDs are reported

	s := tiedSnapshot(t)
	d := NewDate(2025, time.May, 31)

	got, err := s.Resolve("acme", "pf_employee", d)
	assert.Nil(t, got)
	require.ErrorIs(t, err, ErrResolutionAmbiguity)

	var amb *AmbiguityError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, []RuleID{"pf-a", "pf-b"}, amb.RuleIDs)
	assert.Equal(t, CompanyID("acme"), amb.CompanyID)
	assert.True(t, IsConfigError(err))
}

func TestExplain_TieMarksBothRulesAmbiguous(t *testing.T) {
	s := tiedSnapshot(t)

	ex := s.Explain("acme", "pf_employee", NewDate(2025, time.May, 31))
	assert.Nil(t, ex.Selected)
	assert.ErrorIs(t, ex.Err, ErrResolutionAmbiguity)
	require.Len(t, ex.Entries, 2)
	for _, e := range ex.Entries {
		assert.Equal(t, VerdictAmbiguous, e.Verdict, string(e.Rule.ID))
	}
}
