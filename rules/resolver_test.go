package rules_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// HELPERS
// =============================================================================

var (
	fy2024 = rules.NewDate(2024, time.April, 1)
	fy2025 = rules.NewDate(2025, time.April, 1)
	may25  = rules.NewDate(2025, time.May, 31)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func datePtr(d rules.Date) *rules.Date { return &d }

func pfRule(id string, company rules.CompanyID, priority int, pct string) rules.Rule {
	return rules.Rule{
		ID:            rules.RuleID(id),
		Name:          "PF " + pct + "%",
		CompanyID:     company,
		ComponentCode: "pf_employee",
		ComponentType: rules.Deduction,
		Config:        rules.PercentageConfig{Percentage: dec(pct), Base: "pf_wage"},
		Priority:      priority,
		IsActive:      true,
		EffectiveFrom: fy2024,
	}
}

// =============================================================================
// PRIORITY AND SPECIFICITY
// =============================================================================

func TestResolve_LowerPriorityWins_RegardlessOfOrder(t *testing.T) {
	// GIVEN: Two system rules for the same component, priorities 10 and 20
	// WHEN: The snapshot is built from every permutation of the input
	// THEN: Priority 10 is always selected

	a := pfRule("pf-10", rules.SystemScope, 10, "12")
	b := pfRule("pf-20", rules.SystemScope, 20, "10")

	for _, input := range [][]rules.Rule{{a, b}, {b, a}} {
		snap := rules.MustSnapshot(input)
		got, err := snap.Resolve("acme", "pf_employee", may25)
		require.NoError(t, err)
		assert.Equal(t, rules.RuleID("pf-10"), got.ID)
	}
}

func TestResolve_CompanyScopeBeatsSystemPriority(t *testing.T) {
	// GIVEN: System rule at priority 10, company override at priority 20
	// WHEN: Resolving for that company
	// THEN: The company rule wins; other companies still get the default

	snap := rules.MustSnapshot([]rules.Rule{
		pfRule("sys-pf", rules.SystemScope, 10, "12"),
		pfRule("acme-pf", "acme", 20, "10"),
	})

	got, err := snap.Resolve("acme", "pf_employee", may25)
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("acme-pf"), got.ID)

	got, err = snap.Resolve("globex", "pf_employee", may25)
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("sys-pf"), got.ID)
}

func TestResolve_OtherCompanyRulesAreNeverCandidates(t *testing.T) {
	snap := rules.MustSnapshot([]rules.Rule{pfRule("globex-pf", "globex", 1, "12")})

	_, err := snap.Resolve("acme", "pf_employee", may25)
	assert.ErrorIs(t, err, rules.ErrNoApplicableRule)
	assert.True(t, rules.IsNotApplicable(err))
}

func TestResolve_FallsBackToSystemWhenCompanyRuleExpired(t *testing.T) {
	override := pfRule("acme-pf", "acme", 1, "10")
	override.EffectiveTo = datePtr(rules.NewDate(2025, time.March, 31))

	snap := rules.MustSnapshot([]rules.Rule{
		pfRule("sys-pf", rules.SystemScope, 100, "12"),
		override,
	})

	got, err := snap.Resolve("acme", "pf_employee", rules.NewDate(2025, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("acme-pf"), got.ID, "last day of the window is inclusive")

	got, err = snap.Resolve("acme", "pf_employee", fy2025)
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("sys-pf"), got.ID)
}

// =============================================================================
// VALIDITY WINDOW
// =============================================================================

func TestResolve_ValidityWindow(t *testing.T) {
	// GIVEN: A rule that ended before the evaluation date and one that starts after
	// WHEN: Resolving in between
	// THEN: Neither is selected

	ended := pfRule("ended", rules.SystemScope, 10, "12")
	ended.EffectiveTo = datePtr(rules.NewDate(2025, time.March, 31))

	future := pfRule("future", rules.SystemScope, 10, "12")
	future.EffectiveFrom = rules.NewDate(2026, time.April, 1)

	snap := rules.MustSnapshot([]rules.Rule{ended, future})
	_, err := snap.Resolve("acme", "pf_employee", may25)
	assert.ErrorIs(t, err, rules.ErrNoApplicableRule)

	got, err := snap.Resolve("acme", "pf_employee", rules.NewDate(2026, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("future"), got.ID)
}

func TestResolve_InactiveRulesAreIgnored(t *testing.T) {
	off := pfRule("off", rules.SystemScope, 1, "12")
	off.IsActive = false

	snap := rules.MustSnapshot([]rules.Rule{off, pfRule("on", rules.SystemScope, 50, "12")})
	got, err := snap.Resolve("acme", "pf_employee", may25)
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("on"), got.ID)
}

func TestResolve_ScheduledRateChange_LaterEffectiveFromWins(t *testing.T) {
	// GIVEN: Same scope and priority, the second starts a year later
	// WHEN: Resolving before and after the change
	// THEN: The most recently configured rule wins once it is in effect

	old := pfRule("pf-2024", "acme", 10, "12")
	next := pfRule("pf-2025", "acme", 10, "10")
	next.EffectiveFrom = fy2025

	snap := rules.MustSnapshot([]rules.Rule{next, old})

	got, err := snap.Resolve("acme", "pf_employee", rules.NewDate(2025, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("pf-2024"), got.ID)

	got, err = snap.Resolve("acme", "pf_employee", fy2025)
	require.NoError(t, err)
	assert.Equal(t, rules.RuleID("pf-2025"), got.ID)
}

// =============================================================================
// AMBIGUITY
// =============================================================================

func TestNewSnapshot_RejectsAmbiguousPriority(t *testing.T) {
	// GIVEN: Two active company rules with identical priority and start date
	// THEN: The snapshot refuses them instead of picking one arbitrarily

	_, err := rules.NewSnapshot([]rules.Rule{
		pfRule("a", "acme", 10, "12"),
		pfRule("b", "acme", 10, "10"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, rules.ErrAmbiguousPriority)
	assert.True(t, rules.IsConfigError(err))

	var conflict *rules.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rules.RuleID("a"), conflict.First)
	assert.Equal(t, rules.RuleID("b"), conflict.Second)
}

func TestNewSnapshot_AllowsSamePriorityWhenWindowsDisjoint(t *testing.T) {
	a := pfRule("a", "acme", 10, "12")
	a.EffectiveTo = datePtr(rules.NewDate(2024, time.December, 31))
	b := pfRule("b", "acme", 10, "10")
	b.EffectiveFrom = rules.NewDate(2025, time.January, 1)

	_, err := rules.NewSnapshot([]rules.Rule{a, b})
	assert.NoError(t, err)
}

func TestNewSnapshot_AllowsSamePriorityWhenOneInactive(t *testing.T) {
	b := pfRule("b", "acme", 10, "10")
	b.IsActive = false

	_, err := rules.NewSnapshot([]rules.Rule{pfRule("a", "acme", 10, "12"), b})
	assert.NoError(t, err)
}

func TestNewSnapshot_RejectsDuplicateIDs(t *testing.T) {
	_, err := rules.NewSnapshot([]rules.Rule{
		pfRule("pf", "acme", 10, "12"),
		pfRule("pf", "acme", 20, "12"),
	})
	assert.ErrorIs(t, err, rules.ErrDuplicateRuleID)
}

func TestNewSnapshot_ReportsEveryInvalidRule(t *testing.T) {
	bad1 := pfRule("bad-1", "acme", 10, "120")
	bad2 := pfRule("bad-2", "acme", 20, "12")
	bad2.Config = rules.FormulaConfig{Expression: "basic +"}

	_, err := rules.NewSnapshot([]rules.Rule{bad1, bad2})
	require.Error(t, err)
	assert.ErrorIs(t, err, rules.ErrRuleValidation)
	assert.Contains(t, err.Error(), "bad-1")
	assert.Contains(t, err.Error(), "bad-2")
}

// =============================================================================
// DETERMINISM AND IDEMPOTENCE
// =============================================================================

func TestResolve_IdempotentAcrossShuffles(t *testing.T) {
	base := []rules.Rule{
		pfRule("sys-10", rules.SystemScope, 10, "12"),
		pfRule("sys-20", rules.SystemScope, 20, "12"),
		pfRule("acme-30", "acme", 30, "10"),
		pfRule("acme-40", "acme", 40, "10"),
		pfRule("globex-1", "globex", 1, "10"),
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]rules.Rule(nil), base...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		snap := rules.MustSnapshot(shuffled)
		for j := 0; j < 3; j++ {
			got, err := snap.Resolve("acme", "pf_employee", may25)
			require.NoError(t, err)
			assert.Equal(t, rules.RuleID("acme-30"), got.ID)
		}
	}
}

// =============================================================================
// EXPLAIN AND COMPONENTS
// =============================================================================

func TestExplain_ReportsWhyEachRuleLost(t *testing.T) {
	inactive := pfRule("acme-off", "acme", 1, "10")
	inactive.IsActive = false
	expired := pfRule("acme-old", "acme", 2, "10")
	expired.EffectiveTo = datePtr(rules.NewDate(2024, time.December, 31))

	snap := rules.MustSnapshot([]rules.Rule{
		pfRule("sys-pf", rules.SystemScope, 10, "12"),
		pfRule("acme-20", "acme", 20, "11"),
		pfRule("acme-30", "acme", 30, "10"),
		pfRule("globex-pf", "globex", 1, "10"),
		inactive,
		expired,
	})

	ex := snap.Explain("acme", "pf_employee", may25)
	require.NoError(t, ex.Err)
	require.NotNil(t, ex.Selected)
	assert.Equal(t, rules.RuleID("acme-20"), ex.Selected.ID)

	verdicts := map[rules.RuleID]rules.Verdict{}
	for _, e := range ex.Entries {
		verdicts[e.Rule.ID] = e.Verdict
		assert.NotEmpty(t, e.Reason)
	}
	assert.Equal(t, rules.VerdictSelected, ex.Entries[0].Verdict)
	assert.Equal(t, map[rules.RuleID]rules.Verdict{
		"acme-20":   rules.VerdictSelected,
		"acme-30":   rules.VerdictShadowedPriority,
		"sys-pf":    rules.VerdictShadowedByScope,
		"globex-pf": rules.VerdictOtherCompany,
		"acme-off":  rules.VerdictInactive,
		"acme-old":  rules.VerdictOutOfWindow,
	}, verdicts)
}

func TestExplain_NoApplicableRule(t *testing.T) {
	snap := rules.MustSnapshot(nil)
	ex := snap.Explain("acme", "esi_employee", may25)
	assert.Nil(t, ex.Selected)
	assert.True(t, errors.Is(ex.Err, rules.ErrNoApplicableRule))
	assert.Empty(t, ex.Entries)
}

func TestSnapshot_Components(t *testing.T) {
	basic := rules.Rule{
		ID: "basic", CompanyID: "acme", ComponentCode: "basic", ComponentType: rules.Earning,
		Config: rules.FixedConfig{Amount: dec("30000")}, IsActive: true, EffectiveFrom: fy2024,
	}
	snap := rules.MustSnapshot([]rules.Rule{
		pfRule("sys-pf", rules.SystemScope, 10, "12"),
		basic,
		{
			ID: "globex-bonus", CompanyID: "globex", ComponentCode: "bonus", ComponentType: rules.Earning,
			Config: rules.FixedConfig{Amount: dec("1000")}, IsActive: true, EffectiveFrom: fy2024,
		},
	})

	assert.Equal(t, []string{"basic", "pf_employee"}, snap.Components("acme"))
	assert.Equal(t, []string{"bonus", "pf_employee"}, snap.Components("globex"))
	assert.Equal(t, 3, snap.Len())
	assert.True(t, snap.HasComponent("bonus"))
	assert.False(t, snap.HasComponent("gratuity"))

	got, err := snap.Get("basic")
	require.NoError(t, err)
	assert.Equal(t, "basic", got.ComponentCode)

	_, err = snap.Get("missing")
	assert.True(t, rules.IsNotFound(err))
}
