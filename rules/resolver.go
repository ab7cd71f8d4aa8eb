/*
resolver.go - Picks the single rule that computes a component

PURPOSE:
  For (company, component, date) exactly one rule may fire. This file is
  the only place that decision is made.

ALGORITHM:
  1. Candidates: active, same component, date inside [EffectiveFrom, EffectiveTo]
  2. Scope:      the company's own candidates if it has any, else system ones.
                 A company rule at priority 20 beats a system rule at 10.
  3. Priority:   lowest number wins within the chosen scope
  4. Tie-break:  later EffectiveFrom wins (the most recent configuration)
  5. Still tied: AmbiguityError. Never resolved by arbitrary order.

  No candidate at step 1/2 returns ErrNoApplicableRule, which callers treat
  as "component not applicable this period".

SEE ALSO:
  - snapshot.go: Canonical ordering the scan relies on
*/
package rules

import (
	"errors"
	"fmt"
)

// Resolve returns the winning rule for a component on a date.
func (s *Snapshot) Resolve(companyID CompanyID, componentCode string, d Date) (*Rule, error) {
	winner, _, err := s.resolve(companyID, componentCode, d)
	return winner, err
}

// resolve also returns the scoped candidates, in canonical order, so
// Explain can report why each loser lost.
func (s *Snapshot) resolve(companyID CompanyID, componentCode string, d Date) (*Rule, []*Rule, error) {
	var company, system []*Rule
	for _, r := range s.byComponent[componentCode] {
		if !r.ActiveOn(d) {
			continue
		}
		switch {
		case r.CompanyID == companyID:
			company = append(company, r)
		case r.IsSystemScope():
			system = append(system, r)
		}
	}

	scoped := company
	if len(scoped) == 0 {
		scoped = system
	}
	if len(scoped) == 0 {
		return nil, nil, fmt.Errorf("%w: %s for company %q on %s", ErrNoApplicableRule, componentCode, companyID, d)
	}

	// Canonical order puts lowest priority then newest EffectiveFrom first.
	best := scoped[0]
	tied := []RuleID{best.ID}
	for _, r := range scoped[1:] {
		if r.Priority != best.Priority || !r.EffectiveFrom.Equal(best.EffectiveFrom) {
			break
		}
		tied = append(tied, r.ID)
	}
	// NewSnapshot rejects such ties, so this only fires for a snapshot
	// assembled without it.
	if len(tied) > 1 {
		return nil, scoped, &AmbiguityError{
			CompanyID:     companyID,
			ComponentCode: componentCode,
			Date:          d,
			RuleIDs:       tied,
		}
	}
	return best, scoped, nil
}

// =============================================================================
// EXPLAIN - Audit view of a resolution
// =============================================================================

// Verdict says what happened to a rule during resolution.
type Verdict string

const (
	VerdictSelected          Verdict = "selected"
	VerdictInactive          Verdict = "inactive"
	VerdictOutOfWindow       Verdict = "out_of_window"
	VerdictOtherCompany      Verdict = "other_company"
	VerdictShadowedByScope   Verdict = "shadowed_by_scope"
	VerdictShadowedPriority  Verdict = "shadowed_by_priority"
	VerdictShadowedEffective Verdict = "shadowed_by_effective_date"
	VerdictAmbiguous         Verdict = "ambiguous"
)

// ExplainEntry is one rule's fate.
type ExplainEntry struct {
	Rule    *Rule
	Verdict Verdict
	Reason  string
}

// Explanation lists every rule for the component with its verdict, winner
// first when there is one.
type Explanation struct {
	CompanyID     CompanyID
	ComponentCode string
	Date          Date
	Selected      *Rule
	Entries       []ExplainEntry
	Err           error
}

// Explain runs Resolve and annotates every rule of the component.
func (s *Snapshot) Explain(companyID CompanyID, componentCode string, d Date) Explanation {
	winner, scoped, err := s.resolve(companyID, componentCode, d)
	ex := Explanation{
		CompanyID:     companyID,
		ComponentCode: componentCode,
		Date:          d,
		Selected:      winner,
		Err:           err,
	}

	inScope := make(map[RuleID]bool, len(scoped))
	for _, r := range scoped {
		inScope[r.ID] = true
	}
	var ambiguous map[RuleID]bool
	var amb *AmbiguityError
	if errors.As(err, &amb) {
		ambiguous = make(map[RuleID]bool, len(amb.RuleIDs))
		for _, id := range amb.RuleIDs {
			ambiguous[id] = true
		}
	}

	var selected []ExplainEntry
	var rest []ExplainEntry
	for _, r := range s.byComponent[componentCode] {
		e := ExplainEntry{Rule: r}
		switch {
		case winner != nil && r.ID == winner.ID:
			e.Verdict = VerdictSelected
			e.Reason = fmt.Sprintf("lowest priority %d in %s scope", r.Priority, r.scopeLabel())
		case !visibleTo(r, companyID):
			e.Verdict = VerdictOtherCompany
			e.Reason = "scoped to " + r.scopeLabel()
		case !r.IsActive:
			e.Verdict = VerdictInactive
			e.Reason = "rule is disabled"
		case !r.Window().Contains(d):
			e.Verdict = VerdictOutOfWindow
			e.Reason = fmt.Sprintf("%s is outside %s", d, r.Window())
		case ambiguous[r.ID]:
			e.Verdict = VerdictAmbiguous
			e.Reason = fmt.Sprintf("ties with other rules at priority %d from %s", r.Priority, r.EffectiveFrom)
		case !inScope[r.ID]:
			e.Verdict = VerdictShadowedByScope
			e.Reason = "company rules take precedence over system defaults"
		case winner != nil && r.Priority > winner.Priority:
			e.Verdict = VerdictShadowedPriority
			e.Reason = fmt.Sprintf("priority %d loses to %d", r.Priority, winner.Priority)
		case winner != nil:
			e.Verdict = VerdictShadowedEffective
			e.Reason = fmt.Sprintf("effective %s is older than %s", r.EffectiveFrom, winner.EffectiveFrom)
		default:
			e.Verdict = VerdictShadowedPriority
			e.Reason = "loses to an ambiguous tie"
		}

		if e.Verdict == VerdictSelected {
			selected = append(selected, e)
		} else {
			rest = append(rest, e)
		}
	}
	ex.Entries = append(selected, rest...)
	return ex
}
