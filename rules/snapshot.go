package rules

import (
	"errors"
	"fmt"
	"sort"
)

// =============================================================================
// SNAPSHOT - Immutable, validated rule set
// =============================================================================

// Snapshot is the rule set one payroll run reads from. It is built once,
// never mutated, and safe for any number of concurrent readers. Rules
// returned from a Snapshot must be treated as read-only.
type Snapshot struct {
	rules       []*Rule
	byID        map[RuleID]*Rule
	byComponent map[string][]*Rule
}

// NewSnapshot validates every rule and the set as a whole. The input order
// does not matter: rules are indexed in a canonical order.
//
// Set-level checks:
//   - IDs are unique
//   - no two active rules share scope, component, priority and
//     EffectiveFrom while their windows overlap (resolution could not
//     choose between them)
func NewSnapshot(rs []Rule) (*Snapshot, error) {
	s := &Snapshot{
		rules:       make([]*Rule, 0, len(rs)),
		byID:        make(map[RuleID]*Rule, len(rs)),
		byComponent: make(map[string][]*Rule),
	}

	var errs []error
	for _, r := range rs {
		rule, err := New(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := s.byID[rule.ID]; ok {
			errs = append(errs, &ConflictError{First: prev.ID, Second: rule.ID, Reason: ErrDuplicateRuleID})
			continue
		}
		s.byID[rule.ID] = rule
		s.rules = append(s.rules, rule)
	}

	sort.Slice(s.rules, func(i, j int) bool { return less(s.rules[i], s.rules[j]) })
	for _, r := range s.rules {
		s.byComponent[r.ComponentCode] = append(s.byComponent[r.ComponentCode], r)
	}

	for _, group := range s.byComponent {
		errs = append(errs, checkAmbiguous(group)...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// MustSnapshot is NewSnapshot for tests and presets.
func MustSnapshot(rs []Rule) *Snapshot {
	s, err := NewSnapshot(rs)
	if err != nil {
		panic(err)
	}
	return s
}

// less is the canonical order: component, scope, priority, newest first, ID.
func less(a, b *Rule) bool {
	if a.ComponentCode != b.ComponentCode {
		return a.ComponentCode < b.ComponentCode
	}
	if a.CompanyID != b.CompanyID {
		return a.CompanyID < b.CompanyID
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	return a.ID < b.ID
}

// checkAmbiguous expects rules of one component in canonical order, so
// conflicting rules are always adjacent within a scope+priority run.
func checkAmbiguous(group []*Rule) []error {
	var errs []error
	for i, a := range group {
		if !a.IsActive {
			continue
		}
		for _, b := range group[i+1:] {
			if b.CompanyID != a.CompanyID || b.Priority != a.Priority || !b.EffectiveFrom.Equal(a.EffectiveFrom) {
				break
			}
			if b.IsActive && a.Window().Overlaps(b.Window()) {
				errs = append(errs, &ConflictError{First: a.ID, Second: b.ID, Reason: ErrAmbiguousPriority})
			}
		}
	}
	return errs
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Len returns the number of rules.
func (s *Snapshot) Len() int { return len(s.rules) }

// Rules returns the rules in canonical order.
func (s *Snapshot) Rules() []*Rule {
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Get returns the rule with the given ID.
func (s *Snapshot) Get(id RuleID) (*Rule, error) {
	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r, nil
}

// Components lists, sorted, the component codes that have at least one
// active rule visible to the company (its own or a system default).
func (s *Snapshot) Components(companyID CompanyID) []string {
	var out []string
	for code, group := range s.byComponent {
		for _, r := range group {
			if r.IsActive && visibleTo(r, companyID) {
				out = append(out, code)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// HasComponent reports whether any rule in the snapshot computes code.
func (s *Snapshot) HasComponent(code string) bool {
	_, ok := s.byComponent[code]
	return ok
}

func visibleTo(r *Rule, companyID CompanyID) bool {
	return r.CompanyID == companyID || r.IsSystemScope()
}
