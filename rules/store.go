package rules

import (
	"context"
	"fmt"
)

// =============================================================================
// STORE - Where rules live between edits
// =============================================================================

// Store persists rules. Implementations validate on Save and must be safe
// for concurrent use.
//
// IMPLEMENTATIONS:
//   - store/memory: maps behind a RWMutex, for tests and demos
//   - store/sqlite: calculation_rules table
type Store interface {
	// Save inserts or replaces a rule.
	Save(ctx context.Context, r *Rule) error

	// Get returns ErrRuleNotFound for unknown IDs.
	Get(ctx context.Context, id RuleID) (*Rule, error)

	// List returns the company's rules plus every system rule.
	// List(ctx, SystemScope) returns system rules only.
	List(ctx context.Context, companyID CompanyID) ([]*Rule, error)

	// Delete returns ErrRuleNotFound for unknown IDs.
	Delete(ctx context.Context, id RuleID) error
}

// LoadSnapshot reads every rule visible to a company and freezes them.
func LoadSnapshot(ctx context.Context, store Store, companyID CompanyID) (*Snapshot, error) {
	rs, err := store.List(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list rules for company %q: %w", companyID, err)
	}
	vals := make([]Rule, len(rs))
	for i, r := range rs {
		vals[i] = *r
	}
	return NewSnapshot(vals)
}
