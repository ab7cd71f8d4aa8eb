// Package memory provides an in-memory rules.Store for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu    sync.RWMutex
	rules map[rules.RuleID]*rules.Rule
}

var _ rules.Store = (*Store)(nil)

func New() *Store {
	return &Store{rules: make(map[rules.RuleID]*rules.Rule)}
}

// Save validates r and stores a copy, replacing any rule with the same ID.
func (s *Store) Save(_ context.Context, r *rules.Rule) error {
	valid, err := rules.New(*r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[valid.ID] = valid
	return nil
}

func (s *Store) Get(_ context.Context, id rules.RuleID) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id)
	}
	return r.Clone(), nil
}

// List returns the company's rules and all system rules, ordered by
// component, scope, priority and ID.
func (s *Store) List(_ context.Context, companyID rules.CompanyID) ([]*rules.Rule, error) {
	s.mu.RLock()
	out := make([]*rules.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.CompanyID == companyID || r.IsSystemScope() {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ComponentCode != b.ComponentCode {
			return a.ComponentCode < b.ComponentCode
		}
		if a.CompanyID != b.CompanyID {
			return a.CompanyID < b.CompanyID
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) Delete(_ context.Context, id rules.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id)
	}
	delete(s.rules, id)
	return nil
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
