package rules

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Infinity is how an unbounded slab's limit is written on the wire.
const Infinity = "Infinity"

// SlabMatch is the outcome of a slab lookup.
type SlabMatch struct {
	Index  int
	Slab   Slab
	Input  decimal.Decimal
	Amount decimal.Decimal
}

// Describe renders the match for evaluation traces.
func (m SlabMatch) Describe() string {
	limit := Infinity
	if m.Slab.UpTo != nil {
		limit = m.Slab.UpTo.String()
	}
	if m.Slab.IsPercentage {
		return fmt.Sprintf("slab %d (upto %s): %s%% of %s = %s", m.Index+1, limit, m.Slab.Value, m.Input, m.Amount)
	}
	return fmt.Sprintf("slab %d (upto %s): flat %s", m.Index+1, limit, m.Amount)
}

// Resolve picks the first slab whose limit is >= input and applies it.
// Slabs are validated ascending at construction, so a binary search is
// enough. An input above the last bounded limit returns ErrNoMatchingSlab.
func (c SlabConfig) Resolve(input decimal.Decimal) (SlabMatch, error) {
	if len(c.Slabs) == 0 {
		return SlabMatch{}, fmt.Errorf("%w: slab table is empty", ErrNoMatchingSlab)
	}
	i := sort.Search(len(c.Slabs), func(i int) bool {
		s := c.Slabs[i]
		return s.UpTo == nil || s.UpTo.GreaterThanOrEqual(input)
	})
	if i == len(c.Slabs) {
		return SlabMatch{}, fmt.Errorf("%w: %s exceeds the last slab limit %s",
			ErrNoMatchingSlab, input, c.Slabs[len(c.Slabs)-1].UpTo)
	}

	s := c.Slabs[i]
	amount := s.Value
	if s.IsPercentage {
		amount = input.Mul(s.Value).Div(hundred)
	}
	return SlabMatch{Index: i, Slab: s, Input: input, Amount: amount}, nil
}

// Bounded returns a pointer to v for building slab literals.
func Bounded(v decimal.Decimal) *decimal.Decimal { return &v }
