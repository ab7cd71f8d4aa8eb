package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/maypok86/otter"

	"github.com/warp/payroll-engine/formula"
)

// DefaultCacheCapacity bounds the number of distinct expressions kept.
const DefaultCacheCapacity = 10_000

// ProgramCache holds parsed formulas keyed by expression text, shared
// read-only across every employee of a run. The caller owns it and may
// share one cache across snapshots: a key is the expression itself, so an
// edited rule simply misses.
//
// Population is compute-once-insert: two workers missing the same key at
// once both parse and the last Set wins.
type ProgramCache struct {
	store   otter.Cache[string, *formula.Program]
	metrics *Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

// NewProgramCache builds a bounded S3-FIFO cache.
func NewProgramCache(capacity int) (*ProgramCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("program cache capacity must be positive, got %d", capacity)
	}
	store, err := otter.MustBuilder[string, *formula.Program](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("build program cache: %w", err)
	}
	return &ProgramCache{store: store}, nil
}

// WithMetrics reports hits and misses to m. It returns c for chaining.
func (c *ProgramCache) WithMetrics(m *Metrics) *ProgramCache {
	c.metrics = m
	return c
}

// Program returns the parsed form of expr, parsing on a miss. Parse
// failures are not cached.
func (c *ProgramCache) Program(expr string) (*formula.Program, error) {
	if p, ok := c.store.Get(expr); ok {
		c.hits.Add(1)
		c.metrics.cacheHit()
		return p, nil
	}
	c.misses.Add(1)
	c.metrics.cacheMiss()

	p, err := formula.Parse(expr)
	if err != nil {
		return nil, err
	}
	c.store.Set(expr, p)
	return p, nil
}

// Warm parses every expression up front, so a run starts with a hot cache.
func (c *ProgramCache) Warm(exprs ...string) error {
	for _, expr := range exprs {
		if _, err := c.Program(expr); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns lifetime hit and miss counts.
func (c *ProgramCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached programs.
func (c *ProgramCache) Len() int { return c.store.Size() }

// Close stops the cache's background goroutines.
func (c *ProgramCache) Close() { c.store.Close() }
