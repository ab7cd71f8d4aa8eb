/*
Package engine computes payroll component amounts from a rule snapshot.

PURPOSE:
  The engine is the entry point payroll processing calls. For each
  (company, employee, component, date, facts) it:

  1. Resolves the winning rule through the snapshot
  2. Dispatches on the rule's config (fixed, percentage, slab, formula)
  3. Rounds the amount and attaches an audit trace naming the rule

KEY CONCEPTS:
  Evaluator:    Pure and stateless per call. Safe for concurrent use.
  ProgramCache: Parsed formulas shared across employees, owned by the caller.
  Run:          Fans employees out over a bounded worker pool. A failure for
                one employee or component is collected, never fatal.

ROUNDING:
  Final amounts are rounded half away from zero to the configured precision
  (2 by default). Payroll amounts are non-negative, so this is the
  conventional "round half up" used in Indian payroll.

EXAMPLE:
  cache, _ := engine.NewProgramCache(engine.DefaultCacheCapacity)
  ev := engine.New(snapshot, engine.WithCache(cache), engine.WithLogger(log))
  res, err := ev.Evaluate(ctx, engine.Request{
      CompanyID: "acme", EmployeeID: "E-1", ComponentCode: "pf_employee",
      Date: rules.NewDate(2025, time.April, 30), Facts: facts,
  })
  fmt.Println(res.Amount, res.Trace[0]) // 1800.00 pf_employee via rule 'PF 12%' (priority 100)

SEE ALSO:
  - run.go:   Payroll run fan-out
  - cache.go: ProgramCache
*/
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/rules"
)

const (
	DefaultPrecision int32 = 2
	DefaultWorkers         = 8
)

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator evaluates components against one immutable snapshot.
type Evaluator struct {
	snapshot  *rules.Snapshot
	logger    *slog.Logger
	cache     *ProgramCache
	metrics   *Metrics
	precision int32
	workers   int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCache shares a parsed-program cache, typically across the snapshots
// of a long-lived server.
func WithCache(c *ProgramCache) Option {
	return func(e *Evaluator) { e.cache = c }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithPrecision sets the number of decimal places of final amounts.
func WithPrecision(places int32) Option {
	return func(e *Evaluator) { e.precision = places }
}

// WithWorkers bounds Run's parallelism.
func WithWorkers(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New builds an Evaluator. Without WithCache it gets a private cache that
// lives as long as the Evaluator.
func New(snapshot *rules.Snapshot, opts ...Option) *Evaluator {
	e := &Evaluator{
		snapshot:  snapshot,
		logger:    slog.Default(),
		precision: DefaultPrecision,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		// Capacity is a positive constant, so this cannot fail.
		e.cache, _ = NewProgramCache(DefaultCacheCapacity)
	}
	return e
}

// Snapshot returns the rule set the evaluator reads from.
func (e *Evaluator) Snapshot() *rules.Snapshot { return e.snapshot }

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request identifies one component evaluation.
type Request struct {
	CompanyID     rules.CompanyID
	EmployeeID    string
	ComponentCode string
	Date          rules.Date
	Facts         formula.Facts
}

// Result is the attributed outcome of one evaluation. When Applicable is
// false no rule fired and Amount is zero.
type Result struct {
	EmployeeID    string
	ComponentCode string
	Applicable    bool
	Amount        decimal.Decimal

	RuleID        rules.RuleID
	RuleName      string
	Priority      int
	RuleType      rules.RuleType
	ComponentType rules.ComponentType

	// Trace[0] names the firing rule; later lines show the arithmetic.
	Trace []string
}

// =============================================================================
// EVALUATE
// =============================================================================

// Evaluate resolves and computes one component. It returns a
// *ComponentError for resolution, parse and evaluation failures, and the
// bare context error when ctx is done.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	res := Result{EmployeeID: req.EmployeeID, ComponentCode: req.ComponentCode}

	rule, err := e.snapshot.Resolve(req.CompanyID, req.ComponentCode, req.Date)
	if rules.IsNotApplicable(err) {
		res.Trace = []string{fmt.Sprintf("%s not applicable on %s: no active rule", req.ComponentCode, req.Date)}
		e.metrics.observeEvaluation(e.metricComponent(req.ComponentCode), OutcomeNotApplicable, "", 0)
		return res, nil
	}
	if err != nil {
		return Result{}, e.fail(req, "", err)
	}

	res.Applicable = true
	res.RuleID = rule.ID
	res.RuleName = rule.DisplayName()
	res.Priority = rule.Priority
	res.RuleType = rule.Type()
	res.ComponentType = rule.ComponentType
	res.Trace = []string{fmt.Sprintf("%s via rule '%s' (priority %d)", req.ComponentCode, res.RuleName, rule.Priority)}

	amount, detail, err := e.compute(rule, req.Facts)
	if err != nil {
		return Result{}, e.fail(req, rule.ID, err)
	}
	res.Trace = append(res.Trace, detail)

	res.Amount = amount.Round(e.precision)
	if !res.Amount.Equal(amount) {
		res.Trace = append(res.Trace, fmt.Sprintf("rounded %s to %s", amount, res.Amount.StringFixed(e.precision)))
	}

	e.metrics.observeEvaluation(e.metricComponent(req.ComponentCode), OutcomeSuccess, string(res.RuleType), time.Since(start))
	e.logger.Debug("component evaluated",
		"employee_id", req.EmployeeID,
		"component", req.ComponentCode,
		"rule_id", rule.ID,
		"amount", res.Amount.String(),
	)
	return res, nil
}

// metricComponent keeps the component label bounded by the rule set, since
// codes arrive straight from requests.
func (e *Evaluator) metricComponent(code string) string {
	if e.snapshot.HasComponent(code) {
		return code
	}
	return ComponentUnknown
}

func (e *Evaluator) fail(req Request, ruleID rules.RuleID, err error) error {
	ce := &ComponentError{
		CompanyID:     req.CompanyID,
		EmployeeID:    req.EmployeeID,
		ComponentCode: req.ComponentCode,
		RuleID:        ruleID,
		Err:           err,
	}
	e.metrics.observeEvaluation(e.metricComponent(req.ComponentCode), OutcomeError, "", 0)
	e.logger.Warn("component evaluation failed",
		"employee_id", req.EmployeeID,
		"component", req.ComponentCode,
		"rule_id", ruleID,
		"category", ce.Category(),
		"error", err,
	)
	return ce
}

// compute dispatches on the config variant. The returned string is the
// trace line describing the arithmetic.
func (e *Evaluator) compute(rule *rules.Rule, facts formula.Facts) (decimal.Decimal, string, error) {
	switch c := rule.Config.(type) {
	case rules.FixedConfig:
		return c.Amount, "fixed amount " + c.Amount.String(), nil

	case rules.PercentageConfig:
		base, ok := facts[c.Base]
		if !ok {
			return decimal.Zero, "", formula.UnknownVariable(c.Base, 0)
		}
		amount := base.Mul(c.Percentage).Div(decimal.NewFromInt(100))
		return amount, fmt.Sprintf("%s%% of %s (%s) = %s", c.Percentage, c.Base, base, amount), nil

	case rules.SlabConfig:
		input, ok := facts[c.Base]
		if !ok {
			return decimal.Zero, "", formula.UnknownVariable(c.Base, 0)
		}
		m, err := c.Resolve(input)
		if err != nil {
			return decimal.Zero, "", err
		}
		return m.Amount, fmt.Sprintf("%s = %s, %s", c.Base, input, m.Describe()), nil

	case rules.FormulaConfig:
		prog, err := e.cache.Program(c.Expression)
		if err != nil {
			return decimal.Zero, "", err
		}
		amount, err := prog.Evaluate(facts)
		if err != nil {
			return decimal.Zero, "", err
		}
		return amount, fmt.Sprintf("%s = %s", prog, amount), nil
	}
	return decimal.Zero, "", fmt.Errorf("unsupported rule type %q", rule.Type())
}
