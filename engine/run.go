package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// RUN INPUT / OUTPUT
// =============================================================================

// EmployeeFacts is one employee's fact context for the period.
type EmployeeFacts struct {
	EmployeeID string
	Facts      formula.Facts
}

// RunInput describes a payroll run. When Components is empty every
// component visible to the company is evaluated.
type RunInput struct {
	CompanyID  rules.CompanyID
	Date       rules.Date
	Components []string
	Employees  []EmployeeFacts
}

// EmployeeResult holds one employee's successful evaluations, in component
// order. Failed components are in Errors instead.
type EmployeeResult struct {
	EmployeeID string
	Results    []Result
	Errors     []*ComponentError
}

// Totals sums applicable amounts by component type.
type Totals struct {
	Earnings              decimal.Decimal
	Deductions            decimal.Decimal
	EmployerContributions decimal.Decimal
}

// Net is earnings minus deductions, before any capping done downstream.
func (t Totals) Net() decimal.Decimal { return t.Earnings.Sub(t.Deductions) }

func (er EmployeeResult) Totals() Totals {
	t := Totals{Earnings: decimal.Zero, Deductions: decimal.Zero, EmployerContributions: decimal.Zero}
	for _, r := range er.Results {
		if !r.Applicable {
			continue
		}
		switch r.ComponentType {
		case rules.Earning:
			t.Earnings = t.Earnings.Add(r.Amount)
		case rules.Deduction:
			t.Deductions = t.Deductions.Add(r.Amount)
		case rules.EmployerContribution:
			t.EmployerContributions = t.EmployerContributions.Add(r.Amount)
		}
	}
	return t
}

// RunResult is the outcome of a run. Employees keep the input order.
type RunResult struct {
	ID         string
	CompanyID  rules.CompanyID
	Date       rules.Date
	Components []string
	Employees  []EmployeeResult
	Duration   time.Duration
}

// Errors flattens every employee's failures, in employee then component order.
func (r *RunResult) Errors() []*ComponentError {
	var out []*ComponentError
	for _, er := range r.Employees {
		out = append(out, er.Errors...)
	}
	return out
}

// Totals returns per-employee totals keyed by employee ID.
func (r *RunResult) Totals() map[string]Totals {
	out := make(map[string]Totals, len(r.Employees))
	for _, er := range r.Employees {
		out[er.EmployeeID] = er.Totals()
	}
	return out
}

// =============================================================================
// RUN
// =============================================================================

// Run evaluates every employee x component. Component failures are
// collected per employee and never stop the run; only ctx cancellation
// aborts it, in which case the context error is returned.
func (e *Evaluator) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	start := time.Now()

	components := in.Components
	if len(components) == 0 {
		components = e.snapshot.Components(in.CompanyID)
	}

	out := &RunResult{
		ID:         uuid.NewString(),
		CompanyID:  in.CompanyID,
		Date:       in.Date,
		Components: components,
		Employees:  make([]EmployeeResult, len(in.Employees)),
	}

	log := e.logger.With("run_id", out.ID, "company_id", in.CompanyID)
	log.Info("payroll run started",
		"date", in.Date.String(),
		"employees", len(in.Employees),
		"components", len(components),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, emp := range in.Employees {
		g.Go(func() error {
			er, err := e.runEmployee(gctx, in, components, emp)
			if err != nil {
				return err
			}
			out.Employees[i] = er
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("payroll run aborted", "error", err)
		return nil, err
	}

	out.Duration = time.Since(start)
	e.metrics.observeRun(len(in.Employees), out.Duration)
	log.Info("payroll run finished",
		"duration", out.Duration,
		"errors", len(out.Errors()),
	)
	return out, nil
}

func (e *Evaluator) runEmployee(ctx context.Context, in RunInput, components []string, emp EmployeeFacts) (EmployeeResult, error) {
	er := EmployeeResult{EmployeeID: emp.EmployeeID}
	for _, code := range components {
		res, err := e.Evaluate(ctx, Request{
			CompanyID:     in.CompanyID,
			EmployeeID:    emp.EmployeeID,
			ComponentCode: code,
			Date:          in.Date,
			Facts:         emp.Facts,
		})
		if err != nil {
			var ce *ComponentError
			if errors.As(err, &ce) {
				er.Errors = append(er.Errors, ce)
				continue
			}
			return EmployeeResult{}, err
		}
		er.Results = append(er.Results, res)
	}
	return er, nil
}
