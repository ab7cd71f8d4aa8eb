package engine

import (
	"errors"
	"fmt"

	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/rules"
)

// ComponentError is a failure computing one component for one employee.
// A payroll run collects these and keeps going.
type ComponentError struct {
	CompanyID     rules.CompanyID
	EmployeeID    string
	ComponentCode string
	RuleID        rules.RuleID // empty when resolution itself failed
	Err           error
}

func (e *ComponentError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("employee %s, component %s: %v", e.EmployeeID, e.ComponentCode, e.Err)
	}
	return fmt.Sprintf("employee %s, component %s (rule %s): %v", e.EmployeeID, e.ComponentCode, e.RuleID, e.Err)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// Category classifies the failure for review lists.
func (e *ComponentError) Category() string {
	switch {
	case rules.IsConfigError(e.Err), errors.Is(e.Err, formula.ErrParse):
		return "configuration"
	case errors.Is(e.Err, formula.ErrEval), errors.Is(e.Err, rules.ErrNoMatchingSlab):
		return "evaluation"
	default:
		return "internal"
	}
}
