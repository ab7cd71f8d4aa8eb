/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Rules travel in the
  factory.RuleJSON shape so the rule editor, the YAML presets and the
  sqlite store all agree on one schema.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Money and facts are decimals. Requests accept JSON numbers or strings;
  responses render them as strings so no client parses them as floats.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// FORMULA VALIDATION
// =============================================================================

// ValidateFormulaRequest is the body of POST /api/formulas/validate.
type ValidateFormulaRequest struct {
	Expression string `json:"expression"`
	// KnownVariables, when set, reports referenced facts outside the list.
	KnownVariables []string `json:"known_variables,omitempty"`
}

// FormulaErrorDTO locates a parse error for the editor.
type FormulaErrorDTO struct {
	Position int    `json:"position"`
	Token    string `json:"token,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// ValidateFormulaResponse reports whether an expression parses.
type ValidateFormulaResponse struct {
	Valid            bool             `json:"valid"`
	Canonical        string           `json:"canonical,omitempty"`
	Variables        []string         `json:"variables"`
	MissingVariables []string         `json:"missing_variables,omitempty"`
	Error            *FormulaErrorDTO `json:"error,omitempty"`
}

// =============================================================================
// RULES
// =============================================================================

// RuleListResponse is the body of GET /api/rules.
type RuleListResponse struct {
	CompanyID string             `json:"company_id"`
	Rules     []factory.RuleJSON `json:"rules"`
}

// ComponentsResponse lists the components a company can evaluate.
type ComponentsResponse struct {
	CompanyID  string   `json:"company_id"`
	Components []string `json:"components"`
}

// ExplainEntryDTO is one rule's verdict in an explanation.
type ExplainEntryDTO struct {
	RuleID        string `json:"rule_id"`
	Name          string `json:"name"`
	CompanyID     string `json:"company_id"`
	Priority      int    `json:"priority"`
	IsActive      bool   `json:"is_active"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	Verdict       string `json:"verdict"`
	Reason        string `json:"reason"`
}

// ExplainResponse is the body of GET /api/explain.
type ExplainResponse struct {
	CompanyID     string            `json:"company_id"`
	ComponentCode string            `json:"component_code"`
	Date          string            `json:"date"`
	SelectedRule  string            `json:"selected_rule,omitempty"`
	Error         string            `json:"error,omitempty"`
	Entries       []ExplainEntryDTO `json:"entries"`
}

// =============================================================================
// EVALUATION
// =============================================================================

// EvaluateRequest is the body of POST /api/evaluate.
type EvaluateRequest struct {
	CompanyID     string                     `json:"company_id"`
	EmployeeID    string                     `json:"employee_id"`
	ComponentCode string                     `json:"component_code"`
	Date          string                     `json:"date"`
	Facts         map[string]decimal.Decimal `json:"facts"`
}

// ResultDTO is one evaluated component.
type ResultDTO struct {
	EmployeeID    string          `json:"employee_id"`
	ComponentCode string          `json:"component_code"`
	Applicable    bool            `json:"applicable"`
	Amount        decimal.Decimal `json:"amount"`
	RuleID        string          `json:"rule_id,omitempty"`
	RuleName      string          `json:"rule_name,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	RuleType      string          `json:"rule_type,omitempty"`
	ComponentType string          `json:"component_type,omitempty"`
	Trace         []string        `json:"trace"`
}

// ComponentErrorDTO is one failed component.
type ComponentErrorDTO struct {
	EmployeeID    string `json:"employee_id"`
	ComponentCode string `json:"component_code"`
	RuleID        string `json:"rule_id,omitempty"`
	Category      string `json:"category"`
	Error         string `json:"error"`
}

// EmployeeFactsDTO is one employee in a run request.
type EmployeeFactsDTO struct {
	EmployeeID string                     `json:"employee_id"`
	Facts      map[string]decimal.Decimal `json:"facts"`
}

// RunRequest is the body of POST /api/runs.
type RunRequest struct {
	CompanyID  string             `json:"company_id"`
	Date       string             `json:"date"`
	Components []string           `json:"components,omitempty"`
	Employees  []EmployeeFactsDTO `json:"employees"`
}

// TotalsDTO sums one employee's applicable amounts.
type TotalsDTO struct {
	Earnings              decimal.Decimal `json:"earnings"`
	Deductions            decimal.Decimal `json:"deductions"`
	EmployerContributions decimal.Decimal `json:"employer_contributions"`
	Net                   decimal.Decimal `json:"net"`
}

// EmployeeResultDTO is one employee's run outcome.
type EmployeeResultDTO struct {
	EmployeeID string              `json:"employee_id"`
	Results    []ResultDTO         `json:"results"`
	Errors     []ComponentErrorDTO `json:"errors"`
	Totals     TotalsDTO           `json:"totals"`
}

// RunResponse is the body returned by POST /api/runs.
type RunResponse struct {
	ID         string              `json:"id"`
	CompanyID  string              `json:"company_id"`
	Date       string              `json:"date"`
	Components []string            `json:"components"`
	DurationMS int64               `json:"duration_ms"`
	ErrorCount int                 `json:"error_count"`
	Employees  []EmployeeResultDTO `json:"employees"`
}

// =============================================================================
// ERRORS
// =============================================================================

// FieldErrorDTO is one violated field.
type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string          `json:"error"`
	Details  string          `json:"details,omitempty"`
	Category string          `json:"category,omitempty"`
	Fields   []FieldErrorDTO `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toResultDTO(r engine.Result) ResultDTO {
	trace := r.Trace
	if trace == nil {
		trace = []string{}
	}
	return ResultDTO{
		EmployeeID:    r.EmployeeID,
		ComponentCode: r.ComponentCode,
		Applicable:    r.Applicable,
		Amount:        r.Amount,
		RuleID:        string(r.RuleID),
		RuleName:      r.RuleName,
		Priority:      r.Priority,
		RuleType:      string(r.RuleType),
		ComponentType: string(r.ComponentType),
		Trace:         trace,
	}
}

func toComponentErrorDTO(e *engine.ComponentError) ComponentErrorDTO {
	return ComponentErrorDTO{
		EmployeeID:    e.EmployeeID,
		ComponentCode: e.ComponentCode,
		RuleID:        string(e.RuleID),
		Category:      e.Category(),
		Error:         e.Err.Error(),
	}
}

func toTotalsDTO(t engine.Totals) TotalsDTO {
	return TotalsDTO{
		Earnings:              t.Earnings,
		Deductions:            t.Deductions,
		EmployerContributions: t.EmployerContributions,
		Net:                   t.Net(),
	}
}

func toRunResponse(res *engine.RunResult) RunResponse {
	components := res.Components
	if components == nil {
		components = []string{}
	}
	out := RunResponse{
		ID:         res.ID,
		CompanyID:  string(res.CompanyID),
		Date:       res.Date.String(),
		Components: components,
		DurationMS: res.Duration.Milliseconds(),
		ErrorCount: len(res.Errors()),
		Employees:  make([]EmployeeResultDTO, len(res.Employees)),
	}
	for i, emp := range res.Employees {
		dto := EmployeeResultDTO{
			EmployeeID: emp.EmployeeID,
			Results:    make([]ResultDTO, len(emp.Results)),
			Errors:     make([]ComponentErrorDTO, len(emp.Errors)),
			Totals:     toTotalsDTO(emp.Totals()),
		}
		for j, r := range emp.Results {
			dto.Results[j] = toResultDTO(r)
		}
		for j, e := range emp.Errors {
			dto.Errors[j] = toComponentErrorDTO(e)
		}
		out.Employees[i] = dto
	}
	return out
}

func toExplainResponse(ex rules.Explanation) ExplainResponse {
	out := ExplainResponse{
		CompanyID:     string(ex.CompanyID),
		ComponentCode: ex.ComponentCode,
		Date:          ex.Date.String(),
		Entries:       make([]ExplainEntryDTO, len(ex.Entries)),
	}
	if ex.Selected != nil {
		out.SelectedRule = string(ex.Selected.ID)
	}
	if ex.Err != nil {
		out.Error = ex.Err.Error()
	}
	for i, e := range ex.Entries {
		dto := ExplainEntryDTO{
			RuleID:        string(e.Rule.ID),
			Name:          e.Rule.DisplayName(),
			CompanyID:     string(e.Rule.CompanyID),
			Priority:      e.Rule.Priority,
			IsActive:      e.Rule.IsActive,
			EffectiveFrom: e.Rule.EffectiveFrom.String(),
			Verdict:       string(e.Verdict),
			Reason:        e.Reason,
		}
		if e.Rule.EffectiveTo != nil {
			dto.EffectiveTo = e.Rule.EffectiveTo.String()
		}
		out.Entries[i] = dto
	}
	return out
}

func toFieldErrorDTOs(ve *rules.ValidationError) []FieldErrorDTO {
	out := make([]FieldErrorDTO, len(ve.Fields))
	for i, f := range ve.Fields {
		msg := f.Msg
		if f.Err != nil {
			msg += ": " + f.Err.Error()
		}
		out[i] = FieldErrorDTO{Field: f.Field, Message: msg}
	}
	return out
}
