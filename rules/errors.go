/*
errors.go - Error types for rule validation and resolution

PURPOSE:
  Every failure the rules package reports is either a sentinel (use
  errors.Is) or a structured error that unwraps to one. Callers decide
  what to do by category, not by string matching.

ERROR CATEGORIES:
  1. Configuration errors - a rule or rule set is invalid; fix the data
  2. Resolution outcomes  - no rule applies, or the data is ambiguous
  3. Slab evaluation      - input falls outside the bracket table
  4. Store errors         - lookups of unknown rules

SEE ALSO:
  - validate.go: Produces ValidationError
  - resolver.go: Produces AmbiguityError
*/
package rules

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRuleValidation is returned when a rule violates a field invariant.
	ErrRuleValidation = errors.New("invalid rule")

	// ErrDuplicateRuleID is returned when a rule set contains the same ID twice.
	ErrDuplicateRuleID = errors.New("duplicate rule id")

	// ErrAmbiguousPriority is returned when two active rules for the same
	// scope and component share priority and start date with overlapping windows.
	ErrAmbiguousPriority = errors.New("ambiguous rule priority")

	// ErrNoApplicableRule means the component does not apply on that date.
	// It is a normal outcome, not a failure.
	ErrNoApplicableRule = errors.New("no applicable rule")

	// ErrResolutionAmbiguity is returned when resolution cannot pick a single rule.
	ErrResolutionAmbiguity = errors.New("rule resolution is ambiguous")

	// ErrNoMatchingSlab is returned when the input exceeds the last bounded slab.
	ErrNoMatchingSlab = errors.New("no matching slab")

	// ErrRuleNotFound is returned by stores for unknown IDs.
	ErrRuleNotFound = errors.New("rule not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError is a single violated field invariant.
type FieldError struct {
	Field string
	Msg   string
	Err   error // underlying cause, e.g. a *formula.ParseError
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Msg, e.Err)
	}
	return e.Field + ": " + e.Msg
}

func (e *FieldError) Unwrap() error { return e.Err }

// ValidationError lists every violated invariant of one rule.
type ValidationError struct {
	RuleID RuleID
	Fields []*FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	id := string(e.RuleID)
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("invalid rule %s: %s", id, strings.Join(msgs, "; "))
}

// Unwrap exposes ErrRuleValidation and every field cause, so errors.As can
// reach a *formula.ParseError inside a formula rule.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Fields)+1)
	errs = append(errs, ErrRuleValidation)
	for _, f := range e.Fields {
		errs = append(errs, f)
	}
	return errs
}

// Field returns the first violation for the named field, or nil.
func (e *ValidationError) Field(name string) *FieldError {
	for _, f := range e.Fields {
		if f.Field == name {
			return f
		}
	}
	return nil
}

// ConflictError names two rules that cannot coexist in a snapshot.
type ConflictError struct {
	First  RuleID
	Second RuleID
	Reason error // ErrDuplicateRuleID or ErrAmbiguousPriority
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s and %s", e.Reason, e.First, e.Second)
}

func (e *ConflictError) Unwrap() error { return e.Reason }

// AmbiguityError is returned when several rules tie on scope, priority and
// effective date for the same component.
type AmbiguityError struct {
	CompanyID     CompanyID
	ComponentCode string
	Date          Date
	RuleIDs       []RuleID
}

func (e *AmbiguityError) Error() string {
	ids := make([]string, len(e.RuleIDs))
	for i, id := range e.RuleIDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%v: component %s on %s matches rules %s",
		ErrResolutionAmbiguity, e.ComponentCode, e.Date, strings.Join(ids, ", "))
}

func (e *AmbiguityError) Unwrap() error { return ErrResolutionAmbiguity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigError reports whether err stems from invalid rule data.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrRuleValidation) ||
		errors.Is(err, ErrDuplicateRuleID) ||
		errors.Is(err, ErrAmbiguousPriority) ||
		errors.Is(err, ErrResolutionAmbiguity)
}

// IsNotApplicable reports whether the component simply does not apply.
func IsNotApplicable(err error) bool {
	return errors.Is(err, ErrNoApplicableRule)
}

// IsNotFound reports whether err indicates a missing rule.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}
