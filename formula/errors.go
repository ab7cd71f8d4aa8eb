package formula

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is the root of every ParseError. Use errors.Is(err, ErrParse)
	// to detect a malformed expression.
	ErrParse = errors.New("formula parse error")

	// ErrEval is the root of every EvalError.
	ErrEval = errors.New("formula evaluation error")

	ErrUnknownVariable = errors.New("unknown variable")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrInvalidArgument = errors.New("invalid function argument")
)

// ParseErrorKind classifies a ParseError for the rule editor.
type ParseErrorKind string

const (
	KindEmpty            ParseErrorKind = "empty_expression"
	KindUnexpectedChar   ParseErrorKind = "unexpected_character"
	KindUnexpectedToken  ParseErrorKind = "unexpected_token"
	KindInvalidNumber    ParseErrorKind = "invalid_number"
	KindInvalidFunction  ParseErrorKind = "invalid_function"
	KindUnbalancedParens ParseErrorKind = "unbalanced_parentheses"
	KindTooLong          ParseErrorKind = "expression_too_long"
	KindTooDeep          ParseErrorKind = "nesting_too_deep"
)

// ParseError reports a malformed expression. Pos is the 1-based column of
// the offending token within the expression.
type ParseError struct {
	Kind  ParseErrorKind
	Pos   int
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("parse error at column %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("parse error at column %d near %q: %s", e.Pos, e.Token, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// EvalErrorKind classifies an EvalError.
type EvalErrorKind string

const (
	KindUnknownVariable EvalErrorKind = "unknown_variable"
	KindDivisionByZero  EvalErrorKind = "division_by_zero"
	KindInvalidArgument EvalErrorKind = "invalid_argument"
)

// EvalError reports a failure while evaluating a well-formed Program.
// Name is the variable or function involved, when there is one.
type EvalError struct {
	Kind EvalErrorKind
	Name string
	Pos  int
	Msg  string
}

func (e *EvalError) Error() string {
	switch e.Kind {
	case KindUnknownVariable:
		if e.Pos == 0 {
			return fmt.Sprintf("unknown variable %q", e.Name)
		}
		return fmt.Sprintf("unknown variable %q at column %d", e.Name, e.Pos)
	case KindDivisionByZero:
		return fmt.Sprintf("division by zero at column %d", e.Pos)
	default:
		return fmt.Sprintf("%s at column %d: %s", e.Name, e.Pos, e.Msg)
	}
}

func (e *EvalError) Unwrap() []error {
	switch e.Kind {
	case KindUnknownVariable:
		return []error{ErrEval, ErrUnknownVariable}
	case KindDivisionByZero:
		return []error{ErrEval, ErrDivisionByZero}
	case KindInvalidArgument:
		return []error{ErrEval, ErrInvalidArgument}
	default:
		return []error{ErrEval}
	}
}

// UnknownVariable builds the error returned when a referenced fact is
// missing. Pos 0 means the name did not come from an expression.
func UnknownVariable(name string, pos int) *EvalError {
	return &EvalError{Kind: KindUnknownVariable, Name: name, Pos: pos}
}
