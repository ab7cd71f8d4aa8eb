package formula

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func facts(kv ...string) Facts {
	f := Facts{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[kv[i]] = d(kv[i+1])
	}
	return f
}

// =============================================================================
// STATUTORY FORMULAS
// =============================================================================

func TestEvaluate_StatutoryFormulas(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		facts Facts
		want  string
	}{
		{
			name:  "PF on capped wage",
			expr:  "MIN(basic + da, 15000) * 12 / 100",
			facts: facts("basic", "20000", "da", "0"),
			want:  "1800.00",
		},
		{
			name:  "ESI at threshold",
			expr:  "IF(monthly_gross <= 21000, gross_earnings * 0.75 / 100, 0)",
			facts: facts("monthly_gross", "21000", "gross_earnings", "21000"),
			want:  "157.50",
		},
		{
			name:  "ESI above threshold",
			expr:  "IF(monthly_gross <= 21000, gross_earnings * 0.75 / 100, 0)",
			facts: facts("monthly_gross", "21001", "gross_earnings", "21001"),
			want:  "0.00",
		},
		{
			name:  "LOP deduction",
			expr:  "(monthly_gross / working_days) * lop_days",
			facts: facts("monthly_gross", "30000", "working_days", "30", "lop_days", "2"),
			want:  "2000.00",
		},
		{
			name:  "bonus on capped wage",
			expr:  "ROUND(MIN(basic + da, 7000) * 8.33 / 100, 0)",
			facts: facts("basic", "9000", "da", "500"),
			want:  "583.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, tt.facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

// =============================================================================
// OPERATORS AND PRECEDENCE
// =============================================================================

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"10 - 4 - 3", "3"},
		{"100 / 10 / 5", "2"},
		{"17 % 5", "2"},
		{"-3 + 5", "2"},
		{"--4", "4"},
		{"-(2 + 3) * 2", "-10"},
		{"0.1 + 0.2", "0.3"},
		{".5 * 4", "2"},
		{"3 > 2", "1"},
		{"3 < 2", "0"},
		{"2 >= 2", "1"},
		{"2 <= 1", "0"},
		{"1.0 == 1", "1"},
		{"1 != 1", "0"},
		{"1 + 1 == 2", "1"},
		{"1 AND 0", "0"},
		{"5 AND 7", "1"},
		{"0 OR 0", "0"},
		{"0 or 3", "1"},
		{"1 && 1", "1"},
		{"0 || 0", "0"},
		{"1 OR 0 AND 0", "1"},
		{"(1 OR 0) AND 0", "0"},
		{"2 > 1 AND 3 > 2", "1"},
		{"MAX(3, 9)", "9"},
		{"min(3, 9)", "3"},
		{"FLOOR(2.7)", "2"},
		{"FLOOR(-2.2)", "-3"},
		{"CEILING(2.1)", "3"},
		{"ABS(-12.5)", "12.5"},
		{"ROUND(2.345, 2)", "2.35"},
		{"ROUND(2.5, 0)", "3"},
		{"ROUND(3.5, 0)", "4"},
		{"ROUND(1234.5678, 1)", "1234.6"},
		{"IF(1, 10, 20)", "10"},
		{"IF(0, 10, 20)", "20"},
		{"IF(2 > 1 AND 0, 10, 20)", "20"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, nil)
			require.NoError(t, err)
			assert.True(t, d(tt.want).Equal(got), "%s = %s, want %s", tt.expr, got, tt.want)
		})
	}
}

func TestEvaluate_IfOnlyEvaluatesSelectedBranch(t *testing.T) {
	got, err := Evaluate("IF(working_days > 0, monthly_gross / working_days, 0)",
		facts("working_days", "0", "monthly_gross", "30000"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestEvaluate_LogicalShortCircuit(t *testing.T) {
	_, err := Evaluate("0 AND undefined_fact", nil)
	assert.NoError(t, err)

	_, err = Evaluate("1 OR undefined_fact", nil)
	assert.NoError(t, err)
}

// =============================================================================
// EVALUATION ERRORS
// =============================================================================

func TestEvaluate_UnknownVariable(t *testing.T) {
	_, err := Evaluate("basic + special_allowance", facts("basic", "100"))
	require.Error(t, err)

	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, KindUnknownVariable, evalErr.Kind)
	assert.Equal(t, "special_allowance", evalErr.Name)
	assert.Equal(t, 9, evalErr.Pos)
	assert.ErrorIs(t, err, ErrUnknownVariable)
	assert.ErrorIs(t, err, ErrEval)
}

func TestEvaluate_DivisionByZero(t *testing.T) {
	for _, expr := range []string{"10 / lop_days", "10 % lop_days"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr, facts("lop_days", "0"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDivisionByZero)

			var evalErr *EvalError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, 4, evalErr.Pos)
		})
	}
}

func TestEvaluate_RoundRejectsBadPlaces(t *testing.T) {
	for _, expr := range []string{"ROUND(1.5, 0.5)", "ROUND(1.5, -1)", "ROUND(1.5, 11)"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr, nil)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestEvaluate_DoesNotMutateFacts(t *testing.T) {
	f := facts("basic", "1000")
	_, err := Evaluate("basic * 2", f)
	require.NoError(t, err)
	assert.Len(t, f, 1)
	assert.Equal(t, "1000", f["basic"].String())
}

func TestProgram_Deterministic(t *testing.T) {
	p := MustParse("ROUND(MIN(basic + da, 15000) * 12 / 100, 2)")
	f := facts("basic", "14999.99", "da", "0")

	first, err := p.Evaluate(f)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := p.Evaluate(f)
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

// =============================================================================
// PARSE ERRORS
// =============================================================================

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		expr  string
		kind  ParseErrorKind
		pos   int
		token string
	}{
		{"", KindEmpty, 1, ""},
		{"   ", KindEmpty, 1, ""},
		{"basic +", KindUnexpectedToken, 8, ""},
		{"basic + * 2", KindUnexpectedToken, 9, "*"},
		{"(basic + da", KindUnbalancedParens, 1, "("},
		{"basic + da)", KindUnbalancedParens, 11, ")"},
		{"()", KindUnbalancedParens, 2, ")"},
		{"SQRT(basic)", KindInvalidFunction, 1, "SQRT"},
		{"MIN(basic)", KindInvalidFunction, 1, "MIN"},
		{"IF(1, 2)", KindInvalidFunction, 1, "IF"},
		{"ABS(1, 2)", KindInvalidFunction, 1, "ABS"},
		{"basic + MAX", KindInvalidFunction, 9, "MAX"},
		{"basic = 1", KindUnexpectedChar, 7, "="},
		{"basic $ 1", KindUnexpectedChar, 7, "$"},
		{"basic × 2", KindUnexpectedChar, 7, "×"},
		{"basic + é", KindUnexpectedChar, 9, "é"},
		{"₹5000 + basic", KindUnexpectedChar, 1, "₹"},
		{"1.", KindInvalidNumber, 1, "1."},
		{"basic da", KindUnexpectedToken, 7, "da"},
		{"1 < 2 < 3", KindUnexpectedToken, 7, "<"},
		{"MIN(1 2)", KindUnexpectedToken, 7, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Parse(tt.expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind, pe.Error())
			assert.Equal(t, tt.pos, pe.Pos, pe.Error())
			assert.Equal(t, tt.token, pe.Token)
		})
	}
}

func TestParse_RejectsPathologicalInput(t *testing.T) {
	t.Run("too long", func(t *testing.T) {
		expr := strings.Repeat("1+", MaxExpressionLength) + "1"
		_, err := Parse(expr)

		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, KindTooLong, pe.Kind)
	})

	t.Run("too deep parentheses", func(t *testing.T) {
		expr := strings.Repeat("(", MaxDepth+1) + "1" + strings.Repeat(")", MaxDepth+1)
		_, err := Parse(expr)

		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, KindTooDeep, pe.Kind)
		assert.Equal(t, MaxDepth+1, pe.Pos)
	})

	t.Run("too deep unary", func(t *testing.T) {
		_, err := Parse(strings.Repeat("-", MaxDepth+1) + "1")

		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, KindTooDeep, pe.Kind)
	})

	t.Run("at the depth limit", func(t *testing.T) {
		expr := strings.Repeat("(", MaxDepth) + "1" + strings.Repeat(")", MaxDepth)
		_, err := Parse(expr)
		assert.NoError(t, err)
	})
}

func TestParseError_Message(t *testing.T) {
	_, err := Parse("basic + * 2")
	require.Error(t, err)
	assert.Equal(t, `parse error at column 9 near "*": unexpected *, expected number, variable, function call or '('`, err.Error())
}

// =============================================================================
// PROGRAM INTROSPECTION
// =============================================================================

func TestProgram_Variables(t *testing.T) {
	p := MustParse("IF(monthly_gross <= 21000, gross_earnings * 0.75 / 100, monthly_gross - monthly_gross)")
	assert.Equal(t, []string{"gross_earnings", "monthly_gross"}, p.Variables())
	assert.Equal(t, []string{"gross_earnings"}, p.MissingVariables([]string{"monthly_gross", "basic"}))
	assert.Empty(t, p.MissingVariables([]string{"monthly_gross", "gross_earnings"}))
}

func TestProgram_String(t *testing.T) {
	p := MustParse("min(basic+da,15000)*12/100")
	assert.Equal(t, "((MIN((basic + da), 15000) * 12) / 100)", p.String())
	assert.Equal(t, "min(basic+da,15000)*12/100", p.Source())
}

func TestFunctions(t *testing.T) {
	fns := Functions()
	assert.Equal(t, 3, fns["IF"])
	assert.Equal(t, 2, fns["ROUND"])
	assert.Len(t, fns, 7)
}

func TestEvalError_Unwrap(t *testing.T) {
	err := UnknownVariable("pf_wage", 1)
	assert.True(t, errors.Is(err, ErrUnknownVariable))
	assert.False(t, errors.Is(err, ErrDivisionByZero))
	assert.Equal(t, `unknown variable "pf_wage" at column 1`, err.Error())
}
