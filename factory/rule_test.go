package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/rules"
)

// =============================================================================
// PARSING BY RULE TYPE
// =============================================================================

func TestParseRule_Formula(t *testing.T) {
	f := factory.NewRuleFactory()

	r, err := f.ParseRule([]byte(`{
		"id": "pf-default",
		"name": "PF Ceiling 12%",
		"component_code": "pf_employee",
		"component_type": "deduction",
		"rule_type": "formula",
		"formula_config": {"expression": "MIN(pf_wage, 15000) * 12 / 100"},
		"priority": 100,
		"is_system": true,
		"effective_from": "2024-04-01"
	}`))
	require.NoError(t, err)

	assert.Equal(t, rules.RuleID("pf-default"), r.ID)
	assert.Equal(t, rules.SystemScope, r.CompanyID)
	assert.Equal(t, rules.TypeFormula, r.Type())
	assert.True(t, r.IsActive, "is_active defaults to true")
	assert.True(t, r.IsSystem)
	assert.Nil(t, r.EffectiveTo)
	assert.Equal(t, "MIN(pf_wage, 15000) * 12 / 100", r.Config.(rules.FormulaConfig).Expression)
}

func TestParseRule_Percentage(t *testing.T) {
	r, err := factory.NewRuleFactory().ParseRule([]byte(`{
		"id": "hra", "company_id": "acme", "component_code": "hra", "component_type": "earning",
		"rule_type": "percentage", "formula_config": {"percentage": "40", "base": "basic"},
		"priority": 10, "is_active": false, "effective_from": "2024-04-01", "effective_to": "2025-03-31"
	}`))
	require.NoError(t, err)

	cfg := r.Config.(rules.PercentageConfig)
	assert.Equal(t, "40", cfg.Percentage.String())
	assert.Equal(t, "basic", cfg.Base)
	assert.False(t, r.IsActive)
	assert.Equal(t, rules.CompanyID("acme"), r.CompanyID)
	assert.Equal(t, "2025-03-31", r.EffectiveTo.String())
}

func TestParseRule_Slab(t *testing.T) {
	// GIVEN: A Karnataka PT table mixing number, string and Infinity limits
	// THEN: Limits decode, base defaults to gross_earnings

	r, err := factory.NewRuleFactory().ParseRule([]byte(`{
		"id": "pt-ka", "company_id": "acme", "component_code": "pt", "component_type": "deduction",
		"rule_type": "slab",
		"formula_config": {"slabs": [
			{"upto_amount": 15000, "value": 0},
			{"upto_amount": "25000", "value": 150},
			{"upto_amount": "Infinity", "value": 200}
		]},
		"priority": 10, "effective_from": "2024-04-01"
	}`))
	require.NoError(t, err)

	cfg := r.Config.(rules.SlabConfig)
	assert.Equal(t, factory.DefaultSlabBase, cfg.Base)
	require.Len(t, cfg.Slabs, 3)
	assert.Equal(t, "15000", cfg.Slabs[0].UpTo.String())
	assert.Equal(t, "25000", cfg.Slabs[1].UpTo.String())
	assert.Nil(t, cfg.Slabs[2].UpTo)
	assert.Equal(t, "200", cfg.Slabs[2].Value.String())
}

func TestParseRule_GeneratesID(t *testing.T) {
	r, err := factory.NewRuleFactory().ParseRule([]byte(`{
		"component_code": "conveyance", "component_type": "earning",
		"rule_type": "fixed", "formula_config": {"amount": 1600}, "effective_from": "2024-04-01"
	}`))
	require.NoError(t, err)

	_, err = uuid.Parse(string(r.ID))
	assert.NoError(t, err)
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestParseRule_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		field string
	}{
		{
			name:  "unknown rule type",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"lookup","formula_config":{},"effective_from":"2024-04-01"}`,
			field: "rule_type",
		},
		{
			name:  "config of another type",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"percentage","formula_config":{"amount":10},"effective_from":"2024-04-01"}`,
			field: "formula_config",
		},
		{
			name:  "missing config",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"fixed","effective_from":"2024-04-01"}`,
			field: "formula_config",
		},
		{
			name:  "missing percentage",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"percentage","formula_config":{"base":"basic"},"effective_from":"2024-04-01"}`,
			field: "percentage",
		},
		{
			name:  "missing amount",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"fixed","formula_config":{},"effective_from":"2024-04-01"}`,
			field: "amount",
		},
		{
			name:  "bad date",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"fixed","formula_config":{"amount":1},"effective_from":"01-04-2024"}`,
			field: "effective_from",
		},
		{
			name:  "inverted window",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"fixed","formula_config":{"amount":1},"effective_from":"2024-04-01","effective_to":"2024-03-31"}`,
			field: "effective_to",
		},
		{
			name:  "broken formula",
			json:  `{"id":"x","component_code":"c","component_type":"earning","rule_type":"formula","formula_config":{"expression":"basic *"},"effective_from":"2024-04-01"}`,
			field: "expression",
		},
		{
			name:  "descending slabs",
			json:  `{"id":"x","component_code":"c","component_type":"deduction","rule_type":"slab","formula_config":{"slabs":[{"upto_amount":2000,"value":1},{"upto_amount":1000,"value":2}]},"effective_from":"2024-04-01"}`,
			field: "slabs[1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewRuleFactory().ParseRule([]byte(tt.json))
			require.Error(t, err)
			assert.ErrorIs(t, err, rules.ErrRuleValidation)

			var ve *rules.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotNil(t, ve.Field(tt.field), ve.Error())
		})
	}
}

func TestParseRule_BrokenFormulaKeepsParseError(t *testing.T) {
	_, err := factory.NewRuleFactory().ParseRule([]byte(`{
		"id":"x","component_code":"c","component_type":"earning","rule_type":"formula",
		"formula_config":{"expression":"MIN(basic)"},"effective_from":"2024-04-01"}`))

	var pe *formula.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, formula.KindInvalidFunction, pe.Kind)
}

func TestParseRule_MalformedJSON(t *testing.T) {
	_, err := factory.NewRuleFactory().ParseRule([]byte(`{"id":`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, rules.ErrRuleValidation)
}

func TestParseRuleSet_ReportsEveryBadRule(t *testing.T) {
	_, err := factory.NewRuleFactory().ParseRuleSet([]byte(`[
		{"id":"ok","component_code":"c","component_type":"earning","rule_type":"fixed","formula_config":{"amount":1},"effective_from":"2024-04-01"},
		{"id":"bad-1","component_code":"c","component_type":"earning","rule_type":"fixed","formula_config":{"amount":-1},"effective_from":"2024-04-01"},
		{"id":"bad-2","component_code":"","component_type":"earning","rule_type":"fixed","formula_config":{"amount":1},"effective_from":"2024-04-01"}
	]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 1:")
	assert.Contains(t, err.Error(), "rule 2:")
	assert.NotContains(t, err.Error(), "rule 0:")
}

// =============================================================================
// ENCODING
// =============================================================================

func TestToJSON_RoundTripsEveryConfig(t *testing.T) {
	f := factory.NewRuleFactory()
	sources := []string{
		`{"id":"a","component_code":"hra","component_type":"earning","rule_type":"percentage","formula_config":{"percentage":40,"base":"basic"},"priority":5,"effective_from":"2024-04-01","effective_to":"2025-03-31"}`,
		`{"id":"b","component_code":"conv","component_type":"earning","rule_type":"fixed","formula_config":{"amount":1600.50},"effective_from":"2024-04-01"}`,
		`{"id":"c","company_id":"acme","component_code":"pt","component_type":"deduction","rule_type":"slab","formula_config":{"base":"monthly_gross","slabs":[{"upto_amount":25000,"value":0},{"upto_amount":null,"value":200}]},"effective_from":"2024-04-01"}`,
		`{"id":"d","component_code":"esi","component_type":"deduction","rule_type":"formula","formula_config":{"expression":"IF(monthly_gross <= 21000, gross_earnings * 0.75 / 100, 0)"},"is_system":true,"effective_from":"2024-04-01"}`,
	}

	for _, src := range sources {
		first, err := f.ParseRule([]byte(src))
		require.NoError(t, err)

		data, err := f.ToJSON(first)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		assert.Equal(t, string(first.Type()), wire["rule_type"])

		second, err := f.ParseRule(data)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.Window().String(), second.Window().String())
		assert.Equal(t, first.IsSystem, second.IsSystem)

		again, err := f.ToJSON(second)
		require.NoError(t, err)
		assert.JSONEq(t, string(data), string(again))
	}
}
