package factory

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/rules"
)

// ParseRuleSetYAML parses a YAML sequence of rules using the JSON field
// names. The document is normalized to JSON and goes through
// ParseRuleSet, so both formats share one validation path.
func (f *RuleFactory) ParseRuleSetYAML(data []byte) ([]rules.Rule, error) {
	var doc []map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule set YAML: %w", err)
	}

	items := make([]any, len(doc))
	for i, m := range doc {
		items[i] = normalizeYAML(m)
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("convert rule set YAML: %w", err)
	}
	return f.ParseRuleSet(raw)
}

// normalizeYAML turns YAML-only shapes into JSON-encodable ones. Explicit
// !!timestamp values become dates, .inf becomes "Infinity" and non-string
// keys become strings.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case time.Time:
		return t.Format(rules.DateLayout)
	case float64:
		if math.IsInf(t, 1) {
			return rules.Infinity
		}
	}
	return v
}
