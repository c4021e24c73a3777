// Package extraction parses downloaded quote PDFs into structured plan/value
// pairs using provider-specific anchor rules.
package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

// FieldRule anchors one plan value: the patterns are tried in order and the
// first match wins; capture group 1 holds the raw value.
type FieldRule struct {
	Plan     string   `json:"plan"`
	Patterns []string `json:"patterns"`
}

// TableRule matches a tabular plan listing where a single line carries the
// values of all plans in declaration order (the Allianz "Prima Total
// Vigencia" row). Capture group i maps to Plans[i-1].
type TableRule struct {
	Patterns []string `json:"patterns"`
	Plans    []string `json:"plans"`
}

// RuleSet is one provider's extraction configuration. Providers emit
// differently laid-out PDFs, so rule sets are versioned configuration data,
// not code.
type RuleSet struct {
	ProviderID string      `json:"provider"`
	Table      *TableRule  `json:"table,omitempty"`
	Fields     []FieldRule `json:"fields"`

	compiled bool
	tableRe  []*regexp.Regexp
	fieldRe  map[string][]*regexp.Regexp
}

// ruleSetSchema validates rule set JSON before it is compiled, so a broken
// provider file fails at load time with a field-level message.
const ruleSetSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["provider", "fields"],
	"properties": {
		"provider": {"type": "string", "minLength": 1},
		"table": {
			"type": "object",
			"required": ["patterns", "plans"],
			"properties": {
				"patterns": {"type": "array", "items": {"type": "string"}, "minItems": 1},
				"plans": {"type": "array", "items": {"type": "string"}, "minItems": 1}
			}
		},
		"fields": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["plan", "patterns"],
				"properties": {
					"plan": {"type": "string", "minLength": 1},
					"patterns": {"type": "array", "items": {"type": "string"}, "minItems": 1}
				}
			}
		}
	}
}`

// LoadRuleSet parses and compiles a rule set from JSON.
func LoadRuleSet(data []byte) (*RuleSet, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(ruleSetSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate rule set: %w", err)
	}
	if !result.Valid() {
		msgs := ""
		for _, desc := range result.Errors() {
			if msgs != "" {
				msgs += "; "
			}
			msgs += desc.String()
		}
		return nil, fmt.Errorf("invalid rule set: %s", msgs)
	}

	var rules RuleSet
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}
	if err := rules.compile(); err != nil {
		return nil, err
	}
	return &rules, nil
}

func (r *RuleSet) compile() error {
	r.fieldRe = make(map[string][]*regexp.Regexp, len(r.Fields))
	for _, field := range r.Fields {
		for _, pattern := range field.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return fmt.Errorf("rule set %s, plan %q: bad pattern %q: %w", r.ProviderID, field.Plan, pattern, err)
			}
			r.fieldRe[field.Plan] = append(r.fieldRe[field.Plan], re)
		}
	}
	if r.Table != nil {
		for _, pattern := range r.Table.Patterns {
			re, err := regexp.Compile("(?is)" + pattern)
			if err != nil {
				return fmt.Errorf("rule set %s: bad table pattern %q: %w", r.ProviderID, pattern, err)
			}
			r.tableRe = append(r.tableRe, re)
		}
		if len(r.Table.Plans) > 0 {
			for _, re := range r.tableRe {
				if re.NumSubexp() < len(r.Table.Plans) {
					return fmt.Errorf("rule set %s: table pattern %q captures %d values for %d plans",
						r.ProviderID, re.String(), re.NumSubexp(), len(r.Table.Plans))
				}
			}
		}
	}
	r.compiled = true
	return nil
}

// PlanNames returns every plan the rule set can produce, table plans first.
// A plan listed both in the table and as a field fallback appears once.
func (r *RuleSet) PlanNames() []string {
	var names []string
	seen := make(map[string]bool)
	add := func(plan string) {
		if !seen[plan] {
			seen[plan] = true
			names = append(names, plan)
		}
	}
	if r.Table != nil {
		for _, plan := range r.Table.Plans {
			add(plan)
		}
	}
	for _, field := range r.Fields {
		add(field.Plan)
	}
	return names
}
