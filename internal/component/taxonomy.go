package component

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Rule assigns a kind to any field whose lower-cased name contains one of Patterns.
type Rule struct {
	Kind     Kind     `json:"kind"`
	Patterns []string `json:"patterns"`
}

// Taxonomy is an ordered rule list; the first matching rule wins.
type Taxonomy struct {
	rules []Rule
}

// DefaultTaxonomy returns the built-in plant vocabulary.
func DefaultTaxonomy() *Taxonomy {
	t, _ := NewTaxonomy([]Rule{
		{Kind: Lights, Patterns: []string{"light"}},
		{Kind: Machines, Patterns: []string{"machine", "motor"}},
		{Kind: HVAC, Patterns: []string{"hvac", "cooling", "aircon", "air_cond"}},
		{Kind: ExhaustFan, Patterns: []string{"exhaust", "fan"}},
		{Kind: Office, Patterns: []string{"office"}},
		{Kind: Laser, Patterns: []string{"laser"}},
	})
	return t
}

// NewTaxonomy validates rules and keeps their order.
func NewTaxonomy(rules []Rule) (*Taxonomy, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if _, err := ParseKind(string(r.Kind)); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if r.Kind == Unclassified {
			return nil, fmt.Errorf("rule %d: %s cannot be targeted by a rule", i, Unclassified)
		}
		patterns := make([]string, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no patterns", i, r.Kind)
		}
		out = append(out, Rule{Kind: r.Kind, Patterns: patterns})
	}
	return &Taxonomy{rules: out}, nil
}

// LoadTaxonomy reads a JSON array of rules from path.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file: %w", err)
	}
	return NewTaxonomy(rules)
}

// Classify maps a field name to a kind. ok is false when no rule matches.
func (t *Taxonomy) Classify(field string) (Kind, bool) {
	lower := strings.ToLower(field)
	for _, r := range t.rules {
		for _, p := range r.Patterns {
			if strings.Contains(lower, p) {
				return r.Kind, true
			}
		}
	}
	return Unclassified, false
}

// Rules returns a copy of the rule table.
func (t *Taxonomy) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}
