package domain

// RuleCondition is one way a rule's category can match a description.
// Required keywords must all be present; Excluded keywords disqualify the
// condition (ANY-match policy, with one category-specific exception the
// classifier documents); AnyOf requires at least one hit when non-empty.
type RuleCondition struct {
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
	Excluded []string `yaml:"excluded,omitempty" json:"excluded,omitempty"`
	AnyOf    []string `yaml:"any_of,omitempty" json:"any_of,omitempty"`
}

// ClassificationRule maps a category to the conditions under which it wins.
type ClassificationRule struct {
	Category   string          `yaml:"category" json:"category"`
	Conditions []RuleCondition `yaml:"conditions" json:"conditions"`
}

// RuleSet is the externally supplied, versioned classification
// configuration. Weights is the source of truth for valid categories: a
// category absent from it can never be a classification result. Rules are
// evaluated in declaration order.
type RuleSet struct {
	Version string               `yaml:"version" json:"version"`
	Weights map[string]float64   `yaml:"weights" json:"weights"`
	Rules   []ClassificationRule `yaml:"rules" json:"rules"`
}

// HasWeights reports whether the set can classify at all.
func (rs RuleSet) HasWeights() bool {
	return len(rs.Weights) > 0
}

// Weight looks a category up in the weight table.
func (rs RuleSet) Weight(category string) (float64, bool) {
	w, ok := rs.Weights[category]
	return w, ok
}
