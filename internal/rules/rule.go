// internal/rules/rule.go

package rules

// Rule is a structured flow rule attached to a node. It decides whether the
// node is shown and which actions run when it matches.
type Rule struct {
	Type              RuleType    `json:"type" yaml:"type"`
	Description       string      `json:"description,omitempty" yaml:"description,omitempty"`
	PreviousMessageID *int64      `json:"previous_message_id,omitempty" yaml:"previous_message_id,omitempty"`
	Conditions        []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions           []Action    `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Condition is one predicate inside a rule. Only the fields relevant to its
// Type are read.
type Condition struct {
	Type     ConditionType `json:"type" yaml:"type"`
	OptionID string        `json:"option_id,omitempty" yaml:"option_id,omitempty"`
	Key      string        `json:"key,omitempty" yaml:"key,omitempty"`
	MinValue *float64      `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue *float64      `json:"max_value,omitempty" yaml:"max_value,omitempty"`
	Text     string        `json:"text,omitempty" yaml:"text,omitempty"`
	Actions  []Action      `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Action is a side effect executed when a rule or condition matches.
type Action struct {
	Type            ActionType `json:"type" yaml:"type"`
	Key             string     `json:"key,omitempty" yaml:"key,omitempty"`
	Value           float64    `json:"value,omitempty" yaml:"value,omitempty"`
	Message         string     `json:"message,omitempty" yaml:"message,omitempty"`
	TargetMessageID *int64     `json:"target_message_id,omitempty" yaml:"target_message_id,omitempty"`
}

// Float returns a pointer to v, for building optional thresholds.
func Float(v float64) *float64 {
	return &v
}

// ID returns a pointer to v, for building optional message references.
func ID(v int64) *int64 {
	return &v
}
