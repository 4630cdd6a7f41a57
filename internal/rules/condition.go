// internal/rules/condition.go

package rules

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// RuleType is a rule kind tag. Recognized tags are canonicalized on decode;
// anything else is kept verbatim so that content written for newer engines
// survives a decode and re-encode, while evaluating as a no-op here.
type RuleType string

const (
	RuleTypeUnknown      RuleType = ""
	AlwaysShow           RuleType = "ALWAYS_SHOW"
	DependsOnPrevious    RuleType = "DEPENDS_ON_PREVIOUS"
	ConditionalBranching RuleType = "CONDITIONAL_BRANCHING"
	AnswerQuality        RuleType = "ANSWER_QUALITY_RULE"
	FinalEvaluation      RuleType = "FINAL_EVALUATION"
)

var ruleTypes = []RuleType{AlwaysShow, DependsOnPrevious, ConditionalBranching, AnswerQuality, FinalEvaluation}

type ConditionType string

const (
	ConditionTypeUnknown    ConditionType = ""
	OptionSelected          ConditionType = "OPTION_SELECTED"
	HyperParameterThreshold ConditionType = "HYPERPARAMETER_THRESHOLD"
	MessageCount            ConditionType = "MESSAGE_COUNT"
	TextContains            ConditionType = "TEXT_CONTAINS"
)

var conditionTypes = []ConditionType{OptionSelected, HyperParameterThreshold, MessageCount, TextContains}

type ActionType string

const (
	ActionTypeUnknown      ActionType = ""
	IncreaseHyperParameter ActionType = "INCREASE_HYPERPARAMETER"
	DecreaseHyperParameter ActionType = "DECREASE_HYPERPARAMETER"
	SetHyperParameter      ActionType = "SET_HYPERPARAMETER"
	ShowMessage            ActionType = "SHOW_MESSAGE"
	NavigateToMessage      ActionType = "NAVIGATE_TO_MESSAGE"
	EndSimulation          ActionType = "END_SIMULATION"
)

var actionTypes = []ActionType{IncreaseHyperParameter, DecreaseHyperParameter, SetHyperParameter, ShowMessage, NavigateToMessage, EndSimulation}

// Known reports whether t is one of the rule kinds this engine evaluates.
func (t RuleType) Known() bool      { return isKnown(ruleTypes, t) }
func (t ConditionType) Known() bool { return isKnown(conditionTypes, t) }
func (t ActionType) Known() bool    { return isKnown(actionTypes, t) }

func (t RuleType) String() string      { return tagOf(t) }
func (t ConditionType) String() string { return tagOf(t) }
func (t ActionType) String() string    { return tagOf(t) }

// MarshalText writes the tag as decoded, unknown tags included.
func (t RuleType) MarshalText() ([]byte, error)      { return []byte(t), nil }
func (t ConditionType) MarshalText() ([]byte, error) { return []byte(t), nil }
func (t ActionType) MarshalText() ([]byte, error)    { return []byte(t), nil }

// UnmarshalText never fails.
func (t *RuleType) UnmarshalText(b []byte) error {
	*t = ParseRuleType(string(b))
	return nil
}

func (t *ConditionType) UnmarshalText(b []byte) error {
	*t = ParseConditionType(string(b))
	return nil
}

func (t *ActionType) UnmarshalText(b []byte) error {
	*t = ParseActionType(string(b))
	return nil
}

// ParseRuleType maps a content tag onto a RuleType.
func ParseRuleType(tag string) RuleType { return parseTag(ruleTypes, tag, "rule") }

func ParseConditionType(tag string) ConditionType {
	return parseTag(conditionTypes, tag, "condition")
}

func ParseActionType(tag string) ActionType { return parseTag(actionTypes, tag, "action") }

func isKnown[T ~string](known []T, t T) bool {
	for _, k := range known {
		if k == t {
			return true
		}
	}
	return false
}

func tagOf[T ~string](t T) string {
	if t == "" {
		return "UNKNOWN"
	}
	return string(t)
}

func parseTag[T ~string](known []T, tag, category string) T {
	raw := strings.TrimSpace(tag)
	norm := strings.ToUpper(raw)
	// NAVIGATE is accepted as shorthand for NAVIGATE_TO_MESSAGE.
	if category == "action" && norm == "NAVIGATE" {
		norm = string(NavigateToMessage)
	}
	for _, k := range known {
		if string(k) == norm {
			return k
		}
	}
	if raw != "" {
		log.Warn().Str("category", category).Str("tag", raw).Msg("Unrecognized type tag, treating as no-op")
	}
	return T(raw)
}
