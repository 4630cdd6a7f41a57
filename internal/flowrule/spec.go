package flowrule

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSpec = errors.New("invalid rule spec")

// Kind names the FlowRule a Spec builds.
type Kind string

const (
	KindThreshold Kind = "threshold"
	KindValue     Kind = "value"
	KindTime      Kind = "time"
	KindResponse  Kind = "response"
	KindAll       Kind = "all"
	KindAny       Kind = "any"
	KindNot       Kind = "not"
	KindOneOf     Kind = "one_of"
)

// Spec is the document form of a FlowRule, as authored under a node's
// "gates". Only the fields of its Kind are read.
type Spec struct {
	Kind        Kind     `json:"kind" yaml:"kind"`
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	Operator    Operator `json:"operator,omitempty" yaml:"operator,omitempty"`

	// threshold
	Metric    Metric `json:"metric,omitempty" yaml:"metric,omitempty"`
	Key       string `json:"key,omitempty" yaml:"key,omitempty"`
	Threshold int64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	// value
	Source Source `json:"source,omitempty" yaml:"source,omitempty"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`

	// time; Threshold, Min and Max are in the measure's unit
	Measure TimeMeasure `json:"measure,omitempty" yaml:"measure,omitempty"`
	Min     int64       `json:"min,omitempty" yaml:"min,omitempty"`
	Max     int64       `json:"max,omitempty" yaml:"max,omitempty"`
	Warn    bool        `json:"warn,omitempty" yaml:"warn,omitempty"`

	// response
	Node     int64     `json:"node,omitempty" yaml:"node,omitempty"`
	Expected []string  `json:"expected,omitempty" yaml:"expected,omitempty"`
	Match    MatchType `json:"match,omitempty" yaml:"match,omitempty"`

	// all, any, not, one_of
	Rules []Spec `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Build turns s into a FlowRule. Rules without an id are named after
// defaultID, and children after their parent and position. The built rule is
// checked with Validate; any error-level issue fails the build.
func (s Spec) Build(defaultID string) (FlowRule, error) {
	rule, err := s.build(defaultID)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, is := range Validate(rule) {
		if is.Severity == SeverityError {
			errs = append(errs, fmt.Errorf("%s: %s", is.Code, is.Message))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSpec, rule.RuleID(), errors.Join(errs...))
	}
	return rule, nil
}

func (s Spec) build(defaultID string) (FlowRule, error) {
	id := s.ID
	if id == "" {
		id = defaultID
	}
	kind := Kind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
	switch kind {
	case KindThreshold:
		return ThresholdRule{ID: id, Metric: s.Metric, Key: s.Key, Operator: s.Operator, Threshold: int(s.Threshold), Desc: s.Description, Rank: s.Priority}, nil
	case KindValue:
		return ValueRule{ID: id, Source: s.Source, Field: s.Key, Operator: s.Operator, Value: s.Value, Desc: s.Description, Rank: s.Priority}, nil
	case KindTime:
		return TimeRule{ID: id, Measure: s.Measure, Operator: s.Operator, Threshold: s.Threshold, Min: s.Min, Max: s.Max, Warn: s.Warn, Desc: s.Description, Rank: s.Priority}, nil
	case KindResponse:
		return ResponseRule{ID: id, NodeID: s.Node, Expected: s.Expected, Match: s.Match, Desc: s.Description, Rank: s.Priority}, nil
	case KindAll, KindAny, KindOneOf:
		children, err := buildChildren(id, s.Rules)
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindAll:
			return AllRule{ID: id, Rules: children, Desc: s.Description, Rank: s.Priority}, nil
		case KindAny:
			return AnyRule{ID: id, Rules: children, Desc: s.Description, Rank: s.Priority}, nil
		default:
			return OneOfRule{ID: id, Rules: children, Desc: s.Description, Rank: s.Priority}, nil
		}
	case KindNot:
		if len(s.Rules) != 1 {
			return nil, fmt.Errorf("%w %q: not takes exactly one rule, got %d", ErrInvalidSpec, id, len(s.Rules))
		}
		children, err := buildChildren(id, s.Rules)
		if err != nil {
			return nil, err
		}
		return NotRule{ID: id, Rule: children[0], Desc: s.Description, Rank: s.Priority}, nil
	default:
		return nil, fmt.Errorf("%w %q: unknown kind %q", ErrInvalidSpec, id, s.Kind)
	}
}

func buildChildren(parentID string, specs []Spec) ([]FlowRule, error) {
	out := make([]FlowRule, 0, len(specs))
	for i, cs := range specs {
		child, err := cs.build(fmt.Sprintf("%s.%d", parentID, i))
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// BuildAll builds every spec, naming unnamed ones prefix:index.
func BuildAll(prefix string, specs []Spec) ([]FlowRule, error) {
	out := make([]FlowRule, 0, len(specs))
	var errs []error
	for i, s := range specs {
		rule, err := s.Build(fmt.Sprintf("%s:%d", prefix, i))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rule)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
