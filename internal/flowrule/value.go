package flowrule

import (
	"fmt"

	"rgehrsitz/simflow/internal/session"
)

// Source names the context value a ValueRule extracts.
type Source string

const (
	SourceMessageCount   Source = "MESSAGE_COUNT"
	SourceResponseCount  Source = "USER_RESPONSE_COUNT"
	SourceHyperParameter Source = "HYPER_PARAMETER"
	SourceAlwaysTrue     Source = "ALWAYS_TRUE"
)

// ValueRule is the declarative rule: extract one context value and compare it
// numerically with a configured value. Anything non-numeric on either side
// compares false.
type ValueRule struct {
	ID       string   `validate:"required"`
	Source   Source   `validate:"oneof=MESSAGE_COUNT USER_RESPONSE_COUNT HYPER_PARAMETER ALWAYS_TRUE"`
	Field    string   `validate:"required_if=Source HYPER_PARAMETER"`
	Operator Operator `validate:"oneof== > <"`
	Value    any
	Desc     string
	Rank     int
}

func (r ValueRule) Evaluate(ctx *session.Context) (bool, error) {
	actual, err := r.extract(ctx)
	if err != nil {
		return false, err
	}
	a, ok := toFloat(actual)
	if !ok {
		return false, nil
	}
	b, ok := toFloat(r.Value)
	if !ok {
		return false, nil
	}
	switch r.Operator {
	case OpEqual:
		return a == b, nil
	case OpGreater:
		return a > b, nil
	case OpLess:
		return a < b, nil
	default:
		return false, nil
	}
}

func (r ValueRule) extract(ctx *session.Context) (any, error) {
	switch r.Source {
	case SourceMessageCount:
		return ctx.MessageCount(), nil
	case SourceResponseCount:
		return ctx.UserResponseCount(), nil
	case SourceHyperParameter:
		return ctx.HyperParameter(r.Field), nil
	case SourceAlwaysTrue:
		return true, nil
	default:
		return nil, fmt.Errorf("unknown source %q", r.Source)
	}
}

func (r ValueRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	if r.Source == SourceHyperParameter {
		return fmt.Sprintf("%s[%s] %s %v", r.Source, r.Field, r.Operator, r.Value)
	}
	return fmt.Sprintf("%s %s %v", r.Source, r.Operator, r.Value)
}

func (r ValueRule) Priority() int  { return r.Rank }
func (r ValueRule) RuleID() string { return r.ID }

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
