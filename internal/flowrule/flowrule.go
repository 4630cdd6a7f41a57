// Package flowrule defines the evaluable flow-control rule abstraction, its
// count, value, time and response based variants, composites over other
// rules, and the declarative Spec that simulation documents use to describe
// them.
package flowrule

import (
	"errors"
	"fmt"

	"rgehrsitz/simflow/internal/session"
)

// FlowRule is a unit of flow control evaluated against a session.
//
// Evaluate must depend only on the context and the rule's own configuration.
// The same rule value may be evaluated concurrently against different
// contexts. A returned error means the rule itself failed, which is distinct
// from evaluating to false.
type FlowRule interface {
	Evaluate(ctx *session.Context) (bool, error)
	Description() string
	// Priority orders rules for first-match selection; higher runs first.
	Priority() int
	RuleID() string
}

var ErrUnknownOperator = errors.New("unknown operator")

// EvalError wraps a failure raised while evaluating a rule.
type EvalError struct {
	RuleID string
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.RuleID, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Operator is a numeric comparison.
type Operator string

const (
	OpEqual          Operator = "="
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpNotEqual       Operator = "!="
	// OpBetween is an inclusive range test, used by TimeRule.
	OpBetween Operator = "between"
)

func compareInt[T int | int64](op Operator, actual, threshold T) (bool, error) {
	switch op {
	case OpEqual:
		return actual == threshold, nil
	case OpGreater:
		return actual > threshold, nil
	case OpLess:
		return actual < threshold, nil
	case OpGreaterOrEqual:
		return actual >= threshold, nil
	case OpLessOrEqual:
		return actual <= threshold, nil
	case OpNotEqual:
		return actual != threshold, nil
	default:
		return false, fmt.Errorf("%w %q", ErrUnknownOperator, op)
	}
}
