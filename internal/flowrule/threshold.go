package flowrule

import (
	"fmt"
	"strings"

	"rgehrsitz/simflow/internal/session"
)

// Metric selects the integer a ThresholdRule compares.
type Metric string

const (
	MetricMessages       Metric = "messages"
	MetricResponses      Metric = "responses"
	MetricHyperParameter Metric = "hyperparameter"
)

// ThresholdRule compares a session count, or a named hyperparameter truncated
// to an integer, against a fixed threshold.
type ThresholdRule struct {
	ID        string   `validate:"required"`
	Metric    Metric   `validate:"omitempty,oneof=messages responses hyperparameter"`
	Key       string   `validate:"required_if=Metric hyperparameter"`
	Operator  Operator `validate:"oneof== > < >= <= !="`
	Threshold int
	Desc      string
	Rank      int
}

// MessageCountRule builds a threshold rule over the total message count.
func MessageCountRule(id string, op Operator, threshold int) ThresholdRule {
	return ThresholdRule{ID: id, Metric: MetricMessages, Operator: op, Threshold: threshold}
}

func (r ThresholdRule) Evaluate(ctx *session.Context) (bool, error) {
	var actual int
	switch r.Metric {
	case MetricMessages, "":
		actual = ctx.MessageCount()
	case MetricResponses:
		actual = ctx.UserResponseCount()
	case MetricHyperParameter:
		actual = int(ctx.HyperParameter(r.Key))
	default:
		return false, fmt.Errorf("unknown metric %q", r.Metric)
	}
	return compareInt(r.Operator, actual, r.Threshold)
}

func (r ThresholdRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	subject := "message count"
	switch r.Metric {
	case MetricResponses:
		subject = "response count"
	case MetricHyperParameter:
		subject = strings.TrimSpace("hyperparameter " + r.Key)
	}
	return fmt.Sprintf("%s %s %d", subject, r.Operator, r.Threshold)
}

func (r ThresholdRule) Priority() int  { return r.Rank }
func (r ThresholdRule) RuleID() string { return r.ID }
