package flowrule

import (
	"errors"
	"fmt"
	"strings"

	"rgehrsitz/simflow/internal/session"
)

// AllRule holds when every child holds. It stops at the first child that
// fails or errors; an empty AllRule holds.
type AllRule struct {
	ID    string `validate:"required"`
	Rules []FlowRule
	Desc  string
	Rank  int
}

// AnyRule holds when at least one child holds. Children that error are
// skipped; their errors are returned only when no child held.
type AnyRule struct {
	ID    string `validate:"required"`
	Rules []FlowRule
	Desc  string
	Rank  int
}

// NotRule negates its child. Errors are not negated.
type NotRule struct {
	ID   string   `validate:"required"`
	Rule FlowRule `validate:"required"`
	Desc string
	Rank int
}

// OneOfRule holds when exactly one child holds.
type OneOfRule struct {
	ID    string `validate:"required"`
	Rules []FlowRule
	Desc  string
	Rank  int
}

func (r AllRule) Evaluate(ctx *session.Context) (bool, error) {
	for _, child := range r.Rules {
		ok, err := child.Evaluate(ctx)
		if err != nil {
			return false, fmt.Errorf("%s: %w", child.RuleID(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (r AnyRule) Evaluate(ctx *session.Context) (bool, error) {
	var errs []error
	for _, child := range r.Rules {
		ok, err := child.Evaluate(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.RuleID(), err))
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

func (r NotRule) Evaluate(ctx *session.Context) (bool, error) {
	if r.Rule == nil {
		return false, errors.New("not rule has no child")
	}
	ok, err := r.Rule.Evaluate(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", r.Rule.RuleID(), err)
	}
	return !ok, nil
}

func (r OneOfRule) Evaluate(ctx *session.Context) (bool, error) {
	held := 0
	for _, child := range r.Rules {
		ok, err := child.Evaluate(ctx)
		if err != nil {
			return false, fmt.Errorf("%s: %w", child.RuleID(), err)
		}
		if ok {
			held++
		}
	}
	return held == 1, nil
}

func describe(op string, children []FlowRule) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, c.Description())
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

func (r AllRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	return describe("AND", r.Rules)
}

func (r AnyRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	return describe("OR", r.Rules)
}

func (r NotRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	if r.Rule == nil {
		return "NOT ()"
	}
	return "NOT (" + r.Rule.Description() + ")"
}

func (r OneOfRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	return describe("XOR", r.Rules)
}

func (r AllRule) Priority() int   { return r.Rank }
func (r AnyRule) Priority() int   { return r.Rank }
func (r NotRule) Priority() int   { return r.Rank }
func (r OneOfRule) Priority() int { return r.Rank }

func (r AllRule) RuleID() string   { return r.ID }
func (r AnyRule) RuleID() string   { return r.ID }
func (r NotRule) RuleID() string   { return r.ID }
func (r OneOfRule) RuleID() string { return r.ID }

// children returns the direct sub-rules of composite rules.
func children(rule FlowRule) []FlowRule {
	switch r := rule.(type) {
	case AllRule:
		return r.Rules
	case AnyRule:
		return r.Rules
	case OneOfRule:
		return r.Rules
	case NotRule:
		if r.Rule != nil {
			return []FlowRule{r.Rule}
		}
	}
	return nil
}
