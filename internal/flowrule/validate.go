package flowrule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/session"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Issue is a single validation finding.
type Issue struct {
	Severity Severity
	Code     string
	Message  string
}

// SetResult is the outcome of validating a collection of rules.
type SetResult struct {
	Valid        bool
	GlobalIssues []Issue
	RuleIssues   map[string][]Issue
	TotalRules   int
	ValidRules   int
}

// TestResult captures a dry-run evaluation of one rule.
type TestResult struct {
	RuleID  string
	Result  bool
	Elapsed time.Duration
	Err     error
}

// complexRuleThreshold is the rule count above which a set is flagged as
// expensive to evaluate on every user action.
const complexRuleThreshold = 50

var validate = validator.New()

// Validate checks a single rule's identity and configuration.
func Validate(rule FlowRule) []Issue {
	if rule == nil {
		return []Issue{{Severity: SeverityError, Code: "RULE_NULL", Message: "rule cannot be nil"}}
	}

	var issues []Issue
	if strings.TrimSpace(rule.RuleID()) == "" {
		issues = append(issues, Issue{Severity: SeverityError, Code: "MISSING_RULE_ID", Message: "rule must have a valid id"})
	}

	switch r := rule.(type) {
	case ThresholdRule, ValueRule, TimeRule, ResponseRule:
		issues = append(issues, structIssues(r)...)
	case NotRule:
		if r.Rule == nil {
			issues = append(issues, Issue{Severity: SeverityError, Code: "MISSING_CHILD", Message: "not rule needs a child rule"})
		}
	case AllRule, AnyRule, OneOfRule:
		if len(children(r)) == 0 {
			issues = append(issues, Issue{Severity: SeverityWarning, Code: "EMPTY_COMPOSITE", Message: "composite rule has no children"})
		}
	}
	for _, child := range children(rule) {
		for _, is := range Validate(child) {
			is.Message = fmt.Sprintf("%s: %s", rule.RuleID(), is.Message)
			issues = append(issues, is)
		}
	}

	if strings.TrimSpace(rule.Description()) == "" {
		issues = append(issues, Issue{Severity: SeverityWarning, Code: "MISSING_DESCRIPTION", Message: "rule has no description"})
	}
	return issues
}

func structIssues(rule any) []Issue {
	err := validate.Struct(rule)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Severity: SeverityError, Code: "VALIDATION_EXCEPTION", Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     "INVALID_" + strings.ToUpper(fe.Field()),
			Message:  fmt.Sprintf("field %s failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value()),
		})
	}
	return issues
}

// ValidateSet validates every rule and checks cross-rule consistency.
func ValidateSet(rules []FlowRule) SetResult {
	res := SetResult{RuleIssues: make(map[string][]Issue), TotalRules: len(rules)}

	seen := make(map[string]bool)
	for i, rule := range rules {
		key := fmt.Sprintf("unknown_%d", i)
		if rule != nil && rule.RuleID() != "" {
			key = rule.RuleID()
			if seen[key] {
				res.GlobalIssues = append(res.GlobalIssues, Issue{Severity: SeverityError, Code: "DUPLICATE_RULE_ID", Message: "duplicate rule id: " + key})
				key = fmt.Sprintf("%s_%d", key, i)
			}
			seen[rule.RuleID()] = true
		}
		issues := Validate(rule)
		res.RuleIssues[key] = issues
		if !hasErrors(issues) {
			res.ValidRules++
		}
	}

	if len(rules) > complexRuleThreshold {
		res.GlobalIssues = append(res.GlobalIssues, Issue{
			Severity: SeverityWarning,
			Code:     "LARGE_RULE_SET",
			Message:  fmt.Sprintf("%d rules are evaluated on every action", len(rules)),
		})
	}

	res.Valid = !hasErrors(res.GlobalIssues) && res.ValidRules == res.TotalRules
	return res
}

func hasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Test evaluates rule against ctx without affecting any shared state and
// reports the outcome, timing and failure.
func Test(rule FlowRule, ctx *session.Context) (res TestResult) {
	res.RuleID = rule.RuleID()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Result = false
			res.Err = &EvalError{RuleID: res.RuleID, Err: fmt.Errorf("panic: %v", r)}
		}
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("rule_id", res.RuleID).Msg("Rule test failed")
		}
	}()

	res.Result, res.Err = rule.Evaluate(ctx)
	return res
}

// TestAll runs Test for each rule in order.
func TestAll(rules []FlowRule, ctx *session.Context) []TestResult {
	out := make([]TestResult, 0, len(rules))
	for _, r := range rules {
		out = append(out, Test(r, ctx))
	}
	return out
}
