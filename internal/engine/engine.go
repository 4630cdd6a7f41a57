// internal/engine/engine.go

package engine

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/flowrule"
	"rgehrsitz/simflow/internal/monitor"
	"rgehrsitz/simflow/internal/session"
)

// Engine evaluates collections of flow rules. A rule that returns an error or
// panics is isolated: AND evaluation fails closed, OR evaluation skips it.
type Engine struct {
	monitor *monitor.Monitor
}

type Option func(*Engine)

// WithMonitor records every rule evaluation on m.
func WithMonitor(m *monitor.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateAll is true only if every rule evaluates true. The first false
// result or failure stops evaluation. An empty list is true.
func (e *Engine) EvaluateAll(rules []flowrule.FlowRule, ctx *session.Context) bool {
	if len(rules) == 0 {
		log.Debug().Msg("No rules provided, defaulting to true")
		return true
	}
	for _, rule := range rules {
		ok, err := e.evaluate(rule, ctx)
		if err != nil {
			log.Error().Err(err).Str("rule_id", rule.RuleID()).Msg("Error evaluating rule, failing closed")
			return false
		}
		log.Debug().Str("rule_id", rule.RuleID()).Str("description", rule.Description()).Bool("result", ok).Msg("Rule evaluated")
		if !ok {
			log.Debug().Str("rule_id", rule.RuleID()).Msg("Rule failed, short-circuiting evaluation")
			return false
		}
	}
	log.Debug().Int("count", len(rules)).Msg("All rules passed")
	return true
}

// EvaluateAny is true if at least one rule evaluates true. Failing rules are
// logged and skipped. An empty list is false.
func (e *Engine) EvaluateAny(rules []flowrule.FlowRule, ctx *session.Context) bool {
	if len(rules) == 0 {
		log.Debug().Msg("No rules provided, defaulting to false for OR evaluation")
		return false
	}
	for _, rule := range rules {
		ok, err := e.evaluate(rule, ctx)
		if err != nil {
			log.Error().Err(err).Str("rule_id", rule.RuleID()).Msg("Error evaluating rule, continuing")
			continue
		}
		if ok {
			log.Debug().Str("rule_id", rule.RuleID()).Msg("Rule passed, short-circuiting OR evaluation")
			return true
		}
	}
	log.Debug().Int("count", len(rules)).Msg("No rules passed")
	return false
}

// FindFirstPassing returns the highest-priority rule that evaluates true.
// Rules with equal priority keep their original order.
func (e *Engine) FindFirstPassing(rules []flowrule.FlowRule, ctx *session.Context) (flowrule.FlowRule, bool) {
	for _, rule := range prioritize(rules) {
		ok, err := e.evaluate(rule, ctx)
		if err != nil {
			log.Error().Err(err).Str("rule_id", rule.RuleID()).Msg("Error evaluating rule")
			continue
		}
		if ok {
			log.Debug().Str("rule_id", rule.RuleID()).Str("description", rule.Description()).Msg("First passing rule")
			return rule, true
		}
	}
	return nil, false
}

// EvaluateSafe evaluates one rule, treating any failure as false.
func (e *Engine) EvaluateSafe(rule flowrule.FlowRule, ctx *session.Context) bool {
	ok, err := e.evaluate(rule, ctx)
	if err != nil {
		log.Error().Err(err).Str("rule_id", rule.RuleID()).Msg("Error evaluating rule")
		return false
	}
	log.Debug().Str("rule_id", rule.RuleID()).Bool("result", ok).Msg("Rule evaluated")
	return ok
}

// prioritize returns a copy of rules sorted by descending priority.
func prioritize(rules []flowrule.FlowRule) []flowrule.FlowRule {
	sorted := make([]flowrule.FlowRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return sorted
}

// evaluate runs one rule, converting panics into *flowrule.EvalError and
// recording the outcome on the monitor when one is attached.
func (e *Engine) evaluate(rule flowrule.FlowRule, ctx *session.Context) (ok bool, err error) {
	var timer *monitor.Timer
	if e.monitor != nil {
		timer = e.monitor.Start(rule.RuleID())
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = &flowrule.EvalError{RuleID: rule.RuleID(), Err: fmt.Errorf("panic: %v", r)}
		}
		if timer == nil {
			return
		}
		if err != nil {
			timer.Fail(err)
		} else {
			timer.Success()
		}
	}()

	ok, err = rule.Evaluate(ctx)
	if err != nil {
		err = &flowrule.EvalError{RuleID: rule.RuleID(), Err: err}
	}
	return ok, err
}
