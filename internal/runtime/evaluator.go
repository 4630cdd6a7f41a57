// internal/runtime/evaluator.go

package runtime

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/monitor"
	"rgehrsitz/simflow/internal/rules"
	"rgehrsitz/simflow/internal/session"
)

// Input is what the user supplied with the action being evaluated.
type Input struct {
	OptionID string
	Answer   string
}

// Effects collects the non-score outcomes of executed actions.
type Effects struct {
	Show       []string
	NavigateTo *int64
	End        bool
}

func (e *Effects) merge(o Effects) {
	e.Show = append(e.Show, o.Show...)
	if o.NavigateTo != nil {
		e.NavigateTo = o.NavigateTo
	}
	e.End = e.End || o.End
}

// Evaluator interprets structured rules against a session and executes the
// actions of whatever matched.
type Evaluator struct {
	monitor *monitor.Monitor
}

type EvaluatorOption func(*Evaluator)

func WithMonitor(m *monitor.Monitor) EvaluatorOption {
	return func(e *Evaluator) { e.monitor = m }
}

func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateRule reports whether rule matches, executing matched actions.
func (e *Evaluator) EvaluateRule(rule rules.Rule, ctx *session.Context, selectedOptionID, answer string) bool {
	ok, _ := e.Evaluate("", rule, ctx, Input{OptionID: selectedOptionID, Answer: answer})
	return ok
}

// Evaluate is EvaluateRule returning the collected effects. ruleID names the
// rule on the monitor; it defaults to the rule type tag.
func (e *Evaluator) Evaluate(ruleID string, rule rules.Rule, ctx *session.Context, in Input) (ok bool, fx Effects) {
	if ruleID == "" {
		ruleID = rule.Type.String()
	}
	var timer *monitor.Timer
	if e.monitor != nil {
		timer = e.monitor.Start(ruleID)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("rule_id", ruleID).Str("panic", fmt.Sprint(r)).Msg("Rule evaluation panicked")
			ok, fx = false, Effects{}
			if timer != nil {
				timer.Error(fmt.Sprintf("panic: %v", r))
			}
			return
		}
		if timer != nil {
			timer.Success()
		}
	}()
	return e.evaluate(ruleID, rule, ctx, in)
}

// evaluate is Evaluate without telemetry or panic recovery, for callers such
// as the engine that provide both.
func (e *Evaluator) evaluate(ruleID string, rule rules.Rule, ctx *session.Context, in Input) (bool, Effects) {
	var fx Effects
	log.Debug().Str("rule_id", ruleID).Stringer("type", rule.Type).Msg("Evaluating rule")

	switch rule.Type {
	case rules.AlwaysShow:
		return true, fx

	case rules.DependsOnPrevious:
		// Ordering against the previous node is enforced by flow traversal.
		return true, fx

	case rules.ConditionalBranching:
		return e.evaluateBranching(rule, ctx, in.OptionID)

	case rules.AnswerQuality:
		// Any non-blank answer is accepted until answers are graded.
		if strings.TrimSpace(in.Answer) == "" {
			return false, fx
		}
		return true, e.ExecuteActions(rule.Actions, ctx)

	case rules.FinalEvaluation:
		return e.evaluateFinal(rule, ctx), fx

	default:
		log.Warn().Str("rule_id", ruleID).Stringer("type", rule.Type).Msg("Unknown rule type")
		return false, fx
	}
}

func (e *Evaluator) evaluateBranching(rule rules.Rule, ctx *session.Context, optionID string) (bool, Effects) {
	if optionID == "" {
		return false, Effects{}
	}
	for _, cond := range rule.Conditions {
		if cond.Type == rules.OptionSelected && cond.OptionID == optionID {
			return true, e.ExecuteActions(cond.Actions, ctx)
		}
	}
	return false, Effects{}
}

func (e *Evaluator) evaluateFinal(rule rules.Rule, ctx *session.Context) bool {
	for _, cond := range rule.Conditions {
		if cond.Type != rules.HyperParameterThreshold {
			continue
		}
		current := ctx.HyperParameter(cond.Key)
		if cond.MinValue != nil && current < *cond.MinValue {
			log.Debug().Str("key", cond.Key).Float64("value", current).Float64("min", *cond.MinValue).Msg("Hyperparameter below minimum threshold")
			return false
		}
		if cond.MaxValue != nil && current > *cond.MaxValue {
			log.Debug().Str("key", cond.Key).Float64("value", current).Float64("max", *cond.MaxValue).Msg("Hyperparameter above maximum threshold")
			return false
		}
	}
	log.Debug().Msg("All final conditions met")
	return true
}

// ExecuteActions applies actions in order. Unknown action types are skipped.
func (e *Evaluator) ExecuteActions(actions []rules.Action, ctx *session.Context) Effects {
	var fx Effects
	for _, a := range actions {
		fx.merge(e.executeAction(a, ctx))
	}
	return fx
}

func (e *Evaluator) executeAction(a rules.Action, ctx *session.Context) Effects {
	switch a.Type {
	case rules.IncreaseHyperParameter, rules.DecreaseHyperParameter, rules.SetHyperParameter:
		if a.Key == "" {
			log.Warn().Stringer("action", a.Type).Msg("Hyperparameter action without key")
			return Effects{}
		}
		old := ctx.HyperParameter(a.Key)
		var next float64
		switch a.Type {
		case rules.IncreaseHyperParameter:
			next = old + a.Value
		case rules.DecreaseHyperParameter:
			next = max(0, old-a.Value)
		default:
			next = a.Value
		}
		ctx.SetHyperParameter(a.Key, next)
		log.Info().Stringer("action", a.Type).Str("key", a.Key).Float64("from", old).Float64("to", next).Msg("Hyperparameter changed")
		return Effects{}

	case rules.ShowMessage:
		if a.Message == "" {
			return Effects{}
		}
		return Effects{Show: []string{a.Message}}

	case rules.NavigateToMessage:
		if a.TargetMessageID == nil {
			log.Warn().Msg("Navigate action without target")
			return Effects{}
		}
		target := *a.TargetMessageID
		return Effects{NavigateTo: &target}

	case rules.EndSimulation:
		ctx.MarkCompleted()
		return Effects{End: true}

	default:
		log.Warn().Stringer("action", a.Type).Msg("Unknown action type")
		return Effects{}
	}
}
