package runtime

import (
	"fmt"

	"rgehrsitz/simflow/internal/flowrule"
	"rgehrsitz/simflow/internal/rules"
	"rgehrsitz/simflow/internal/session"
	"rgehrsitz/simflow/internal/simulation"
)

// nodeRule runs one structured rule of a node as a flowrule.FlowRule so node
// visibility goes through the engine. Unlike declarative flow rules it
// executes the actions of whatever matched, on the context it is given, and
// collects their effects into fx. It is built per evaluation and never
// shared between sessions.
type nodeRule struct {
	id        string
	rule      rules.Rule
	in        Input
	evaluator *Evaluator
	fx        *Effects
}

var _ flowrule.FlowRule = nodeRule{}

func (r nodeRule) Evaluate(ctx *session.Context) (bool, error) {
	ok, fx := r.evaluator.evaluate(r.id, r.rule, ctx, r.in)
	r.fx.merge(fx)
	return ok, nil
}

func (r nodeRule) Description() string {
	if r.rule.Description != "" {
		return r.rule.Description
	}
	return r.rule.Type.String()
}

func (r nodeRule) Priority() int  { return 0 }
func (r nodeRule) RuleID() string { return r.id }

// nodeRules adapts the structured rules of n, in order.
func (e *Evaluator) nodeRules(n simulation.Node, in Input, fx *Effects) []flowrule.FlowRule {
	out := make([]flowrule.FlowRule, 0, len(n.Rules))
	for i, rule := range n.Rules {
		out = append(out, nodeRule{
			id:        fmt.Sprintf("node:%d/rule:%d:%s", n.ID, i, rule.Type),
			rule:      rule,
			in:        in,
			evaluator: e,
			fx:        fx,
		})
	}
	return out
}
