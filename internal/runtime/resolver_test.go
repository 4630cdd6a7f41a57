package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/simflow/internal/detection"
	"rgehrsitz/simflow/internal/engine"
	"rgehrsitz/simflow/internal/flowrule"
	"rgehrsitz/simflow/internal/monitor"
	"rgehrsitz/simflow/internal/rules"
	"rgehrsitz/simflow/internal/session"
	"rgehrsitz/simflow/internal/simulation"
)

func num(v int64) *int64 { return &v }

func ids(nodes []simulation.Node) []int64 {
	out := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func legacySimulation() *simulation.Simulation {
	return &simulation.Simulation{Name: "legacy", NodeList: []simulation.Node{
		{ID: 1, OrderNumber: num(1), PreviousOrderNumber: num(0), Predicate: "true", MessageType: simulation.Text},
		{ID: 2, OrderNumber: num(2), PreviousOrderNumber: num(1), Predicate: "false"},
		{ID: 3, OrderNumber: num(2), PreviousOrderNumber: num(1), Predicate: " 1 "},
		{ID: 4, OrderNumber: num(3), PreviousOrderNumber: num(2), Predicate: `saveChatValue["empathy", 1]`},
		{ID: 5, OrderNumber: num(3), PreviousOrderNumber: num(2)},
	}}
}

func branch(option string, actions ...rules.Action) []rules.Rule {
	return []rules.Rule{{
		Type:       rules.ConditionalBranching,
		Conditions: []rules.Condition{{Type: rules.OptionSelected, OptionID: option, Actions: actions}},
	}}
}

func modernSimulation() *simulation.Simulation {
	return &simulation.Simulation{Name: "modern", NodeList: []simulation.Node{
		{ID: 1, MessageType: simulation.SingleChoiceQuestion, Text: "How do you respond?",
			Options: []simulation.Option{{ID: "optA"}, {ID: "optB"}, {ID: "optC"}}},
		{ID: 2, PreviousMessageIDs: []int64{1}, Text: "A", Rules: branch("optA",
			rules.Action{Type: rules.IncreaseHyperParameter, Key: "empathy", Value: 1})},
		{ID: 3, PreviousMessageIDs: []int64{1}, Text: "B", Rules: branch("optB",
			rules.Action{Type: rules.DecreaseHyperParameter, Key: "empathy", Value: 1})},
		{ID: 4, PreviousMessageIDs: []int64{1}, Text: "C", Rules: branch("optC",
			rules.Action{Type: rules.NavigateToMessage, TargetMessageID: num(9)})},
		{ID: 5, PreviousMessageIDs: []int64{1}, Text: "Goodbye", Rules: branch("optC",
			rules.Action{Type: rules.EndSimulation})},
		{ID: 9, PreviousMessageIDs: []int64{8}, Text: "Jumped"},
	}}
}

func TestResolver_LegacyOrderTraversal(t *testing.T) {
	r := NewResolver()
	sim := legacySimulation()
	sc := session.New()

	res, err := r.Next(context.Background(), sim, sc, Action{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(res.Visible))

	res, err = r.Next(context.Background(), sim, sc, Action{NodeID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(res.Visible), "literal false hides node 2")

	res, err = r.Next(context.Background(), sim, sc, Action{NodeID: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids(res.Visible), "complex predicates are hidden without an evaluator")
}

func TestResolver_DelegatesComplexPredicates(t *testing.T) {
	var seen []string
	eval := PredicateFunc(func(p string, _ *session.Context) (bool, error) {
		seen = append(seen, p)
		return true, nil
	})
	r := NewResolver(WithPredicateEvaluator(eval))

	res, err := r.Next(context.Background(), legacySimulation(), session.New(), Action{NodeID: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, ids(res.Visible))
	assert.Equal(t, []string{`saveChatValue["empathy", 1]`}, seen, "literal predicates are never delegated")
}

func TestResolver_PredicateErrorHidesNode(t *testing.T) {
	eval := PredicateFunc(func(string, *session.Context) (bool, error) {
		return true, errors.New("interpreter unavailable")
	})
	r := NewResolver(WithPredicateEvaluator(eval))

	res, err := r.Next(context.Background(), legacySimulation(), session.New(), Action{NodeID: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids(res.Visible))
}

func TestResolver_ModernBranching(t *testing.T) {
	r := NewResolver()
	sim := modernSimulation()
	sc := session.New(session.WithHyperParameters(map[string]float64{"empathy": 2}))

	res, err := r.Next(context.Background(), sim, sc, Action{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(res.Visible))

	res, err = r.Next(context.Background(), sim, sc, Action{NodeID: 1, OptionID: "optB"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(res.Visible), "only the matching branch is shown")
	assert.Equal(t, 1.0, sc.HyperParameter("empathy"))
	assert.False(t, res.Completed)
}

func TestResolver_EndAndNavigate(t *testing.T) {
	r := NewResolver()
	sc := session.New()

	res, err := r.Next(context.Background(), modernSimulation(), sc, Action{NodeID: 1, OptionID: "optC"})
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 4, 5}, ids(res.Visible), "navigation target is placed first")
	assert.True(t, res.Effects.End)
	assert.True(t, res.Completed)
	assert.True(t, sc.IsComplete())
}

func TestResolver_RecordsHistory(t *testing.T) {
	r := NewResolver()
	sc := session.New()
	sim := modernSimulation()

	_, err := r.Next(context.Background(), sim, sc, Action{})
	require.NoError(t, err)
	_, err = r.Next(context.Background(), sim, sc, Action{NodeID: 1, OptionID: "optA", Text: "I hear you"})
	require.NoError(t, err)

	history := sc.History()
	require.Len(t, history, 3)
	assert.Equal(t, session.RoleAssistant, history[0].Role)
	assert.Equal(t, session.RoleUser, history[1].Role)
	assert.Equal(t, "optA", history[1].OptionID)
	assert.Equal(t, int64(2), history[2].NodeID)
	assert.Equal(t, 1, sc.UserResponseCount())
}

func TestResolver_Errors(t *testing.T) {
	r := NewResolver()

	_, err := r.Next(context.Background(), modernSimulation(), session.New(), Action{NodeID: 42})
	assert.ErrorIs(t, err, ErrUnknownNode)

	lazy := simulation.NewLazy("s", "lazy", func() ([]simulation.Node, error) {
		return nil, simulation.ErrNotMaterialized
	})
	_, err = r.Next(context.Background(), lazy, session.New(), Action{})
	assert.ErrorIs(t, err, simulation.ErrNotMaterialized)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Next(ctx, modernSimulation(), session.New(), Action{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolver_MonitorRuleIDs(t *testing.T) {
	m := monitor.New()
	r := NewResolver(WithEvaluator(NewEvaluator(WithMonitor(m))))

	_, err := r.Next(context.Background(), modernSimulation(), session.New(), Action{NodeID: 1, OptionID: "optA"})
	require.NoError(t, err)

	_, ok := m.RuleMetrics("node:2/rule:0:CONDITIONAL_BRANCHING")
	assert.True(t, ok)
	assert.Equal(t, int64(4), m.Summary().TotalExecutions)
}

func TestResolver_HiddenNodeLeavesNoTrace(t *testing.T) {
	sim := &simulation.Simulation{Name: "hidden", NodeList: []simulation.Node{
		{ID: 1, Options: []simulation.Option{{ID: "optA"}}},
		{ID: 2, PreviousMessageIDs: []int64{1}, Rules: []rules.Rule{
			{Type: rules.ConditionalBranching, Conditions: []rules.Condition{{
				Type: rules.OptionSelected, OptionID: "optA", Actions: []rules.Action{
					{Type: rules.IncreaseHyperParameter, Key: "empathy", Value: 5},
					{Type: rules.ShowMessage, Message: "should not appear"},
					{Type: rules.NavigateToMessage, TargetMessageID: num(1)},
					{Type: rules.EndSimulation},
				},
			}}},
			{Type: rules.FinalEvaluation, Conditions: []rules.Condition{
				{Type: rules.HyperParameterThreshold, Key: "empathy", MinValue: rules.Float(100)},
			}},
		}},
	}}
	sc := session.New(session.WithHyperParameters(map[string]float64{"empathy": 1}))

	res, err := NewResolver().Next(context.Background(), sim, sc, Action{NodeID: 1, OptionID: "optA"})
	require.NoError(t, err)
	assert.Empty(t, res.Visible)
	assert.Equal(t, Effects{}, res.Effects)
	assert.False(t, res.Completed)
	assert.False(t, sc.IsComplete())
	assert.Equal(t, 1.0, sc.HyperParameter("empathy"), "actions of a hidden node are rolled back")
	assert.Equal(t, 1, sc.MessageCount(), "only the user message is recorded")
}

func TestResolver_ShownNodeCommitsAfterFullConjunction(t *testing.T) {
	sim := &simulation.Simulation{Name: "shown", NodeList: []simulation.Node{
		{ID: 1},
		{ID: 2, PreviousMessageIDs: []int64{1}, Rules: []rules.Rule{
			branch("optA", rules.Action{Type: rules.IncreaseHyperParameter, Key: "empathy", Value: 5})[0],
			{Type: rules.FinalEvaluation, Conditions: []rules.Condition{
				{Type: rules.HyperParameterThreshold, Key: "empathy", MinValue: rules.Float(5)},
			}},
		}},
	}}
	sc := session.New()

	res, err := NewResolver().Next(context.Background(), sim, sc, Action{NodeID: 1, OptionID: "optA"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(res.Visible), "later rules see the score changes of earlier ones")
	assert.Equal(t, 5.0, sc.HyperParameter("empathy"))
}

func gatedSimulation() *simulation.Simulation {
	return &simulation.Simulation{ID: "gated", Name: "gated", NodeList: []simulation.Node{
		{ID: 1, Options: []simulation.Option{{ID: "warm"}, {ID: "cold"}}},
		{ID: 2, PreviousMessageIDs: []int64{1}, Text: "warm path",
			Gates: []flowrule.Spec{{Kind: flowrule.KindResponse, Node: 1, Expected: []string{"warm"}}},
			Rules: []rules.Rule{{Type: rules.AnswerQuality, Actions: []rules.Action{
				{Type: rules.IncreaseHyperParameter, Key: "empathy", Value: 1},
			}}},
		},
		{ID: 3, PreviousMessageIDs: []int64{1}, Text: "cold path",
			Gates: []flowrule.Spec{{Kind: flowrule.KindNot, Rules: []flowrule.Spec{
				{Kind: flowrule.KindResponse, Node: 1, Expected: []string{"warm"}},
			}}},
		},
		{ID: 4, PreviousMessageIDs: []int64{1}, Text: "broken gate",
			Gates: []flowrule.Spec{{Kind: "sentiment"}},
		},
	}}
}

func TestResolver_GatesRunOnEngine(t *testing.T) {
	m := monitor.New()
	r := NewResolver(WithEngine(engine.New(engine.WithMonitor(m))))
	sc := session.New()

	res, err := r.Next(context.Background(), gatedSimulation(), sc, Action{NodeID: 1, OptionID: "warm", Text: "glad to"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(res.Visible), "invalid gates hide their node")
	assert.Equal(t, 1.0, sc.HyperParameter("empathy"))

	_, ok := m.RuleMetrics("node:2/gate:0")
	assert.True(t, ok)
	_, ok = m.RuleMetrics("node:2/rule:0:ANSWER_QUALITY_RULE")
	assert.True(t, ok, "structured rules are recorded by the engine")
	_, ok = m.RuleMetrics("node:3/gate:0")
	assert.True(t, ok)

	sc = session.New()
	res, err = r.Next(context.Background(), gatedSimulation(), sc, Action{NodeID: 1, OptionID: "cold", Text: "fine"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(res.Visible))
	assert.Zero(t, sc.HyperParameter("empathy"))

	rm, _ := m.RuleMetrics("node:2/rule:0:ANSWER_QUALITY_RULE")
	assert.Equal(t, int64(1), rm.TotalExecutions, "a failed gate stops before the node's rules")
}

func TestResolver_GateCache(t *testing.T) {
	r := NewResolver(WithGateCache(time.Minute))
	sim := gatedSimulation()

	for i := 0; i < 3; i++ {
		_, err := r.Next(context.Background(), sim, session.New(), Action{NodeID: 1, OptionID: "warm"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.gates.ItemCount(), "one entry per gated node, invalid ones included")

	r.Forget("other")
	assert.Equal(t, 3, r.gates.ItemCount())
	r.Forget("gated")
	assert.Zero(t, r.gates.ItemCount())

	anon := gatedSimulation()
	anon.ID = ""
	_, err := r.Next(context.Background(), anon, session.New(), Action{NodeID: 1, OptionID: "warm"})
	require.NoError(t, err)
	assert.Zero(t, r.gates.ItemCount(), "simulations without an id are not cached")
}

func TestResolver_RulePreviousMessageLinksNodes(t *testing.T) {
	sim := &simulation.Simulation{Name: "linked", NodeList: []simulation.Node{
		{ID: 1},
		{ID: 2, PreviousMessageIDs: []int64{1}},
		{ID: 3, Rules: []rules.Rule{{Type: rules.DependsOnPrevious, PreviousMessageID: rules.ID(2)}}},
	}}
	r := NewResolver()
	sc := session.New()

	res, err := r.Next(context.Background(), sim, sc, Action{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(res.Visible), "a rule link keeps node 3 from being a start node")

	res, err = r.Next(context.Background(), sim, sc, Action{NodeID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(res.Visible))

	res, err = r.Next(context.Background(), sim, sc, Action{NodeID: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(res.Visible))
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		typ     detection.Type
		breaker BreakerState
		want    Strategy
	}{
		{detection.AIGenerated, BreakerClosed, StrategyAI},
		{detection.AIGenerated, BreakerHalfOpen, StrategyAI},
		{detection.AIGenerated, BreakerOpen, StrategyRules},
		{detection.Legacy, BreakerClosed, StrategyRules},
		{detection.Hybrid, BreakerClosed, StrategyRules},
		{detection.Modern, BreakerClosed, StrategyRules},
		{detection.Unknown, BreakerClosed, StrategyRules},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.breaker.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.typ, AgentState{Breaker: tt.breaker}))
		})
	}
}
