package detection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/simflow/internal/flowrule"
	"rgehrsitz/simflow/internal/rules"
	"rgehrsitz/simflow/internal/simulation"
)

func order(n int64) *int64 { return &n }

func legacyNode(id int64, predicate string) simulation.Node {
	return simulation.Node{
		ID:                  id,
		Predicate:           predicate,
		OrderNumber:         order(id),
		PreviousOrderNumber: order(id - 1),
	}
}

func modernNode(id int64) simulation.Node {
	return simulation.Node{
		ID:                 id,
		PreviousMessageIDs: []int64{id - 1},
		Rules:              []rules.Rule{{Type: rules.AlwaysShow}},
	}
}

func sim(nodes ...simulation.Node) *simulation.Simulation {
	return &simulation.Simulation{Name: "test", NodeList: nodes}
}

func TestDetect_NoNodesIsUnknown(t *testing.T) {
	assert.Equal(t, Unknown, New().Detect(sim()))
	assert.Equal(t, Unknown, New().Detect(nil))
}

func TestDetect_LiteralPredicatesWithOrderingIsLegacy(t *testing.T) {
	s := sim(legacyNode(1, "true"), legacyNode(2, " true "), legacyNode(3, "true"))
	rep := New().Analyze(s)
	assert.Equal(t, Legacy, rep.Type)
	assert.Equal(t, 3, rep.LiteralPredicates)
	assert.Equal(t, 3, rep.LegacyOrdering)
	assert.Equal(t, 6, rep.LegacyIndicators)
	assert.Equal(t, 0, rep.ModernIndicators)
	assert.InDelta(t, 1.0, rep.Confidence, 1e-9)
}

func TestDetect_StructuredOnlyIsModern(t *testing.T) {
	rep := New().Analyze(sim(modernNode(1), modernNode(2)))
	assert.Equal(t, Modern, rep.Type)
	assert.Equal(t, 6, rep.ModernIndicators)
	// ratio 1 * 0.7 + no predicate coverage
	assert.InDelta(t, 0.7, rep.Confidence, 1e-9)
}

func TestDetect_GatesCountAsStructured(t *testing.T) {
	gated := simulation.Node{ID: 2, PreviousMessageIDs: []int64{1}, Gates: []flowrule.Spec{
		{Kind: flowrule.KindThreshold, Operator: flowrule.OpGreater, Threshold: 0},
	}}
	rep := New().Analyze(sim(modernNode(1), gated))
	assert.Equal(t, Modern, rep.Type)
	assert.Equal(t, 2, rep.StructuredNodes)
}

func TestDetect_MixedIsHybrid(t *testing.T) {
	assert.Equal(t, Hybrid, New().Detect(sim(legacyNode(1, "true"), modernNode(2))))
}

func TestDetect_PredicateWeights(t *testing.T) {
	s := sim(
		simulation.Node{ID: 1, Predicate: `saveChatValue["empathy", 1]`},
		simulation.Node{ID: 2, Predicate: "someCustomCheck()"},
		simulation.Node{ID: 3, Predicate: "0"},
		simulation.Node{ID: 4, Predicate: "   "},
	)
	rep := New().Analyze(s)
	assert.Equal(t, 1, rep.ComplexPredicates)
	assert.Equal(t, 1, rep.CustomPredicates)
	assert.Equal(t, 1, rep.LiteralPredicates)
	assert.Equal(t, 3, rep.NodesWithPredicates, "blank predicates are ignored")
	assert.Equal(t, 3+2+1, rep.LegacyIndicators)
	assert.InDelta(t, 0.7+0.3*0.75, rep.Confidence, 1e-9)
}

func TestDetect_MessageTypes(t *testing.T) {
	s := sim(
		simulation.Node{ID: 1, MessageType: simulation.SingleChoiceQuestion},
		simulation.Node{ID: 2, MessageType: simulation.Videos},
	)
	rep := New().Analyze(s)
	assert.Equal(t, Legacy, rep.Type)
	assert.Equal(t, 1, rep.LegacyMessageTypes)
	assert.Equal(t, 1, rep.OtherMessageTypes)
	assert.Equal(t, 1, rep.LegacyIndicators)
}

func TestDetect_NoSignalsDefaultsToLegacy(t *testing.T) {
	rep := New().Analyze(sim(simulation.Node{ID: 1}, simulation.Node{ID: 2, OrderNumber: order(2)}))
	assert.Equal(t, Legacy, rep.Type)
	assert.InDelta(t, 0.3, rep.Confidence, 1e-9)
}

func TestDetect_AIGeneratedFlagWins(t *testing.T) {
	s := sim(modernNode(1))
	s.AIGenerated = true
	assert.Equal(t, AIGenerated, New().Detect(s))
}

func TestDetect_NotMaterializedIsLegacy(t *testing.T) {
	s := simulation.NewLazy("s1", "lazy", func() ([]simulation.Node, error) {
		return nil, simulation.ErrNotMaterialized
	})
	rep := New().Analyze(s)
	assert.Equal(t, Legacy, rep.Type)
	assert.True(t, rep.Fallback)
}

func TestDetect_PanickingProviderIsLegacy(t *testing.T) {
	s := simulation.NewLazy("s2", "broken", func() ([]simulation.Node, error) {
		panic(errors.New("session closed"))
	})
	assert.NotPanics(t, func() {
		assert.Equal(t, Legacy, New().Detect(s))
	})
}

func TestDetect_Cache(t *testing.T) {
	calls := 0
	nodes := []simulation.Node{modernNode(1)}
	s := simulation.NewLazy("cached", "cached", func() ([]simulation.Node, error) {
		calls++
		return nodes, nil
	})

	d := New(WithCache(time.Minute))
	require.Equal(t, Modern, d.Detect(s))
	nodes = append(nodes, legacyNode(2, "true"))
	assert.Equal(t, Modern, d.Detect(s), "cached classification is reused")
	assert.Equal(t, 1, calls)

	d.Forget("cached")
	assert.Equal(t, Hybrid, d.Detect(s))
	assert.Equal(t, 2, calls)
}

func TestTypeDescription(t *testing.T) {
	assert.Equal(t, "Hybrid simulation with both legacy and modern elements", Hybrid.Description())
	assert.Equal(t, "Unknown or invalid simulation format", Type("X").Description())
}
