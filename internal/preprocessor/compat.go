package preprocessor

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/detection"
	"rgehrsitz/simflow/internal/simulation"
)

// CheckCompatibility lists what would keep sim from running cleanly under
// the evaluation path of type t. The findings are advisory; a document that
// passes ValidateSimulation still runs.
func CheckCompatibility(sim *simulation.Simulation, t detection.Type) []string {
	if sim == nil {
		return []string{"simulation is nil"}
	}
	issues := basicIssues(sim)
	if len(sim.NodeList) == 0 {
		return issues
	}

	switch t {
	case detection.Legacy:
		issues = append(issues, legacyIssues(sim)...)
	case detection.Modern:
		issues = append(issues, modernIssues(sim)...)
	case detection.Hybrid:
		// Hybrid documents mix both styles, so the all-nodes requirements of
		// either style do not apply.
		for _, is := range append(legacyIssues(sim), modernIssues(sim)...) {
			if !strings.Contains(is, "requires") {
				issues = append(issues, is)
			}
		}
	case detection.AIGenerated:
	default:
		issues = append(issues, fmt.Sprintf("cannot check simulation type %s", t))
	}

	if len(issues) > 0 {
		log.Warn().Str("simulation", sim.Name).Str("type", string(t)).Int("issues", len(issues)).Msg("Simulation has compatibility issues")
	}
	return issues
}

func basicIssues(sim *simulation.Simulation) []string {
	var issues []string
	if strings.TrimSpace(sim.Name) == "" {
		issues = append(issues, "simulation name is missing")
	}
	if len(sim.NodeList) == 0 {
		return append(issues, "simulation has no nodes")
	}
	seen := make(map[int64]bool)
	for _, n := range sim.NodeList {
		if n.OrderNumber == nil {
			continue
		}
		if seen[*n.OrderNumber] {
			issues = append(issues, fmt.Sprintf("duplicate order number %d", *n.OrderNumber))
		}
		seen[*n.OrderNumber] = true
	}
	return issues
}

func legacyIssues(sim *simulation.Simulation) []string {
	var issues []string
	actionable := false
	for _, n := range sim.NodeList {
		if n.OrderNumber == nil {
			issues = append(issues, fmt.Sprintf("node %d: legacy flow requires an order number", n.ID))
		}
		if n.MessageType == "" {
			issues = append(issues, fmt.Sprintf("node %d: missing message type", n.ID))
		}
		if n.MessageType.Actionable() || strings.Contains(string(n.MessageType), "TASK") {
			actionable = true
		}
		if n.HasPredicate() {
			issues = append(issues, predicateIssues(n)...)
		}
	}
	if !actionable {
		issues = append(issues, "no actionable nodes (questions or tasks)")
	}
	return issues
}

func predicateIssues(n simulation.Node) []string {
	var issues []string
	p := n.Predicate
	if strings.Contains(p, "whereId") && !strings.Contains(p, `"`) {
		issues = append(issues, fmt.Sprintf("node %d: whereId predicate missing quotes", n.ID))
	}
	if strings.Count(p, "(") != strings.Count(p, ")") {
		issues = append(issues, fmt.Sprintf("node %d: unbalanced parentheses in predicate", n.ID))
	}
	if strings.Count(p, "[") != strings.Count(p, "]") {
		issues = append(issues, fmt.Sprintf("node %d: unbalanced brackets in predicate", n.ID))
	}
	if strings.Contains(p, "messag.") {
		issues = append(issues, fmt.Sprintf("node %d: possible typo 'messag.' for 'message.'", n.ID))
	}
	return issues
}

func modernIssues(sim *simulation.Simulation) []string {
	var issues []string
	starts, structured := 0, 0
	for _, n := range sim.NodeList {
		if len(n.Predecessors()) == 0 {
			starts++
		}
		if n.Structured() {
			structured++
		}
		if n.Structured() && n.HasPredicate() {
			issues = append(issues, fmt.Sprintf("node %d: show predicate is ignored when rules or gates are present", n.ID))
		}
		if n.MessageType.IsLegacy() {
			issues = append(issues, fmt.Sprintf("node %d: legacy message type %s", n.ID, n.MessageType))
		}
		for i, r := range n.Rules {
			if !r.Type.Known() {
				issues = append(issues, fmt.Sprintf("node %d: rule %d has unsupported type %s and never passes", n.ID, i, r.Type))
			}
		}
	}
	if structured == 0 {
		issues = append(issues, "modern flow requires at least one node with rules or gates")
	}
	if starts == 0 {
		issues = append(issues, "modern flow requires a start node without predecessors")
	}
	return issues
}
