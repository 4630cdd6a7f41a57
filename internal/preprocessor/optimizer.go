package preprocessor

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/rules"
	"rgehrsitz/simflow/internal/simulation"
)

// NormalizeReport counts what Normalize removed or rewrote.
type NormalizeReport struct {
	DuplicateConditions int
	DuplicateRules      int
	TrimmedPredicates   int
}

// Normalize returns a cleaned copy of sim. Identical conditions inside a rule
// are collapsed, since branching stops at the first match and thresholds are
// conjunctive. Identical rules are collapsed only when they carry no actions,
// because rerunning actions changes scores.
func Normalize(sim *simulation.Simulation) (*simulation.Simulation, NormalizeReport) {
	var rep NormalizeReport
	out := *sim
	out.NodeList = make([]simulation.Node, len(sim.NodeList))

	for i, n := range sim.NodeList {
		n.MessageType = simulation.MessageType(strings.ToUpper(strings.TrimSpace(string(n.MessageType))))
		if trimmed := strings.TrimSpace(n.Predicate); trimmed != n.Predicate {
			n.Predicate = trimmed
			rep.TrimmedPredicates++
		}
		n.Rules = normalizeRules(n.Rules, &rep)
		out.NodeList[i] = n
	}

	log.Info().Str("simulation", sim.Name).
		Int("duplicate_conditions", rep.DuplicateConditions).
		Int("duplicate_rules", rep.DuplicateRules).
		Int("trimmed_predicates", rep.TrimmedPredicates).
		Msg("Normalized simulation")
	return &out, rep
}

func normalizeRules(in []rules.Rule, rep *NormalizeReport) []rules.Rule {
	if len(in) == 0 {
		return in
	}
	out := make([]rules.Rule, 0, len(in))
	seen := make(map[string]bool)
	for _, r := range in {
		conds := dedupConditions(r.Conditions)
		rep.DuplicateConditions += len(r.Conditions) - len(conds)
		r.Conditions = conds

		if !hasActions(r) {
			key, err := ruleKey(r)
			if err != nil {
				log.Warn().Err(err).Msg("Cannot key rule, keeping it")
			} else if seen[key] {
				rep.DuplicateRules++
				continue
			} else {
				seen[key] = true
			}
		}
		out = append(out, r)
	}
	return out
}

func dedupConditions(conditions []rules.Condition) []rules.Condition {
	if conditions == nil {
		return nil
	}
	deduped := make([]rules.Condition, 0, len(conditions))
	for _, c := range conditions {
		if !containsCondition(deduped, c) {
			deduped = append(deduped, c)
		}
	}
	return deduped
}

func containsCondition(conditions []rules.Condition, condition rules.Condition) bool {
	for _, c := range conditions {
		if equalCondition(c, condition) {
			return true
		}
	}
	return false
}

func equalCondition(c1, c2 rules.Condition) bool {
	return c1.Type == c2.Type &&
		c1.OptionID == c2.OptionID &&
		c1.Key == c2.Key &&
		c1.Text == c2.Text &&
		equalBound(c1.MinValue, c2.MinValue) &&
		equalBound(c1.MaxValue, c2.MaxValue) &&
		reflect.DeepEqual(c1.Actions, c2.Actions)
}

func equalBound(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func hasActions(r rules.Rule) bool {
	if len(r.Actions) > 0 {
		return true
	}
	for _, c := range r.Conditions {
		if len(c.Actions) > 0 {
			return true
		}
	}
	return false
}

// ruleKey hashes the serialized rule, ignoring its description.
func ruleKey(r rules.Rule) (string, error) {
	r.Description = ""
	serialized, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("error marshaling rule: %w", err)
	}
	hash := sha256.Sum256(serialized)
	return fmt.Sprintf("%x", hash), nil
}
