package flowrule

import (
	"fmt"
	"slices"
	"strings"

	"rgehrsitz/simflow/internal/session"
)

// MatchType says how a ResponseRule compares the user's selections for a
// node with the expected options.
type MatchType string

const (
	MatchExact       MatchType = "EXACT_MATCH"
	MatchContainsAny MatchType = "CONTAINS_ANY"
	MatchContainsAll MatchType = "CONTAINS_ALL"
	MatchNotContains MatchType = "NOT_CONTAINS"
)

// ResponseRule checks which options the user picked when answering NodeID.
// A node the user never answered fails every match except NOT_CONTAINS.
type ResponseRule struct {
	ID       string    `validate:"required"`
	NodeID   int64     `validate:"required"`
	Expected []string  `validate:"required_unless=Match NOT_CONTAINS"`
	Match    MatchType `validate:"omitempty,oneof=EXACT_MATCH CONTAINS_ANY CONTAINS_ALL NOT_CONTAINS"`
	Desc     string
	Rank     int
}

// ExactResponse holds when the user picked exactly the expected options.
func ExactResponse(nodeID int64, expected ...string) ResponseRule {
	return ResponseRule{ID: fmt.Sprintf("exact_match_%d", nodeID), NodeID: nodeID, Expected: expected, Match: MatchExact}
}

func (r ResponseRule) Evaluate(ctx *session.Context) (bool, error) {
	picked := ctx.Selections(r.NodeID)
	switch r.Match {
	case MatchExact, "":
		if len(picked) == 0 {
			return false, nil
		}
		return sameSet(picked, r.Expected), nil
	case MatchContainsAny:
		return slices.ContainsFunc(picked, func(p string) bool { return slices.Contains(r.Expected, p) }), nil
	case MatchContainsAll:
		if len(picked) == 0 {
			return false, nil
		}
		for _, e := range r.Expected {
			if !slices.Contains(picked, e) {
				return false, nil
			}
		}
		return true, nil
	case MatchNotContains:
		return !slices.ContainsFunc(picked, func(p string) bool { return slices.Contains(r.Expected, p) }), nil
	default:
		return false, fmt.Errorf("unknown match type %q", r.Match)
	}
}

func sameSet(a, b []string) bool {
	for _, x := range a {
		if !slices.Contains(b, x) {
			return false
		}
	}
	for _, x := range b {
		if !slices.Contains(a, x) {
			return false
		}
	}
	return true
}

func (r ResponseRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	match := r.Match
	if match == "" {
		match = MatchExact
	}
	return fmt.Sprintf("response to node %d %s [%s]", r.NodeID, match, strings.Join(r.Expected, ", "))
}

func (r ResponseRule) Priority() int  { return r.Rank }
func (r ResponseRule) RuleID() string { return r.ID }
