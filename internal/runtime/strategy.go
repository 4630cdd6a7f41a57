package runtime

import (
	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/detection"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// AgentState describes the external content agent used by AI-generated
// simulations.
type AgentState struct {
	Breaker BreakerState
}

type Strategy string

const (
	StrategyRules Strategy = "RULES"
	StrategyAI    Strategy = "AI"
)

// SelectStrategy picks how a simulation of type t is driven. AI-generated
// simulations fall back to deterministic rules while the agent breaker is open.
func SelectStrategy(t detection.Type, agent AgentState) Strategy {
	if t != detection.AIGenerated {
		return StrategyRules
	}
	if agent.Breaker == BreakerOpen {
		log.Warn().Stringer("breaker", agent.Breaker).Msg("Agent unavailable, using rule fallback")
		return StrategyRules
	}
	return StrategyAI
}
