// Package detection classifies the authoring format of a simulation so the
// caller can pick an evaluation strategy.
package detection

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/simulation"
)

type Type string

const (
	Legacy      Type = "LEGACY"
	Modern      Type = "MODERN"
	Hybrid      Type = "HYBRID"
	AIGenerated Type = "AI_GENERATED"
	Unknown     Type = "UNKNOWN"
)

func (t Type) Description() string {
	switch t {
	case Legacy:
		return "Legacy show_predicate simulation"
	case Modern:
		return "Modern rule-based simulation"
	case Hybrid:
		return "Hybrid simulation with both legacy and modern elements"
	case AIGenerated:
		return "AI-generated simulation with real-time content"
	default:
		return "Unknown or invalid simulation format"
	}
}

// Indicator weights.
const (
	weightComplexPredicate = 3
	weightCustomPredicate  = 2
	weightLiteralPredicate = 1
	weightStructuredRules  = 3
	weightLegacyType       = 1
	weightLegacyOrdering   = 1
)

var (
	complexPredicate = regexp.MustCompile(`saveChatValue|readChatValue|whereId|message\.|anyCorrect|selected`)
	literalPredicate = regexp.MustCompile(`^\s*(true|false|1|0)\s*$`)
)

// Report holds the counters gathered while walking a simulation. Confidence is
// diagnostic only and never influences the detected type.
type Report struct {
	Type Type

	TotalNodes          int
	NodesWithPredicates int
	ComplexPredicates   int
	CustomPredicates    int
	LiteralPredicates   int
	StructuredNodes     int
	LegacyMessageTypes  int
	OtherMessageTypes   int
	LegacyOrdering      int

	LegacyIndicators int
	ModernIndicators int
	Confidence       float64

	// Fallback is set when the walk was aborted and the safe default used.
	Fallback bool
}

type Detector struct {
	cache *cache.Cache
}

type Option func(*Detector)

// WithCache memoizes classifications per simulation id for ttl.
func WithCache(ttl time.Duration) Option {
	return func(d *Detector) {
		if ttl > 0 {
			d.cache = cache.New(ttl, 2*ttl)
		}
	}
}

func New(opts ...Option) *Detector {
	d := &Detector{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect classifies sim. It never fails: data access problems resolve to
// Legacy.
func (d *Detector) Detect(sim *simulation.Simulation) Type {
	return d.Analyze(sim).Type
}

// Analyze classifies sim and returns the full indicator report.
func (d *Detector) Analyze(sim *simulation.Simulation) Report {
	if sim == nil {
		log.Warn().Msg("Nil simulation provided for type detection")
		return Report{Type: Unknown}
	}
	if sim.AIGenerated {
		log.Info().Str("simulation", sim.Name).Msg("Detected AI-generated simulation")
		return Report{Type: AIGenerated}
	}

	if d.cache != nil && sim.ID != "" {
		if v, ok := d.cache.Get(sim.ID); ok {
			return v.(Report)
		}
	}

	rep := d.analyze(sim)
	log.Info().Str("simulation", sim.Name).Str("type", string(rep.Type)).Float64("confidence", rep.Confidence).Msg("Simulation type detected")

	if d.cache != nil && sim.ID != "" {
		d.cache.Set(sim.ID, rep, cache.DefaultExpiration)
	}
	return rep
}

// Forget drops a cached classification, e.g. after the simulation is edited.
func (d *Detector) Forget(simulationID string) {
	if d.cache != nil {
		d.cache.Delete(simulationID)
	}
}

func (d *Detector) analyze(sim *simulation.Simulation) (rep Report) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("simulation", sim.Name).Str("panic", fmt.Sprint(r)).Msg("Failure during analysis, defaulting to LEGACY")
			rep = Report{Type: Legacy, Fallback: true}
		}
	}()

	nodes, err := sim.Nodes()
	if err != nil {
		log.Debug().Err(err).Str("simulation", sim.Name).Msg("Cannot access nodes, assuming LEGACY simulation")
		return Report{Type: Legacy, Fallback: true}
	}

	for _, node := range nodes {
		rep.observe(node)
	}
	rep.Confidence = rep.confidence()
	rep.Type = rep.decide()

	log.Debug().Int("legacy", rep.LegacyIndicators).Int("modern", rep.ModernIndicators).Int("nodes", rep.TotalNodes).Msg("Analysis complete")
	return rep
}

func (r *Report) observe(node simulation.Node) {
	r.TotalNodes++

	if node.HasPredicate() {
		r.NodesWithPredicates++
		switch {
		case complexPredicate.MatchString(node.Predicate):
			r.ComplexPredicates++
			r.LegacyIndicators += weightComplexPredicate
		case literalPredicate.MatchString(node.Predicate):
			r.LiteralPredicates++
			r.LegacyIndicators += weightLiteralPredicate
		default:
			r.CustomPredicates++
			r.LegacyIndicators += weightCustomPredicate
		}
	}

	if node.Structured() {
		r.StructuredNodes++
		r.ModernIndicators += weightStructuredRules
	}

	if node.MessageType != "" {
		if node.MessageType.IsLegacy() {
			r.LegacyMessageTypes++
			r.LegacyIndicators += weightLegacyType
		} else {
			r.OtherMessageTypes++
		}
	}

	if node.HasLegacyOrdering() {
		r.LegacyOrdering++
		r.LegacyIndicators += weightLegacyOrdering
	}
}

func (r *Report) decide() Type {
	switch {
	case r.LegacyIndicators > 0 && r.ModernIndicators == 0:
		return Legacy
	case r.ModernIndicators > 0 && r.LegacyIndicators == 0:
		return Modern
	case r.LegacyIndicators > 0 && r.ModernIndicators > 0:
		return Hybrid
	case r.TotalNodes > 0:
		log.Info().Msg("No clear type indicators found, defaulting to LEGACY")
		return Legacy
	default:
		return Unknown
	}
}

func (r *Report) confidence() float64 {
	if r.TotalNodes == 0 {
		return 0
	}
	total := r.LegacyIndicators + r.ModernIndicators
	if total == 0 {
		return 0.3
	}
	ratio := float64(max(r.LegacyIndicators, r.ModernIndicators)) / float64(total)
	coverage := float64(r.NodesWithPredicates) / float64(r.TotalNodes)
	return math.Min(1, 0.7*ratio+0.3*coverage)
}
