package preprocessor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"rgehrsitz/simflow/internal/flowrule"
	"rgehrsitz/simflow/internal/rules"
	"rgehrsitz/simflow/internal/simulation"
)

// ErrInvalidDocument wraps every structural problem found in a simulation
// document.
var ErrInvalidDocument = errors.New("invalid simulation document")

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the document format from a file extension. Anything that is
// not .yaml or .yml is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

var validate = validator.New()

// LoadFile reads, parses and validates the simulation document at path.
func LoadFile(path string) (*simulation.Simulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read simulation file: %w", err)
	}
	sim, err := ParseSimulation(data, FormatFor(path))
	if err != nil {
		return nil, err
	}
	if err := ValidateSimulation(sim); err != nil {
		return nil, err
	}
	return sim, nil
}

// ParseSimulation decodes a simulation document. Unknown rule, condition and
// action tags are kept verbatim and reported by ValidateSimulation rather than
// rejected here.
func ParseSimulation(data []byte, format Format) (*simulation.Simulation, error) {
	log.Info().Int("bytes", len(data)).Msg("Started parsing simulation...")
	var sim simulation.Simulation
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &sim); err != nil {
			return nil, fmt.Errorf("failed to unmarshal simulation YAML: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&sim); err != nil {
			return nil, fmt.Errorf("failed to unmarshal simulation JSON: %w", err)
		}
	}
	return &sim, nil
}

// ValidateSimulation checks the document structure and the references between
// nodes. All problems are returned together, wrapped in ErrInvalidDocument.
func ValidateSimulation(sim *simulation.Simulation) error {
	log.Info().Str("simulation", sim.Name).Msg("Started validating simulation...")

	var errs []error
	if err := validate.Struct(sim); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	ids := make(map[int64]bool, len(sim.NodeList))
	for _, n := range sim.NodeList {
		if ids[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id %d", n.ID))
		}
		ids[n.ID] = true
	}

	for _, n := range sim.NodeList {
		for _, prev := range n.Predecessors() {
			if !ids[prev] {
				errs = append(errs, fmt.Errorf("node %d follows unknown node %d", n.ID, prev))
			}
		}
		for i, rule := range n.Rules {
			errs = append(errs, validateRule(rule, n.ID, i, ids)...)
		}
		errs = append(errs, validateGates(n, ids)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, errors.Join(errs...))
	}
	return nil
}

func validateGates(n simulation.Node, ids map[int64]bool) []error {
	if !n.HasGates() {
		return nil
	}
	var errs []error
	if _, err := flowrule.BuildAll(fmt.Sprintf("node:%d/gate", n.ID), n.Gates); err != nil {
		errs = append(errs, fmt.Errorf("invalid gates of node %d: %w", n.ID, err))
	}
	var walk func(specs []flowrule.Spec)
	walk = func(specs []flowrule.Spec) {
		for _, s := range specs {
			if s.Kind == flowrule.KindResponse && s.Node != 0 && !ids[s.Node] {
				errs = append(errs, fmt.Errorf("gate of node %d checks answers to unknown node %d", n.ID, s.Node))
			}
			walk(s.Rules)
		}
	}
	walk(n.Gates)
	return errs
}

func validateRule(rule rules.Rule, nodeID int64, index int, ids map[int64]bool) []error {
	if !rule.Type.Known() {
		log.Warn().Int64("node_id", nodeID).Int("rule", index).Stringer("type", rule.Type).Msg("Unknown rule type, rule will never pass")
		return nil
	}

	var errs []error
	switch rule.Type {
	case rules.ConditionalBranching:
		if len(rule.Conditions) == 0 {
			errs = append(errs, fmt.Errorf("rule %d of node %d must have at least one condition", index, nodeID))
		}
	case rules.FinalEvaluation:
		for i, c := range rule.Conditions {
			if c.Type == rules.HyperParameterThreshold && c.MinValue == nil && c.MaxValue == nil {
				errs = append(errs, fmt.Errorf("missing threshold in condition %d of rule %d of node %d", i, index, nodeID))
			}
		}
	}

	for i, c := range rule.Conditions {
		if err := validateCondition(c); err != nil {
			errs = append(errs, fmt.Errorf("invalid condition %d of rule %d of node %d: %w", i, index, nodeID, err))
		}
		for _, a := range c.Actions {
			if err := validateAction(a, ids); err != nil {
				errs = append(errs, fmt.Errorf("invalid action in condition %d of rule %d of node %d: %w", i, index, nodeID, err))
			}
		}
	}
	for _, a := range rule.Actions {
		if err := validateAction(a, ids); err != nil {
			errs = append(errs, fmt.Errorf("invalid action in rule %d of node %d: %w", index, nodeID, err))
		}
	}
	return errs
}

func validateCondition(c rules.Condition) error {
	switch c.Type {
	case rules.OptionSelected:
		if c.OptionID == "" {
			return errors.New("missing 'option_id'")
		}
	case rules.HyperParameterThreshold:
		if c.Key == "" {
			return errors.New("missing 'key'")
		}
		if c.MinValue != nil && c.MaxValue != nil && *c.MinValue > *c.MaxValue {
			return fmt.Errorf("min_value %g exceeds max_value %g", *c.MinValue, *c.MaxValue)
		}
	default:
		if !c.Type.Known() {
			log.Warn().Stringer("type", c.Type).Msg("Unknown condition type, condition will be ignored")
		}
	}
	return nil
}

func validateAction(a rules.Action, ids map[int64]bool) error {
	switch a.Type {
	case rules.IncreaseHyperParameter, rules.DecreaseHyperParameter, rules.SetHyperParameter:
		if a.Key == "" {
			return fmt.Errorf("missing 'key' for %s", a.Type)
		}
	case rules.NavigateToMessage:
		if a.TargetMessageID == nil {
			return errors.New("missing 'target_message_id'")
		}
		if !ids[*a.TargetMessageID] {
			return fmt.Errorf("navigation to unknown node %d", *a.TargetMessageID)
		}
	default:
		if !a.Type.Known() {
			log.Warn().Stringer("type", a.Type).Msg("Unknown action type, action will be skipped")
		}
	}
	return nil
}
