// Package simulation holds the materialized flow graph handed to the engine
// by the external data provider.
package simulation

import (
	"errors"
	"slices"
	"strings"

	"rgehrsitz/simflow/internal/flowrule"
	"rgehrsitz/simflow/internal/rules"
)

// ErrNotMaterialized is returned by Nodes when the provider has not loaded the
// node collection yet.
var ErrNotMaterialized = errors.New("simulation nodes not materialized")

// MessageType is the authored kind of a node. The named values are the fixed
// legacy enumerants; anything else is carried as-is.
type MessageType string

const (
	Text                 MessageType = "TEXT"
	SingleChoiceQuestion MessageType = "SINGLE_CHOICE_QUESTION"
	SingleChoiceTask     MessageType = "SINGLE_CHOICE_TASK"
	MultiChoiceTask      MessageType = "MULTI_CHOICE_TASK"
	EnterTextQuestion    MessageType = "ENTER_TEXT_QUESTION"
	HintMessage          MessageType = "HINT_MESSAGE"
	ResultSimulation     MessageType = "RESULT_SIMULATION"
	Images               MessageType = "IMAGES"
	Videos               MessageType = "VIDEOS"
)

// IsLegacy reports whether t is one of the enumerants used by the older
// predicate-driven authoring format.
func (t MessageType) IsLegacy() bool {
	switch MessageType(strings.ToUpper(string(t))) {
	case Text, SingleChoiceQuestion, MultiChoiceTask, EnterTextQuestion, HintMessage, ResultSimulation:
		return true
	default:
		return false
	}
}

// Actionable message types wait for user input before the flow advances.
func (t MessageType) Actionable() bool {
	switch MessageType(strings.ToUpper(string(t))) {
	case SingleChoiceQuestion, SingleChoiceTask, MultiChoiceTask, EnterTextQuestion:
		return true
	default:
		return false
	}
}

type Option struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Text string `json:"text" yaml:"text"`
}

// Node is one step of the authored conversation.
type Node struct {
	ID                  int64        `json:"id" yaml:"id" validate:"required"`
	PreviousMessageIDs  []int64      `json:"previous_message_ids,omitempty" yaml:"previous_message_ids,omitempty"`
	OrderNumber         *int64       `json:"order_number,omitempty" yaml:"order_number,omitempty"`
	PreviousOrderNumber *int64       `json:"previous_order_number,omitempty" yaml:"previous_order_number,omitempty"`
	MessageType         MessageType  `json:"message_type,omitempty" yaml:"message_type,omitempty"`
	Predicate           string       `json:"show_predicate,omitempty" yaml:"show_predicate,omitempty"`
	Rules               []rules.Rule `json:"flow_rules,omitempty" yaml:"flow_rules,omitempty"`
	// Gates are declarative flow rules that must all hold before the node is
	// shown. They are checked before Rules and never change the session.
	Gates []flowrule.Spec `json:"gates,omitempty" yaml:"gates,omitempty"`
	Text                string       `json:"text,omitempty" yaml:"text,omitempty"`
	Options             []Option     `json:"options,omitempty" yaml:"options,omitempty" validate:"dive"`
}

// HasPredicate is true when the node carries a non-blank legacy predicate.
func (n Node) HasPredicate() bool {
	return strings.TrimSpace(n.Predicate) != ""
}

// HasRules is true when the node carries a structured rule payload.
func (n Node) HasRules() bool {
	return len(n.Rules) > 0
}

// HasGates is true when the node carries declarative gates.
func (n Node) HasGates() bool {
	return len(n.Gates) > 0
}

// Structured is true when visibility is decided by gates or rules rather
// than by the legacy predicate.
func (n Node) Structured() bool {
	return n.HasRules() || n.HasGates()
}

// Predecessors returns the nodes n follows: its previous_message_ids plus the
// previous_message_id of any of its rules, without duplicates.
func (n Node) Predecessors() []int64 {
	out := slices.Clone(n.PreviousMessageIDs)
	for _, r := range n.Rules {
		if r.PreviousMessageID != nil && !slices.Contains(out, *r.PreviousMessageID) {
			out = append(out, *r.PreviousMessageID)
		}
	}
	return out
}

// HasLegacyOrdering is true when both ordering fields are present.
func (n Node) HasLegacyOrdering() bool {
	return n.OrderNumber != nil && n.PreviousOrderNumber != nil
}

// Simulation is an authored scenario. Nodes may be supplied lazily by the
// provider through a loader; the engine only consumes the materialized form.
type Simulation struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	AIGenerated bool   `json:"ai_generated,omitempty" yaml:"ai_generated,omitempty"`

	NodeList []Node `json:"nodes" yaml:"nodes" validate:"dive"`

	loader func() ([]Node, error)
}

// NewLazy builds a simulation whose nodes are fetched on first access.
func NewLazy(id, name string, loader func() ([]Node, error)) *Simulation {
	return &Simulation{ID: id, Name: name, loader: loader}
}

// Nodes returns the node collection, or ErrNotMaterialized when a lazy loader
// has not been resolved.
func (s *Simulation) Nodes() ([]Node, error) {
	if s.loader != nil {
		return s.loader()
	}
	return s.NodeList, nil
}

// Node looks up a node by id.
func (s *Simulation) Node(id int64) (Node, bool) {
	nodes, err := s.Nodes()
	if err != nil {
		return Node{}, false
	}
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
