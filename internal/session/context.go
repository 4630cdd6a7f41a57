// internal/session/context.go

package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Role identifies who authored a message in the conversation.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// Mode is the content mode a session runs in.
type Mode string

const (
	ModePredefined Mode = "PREDEFINED"
	ModeDynamic    Mode = "DYNAMIC"
	ModeHybrid     Mode = "HYBRID"
)

const (
	DefaultHearts      = 5.0
	DefaultMaxMessages = 100
)

type Message struct {
	ID        int64
	NodeID    int64
	Role      Role
	Text      string
	OptionID  string
	Timestamp time.Time
}

// Context is the mutable execution state of one simulation session.
// It is owned by the single request processing the session and is not safe
// for concurrent mutation.
type Context struct {
	SessionID    string
	UserID       string
	SimulationID string
	SkillID      string
	Mode         Mode
	MaxMessages  int
	StartedAt    time.Time

	hearts    float64
	completed bool
	history   []Message
	hyper     map[string]float64
}

type Option func(*Context)

func WithSessionID(id string) Option {
	return func(c *Context) { c.SessionID = id }
}

func WithUser(id string) Option {
	return func(c *Context) { c.UserID = id }
}

func WithSimulation(id string) Option {
	return func(c *Context) { c.SimulationID = id }
}

func WithSkill(id string) Option {
	return func(c *Context) { c.SkillID = id }
}

func WithMode(m Mode) Option {
	return func(c *Context) { c.Mode = m }
}

func WithHearts(h float64) Option {
	return func(c *Context) { c.hearts = h }
}

// WithHyperParameters seeds the initial score values.
func WithHyperParameters(values map[string]float64) Option {
	return func(c *Context) {
		for k, v := range values {
			c.hyper[k] = v
		}
	}
}

func WithStartTime(t time.Time) Option {
	return func(c *Context) { c.StartedAt = t }
}

// New creates a context for a fresh session. A session id is generated when
// none is supplied.
func New(opts ...Option) *Context {
	c := &Context{
		Mode:        ModePredefined,
		MaxMessages: DefaultMaxMessages,
		StartedAt:   time.Now(),
		hearts:      DefaultHearts,
		hyper:       make(map[string]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// AddMessage appends a message to the history.
func (c *Context) AddMessage(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	c.history = append(c.history, m)
	log.Debug().Str("session_id", c.SessionID).Int64("message_id", m.ID).Int("total", len(c.history)).Msg("Added message to context")
}

// History returns a copy of the ordered message history.
func (c *Context) History() []Message {
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Context) MessageCount() int {
	return len(c.history)
}

// UserResponseCount counts messages authored by the user.
func (c *Context) UserResponseCount() int {
	n := 0
	for _, m := range c.history {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// LastMessage returns the most recent message, if any.
func (c *Context) LastMessage() (Message, bool) {
	if len(c.history) == 0 {
		return Message{}, false
	}
	return c.history[len(c.history)-1], true
}

// Selections returns the option ids the user chose when answering nodeID,
// in the order they were given.
func (c *Context) Selections(nodeID int64) []string {
	var out []string
	for _, m := range c.history {
		if m.Role == RoleUser && m.NodeID == nodeID && m.OptionID != "" {
			out = append(out, m.OptionID)
		}
	}
	return out
}

// HyperParameter returns the current value for key, 0 when unset.
func (c *Context) HyperParameter(key string) float64 {
	return c.hyper[key]
}

// HasHyperParameter reports whether key has ever been set.
func (c *Context) HasHyperParameter(key string) bool {
	_, ok := c.hyper[key]
	return ok
}

func (c *Context) SetHyperParameter(key string, value float64) {
	c.hyper[key] = value
	log.Debug().Str("session_id", c.SessionID).Str("key", key).Float64("value", value).Msg("Updated hyperparameter")
}

func (c *Context) IncrementHyperParameter(key string, delta float64) {
	c.SetHyperParameter(key, c.HyperParameter(key)+delta)
}

// HyperParameters returns a snapshot of all scores.
func (c *Context) HyperParameters() map[string]float64 {
	out := make(map[string]float64, len(c.hyper))
	for k, v := range c.hyper {
		out[k] = v
	}
	return out
}

func (c *Context) Hearts() float64 {
	return c.hearts
}

func (c *Context) UpdateHearts(h float64) {
	c.hearts = h
	log.Debug().Str("session_id", c.SessionID).Float64("hearts", h).Msg("Hearts updated")
}

func (c *Context) MarkCompleted() {
	c.completed = true
	log.Info().Str("session_id", c.SessionID).Msg("Simulation marked as completed")
}

// IsComplete is true once the session was explicitly ended or hearts ran out.
func (c *Context) IsComplete() bool {
	return c.completed || c.hearts <= 0
}

// Duration is the elapsed session time at now.
func (c *Context) Duration(now time.Time) time.Duration {
	return now.Sub(c.StartedAt)
}

// Metadata is a flat diagnostic view of the session.
func (c *Context) Metadata() map[string]any {
	return map[string]any{
		"sessionId":    c.SessionID,
		"simulationId": c.SimulationID,
		"mode":         string(c.Mode),
		"messageCount": c.MessageCount(),
		"hearts":       c.hearts,
		"completed":    c.IsComplete(),
	}
}

// Clone returns a deep copy sharing no mutable state with c.
func (c *Context) Clone() *Context {
	cp := *c
	cp.history = c.History()
	cp.hyper = c.HyperParameters()
	return &cp
}

// Restore replaces the mutable state of c with a copy of src's. Identity
// fields are left untouched. It commits the outcome of work done on a Clone.
func (c *Context) Restore(src *Context) {
	c.hearts = src.hearts
	c.completed = src.completed
	c.history = src.History()
	c.hyper = src.HyperParameters()
}
