package runtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rgehrsitz/simflow/internal/engine"
	"rgehrsitz/simflow/internal/flowrule"
	"rgehrsitz/simflow/internal/session"
	"rgehrsitz/simflow/internal/simulation"
)

var ErrUnknownNode = errors.New("unknown node")

var literalPredicate = regexp.MustCompile(`^\s*(true|false|1|0)\s*$`)

// PredicateEvaluator interprets legacy show predicates. It is supplied by the
// host; the resolver only handles literal predicates itself.
type PredicateEvaluator interface {
	EvaluatePredicate(predicate string, ctx *session.Context) (bool, error)
}

// PredicateFunc adapts a function to PredicateEvaluator.
type PredicateFunc func(predicate string, ctx *session.Context) (bool, error)

func (f PredicateFunc) EvaluatePredicate(predicate string, ctx *session.Context) (bool, error) {
	return f(predicate, ctx)
}

// Action is one user step. NodeID 0 starts the flow.
type Action struct {
	NodeID   int64
	OptionID string
	Text     string
}

type Result struct {
	Visible   []simulation.Node
	Effects   Effects
	Completed bool
}

// Resolver selects the nodes shown after a user action.
//
// A structured node is decided by its gates followed by its rules, evaluated
// as one conjunction on the engine against a clone of the session. Score
// changes, completion and effects of a node are committed only when the node
// is shown, so a rule that matched before a later rule hid the node leaves no
// trace.
type Resolver struct {
	evaluator  *Evaluator
	engine     *engine.Engine
	predicates PredicateEvaluator
	tracer     trace.Tracer
	gates      *cache.Cache
}

type gateEntry struct {
	rules []flowrule.FlowRule
	err   error
}

type ResolverOption func(*Resolver)

func WithEvaluator(e *Evaluator) ResolverOption {
	return func(r *Resolver) { r.evaluator = e }
}

func WithPredicateEvaluator(p PredicateEvaluator) ResolverOption {
	return func(r *Resolver) { r.predicates = p }
}

func WithTracer(t trace.Tracer) ResolverOption {
	return func(r *Resolver) { r.tracer = t }
}

// WithEngine evaluates node rules on e. By default the resolver builds an
// engine reporting to the evaluator's monitor.
func WithEngine(e *engine.Engine) ResolverOption {
	return func(r *Resolver) { r.engine = e }
}

// WithGateCache keeps built gates per simulation id and node for ttl.
// Simulations without an id are never cached.
func WithGateCache(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.gates = cache.New(ttl, 2*ttl)
		}
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.evaluator == nil {
		r.evaluator = NewEvaluator()
	}
	if r.engine == nil {
		r.engine = engine.New(engine.WithMonitor(r.evaluator.monitor))
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("rgehrsitz/simflow/internal/runtime")
	}
	return r
}

// Next records the user action on sc and returns the nodes that become
// visible. Shown nodes are appended to the history as assistant messages.
func (r *Resolver) Next(ctx context.Context, sim *simulation.Simulation, sc *session.Context, act Action) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.Resolver.Next", trace.WithAttributes(
		attribute.String("session.id", sc.SessionID),
		attribute.Int64("node.id", act.NodeID),
	))
	defer span.End()

	res, err := r.next(ctx, sim, sc, act)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("visible", len(res.Visible)), attribute.Bool("completed", res.Completed))
	return res, nil
}

func (r *Resolver) next(ctx context.Context, sim *simulation.Simulation, sc *session.Context, act Action) (Result, error) {
	if sim == nil {
		return Result{}, errors.New("nil simulation")
	}
	nodes, err := sim.Nodes()
	if err != nil {
		return Result{}, fmt.Errorf("loading nodes of %q: %w", sim.Name, err)
	}

	var from *simulation.Node
	if act.NodeID != 0 {
		n, ok := findNode(nodes, act.NodeID)
		if !ok {
			return Result{}, fmt.Errorf("%w: %d", ErrUnknownNode, act.NodeID)
		}
		from = &n
		sc.AddMessage(session.Message{
			ID:       int64(sc.MessageCount() + 1),
			NodeID:   act.NodeID,
			Role:     session.RoleUser,
			Text:     act.Text,
			OptionID: act.OptionID,
		})
	}

	var res Result
	in := Input{OptionID: act.OptionID, Answer: act.Text}
	for _, n := range nodes {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !isSuccessor(n, from) {
			continue
		}
		visible, fx := r.visible(sim, n, sc, in)
		if visible {
			res.Visible = append(res.Visible, n)
			res.Effects.merge(fx)
		}
	}

	if target := res.Effects.NavigateTo; target != nil {
		res.Visible = navigateFirst(nodes, res.Visible, *target)
	}

	for _, n := range res.Visible {
		sc.AddMessage(session.Message{
			ID:     int64(sc.MessageCount() + 1),
			NodeID: n.ID,
			Role:   session.RoleAssistant,
			Text:   n.Text,
		})
	}
	res.Completed = sc.IsComplete()

	log.Debug().Str("session_id", sc.SessionID).Int64("from", act.NodeID).Int("visible", len(res.Visible)).Bool("completed", res.Completed).Msg("Resolved next nodes")
	return res, nil
}

// isSuccessor reports whether n follows from. Structured links, from the node
// or from its rules, take precedence over legacy order numbers; a node with
// neither is a start node.
func isSuccessor(n simulation.Node, from *simulation.Node) bool {
	if preds := n.Predecessors(); len(preds) > 0 {
		return from != nil && slices.Contains(preds, from.ID)
	}
	if n.PreviousOrderNumber != nil {
		var prev int64
		if from != nil {
			if from.OrderNumber == nil {
				return false
			}
			prev = *from.OrderNumber
		}
		return *n.PreviousOrderNumber == prev
	}
	return from == nil
}

// visible decides whether n is shown. Structured nodes use their gates and
// rules exclusively; otherwise the legacy predicate applies. sc changes only
// when a structured node is shown.
func (r *Resolver) visible(sim *simulation.Simulation, n simulation.Node, sc *session.Context, in Input) (bool, Effects) {
	if !n.Structured() {
		if !n.HasPredicate() {
			return true, Effects{}
		}
		return r.predicate(n, sc), Effects{}
	}

	gates, err := r.gatesFor(sim, n)
	if err != nil {
		log.Error().Err(err).Int64("node_id", n.ID).Msg("Invalid gates, hiding node")
		return false, Effects{}
	}

	var fx Effects
	trial := sc.Clone()
	all := append(append([]flowrule.FlowRule(nil), gates...), r.evaluator.nodeRules(n, in, &fx)...)
	if !r.engine.EvaluateAll(all, trial) {
		if fx.End || fx.NavigateTo != nil || len(fx.Show) > 0 {
			log.Debug().Int64("node_id", n.ID).Msg("Node hidden, discarding effects of its matched rules")
		}
		return false, Effects{}
	}
	sc.Restore(trial)
	return true, fx
}

// gatesFor builds the gates of n, through the gate cache when one is set.
func (r *Resolver) gatesFor(sim *simulation.Simulation, n simulation.Node) ([]flowrule.FlowRule, error) {
	if !n.HasGates() {
		return nil, nil
	}
	build := func() gateEntry {
		rules, err := flowrule.BuildAll(fmt.Sprintf("node:%d/gate", n.ID), n.Gates)
		return gateEntry{rules: rules, err: err}
	}
	if r.gates == nil || sim.ID == "" {
		e := build()
		return e.rules, e.err
	}

	key := fmt.Sprintf("%s/%d", sim.ID, n.ID)
	if v, ok := r.gates.Get(key); ok {
		e := v.(gateEntry)
		return e.rules, e.err
	}
	e := build()
	r.gates.Set(key, e, cache.DefaultExpiration)
	log.Debug().Str("key", key).Int("gates", len(e.rules)).Msg("Cached node gates")
	return e.rules, e.err
}

// Forget drops the cached gates of a simulation, e.g. after it was edited.
func (r *Resolver) Forget(simulationID string) {
	if r.gates == nil {
		return
	}
	prefix := simulationID + "/"
	for key := range r.gates.Items() {
		if strings.HasPrefix(key, prefix) {
			r.gates.Delete(key)
		}
	}
}

func (r *Resolver) predicate(n simulation.Node, sc *session.Context) bool {
	if m := literalPredicate.FindStringSubmatch(n.Predicate); m != nil {
		return m[1] == "true" || m[1] == "1"
	}
	if r.predicates == nil {
		log.Warn().Int64("node_id", n.ID).Str("predicate", n.Predicate).Msg("No predicate evaluator configured, hiding node")
		return false
	}
	ok, err := r.predicates.EvaluatePredicate(strings.TrimSpace(n.Predicate), sc)
	if err != nil {
		log.Error().Err(err).Int64("node_id", n.ID).Str("predicate", n.Predicate).Msg("Predicate evaluation failed, hiding node")
		return false
	}
	return ok
}

func navigateFirst(nodes, visible []simulation.Node, target int64) []simulation.Node {
	out := make([]simulation.Node, 0, len(visible)+1)
	for _, n := range visible {
		if n.ID == target {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		n, ok := findNode(nodes, target)
		if !ok {
			log.Warn().Int64("target", target).Msg("Navigation target not found")
			return visible
		}
		out = append(out, n)
	}
	for _, n := range visible {
		if n.ID != target {
			out = append(out, n)
		}
	}
	return out
}

func findNode(nodes []simulation.Node, id int64) (simulation.Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return simulation.Node{}, false
}
