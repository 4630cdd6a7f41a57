package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"rgehrsitz/simflow/internal/config"
	"rgehrsitz/simflow/internal/detection"
	"rgehrsitz/simflow/internal/engine"
	"rgehrsitz/simflow/internal/monitor"
	"rgehrsitz/simflow/internal/preprocessor"
	flow "rgehrsitz/simflow/internal/runtime"
	"rgehrsitz/simflow/internal/session"
	"rgehrsitz/simflow/internal/simulation"
)

// step is one scripted user action. Node 0 starts the flow.
type step struct {
	Node   int64  `yaml:"node"`
	Option string `yaml:"option"`
	Text   string `yaml:"text"`
}

func loadScript(path string) ([]step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var steps []step
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal script: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("script %s has no steps", path)
	}
	return steps, nil
}

type replayer struct {
	sim      *simulation.Simulation
	script   []step
	kind     detection.Type
	monitor  *monitor.Monitor
	resolver *flow.Resolver
	gateTTL  time.Duration

	assumePredicates bool
}

type stepResult struct {
	Step    step
	Visible []int64
	Show    []string
}

type sessionResult struct {
	Context *session.Context
	Steps   []stepResult
}

func newReplayer(cfg config.Config, simPath, scriptPath string) (*replayer, error) {
	sim, err := preprocessor.LoadFile(simPath)
	if err != nil {
		return nil, err
	}
	sim, _ = preprocessor.Normalize(sim)

	script, err := loadScript(scriptPath)
	if err != nil {
		return nil, err
	}

	kind := detection.New(detection.WithCache(cfg.Detection.CacheTTL)).Detect(sim)
	// Replay has no content agent, so AI-generated content runs on its rules.
	if flow.SelectStrategy(kind, flow.AgentState{Breaker: flow.BreakerOpen}) != flow.StrategyRules {
		return nil, fmt.Errorf("simulation %q needs a content agent", sim.Name)
	}

	return &replayer{
		sim:     sim,
		script:  script,
		kind:    kind,
		monitor: monitor.New(monitor.WithConfig(cfg.Monitor)),
		gateTTL: cfg.Runtime.GateCacheTTL,
	}, nil
}

// Run replays the script in n independent sessions sharing one monitor.
func (r *replayer) Run(ctx context.Context, n int) ([]sessionResult, error) {
	opts := []flow.ResolverOption{
		flow.WithEvaluator(flow.NewEvaluator(flow.WithMonitor(r.monitor))),
		flow.WithEngine(engine.New(engine.WithMonitor(r.monitor))),
		flow.WithGateCache(r.gateTTL),
	}
	if r.assumePredicates {
		opts = append(opts, flow.WithPredicateEvaluator(flow.PredicateFunc(
			func(string, *session.Context) (bool, error) { return true, nil },
		)))
	}
	r.resolver = flow.NewResolver(opts...)

	results := make([]sessionResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			res, err := r.replayOne(gctx)
			if err != nil {
				return fmt.Errorf("session %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *replayer) replayOne(ctx context.Context) (sessionResult, error) {
	sc := session.New(session.WithSimulation(r.sim.ID), session.WithMode(session.ModePredefined))
	out := sessionResult{Context: sc}

	for _, s := range r.script {
		if sc.IsComplete() {
			log.Debug().Str("session_id", sc.SessionID).Msg("Session completed, skipping remaining steps")
			break
		}
		res, err := r.resolver.Next(ctx, r.sim, sc, flow.Action{NodeID: s.Node, OptionID: s.Option, Text: s.Text})
		if err != nil {
			return out, err
		}
		sr := stepResult{Step: s, Show: res.Effects.Show}
		for _, n := range res.Visible {
			sr.Visible = append(sr.Visible, n.ID)
		}
		out.Steps = append(out.Steps, sr)
	}
	return out, nil
}

func (r *replayer) Print(w io.Writer, results []sessionResult) {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Fprintf(w, "%s (%s)\n", r.sim.Name, r.kind)

	// Sessions replay the same script, so the first one shows the flow.
	first := results[0]
	for _, s := range first.Steps {
		fmt.Fprintf(w, "  node=%d option=%q -> %v\n", s.Step.Node, s.Step.Option, s.Visible)
		for _, msg := range s.Show {
			color.New(color.FgYellow).Fprintf(w, "    %s\n", msg)
		}
	}

	for i, res := range results {
		sc := res.Context
		status := color.RedString("in progress")
		if sc.IsComplete() {
			status = color.GreenString("completed")
		}
		fmt.Fprintf(w, "session %d %s: %s, hearts=%.1f, messages=%d, scores=%s\n",
			i, sc.SessionID, status, sc.Hearts(), sc.MessageCount(), formatScores(sc.HyperParameters()))
	}

	sum := r.monitor.Summary()
	heading.Fprintln(w, "Rule performance")
	fmt.Fprintf(w, "  rules=%d executions=%d errors=%d error_rate=%.2f%% avg=%s\n",
		sum.TotalRules, sum.TotalExecutions, sum.TotalErrors, sum.OverallErrorRate*100, sum.AverageExecutionTime)
	for _, p := range sum.SlowestRules {
		fmt.Fprintf(w, "  slow %s avg=%s runs=%d\n", p.RuleID, p.AverageTime, p.TotalExecutions)
	}
	for _, e := range sum.RecentErrors {
		color.New(color.FgRed).Fprintf(w, "  error %s: %s\n", e.RuleID, e.Message)
	}
}

func formatScores(scores map[string]float64) string {
	if len(scores) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, scores[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
