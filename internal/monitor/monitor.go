// Package monitor collects execution telemetry for rule evaluations.
//
// A single Monitor is shared by every session evaluated in the process. All
// methods are safe for concurrent use: per-rule aggregates are guarded by
// their own mutex so recordings for different rules never contend, and the
// process-wide totals are atomics.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/config"
)

// RuleMetrics is the aggregate for one rule id. AverageTime and SuccessRate
// are derived when the metrics are read.
type RuleMetrics struct {
	RuleID          string
	TotalExecutions int64
	TotalTime       time.Duration
	SuccessCount    int64
	ErrorCount      int64
	MinTime         time.Duration
	MaxTime         time.Duration
	FirstExecuted   time.Time
	LastExecuted    time.Time
	Errors          []ErrorRecord

	AverageTime time.Duration
	SuccessRate float64
}

type ErrorRecord struct {
	RuleID    string
	Timestamp time.Time
	Message   string
}

type ExecutionRecord struct {
	RuleID    string
	Timestamp time.Time
	Elapsed   time.Duration
	Success   bool
	Error     string
}

// RulePerformance is a ranked entry in a Summary.
type RulePerformance struct {
	RuleID          string
	AverageTime     time.Duration
	TotalExecutions int64
	TotalErrors     int64
	ErrorRate       float64
	SuccessRate     float64
}

type Summary struct {
	TotalExecutions      int64
	TotalErrors          int64
	OverallErrorRate     float64
	TotalRules           int
	AverageExecutionTime time.Duration
	SlowestRules         []RulePerformance
	MostErrorProneRules  []RulePerformance
	RecentErrors         []ErrorRecord
}

type ruleEntry struct {
	mu      sync.Mutex
	metrics RuleMetrics
	history []ExecutionRecord
}

type Monitor struct {
	cfg     config.Monitor
	now     func() time.Time
	entries sync.Map // rule id -> *ruleEntry

	totalExecutions atomic.Int64
	totalErrors     atomic.Int64
}

type Option func(*Monitor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithConfig applies cfg. Zero fields keep their defaults.
func WithConfig(cfg config.Monitor) Option {
	return func(m *Monitor) { m.cfg = cfg.WithDefaults() }
}

func New(opts ...Option) *Monitor {
	m := &Monitor{cfg: config.DefaultMonitor(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) entry(ruleID string) *ruleEntry {
	if e, ok := m.entries.Load(ruleID); ok {
		return e.(*ruleEntry)
	}
	e, _ := m.entries.LoadOrStore(ruleID, &ruleEntry{metrics: RuleMetrics{RuleID: ruleID}})
	return e.(*ruleEntry)
}

// RecordExecution adds one evaluation outcome for ruleID.
func (m *Monitor) RecordExecution(ruleID string, elapsed time.Duration, success bool, errMsg string) {
	now := m.now()
	m.totalExecutions.Add(1)
	if !success {
		m.totalErrors.Add(1)
	}

	e := m.entry(ruleID)
	e.mu.Lock()
	met := &e.metrics
	if met.TotalExecutions == 0 {
		met.FirstExecuted = now
		met.MinTime = elapsed
	}
	met.TotalExecutions++
	met.TotalTime += elapsed
	met.LastExecuted = now
	met.MinTime = min(met.MinTime, elapsed)
	met.MaxTime = max(met.MaxTime, elapsed)
	if success {
		met.SuccessCount++
	} else {
		met.ErrorCount++
		met.Errors = appendBounded(met.Errors, ErrorRecord{RuleID: ruleID, Timestamp: now, Message: errMsg}, m.cfg.ErrorRing)
	}
	e.history = appendBounded(e.history, ExecutionRecord{
		RuleID:    ruleID,
		Timestamp: now,
		Elapsed:   elapsed,
		Success:   success,
		Error:     errMsg,
	}, m.cfg.HistoryRing)
	total, errs := met.TotalExecutions, met.ErrorCount
	e.mu.Unlock()

	m.checkThresholds(ruleID, elapsed, total, errs)
}

// appendBounded appends v and drops the oldest entries beyond limit.
func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}

func (m *Monitor) checkThresholds(ruleID string, elapsed time.Duration, total, errs int64) {
	if elapsed > m.cfg.SlowThreshold {
		log.Warn().Str("rule_id", ruleID).Dur("elapsed", elapsed).Msg("Slow rule execution")
	}
	if total >= m.cfg.ErrorRateMinExecutions {
		rate := float64(errs) / float64(total)
		if rate > m.cfg.ErrorRateAlarm {
			log.Warn().Str("rule_id", ruleID).Str("error_rate", fmt.Sprintf("%.1f%%", rate*100)).Msg("High error rate for rule")
		}
	}
}

// RuleMetrics returns a snapshot of the aggregate for ruleID.
func (m *Monitor) RuleMetrics(ruleID string) (RuleMetrics, bool) {
	v, ok := m.entries.Load(ruleID)
	if !ok {
		return RuleMetrics{}, false
	}
	return v.(*ruleEntry).snapshot(), true
}

// History returns the retained recent executions for ruleID, oldest first.
func (m *Monitor) History(ruleID string) []ExecutionRecord {
	v, ok := m.entries.Load(ruleID)
	if !ok {
		return nil
	}
	e := v.(*ruleEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecutionRecord, len(e.history))
	copy(out, e.history)
	return out
}

func (e *ruleEntry) snapshot() RuleMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.metrics
	out.Errors = make([]ErrorRecord, len(e.metrics.Errors))
	copy(out.Errors, e.metrics.Errors)
	if out.TotalExecutions > 0 {
		out.AverageTime = out.TotalTime / time.Duration(out.TotalExecutions)
		out.SuccessRate = float64(out.SuccessCount) / float64(out.TotalExecutions)
	}
	return out
}

func (m *Monitor) snapshots() []RuleMetrics {
	var out []RuleMetrics
	m.entries.Range(func(_, v any) bool {
		out = append(out, v.(*ruleEntry).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// Summary aggregates every rule into a system-wide report.
func (m *Monitor) Summary() Summary {
	total := m.totalExecutions.Load()
	errs := m.totalErrors.Load()
	all := m.snapshots()

	s := Summary{
		TotalExecutions: total,
		TotalErrors:     errs,
		TotalRules:      len(all),
	}
	if total > 0 {
		s.OverallErrorRate = float64(errs) / float64(total)
	}

	var sumAvg time.Duration
	var executed int
	perf := make([]RulePerformance, 0, len(all))
	var recent []ErrorRecord
	for _, rm := range all {
		recent = append(recent, rm.Errors...)
		if rm.TotalExecutions == 0 {
			continue
		}
		sumAvg += rm.AverageTime
		executed++
		perf = append(perf, RulePerformance{
			RuleID:          rm.RuleID,
			AverageTime:     rm.AverageTime,
			TotalExecutions: rm.TotalExecutions,
			TotalErrors:     rm.ErrorCount,
			ErrorRate:       float64(rm.ErrorCount) / float64(rm.TotalExecutions),
			SuccessRate:     rm.SuccessRate,
		})
	}
	if executed > 0 {
		s.AverageExecutionTime = sumAvg / time.Duration(executed)
	}

	slow := append([]RulePerformance(nil), perf...)
	sort.SliceStable(slow, func(i, j int) bool { return slow[i].AverageTime > slow[j].AverageTime })
	s.SlowestRules = head(slow, m.cfg.TopN)

	var prone []RulePerformance
	for _, p := range perf {
		if p.TotalExecutions > m.cfg.ErrorProneMinExecs {
			prone = append(prone, p)
		}
	}
	sort.SliceStable(prone, func(i, j int) bool { return prone[i].ErrorRate > prone[j].ErrorRate })
	s.MostErrorProneRules = head(prone, m.cfg.TopN)

	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Timestamp.After(recent[j].Timestamp) })
	s.RecentErrors = head(recent, m.cfg.RecentErrors)
	return s
}

func head[T any](s []T, n int) []T {
	if n >= 0 && len(s) > n {
		return s[:n]
	}
	return s
}

// ClearOldData drops retained history and error records older than
// daysToKeep days. Aggregate counters are left untouched.
func (m *Monitor) ClearOldData(daysToKeep int) {
	cutoff := m.now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	m.entries.Range(func(_, v any) bool {
		e := v.(*ruleEntry)
		e.mu.Lock()
		e.history = keepSince(e.history, cutoff, func(r ExecutionRecord) time.Time { return r.Timestamp })
		e.metrics.Errors = keepSince(e.metrics.Errors, cutoff, func(r ErrorRecord) time.Time { return r.Timestamp })
		e.mu.Unlock()
		return true
	})
	log.Info().Int("days_to_keep", daysToKeep).Msg("Cleared performance data")
}

func keepSince[T any](s []T, cutoff time.Time, ts func(T) time.Time) []T {
	out := s[:0]
	for _, v := range s {
		if !ts(v).Before(cutoff) {
			out = append(out, v)
		}
	}
	return out
}
