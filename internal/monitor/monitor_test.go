package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"rgehrsitz/simflow/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances by step on every read.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRecordExecution_SuccessesAndFailures(t *testing.T) {
	m := New()
	const successes, failures = 7, 13
	for i := 0; i < successes; i++ {
		m.RecordExecution("rule-a", 10*time.Millisecond, true, "")
	}
	for i := 0; i < failures; i++ {
		m.RecordExecution("rule-a", 20*time.Millisecond, false, fmt.Sprintf("err-%d", i))
	}

	met, ok := m.RuleMetrics("rule-a")
	require.True(t, ok)
	assert.Equal(t, int64(successes+failures), met.TotalExecutions)
	assert.Equal(t, int64(successes), met.SuccessCount)
	assert.Equal(t, int64(failures), met.ErrorCount)
	require.Len(t, met.Errors, 10, "error ring is bounded at 10")
	assert.Equal(t, "err-3", met.Errors[0].Message, "oldest retained error")
	assert.Equal(t, "err-12", met.Errors[9].Message, "newest error last")
	assert.Equal(t, 10*time.Millisecond, met.MinTime)
	assert.Equal(t, 20*time.Millisecond, met.MaxTime)
	assert.Equal(t, 330*time.Millisecond, met.TotalTime)
	assert.Equal(t, 16500*time.Microsecond, met.AverageTime)
	assert.InDelta(t, 0.35, met.SuccessRate, 1e-9)
}

func TestRecordExecution_FewFailuresKeepsAll(t *testing.T) {
	m := New()
	m.RecordExecution("r", time.Millisecond, false, "one")
	m.RecordExecution("r", time.Millisecond, false, "two")

	met, _ := m.RuleMetrics("r")
	got := []string{met.Errors[0].Message, met.Errors[1].Message}
	if diff := cmp.Diff([]string{"one", "two"}, got); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordExecution_HistoryRingBounded(t *testing.T) {
	m := New()
	for i := 0; i < 150; i++ {
		m.RecordExecution("r", time.Duration(i)*time.Millisecond, true, "")
	}
	h := m.History("r")
	require.Len(t, h, 100)
	assert.Equal(t, 50*time.Millisecond, h[0].Elapsed)
	assert.Equal(t, 149*time.Millisecond, h[99].Elapsed)
}

func TestRecordExecution_ConcurrentNoLostUpdates(t *testing.T) {
	m := New()
	var g errgroup.Group
	for i := 0; i < 1000; i++ {
		i := i
		g.Go(func() error {
			m.RecordExecution("shared", time.Microsecond, i%4 != 0, "flaky")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	met, ok := m.RuleMetrics("shared")
	require.True(t, ok)
	assert.Equal(t, int64(1000), met.TotalExecutions)
	assert.Equal(t, int64(750), met.SuccessCount)
	assert.Equal(t, int64(250), met.ErrorCount)
	assert.Len(t, met.Errors, 10)
	assert.Len(t, m.History("shared"), 100)

	s := m.Summary()
	assert.Equal(t, int64(1000), s.TotalExecutions)
	assert.Equal(t, int64(250), s.TotalErrors)
}

func TestRuleMetrics_Unknown(t *testing.T) {
	_, ok := New().RuleMetrics("nope")
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	clock := newFakeClock(time.Second)
	m := New(WithClock(clock.Now))

	for i := 0; i < 6; i++ {
		m.RecordExecution("fast", time.Millisecond, true, "")
	}
	for i := 0; i < 6; i++ {
		m.RecordExecution("flaky", 5*time.Millisecond, i%2 == 0, "flaky failed")
	}
	for i := 0; i < 3; i++ {
		m.RecordExecution("rare", 50*time.Millisecond, false, fmt.Sprintf("rare-%d", i))
	}

	s := m.Summary()
	assert.Equal(t, int64(15), s.TotalExecutions)
	assert.Equal(t, int64(6), s.TotalErrors)
	assert.InDelta(t, 0.4, s.OverallErrorRate, 1e-9)
	assert.Equal(t, 3, s.TotalRules)

	slow := make([]string, 0, len(s.SlowestRules))
	for _, p := range s.SlowestRules {
		slow = append(slow, p.RuleID)
	}
	assert.Equal(t, []string{"rare", "flaky", "fast"}, slow)

	// "rare" has only 3 executions and is excluded as noise.
	prone := make([]string, 0, len(s.MostErrorProneRules))
	for _, p := range s.MostErrorProneRules {
		prone = append(prone, p.RuleID)
	}
	assert.Equal(t, []string{"flaky", "fast"}, prone)
	assert.InDelta(t, 0.5, s.MostErrorProneRules[0].ErrorRate, 1e-9)

	require.Len(t, s.RecentErrors, 6)
	assert.Equal(t, "rare-2", s.RecentErrors[0].Message, "most recent error first")
	assert.Equal(t, "rare", s.RecentErrors[0].RuleID)

	wantAvg := (time.Millisecond + 5*time.Millisecond + 50*time.Millisecond) / 3
	assert.Equal(t, wantAvg, s.AverageExecutionTime)
}

func TestSummary_TopNLimits(t *testing.T) {
	cfg := New().cfg
	cfg.TopN = 2
	cfg.RecentErrors = 1
	m := New(WithConfig(cfg))
	for i := 0; i < 4; i++ {
		m.RecordExecution(fmt.Sprintf("r%d", i), time.Duration(i)*time.Millisecond, false, "x")
	}
	s := m.Summary()
	assert.Len(t, s.SlowestRules, 2)
	assert.Equal(t, "r3", s.SlowestRules[0].RuleID)
	assert.Len(t, s.RecentErrors, 1)
	assert.Empty(t, s.MostErrorProneRules)
}

func TestClearOldData_KeepsTotals(t *testing.T) {
	clock := newFakeClock(0)
	m := New(WithClock(clock.Now))

	m.RecordExecution("r", time.Millisecond, false, "old")
	clock.Advance(10 * 24 * time.Hour)
	m.RecordExecution("r", time.Millisecond, false, "new")

	m.ClearOldData(5)

	met, _ := m.RuleMetrics("r")
	assert.Equal(t, int64(2), met.TotalExecutions, "totals are not rolled back")
	assert.Equal(t, int64(2), met.ErrorCount)
	require.Len(t, met.Errors, 1)
	assert.Equal(t, "new", met.Errors[0].Message)
	require.Len(t, m.History("r"), 1)
	assert.Equal(t, int64(2), m.Summary().TotalExecutions)
}

func TestTimer(t *testing.T) {
	clock := newFakeClock(0)
	m := New(WithClock(clock.Now))

	timer := m.Start("timed")
	clock.Advance(40 * time.Millisecond)
	timer.Success()
	timer.Error("ignored")

	met, ok := m.RuleMetrics("timed")
	require.True(t, ok)
	assert.Equal(t, int64(1), met.TotalExecutions, "only the first terminal call records")
	assert.Equal(t, int64(1), met.SuccessCount)
	assert.Equal(t, 40*time.Millisecond, met.TotalTime)

	m.Start("timed").Fail(errors.New("boom"))
	met, _ = m.RuleMetrics("timed")
	require.Len(t, met.Errors, 1)
	assert.Equal(t, "*errors.errorString: boom", met.Errors[0].Message)

	_ = m.Start("never-finished")
	_, ok = m.RuleMetrics("never-finished")
	assert.False(t, ok, "an unfinished timer records nothing")
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	return &buf
}

func TestWithConfig_ZeroValuesKeepDefaults(t *testing.T) {
	buf := captureLogs(t)
	m := New(WithConfig(config.Monitor{}))
	for i := 0; i < 3; i++ {
		m.RecordExecution("fast", time.Millisecond, true, "")
	}
	assert.NotContains(t, buf.String(), "Slow rule execution", "a zero threshold must not flag every execution")

	m.RecordExecution("slow", 2*time.Second, true, "")
	assert.Contains(t, buf.String(), "Slow rule execution")

	for i := 0; i < 150; i++ {
		m.RecordExecution("ringed", time.Millisecond, true, "")
	}
	assert.Len(t, m.History("ringed"), config.DefaultMonitor().HistoryRing)
}

func TestWithConfig_ExplicitThreshold(t *testing.T) {
	buf := captureLogs(t)
	m := New(WithConfig(config.Monitor{SlowThreshold: 5 * time.Millisecond}))
	m.RecordExecution("r", 10*time.Millisecond, true, "")
	assert.Contains(t, buf.String(), "Slow rule execution")
}
