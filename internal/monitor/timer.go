package monitor

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Timer measures one rule execution. Exactly one of Success, Error or Fail
// records the measurement; later calls are ignored, and a timer that is never
// finished records nothing.
type Timer struct {
	m      *Monitor
	ruleID string
	start  time.Time
	done   atomic.Bool
}

// Start begins measuring an execution of ruleID.
func (m *Monitor) Start(ruleID string) *Timer {
	return &Timer{m: m, ruleID: ruleID, start: m.now()}
}

func (t *Timer) Success() {
	t.finish(true, "")
}

func (t *Timer) Error(msg string) {
	t.finish(false, msg)
}

// Fail records err with its concrete type, e.g. "*errors.errorString: boom".
func (t *Timer) Fail(err error) {
	t.finish(false, fmt.Sprintf("%T: %v", err, err))
}

func (t *Timer) finish(success bool, msg string) {
	if !t.done.CompareAndSwap(false, true) {
		return
	}
	t.m.RecordExecution(t.ruleID, t.m.now().Sub(t.start), success, msg)
}
