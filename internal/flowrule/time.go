package flowrule

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"rgehrsitz/simflow/internal/session"
)

// TimeMeasure selects the clock reading a TimeRule compares.
type TimeMeasure string

const (
	MeasureSessionDuration     TimeMeasure = "SESSION_DURATION"
	MeasureSinceLastMessage    TimeMeasure = "LAST_MESSAGE_TIME"
	MeasureResponseTime        TimeMeasure = "RESPONSE_TIME"
	MeasureAverageResponseTime TimeMeasure = "AVERAGE_RESPONSE_TIME"
	MeasureInactivity          TimeMeasure = "INACTIVE_TIME"
	MeasureHourOfDay           TimeMeasure = "TIME_OF_DAY"
	MeasureDayOfWeek           TimeMeasure = "DAY_OF_WEEK"
)

// TimeRule compares a time reading against a threshold. Duration measures are
// whole seconds, TIME_OF_DAY is the hour (0-23) and DAY_OF_WEEK the ISO
// weekday (Monday is 1). OpBetween tests Min <= reading <= Max.
//
// A response time is the gap between a user message and the message before
// it. Readings that need history which is not there yet are 0.
type TimeRule struct {
	ID        string      `validate:"required"`
	Measure   TimeMeasure `validate:"oneof=SESSION_DURATION LAST_MESSAGE_TIME RESPONSE_TIME AVERAGE_RESPONSE_TIME INACTIVE_TIME TIME_OF_DAY DAY_OF_WEEK"`
	Operator  Operator    `validate:"oneof== > < >= <= != between"`
	Threshold int64
	Min       int64
	Max       int64 `validate:"gtefield=Min"`
	// Warn logs when the rule does not hold, for limits worth surfacing.
	Warn bool
	Desc string
	Rank int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// SessionTimeout holds once the session has run longer than limit.
func SessionTimeout(limit time.Duration) TimeRule {
	secs := int64(limit / time.Second)
	return TimeRule{
		ID:        fmt.Sprintf("session_timeout_%d", secs),
		Measure:   MeasureSessionDuration,
		Operator:  OpGreater,
		Threshold: secs,
		Warn:      true,
		Desc:      fmt.Sprintf("Session timeout after %d seconds", secs),
	}
}

// ResponseTimeLimit holds while the latest answer came within limit.
func ResponseTimeLimit(limit time.Duration) TimeRule {
	secs := int64(limit / time.Second)
	return TimeRule{
		ID:        fmt.Sprintf("response_limit_%d", secs),
		Measure:   MeasureResponseTime,
		Operator:  OpLessOrEqual,
		Threshold: secs,
		Warn:      true,
		Desc:      fmt.Sprintf("Response time must be <= %d seconds", secs),
	}
}

// InactivityCheck holds while the user has been quiet for less than limit.
func InactivityCheck(limit time.Duration) TimeRule {
	secs := int64(limit / time.Second)
	return TimeRule{
		ID:        fmt.Sprintf("inactivity_%d", secs),
		Measure:   MeasureInactivity,
		Operator:  OpLess,
		Threshold: secs,
		Warn:      true,
		Desc:      fmt.Sprintf("Check for inactivity > %d seconds", secs),
	}
}

// BusinessHours holds between the start and end hour, both inclusive.
func BusinessHours(startHour, endHour int) TimeRule {
	return TimeRule{
		ID:       fmt.Sprintf("business_hours_%d_%d", startHour, endHour),
		Measure:  MeasureHourOfDay,
		Operator: OpBetween,
		Min:      int64(startHour),
		Max:      int64(endHour),
		Desc:     fmt.Sprintf("Active during business hours (%d:00 - %d:00)", startHour, endHour),
	}
}

func (r TimeRule) Evaluate(ctx *session.Context) (bool, error) {
	actual, err := r.reading(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if r.Operator == OpBetween {
		ok = actual >= r.Min && actual <= r.Max
	} else {
		ok, err = compareInt(r.Operator, actual, r.Threshold)
		if err != nil {
			return false, err
		}
	}
	if r.Warn && !ok {
		log.Warn().Str("rule_id", r.ID).Str("measure", string(r.Measure)).Int64("actual", actual).Msg("Time constraint not met")
	}
	return ok, nil
}

func (r TimeRule) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r TimeRule) reading(ctx *session.Context) (int64, error) {
	now := r.now()
	switch r.Measure {
	case MeasureSessionDuration, "":
		return seconds(ctx.Duration(now)), nil
	case MeasureSinceLastMessage:
		last, ok := ctx.LastMessage()
		if !ok {
			return 0, nil
		}
		return seconds(now.Sub(last.Timestamp)), nil
	case MeasureResponseTime:
		gaps := responseTimes(ctx.History())
		if len(gaps) == 0 {
			return 0, nil
		}
		return seconds(gaps[len(gaps)-1]), nil
	case MeasureAverageResponseTime:
		gaps := responseTimes(ctx.History())
		if len(gaps) == 0 {
			return 0, nil
		}
		var total time.Duration
		for _, g := range gaps {
			total += g
		}
		return seconds(total / time.Duration(len(gaps))), nil
	case MeasureInactivity:
		history := ctx.History()
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == session.RoleUser {
				return seconds(now.Sub(history[i].Timestamp)), nil
			}
		}
		return 0, nil
	case MeasureHourOfDay:
		return int64(now.Hour()), nil
	case MeasureDayOfWeek:
		wd := int64(now.Weekday())
		if wd == 0 {
			wd = 7
		}
		return wd, nil
	default:
		return 0, fmt.Errorf("unknown time measure %q", r.Measure)
	}
}

// responseTimes returns, for every user message after the first message, how
// long it came after the message before it.
func responseTimes(history []session.Message) []time.Duration {
	var out []time.Duration
	for i := 1; i < len(history); i++ {
		if history[i].Role != session.RoleUser {
			continue
		}
		out = append(out, history[i].Timestamp.Sub(history[i-1].Timestamp))
	}
	return out
}

func seconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func (r TimeRule) Description() string {
	if r.Desc != "" {
		return r.Desc
	}
	if r.Operator == OpBetween {
		return fmt.Sprintf("%s between %d and %d", r.Measure, r.Min, r.Max)
	}
	return fmt.Sprintf("%s %s %d", r.Measure, r.Operator, r.Threshold)
}

func (r TimeRule) Priority() int  { return r.Rank }
func (r TimeRule) RuleID() string { return r.ID }
