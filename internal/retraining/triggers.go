package retraining

import (
	"context"
	"fmt"
	"time"

	"DriftWatch/internal/domain/models"
	applogger "DriftWatch/pkg/logger"
)

// Swapped in tests.
var timeNow = time.Now

// DriftSource exposes the monitor's recorded drift events to the drift
// trigger. Implemented by *drift.Monitor; the scheduler only ever reads.
type DriftSource interface {
	DriftEventsSince(t time.Time) int
}

// triggerState pairs an immutable trigger with the mutable bookkeeping its
// predicate needs to fire exactly once per condition window. The mutable
// fields are written only from the scheduler's tick goroutine, which lets
// evaluation run without holding the scheduler mutex.
type triggerState struct {
	trigger models.RetrainingTrigger

	lastScheduleFire time.Time // ScheduledTime: end of the last fired window
	lastSampleMark   int64     // SampleCount: samples-seen at the last fire
}

func newTriggerState(t models.RetrainingTrigger, now time.Time) (*triggerState, error) {
	switch t.Type {
	case models.TriggerPerformanceDegradation, models.TriggerDriftDetection,
		models.TriggerSampleCount, models.TriggerManual:
	case models.TriggerScheduledTime:
		if t.Schedule == nil || (t.Schedule.Every <= 0 && t.Schedule.DailyAt == "") {
			return nil, fmt.Errorf("scheduled_time trigger needs a schedule")
		}
		if t.Schedule.DailyAt != "" {
			if _, err := time.Parse("15:04", t.Schedule.DailyAt); err != nil {
				return nil, fmt.Errorf("parse daily_at %q: %w", t.Schedule.DailyAt, err)
			}
		}
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t.Type)
	}
	// Interval schedules count from registration, not from the epoch.
	return &triggerState{trigger: t, lastScheduleFire: now}, nil
}

// evaluate reports whether the trigger's predicate is satisfied right now
// and advances the trigger's window bookkeeping when it fires. Manual
// triggers never auto-fire. Runs without the scheduler mutex (predicates
// may do model-service I/O); lastRetrain is the caller's locked snapshot,
// and rm is only read through its immutable fields.
func (s *Scheduler) evaluate(ctx context.Context, rm *registeredModel, lastRetrain time.Time, ts *triggerState, now time.Time) bool {
	t := ts.trigger
	if !t.Enabled {
		return false
	}
	switch t.Type {
	case models.TriggerManual:
		return false

	case models.TriggerPerformanceDegradation:
		if s.perf == nil {
			return false
		}
		degraded, err := s.perf.DetectPerformanceDegradation(ctx, t.Threshold)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("scheduler: performance check failed",
					applogger.String("model_id", rm.id), applogger.Error(err))
			}
			return false
		}
		return degraded

	case models.TriggerDriftDetection:
		if s.drift == nil {
			return false
		}
		since := now.Add(-s.cfg.DriftWindow)
		if lastRetrain.After(since) {
			since = lastRetrain
		}
		return s.drift.DriftEventsSince(since) > 0

	case models.TriggerSampleCount:
		if t.SampleInterval <= 0 {
			return false
		}
		n, err := rm.model.SamplesSeen(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("scheduler: samples_seen failed",
					applogger.String("model_id", rm.id), applogger.Error(err))
			}
			return false
		}
		if n/t.SampleInterval > ts.lastSampleMark/t.SampleInterval {
			ts.lastSampleMark = n
			return true
		}
		return false

	case models.TriggerScheduledTime:
		return ts.evaluateSchedule(now)
	}
	return false
}

func (ts *triggerState) evaluateSchedule(now time.Time) bool {
	sch := ts.trigger.Schedule
	if sch.Every > 0 {
		if now.Sub(ts.lastScheduleFire) >= sch.Every {
			ts.lastScheduleFire = now
			return true
		}
		return false
	}
	// daily_at fires once per day, at or after the configured wall-clock time
	at, _ := time.Parse("15:04", sch.DailyAt)
	due := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if now.Before(due) || !ts.lastScheduleFire.Before(due) {
		return false
	}
	ts.lastScheduleFire = now
	return true
}
