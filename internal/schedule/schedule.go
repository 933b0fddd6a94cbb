// Package schedule drives the periodic collection loop: either a fixed
// interval or a five-field cron expression evaluated against the UTC wall
// clock, with an interruptible sleep so shutdown never waits longer than
// a second to take effect.
package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kuroha-net/hems-agent/internal/control"
)

// Mode selects which of the two mutually exclusive trigger kinds a
// Scheduler uses.
type Mode int

const (
	ModeInterval Mode = iota
	ModeSchedule
)

// sleepSlice is the maximum span between stop-flag checks while waiting
// for the next tick, per the interruptible-sleep requirement.
const sleepSlice = time.Second

// Config selects and parametrises one trigger mode. Exactly one of
// IntervalSeconds (for ModeInterval) or CronExpr (for ModeSchedule) is
// meaningful.
type Config struct {
	Mode            Mode
	IntervalSeconds int
	CronExpr        string
}

// Scheduler fires Tick at the configured cadence until Control stops it.
type Scheduler struct {
	cfg      Config
	schedule cron.Schedule // nil in ModeInterval
}

// New validates cfg, parsing the cron expression up front so an invalid
// schedule is a fatal startup error rather than a runtime surprise.
func New(cfg Config) (*Scheduler, error) {
	s := &Scheduler{cfg: cfg}
	if cfg.Mode == ModeSchedule {
		parsed, err := cron.ParseStandard(cfg.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", cfg.CronExpr, err)
		}
		s.schedule = parsed
	}
	return s, nil
}

// Run invokes tick once immediately, then repeatedly at the configured
// cadence, until ctrl reports it should stop. The wait between ticks is
// sliced to at most one second so shutdown is observed promptly.
func (s *Scheduler) Run(ctrl *control.Control, tick func(now time.Time)) {
	for ctrl.Running() {
		tick(time.Now().UTC())
		if !s.sleepUntilNext(ctrl) {
			return
		}
	}
}

// sleepUntilNext waits for the next fire time, checking ctrl once per
// slice. It returns false if shutdown was requested during the wait.
func (s *Scheduler) sleepUntilNext(ctrl *control.Control) bool {
	next := s.nextFireTime()
	for {
		if !ctrl.Running() {
			return false
		}
		remaining := time.Until(next)
		if remaining <= 0 {
			return true
		}
		wait := remaining
		if wait > sleepSlice {
			wait = sleepSlice
		}
		time.Sleep(wait)
	}
}

func (s *Scheduler) nextFireTime() time.Time {
	now := time.Now().UTC()
	switch s.cfg.Mode {
	case ModeSchedule:
		return s.schedule.Next(now)
	default:
		seconds := s.cfg.IntervalSeconds
		if seconds <= 0 {
			seconds = 60
			slog.Warn("schedule: non-positive interval, defaulting to 60s")
		}
		return now.Add(time.Duration(seconds) * time.Second)
	}
}
