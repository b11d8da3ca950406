// Package countdown implements the self-adjusting countdown scheduler. One
// scheduler instance watches one target date; its tick period is chosen
// adaptively from the current urgency level so that wall-clock accuracy
// scales with how fast the price is changing.
package countdown

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mkrell/staywatch/internal/logger"
	"github.com/mkrell/staywatch/internal/models"
	"github.com/mkrell/staywatch/internal/urgency"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateComplete State = "complete"
)

// Cadence maps urgency levels to tick periods. Coarser levels tick on the
// order of hours, finer levels on the order of a minute.
type Cadence struct {
	Low      time.Duration
	Medium   time.Duration
	High     time.Duration
	Critical time.Duration
}

// DefaultCadence returns the standard per-level tick periods.
func DefaultCadence() Cadence {
	return Cadence{
		Low:      1 * time.Hour,
		Medium:   30 * time.Minute,
		High:     5 * time.Minute,
		Critical: 1 * time.Minute,
	}
}

// Period returns the tick period for a level. Zero-valued entries fall back
// to the defaults.
func (c Cadence) Period(level models.UrgencyLevel) time.Duration {
	var d time.Duration
	switch level {
	case models.UrgencyCritical:
		d = c.Critical
	case models.UrgencyHigh:
		d = c.High
	case models.UrgencyMedium:
		d = c.Medium
	default:
		d = c.Low
	}
	if d <= 0 {
		d = DefaultCadence().Period(level)
	}
	return d
}

// Callbacks is the notification surface consumed by the presentation layer.
// Nil entries are skipped. Callbacks run on the scheduler's tick path and
// must not call back into the scheduler.
type Callbacks struct {
	OnTick          func(models.TimeRemaining)
	OnUrgencyChange func(models.UrgencyLevel)
	OnComplete      func()
}

// Config configures a Scheduler. The zero value uses the default cadence and
// the real clock.
type Config struct {
	Cadence   Cadence
	Clock     clock.Clock
	Callbacks Callbacks
}

// Scheduler drives the countdown for a single target date. All mutation is
// serialized through one timer-tick path per instance; no state is shared
// across instances.
type Scheduler struct {
	mu         sync.Mutex
	clk        clock.Clock
	target     time.Time
	cadence    Cadence
	callbacks  Callbacks
	state      State
	active     bool // host visibility signal; inactive suspends all ticks
	level      models.UrgencyLevel
	remaining  models.TimeRemaining
	timer      *clock.Timer
	generation uint64 // bumped on every stop/pause/reset to invalidate stale arms
}

// New creates a scheduler for the given target date. It starts idle; call
// Start to arm it.
func New(target time.Time, cfg Config) *Scheduler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clk:       clk,
		target:    target,
		cadence:   cfg.Cadence,
		callbacks: cfg.Callbacks,
		state:     StateIdle,
		active:    true,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Level returns the most recently observed urgency level.
func (s *Scheduler) Level() models.UrgencyLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Remaining returns the most recently computed time breakdown.
func (s *Scheduler) Remaining() models.TimeRemaining {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Start arms the scheduler. The first computation happens immediately, not
// on the first tick. Starting a non-idle scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.level = urgency.Level(urgency.DaysUntil(s.target, s.clk.Now()))
	s.mu.Unlock()

	s.tick(true)
}

// Pause cancels the timer without discarding last-known state.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StatePaused
	s.stopTimerLocked()
}

// Resume recomputes immediately and re-arms. Only a paused scheduler resumes.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.tick(false)
}

// Reset forces an immediate recomputation against the (possibly unchanged)
// target, clearing a completed state. It re-arms unless currently paused.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.stopTimerLocked()
	paused := s.state == StatePaused
	if !paused {
		s.state = StateRunning
	}
	s.remaining = urgency.Remaining(s.target, s.clk.Now())
	s.level = urgency.Level(s.remaining.Days)
	s.mu.Unlock()

	if !paused {
		s.tick(false)
	}
}

// Retarget changes the target date and resets the countdown.
func (s *Scheduler) Retarget(target time.Time) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
	s.Reset()
}

// SetActive reports the host visibility signal. While inactive the scheduler
// suspends its timer entirely; becoming active again triggers an immediate
// recomputation.
func (s *Scheduler) SetActive(active bool) {
	s.mu.Lock()
	if s.active == active {
		s.mu.Unlock()
		return
	}
	s.active = active
	running := s.state == StateRunning
	if !active {
		s.stopTimerLocked()
		s.mu.Unlock()
		logger.Debug("Scheduler suspended: host inactive")
		return
	}
	s.mu.Unlock()

	logger.Debug("Scheduler resumed: host active")
	if running {
		s.tick(false)
	}
}

// Stop deterministically cancels the timer and returns the scheduler to
// idle. A stopped scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.state = StateIdle
}

// stopTimerLocked cancels any armed timer and invalidates in-flight arms.
func (s *Scheduler) stopTimerLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// tick performs one scheduler cycle: recompute, detect transitions, notify,
// and re-arm. Notification runs before the next tick is armed, so ticks are
// strictly sequential. initial suppresses the urgency-change notification on
// the very first computation.
func (s *Scheduler) tick(initial bool) {
	s.mu.Lock()
	if s.state != StateRunning || !s.active {
		s.mu.Unlock()
		return
	}

	now := s.clk.Now()
	remaining := urgency.Remaining(s.target, now)
	s.remaining = remaining

	completed := remaining.Expired()
	newLevel := urgency.Level(remaining.Days)
	levelChanged := !initial && !completed && newLevel != s.level
	prevLevel := s.level
	s.level = newLevel

	if completed {
		s.state = StateComplete
		s.stopTimerLocked()
	}
	gen := s.generation
	cb := s.callbacks
	s.mu.Unlock()

	if cb.OnTick != nil {
		cb.OnTick(remaining)
	}
	if levelChanged {
		logger.Debug("Urgency level changed %s -> %s (%d days remaining)", prevLevel, newLevel, remaining.Days)
		if cb.OnUrgencyChange != nil {
			cb.OnUrgencyChange(newLevel)
		}
	}
	if completed {
		logger.Info("Countdown reached target date")
		if cb.OnComplete != nil {
			cb.OnComplete()
		}
		return
	}

	s.arm(gen, s.cadence.Period(newLevel))
}

// arm schedules the next tick unless the scheduler moved on since gen was
// observed (paused, reset, stopped, or suspended in the meantime).
func (s *Scheduler) arm(gen uint64, period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.state != StateRunning || !s.active {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clk.AfterFunc(period, func() { s.tick(false) })
}
