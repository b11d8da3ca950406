// Package watch coordinates the per-stay pricing controllers: it creates one
// controller per watched stay, persists every pricing result, alert, and
// reconciliation outcome, and fans notable events out to the notifier.
package watch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mkrell/staywatch/internal/countdown"
	"github.com/mkrell/staywatch/internal/engine"
	"github.com/mkrell/staywatch/internal/logger"
	"github.com/mkrell/staywatch/internal/models"
	"github.com/mkrell/staywatch/internal/storage"
	"github.com/mkrell/staywatch/internal/urgency"
)

// Notifier receives user-facing notifications. A nil Notifier disables them.
type Notifier interface {
	SendAlerts(stayName string, alerts []models.PriceAlert) error
	SendMismatch(stayName string, v *models.VerificationState) error
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Config configures a Watcher. Store is required; everything else has a
// usable zero value.
type Config struct {
	Store        *storage.Storage
	Notifier     Notifier
	Calculator   engine.Calculator
	Clock        clock.Clock
	Cadence      countdown.Cadence
	Tolerance    float64
	ForecastDays int
	MaxAlerts    int
}

type stayWatch struct {
	stay       *models.Stay
	controller *engine.Controller
	countdown  *countdown.Scheduler
}

// Watcher owns the controllers for all watched stays.
type Watcher struct {
	mu       sync.Mutex
	cfg      Config
	clk      clock.Clock
	stays    map[string]*stayWatch // keyed by stay ID
	paused   bool
	failures int // consecutive reconciliation failures across all stays
}

// New creates an empty watcher. Stays are added with AddStay.
func New(cfg Config) *Watcher {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Watcher{
		cfg:   cfg,
		clk:   clk,
		stays: make(map[string]*stayWatch),
	}
}

// AddStay registers a stay, persists it, and starts its controller with an
// immediate recomputation. A computation-level validation failure (for
// example a past check-in date) is logged but does not reject the stay.
func (w *Watcher) AddStay(stay *models.Stay) error {
	if err := stay.Validate(); err != nil {
		return fmt.Errorf("invalid stay: %w", err)
	}
	if err := w.cfg.Store.UpsertStay(stay); err != nil {
		return fmt.Errorf("failed to persist stay: %w", err)
	}

	w.mu.Lock()
	if existing, ok := w.stays[stay.ID]; ok {
		existing.controller.Close()
		existing.countdown.Stop()
	}

	ctrl := engine.New(engine.Inputs{
		TargetDate:             stay.TargetDate,
		BasePrice:              stay.BasePrice,
		MarketDemandMultiplier: stay.MarketDemandMultiplier,
		ForecastDays:           w.cfg.ForecastDays,
	}, engine.Config{
		Clock:      w.clk,
		Calculator: w.cfg.Calculator,
		Tolerance:  w.cfg.Tolerance,
		Cadence:    w.cfg.Cadence,
		MaxAlerts:  w.cfg.MaxAlerts,
		Callbacks: engine.Callbacks{
			OnPriceUpdate:  func(p models.UrgencyPricing) { w.handlePriceUpdate(stay, p) },
			OnAlert:        func(a models.PriceAlert) { w.handleAlert(stay, a) },
			OnVerification: func(v models.VerificationState) { w.handleVerification(stay, v) },
		},
	})
	// The countdown scheduler drives urgency-transition and completion
	// events independently of pricing recomputations.
	cd := countdown.New(stay.TargetDate, countdown.Config{
		Cadence: w.cfg.Cadence,
		Clock:   w.clk,
		Callbacks: countdown.Callbacks{
			OnUrgencyChange: func(level models.UrgencyLevel) {
				logger.Info("Stay %s urgency changed to %s", stay.Name, level)
			},
			OnComplete: func() {
				logger.Info("Stay %s reached check-in (%s)", stay.Name, stay.TargetDate.Format(time.RFC3339))
			},
		},
	})

	w.stays[stay.ID] = &stayWatch{stay: stay, controller: ctrl, countdown: cd}
	paused := w.paused
	w.mu.Unlock()

	cd.Start()
	if paused {
		ctrl.Pause()
		cd.Pause()
		return nil
	}
	if err := ctrl.Recompute(); err != nil {
		logger.Warn("Initial pricing for stay %s failed: %v", stay.Name, err)
	}
	return nil
}

// RemoveStay closes the stay's controller and deletes all its stored data.
func (w *Watcher) RemoveStay(id string) error {
	w.mu.Lock()
	sw, ok := w.stays[id]
	if ok {
		sw.controller.Close()
		sw.countdown.Stop()
		delete(w.stays, id)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("stay not watched: %s", id)
	}
	return w.cfg.Store.DeleteStay(id)
}

// Controller returns the controller for a stay, if watched.
func (w *Watcher) Controller(id string) (*engine.Controller, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw, ok := w.stays[id]
	if !ok {
		return nil, false
	}
	return sw.controller, true
}

// PauseAll suspends every controller. State is retained.
func (w *Watcher) PauseAll() {
	w.mu.Lock()
	w.paused = true
	watches := w.snapshotLocked()
	w.mu.Unlock()

	for _, sw := range watches {
		sw.controller.Pause()
		sw.countdown.Pause()
	}
	logger.Info("All stays paused")
}

// ResumeAll resumes every controller with an immediate recomputation.
func (w *Watcher) ResumeAll() {
	w.mu.Lock()
	w.paused = false
	watches := w.snapshotLocked()
	w.mu.Unlock()

	for _, sw := range watches {
		sw.countdown.Resume()
		if err := sw.controller.Resume(); err != nil {
			logger.Warn("Resume recomputation for stay %s failed: %v", sw.stay.Name, err)
		}
	}
	logger.Info("All stays resumed")
}

// StatusSummary renders a plain-text status line per stay, ordered by
// check-in date.
func (w *Watcher) StatusSummary() string {
	w.mu.Lock()
	watches := w.snapshotLocked()
	paused := w.paused
	w.mu.Unlock()

	if len(watches) == 0 {
		return "No stays watched."
	}
	sort.Slice(watches, func(i, j int) bool {
		return watches[i].stay.TargetDate.Before(watches[j].stay.TargetDate)
	})

	var b strings.Builder
	if paused {
		b.WriteString("⏸ Watching paused\n\n")
	}
	now := w.clk.Now()
	for _, sw := range watches {
		if sw.countdown.State() == countdown.StateComplete {
			b.WriteString(fmt.Sprintf("%s: checked in\n", sw.stay.Name))
			continue
		}
		level := urgency.Level(urgency.DaysUntil(sw.stay.TargetDate, now))
		line := fmt.Sprintf("%s: %s to check-in, %s urgency",
			sw.stay.Name, urgency.FormatRemaining(urgency.Remaining(sw.stay.TargetDate, now)), level)
		if p, ok := sw.controller.Pricing(); ok {
			line += fmt.Sprintf(", price %.0f (%.1fx)", p.CurrentPrice, p.CurrentMultiplier)
		}
		if v := sw.controller.Verification(); v.Outcome == models.VerificationMismatch {
			line += fmt.Sprintf(" [remote disagrees: %.0f]", v.RemotePrice)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Shutdown closes every controller. The storage handle stays open; the
// caller owns it.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	watches := w.snapshotLocked()
	w.stays = make(map[string]*stayWatch)
	w.mu.Unlock()

	for _, sw := range watches {
		sw.controller.Close()
		sw.countdown.Stop()
	}
	logger.Info("Watcher shut down (%d stays)", len(watches))
}

func (w *Watcher) snapshotLocked() []*stayWatch {
	out := make([]*stayWatch, 0, len(w.stays))
	for _, sw := range w.stays {
		out = append(out, sw)
	}
	return out
}

func (w *Watcher) handlePriceUpdate(stay *models.Stay, p models.UrgencyPricing) {
	level := urgency.Level(urgency.DaysUntil(stay.TargetDate, p.CalculatedAt))
	if err := w.cfg.Store.SaveSnapshot(stay.ID, level, &p); err != nil {
		logger.Warn("Failed to persist snapshot for stay %s: %v", stay.Name, err)
	}
}

func (w *Watcher) handleAlert(stay *models.Stay, a models.PriceAlert) {
	a.StayID = stay.ID
	if err := w.cfg.Store.AddAlert(&a); err != nil {
		logger.Warn("Failed to persist alert for stay %s: %v", stay.Name, err)
	}
	if w.cfg.Notifier == nil {
		return
	}
	if err := w.cfg.Notifier.SendAlerts(stay.Name, []models.PriceAlert{a}); err != nil {
		logger.Error("Failed to send alert notification for stay %s: %v", stay.Name, err)
		return
	}
	if err := w.cfg.Store.MarkAlertNotified(a.ID); err != nil {
		logger.Warn("Failed to mark alert notified: %v", err)
	}
}

func (w *Watcher) handleVerification(stay *models.Stay, v models.VerificationState) {
	w.trackFailures(stay, &v)
	if err := w.cfg.Store.AddVerification(stay.ID, &v); err != nil {
		logger.Warn("Failed to persist verification for stay %s: %v", stay.Name, err)
	}
	if v.Outcome != models.VerificationMismatch || w.cfg.Notifier == nil {
		return
	}
	if err := w.cfg.Notifier.SendMismatch(stay.Name, &v); err != nil {
		logger.Error("Failed to send mismatch notification for stay %s: %v", stay.Name, err)
	}
}

// trackFailures notifies on the first reconciliation failure of a
// consecutive sequence and once more when the remote recovers.
func (w *Watcher) trackFailures(stay *models.Stay, v *models.VerificationState) {
	if w.cfg.Notifier == nil {
		return
	}
	if v.Outcome == models.VerificationUnavailable {
		w.mu.Lock()
		w.failures++
		first := w.failures == 1
		w.mu.Unlock()
		if first {
			err := fmt.Errorf("price verification for stay %s unavailable: %s", stay.Name, v.Error)
			if sendErr := w.cfg.Notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}

	w.mu.Lock()
	n := w.failures
	w.failures = 0
	w.mu.Unlock()
	if n > 0 {
		if sendErr := w.cfg.Notifier.SendRecovery(n); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
}

// Remaining returns the live countdown breakdown for a stay.
func (w *Watcher) Remaining(id string) (models.TimeRemaining, bool) {
	w.mu.Lock()
	sw, ok := w.stays[id]
	w.mu.Unlock()
	if !ok {
		return models.TimeRemaining{}, false
	}
	return sw.countdown.Remaining(), true
}
