// Package engine implements the pricing controller: it owns one urgency
// pricing result per watched stay, recomputes it on input changes and on a
// self-armed timer, and reconciles every local result against the
// authoritative remote calculator.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mkrell/staywatch/internal/countdown"
	"github.com/mkrell/staywatch/internal/logger"
	"github.com/mkrell/staywatch/internal/models"
	"github.com/mkrell/staywatch/internal/pricing"
	"github.com/mkrell/staywatch/internal/reconcile"
	"github.com/mkrell/staywatch/internal/urgency"
)

// DefaultTolerance is the absolute price agreement tolerance in whole
// currency units.
const DefaultTolerance = 1.0

// defaultMaxAlerts caps the in-memory alert list; the oldest entries are
// dropped first. The full history lives in storage.
const defaultMaxAlerts = 50

// DefaultForecastDays is the projection window used when the caller does not
// specify one.
const DefaultForecastDays = 7

// Calculator is the remote authoritative price calculator. A nil Calculator
// disables reconciliation; pricing then stays local-only.
type Calculator interface {
	CalculatePrice(ctx context.Context, req reconcile.Request) (float64, error)
}

// Inputs are the causal pricing inputs supplied by the caller. Changing any
// of them triggers a recomputation.
type Inputs struct {
	TargetDate             time.Time
	BasePrice              float64
	UrgencySteepness       float64
	MarketDemandMultiplier float64
	ForecastDays           int
}

// Callbacks is the controller's notification surface. Nil entries are
// skipped; callbacks must not call back into the controller.
type Callbacks struct {
	OnPriceUpdate  func(models.UrgencyPricing)
	OnAlert        func(models.PriceAlert)
	OnVerification func(models.VerificationState)
}

// Config configures a Controller.
type Config struct {
	Clock      clock.Clock
	Calculator Calculator
	Tolerance  float64
	Cadence    countdown.Cadence
	MaxAlerts  int
	Callbacks  Callbacks
}

// Controller owns the pricing state for a single stay. All mutation is
// serialized through its mutex; the reconciliation call runs asynchronously
// and never blocks a local recomputation.
type Controller struct {
	mu        sync.Mutex
	clk       clock.Clock
	calc      Calculator
	tolerance float64
	cadence   countdown.Cadence
	maxAlerts int
	callbacks Callbacks

	inputs       Inputs
	pricing      *models.UrgencyPricing // last-known-good result
	lastErr      error
	alerts       []models.PriceAlert
	verification models.VerificationState
	prevMult     *float64
	snapshotTag  string // identifies the pricing snapshot a reconciliation was issued against
	timer        *clock.Timer
	paused       bool
	closed       bool

	reconcileCtx    context.Context
	cancelReconcile context.CancelFunc
}

// New creates a controller for the given inputs. No computation happens
// until Recompute is called.
func New(inputs Inputs, cfg Config) *Controller {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	maxAlerts := cfg.MaxAlerts
	if maxAlerts <= 0 {
		maxAlerts = defaultMaxAlerts
	}
	if inputs.ForecastDays <= 0 {
		inputs.ForecastDays = DefaultForecastDays
	}
	if inputs.MarketDemandMultiplier == 0 {
		inputs.MarketDemandMultiplier = 1.0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		clk:             clk,
		calc:            cfg.Calculator,
		tolerance:       tolerance,
		cadence:         cfg.Cadence,
		maxAlerts:       maxAlerts,
		callbacks:       cfg.Callbacks,
		inputs:          inputs,
		verification:    models.VerificationState{Outcome: models.VerificationUnverified},
		reconcileCtx:    ctx,
		cancelReconcile: cancel,
	}
}

// buildContext assembles a fresh immutable context from the current inputs
// and the current clock reading.
func (c *Controller) buildContext(now time.Time) *models.UrgencyContext {
	return &models.UrgencyContext{
		TargetDate:             c.inputs.TargetDate,
		CurrentDate:            now,
		DaysUntilCheckIn:       urgency.DaysUntil(c.inputs.TargetDate, now),
		HoursUntilCheckIn:      c.inputs.TargetDate.Sub(now).Hours(),
		BasePrice:              c.inputs.BasePrice,
		UrgencySteepness:       c.inputs.UrgencySteepness,
		MarketDemandMultiplier: c.inputs.MarketDemandMultiplier,
		LookbackWindow:         c.inputs.ForecastDays,
	}
}

// Recompute rebuilds the pricing context, validates it, and replaces the
// pricing result. Validation failures are reported as the returned error and
// via LastError; the previous valid result is retained. A successful
// recomputation re-arms the self-timer and kicks off an asynchronous
// reconciliation against the remote calculator.
func (c *Controller) Recompute() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	now := c.clk.Now()
	ctx := c.buildContext(now)
	if err := ctx.Validate(); err != nil {
		c.lastErr = err
		c.mu.Unlock()
		logger.Warn("Pricing recomputation skipped: %v", err)
		return err
	}
	c.lastErr = nil

	daysOut := ctx.DaysUntilCheckIn
	multiplier := pricing.Multiplier(daysOut, ctx.UrgencySteepness)
	currentPrice := pricing.Price(ctx.BasePrice, daysOut, ctx.MarketDemandMultiplier)
	projections := pricing.Projections(ctx, c.inputs.ForecastDays, currentPrice)
	peak := pricing.PeakPrice(projections, currentPrice)
	level := urgency.Level(daysOut)

	result := models.UrgencyPricing{
		CurrentPrice:       currentPrice,
		CurrentMultiplier:  multiplier,
		Projections:        projections,
		IncreaseRatePerDay: pricing.DailyIncreaseRate(currentPrice, peak, daysOut),
		PeakPrice:          peak,
		CalculatedAt:       now,
		NextUpdateIn:       c.cadence.Period(level),
	}

	newAlerts := pricing.CheckPriceAlerts(currentPrice, ctx.BasePrice, c.prevMult)
	mult := multiplier
	c.prevMult = &mult

	c.pricing = &result
	c.appendAlertsLocked(newAlerts)

	// Rotate the snapshot tag so reconciliation responses for older inputs
	// are discarded once this result is current.
	tag := uuid.New().String()
	c.snapshotTag = tag

	var req reconcile.Request
	runReconcile := c.calc != nil
	if runReconcile {
		c.verification = models.VerificationState{
			Outcome:    models.VerificationPending,
			LocalPrice: currentPrice,
			CheckedAt:  now,
		}
		req = reconcile.Request{
			TargetDate:             ctx.TargetDate,
			BasePrice:              ctx.BasePrice,
			UrgencySteepness:       ctx.UrgencySteepness,
			MarketDemandMultiplier: ctx.MarketDemandMultiplier,
		}
	}

	c.armTimerLocked(result.NextUpdateIn)
	cb := c.callbacks
	c.mu.Unlock()

	if cb.OnPriceUpdate != nil {
		cb.OnPriceUpdate(result)
	}
	if cb.OnAlert != nil {
		for _, a := range newAlerts {
			cb.OnAlert(a)
		}
	}

	if runReconcile {
		go c.reconcileAsync(tag, req, currentPrice)
	}
	return nil
}

// appendAlertsLocked appends alerts, dropping the oldest beyond the cap.
func (c *Controller) appendAlertsLocked(alerts []models.PriceAlert) {
	c.alerts = append(c.alerts, alerts...)
	if excess := len(c.alerts) - c.maxAlerts; excess > 0 {
		c.alerts = append([]models.PriceAlert(nil), c.alerts[excess:]...)
	}
}

// armTimerLocked schedules the next recomputation after the given delay.
// No-op while paused.
func (c *Controller) armTimerLocked(delay time.Duration) {
	if c.paused {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clk.AfterFunc(delay, func() {
		if err := c.Recompute(); err != nil {
			logger.Warn("Scheduled recomputation failed: %v", err)
		}
	})
}

// reconcileAsync performs the fire-and-forget remote verification. The
// response is applied only if the controller still shows the snapshot the
// request was issued against.
func (c *Controller) reconcileAsync(tag string, req reconcile.Request, localPrice float64) {
	remote, err := c.calc.CalculatePrice(c.reconcileCtx, req)

	c.mu.Lock()
	if c.closed || tag != c.snapshotTag {
		c.mu.Unlock()
		logger.Debug("Discarding stale reconciliation response (tag %s)", tag)
		return
	}

	state := models.VerificationState{
		LocalPrice: localPrice,
		CheckedAt:  c.clk.Now(),
	}
	switch {
	case err != nil:
		state.Outcome = models.VerificationUnavailable
		state.Error = err.Error()
	default:
		state.RemotePrice = remote
		state.Difference = localPrice - remote
		if math.Abs(state.Difference) <= c.tolerance {
			state.Outcome = models.VerificationVerified
		} else {
			state.Outcome = models.VerificationMismatch
		}
	}
	c.verification = state
	cb := c.callbacks.OnVerification
	c.mu.Unlock()

	switch state.Outcome {
	case models.VerificationVerified:
		logger.Debug("Price verified against remote calculator: %.0f", localPrice)
	case models.VerificationMismatch:
		logger.Warn("Price mismatch: local %.0f, remote %.0f (tolerance %.1f)", localPrice, remote, c.tolerance)
	case models.VerificationUnavailable:
		logger.Warn("Price verification unavailable: %v", err)
	}

	if cb != nil {
		cb(state)
	}
}

// Pause stops the self-timer. All state is retained; manual Set* calls and
// Recompute still work while paused, they just do not re-arm the timer.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.paused {
		return
	}
	c.paused = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Resume re-enables the self-timer and recomputes immediately.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.closed || !c.paused {
		c.mu.Unlock()
		return nil
	}
	c.paused = false
	c.mu.Unlock()
	return c.Recompute()
}

// SetInputs replaces all causal inputs and recomputes.
func (c *Controller) SetInputs(inputs Inputs) error {
	c.mu.Lock()
	if inputs.ForecastDays <= 0 {
		inputs.ForecastDays = DefaultForecastDays
	}
	if inputs.MarketDemandMultiplier == 0 {
		inputs.MarketDemandMultiplier = 1.0
	}
	c.inputs = inputs
	c.mu.Unlock()
	return c.Recompute()
}

// SetBasePrice changes the base price and recomputes.
func (c *Controller) SetBasePrice(basePrice float64) error {
	c.mu.Lock()
	c.inputs.BasePrice = basePrice
	c.mu.Unlock()
	return c.Recompute()
}

// SetMarketDemandMultiplier changes the demand factor and recomputes.
func (c *Controller) SetMarketDemandMultiplier(m float64) error {
	c.mu.Lock()
	c.inputs.MarketDemandMultiplier = m
	c.mu.Unlock()
	return c.Recompute()
}

// SetTargetDate changes the target date and recomputes.
func (c *Controller) SetTargetDate(target time.Time) error {
	c.mu.Lock()
	c.inputs.TargetDate = target
	c.mu.Unlock()
	return c.Recompute()
}

// Pricing returns the last-known-good pricing result, if any.
func (c *Controller) Pricing() (models.UrgencyPricing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pricing == nil {
		return models.UrgencyPricing{}, false
	}
	return *c.pricing, true
}

// Verification returns the current reconciliation state.
func (c *Controller) Verification() models.VerificationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verification
}

// Alerts returns a copy of the retained alert list, newest last.
func (c *Controller) Alerts() []models.PriceAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PriceAlert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// ClearAlerts discards the retained alert list.
func (c *Controller) ClearAlerts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = nil
}

// LastError returns the most recent validation failure, or nil after a
// successful recomputation.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close tears the controller down: the self-timer is cancelled and any
// in-flight reconciliation result is discarded. A closed controller stays
// closed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.snapshotTag = ""
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancelReconcile()
}
