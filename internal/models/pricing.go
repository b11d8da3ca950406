package models

import (
	"fmt"
	"time"
)

// ValidationError reports an invalid UrgencyContext. Computation is skipped
// on validation failure and the last valid pricing result is retained.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid urgency context: %s %s", e.Field, e.Reason)
}

// UrgencyContext is the immutable input bundle for one pricing computation.
// It is constructed fresh on every recomputation from the current inputs and
// the current wall clock.
type UrgencyContext struct {
	TargetDate             time.Time `json:"target_date"`
	CurrentDate            time.Time `json:"current_date"`
	DaysUntilCheckIn       int       `json:"days_until_check_in"`
	HoursUntilCheckIn      float64   `json:"hours_until_check_in"`
	BasePrice              float64   `json:"base_price"`
	UrgencySteepness       float64   `json:"urgency_steepness"`
	MarketDemandMultiplier float64   `json:"market_demand_multiplier"`
	LookbackWindow         int       `json:"lookback_window"`
}

// Validate checks the context invariants: a positive base price and a target
// date not strictly in the past. A target equal to the current instant is
// valid ("now" counts as zero days out).
func (c *UrgencyContext) Validate() error {
	if c.BasePrice <= 0 {
		return &ValidationError{Field: "base_price", Reason: fmt.Sprintf("must be positive, got %.2f", c.BasePrice)}
	}
	if c.MarketDemandMultiplier <= 0 {
		return &ValidationError{Field: "market_demand_multiplier", Reason: fmt.Sprintf("must be positive, got %.2f", c.MarketDemandMultiplier)}
	}
	if c.TargetDate.Before(c.CurrentDate) {
		return &ValidationError{Field: "target_date", Reason: fmt.Sprintf("must not be in the past (target %s, now %s)",
			c.TargetDate.Format(time.RFC3339), c.CurrentDate.Format(time.RFC3339))}
	}
	return nil
}

// PriceProjection is one forecasted future price at a specific day offset
// from the target date.
type PriceProjection struct {
	DaysOut             int     `json:"days_out"`
	Price               float64 `json:"price"`
	Multiplier          float64 `json:"multiplier"`
	IncreaseFromCurrent float64 `json:"increase_from_current"`
	PercentageIncrease  float64 `json:"percentage_increase"`
}

// UrgencyPricing is the aggregate pricing result. It is fully replaced, never
// mutated in place, on every recomputation. NextUpdateIn drives the
// controller's self-timer.
type UrgencyPricing struct {
	CurrentPrice       float64           `json:"current_price"`
	CurrentMultiplier  float64           `json:"current_multiplier"`
	Projections        []PriceProjection `json:"projections"`
	IncreaseRatePerDay float64           `json:"increase_rate_per_day"`
	PeakPrice          float64           `json:"peak_price"`
	CalculatedAt       time.Time         `json:"calculated_at"`
	NextUpdateIn       time.Duration     `json:"next_update_in"`
}

// AlertType classifies price alerts.
type AlertType string

const (
	AlertMilestone AlertType = "milestone" // price reached 2x base
	AlertDoubling  AlertType = "doubling"  // multiplier jumped materially since last observation
	AlertCritical  AlertType = "critical"  // price reached 8x base
	AlertThreshold AlertType = "threshold" // generic configured threshold crossing
)

// PriceAlert is one detected pricing event. Priority orders display only;
// Show lets callers suppress an alert without deleting the record.
type PriceAlert struct {
	ID         string    `json:"id"`
	StayID     string    `json:"stay_id,omitempty"`
	Type       AlertType `json:"type"`
	Message    string    `json:"message"`
	Show       bool      `json:"show"`
	Priority   int       `json:"priority"`
	Price      float64   `json:"price"`
	BasePrice  float64   `json:"base_price"`
	DetectedAt time.Time `json:"detected_at"`
	Notified   bool      `json:"notified"`
}
