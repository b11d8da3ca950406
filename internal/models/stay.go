// Package models defines the core domain entities: stays, urgency levels,
// pricing results, and price alerts.
package models

import (
	"errors"
	"time"
)

// Stay represents a single watched booking target: a check-in date with a
// base nightly price. Each stay gets its own independent countdown and
// pricing engine instance.
type Stay struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	TargetDate             time.Time `json:"target_date"`
	BasePrice              float64   `json:"base_price"`
	MarketDemandMultiplier float64   `json:"market_demand_multiplier"`
	CreatedAt              time.Time `json:"created_at"`
	LastUpdated            time.Time `json:"last_updated"`
}

// Validate checks stay field constraints.
func (s *Stay) Validate() error {
	if s.ID == "" {
		return errors.New("stay ID must not be empty")
	}
	if s.Name == "" {
		return errors.New("stay name must not be empty")
	}
	if s.TargetDate.IsZero() {
		return errors.New("stay target date must be set")
	}
	if s.BasePrice <= 0 {
		return errors.New("stay base price must be positive")
	}
	if s.MarketDemandMultiplier <= 0 {
		return errors.New("stay market demand multiplier must be positive")
	}
	if s.CreatedAt.After(s.LastUpdated) && !s.LastUpdated.IsZero() {
		return errors.New("created at must be <= last updated")
	}
	return nil
}
