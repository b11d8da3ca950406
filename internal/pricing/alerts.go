package pricing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mkrell/staywatch/internal/models"
)

// Alert rule thresholds. Milestone and critical compare the new price
// against the base price; doubling compares the new multiplier against the
// previously observed one.
const (
	milestoneFactor = 2.0
	criticalFactor  = 8.0

	// doublingJumpRatio is the minimum relative multiplier increase since the
	// previous observation for the doubling rule to fire.
	doublingJumpRatio = 1.25
)

// Display priorities, higher shows first.
const (
	priorityDoubling  = 1
	priorityMilestone = 2
	priorityCritical  = 3
)

// CheckPriceAlerts evaluates the threshold rules for a freshly computed
// price. The rules are independent and more than one may fire per call.
// previousMultiplier enables the doubling rule for callers that track
// multiplier history across calls; stateless callers pass nil.
func CheckPriceAlerts(newPrice, basePrice float64, previousMultiplier *float64) []models.PriceAlert {
	var alerts []models.PriceAlert
	now := time.Now()

	if basePrice <= 0 {
		return alerts
	}

	if newPrice >= basePrice*milestoneFactor {
		alerts = append(alerts, models.PriceAlert{
			ID:         uuid.New().String(),
			Type:       models.AlertMilestone,
			Message:    fmt.Sprintf("Price has doubled: $%.0f is now %.1fx the $%.0f base rate", newPrice, newPrice/basePrice, basePrice),
			Show:       true,
			Priority:   priorityMilestone,
			Price:      newPrice,
			BasePrice:  basePrice,
			DetectedAt: now,
		})
	}

	if newPrice >= basePrice*criticalFactor {
		alerts = append(alerts, models.PriceAlert{
			ID:         uuid.New().String(),
			Type:       models.AlertCritical,
			Message:    fmt.Sprintf("Price is at a critical level: $%.0f against a $%.0f base rate", newPrice, basePrice),
			Show:       true,
			Priority:   priorityCritical,
			Price:      newPrice,
			BasePrice:  basePrice,
			DetectedAt: now,
		})
	}

	if previousMultiplier != nil && *previousMultiplier > 0 {
		newMultiplier := newPrice / basePrice
		if newMultiplier >= *previousMultiplier*doublingJumpRatio {
			alerts = append(alerts, models.PriceAlert{
				ID:         uuid.New().String(),
				Type:       models.AlertDoubling,
				Message:    fmt.Sprintf("Price multiplier jumped from %.1fx to %.1fx since the last check", *previousMultiplier, newMultiplier),
				Show:       true,
				Priority:   priorityDoubling,
				Price:      newPrice,
				BasePrice:  basePrice,
				DetectedAt: now,
			})
		}
	}

	return alerts
}
