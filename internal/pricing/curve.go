// Package pricing implements the urgency pricing curve, future price
// projections, and threshold alert detection.
//
// The multiplier curve is not a closed-form exponential. It is defined by a
// small table of calibration anchors with linear interpolation between them:
//
//	90d → 1.0   60d → 1.5   30d → 2.2   14d → 3.1
//	 7d → 4.5    3d → 6.4    1d → 8.8    0d → 9.6 (cap)
//
// Beyond the furthest anchor the curve is flat at 1.0. The multiplier is
// non-increasing in days remaining and never drops below 1.0.
package pricing

import "math"

// anchor is one calibration point on the urgency curve.
type anchor struct {
	daysOut    int
	multiplier float64
}

// anchors ordered by ascending daysOut. Interpolation below assumes this
// ordering; multipliers must be non-increasing as daysOut grows.
var anchors = []anchor{
	{0, 9.6},
	{1, 8.8},
	{3, 6.4},
	{7, 4.5},
	{14, 3.1},
	{30, 2.2},
	{60, 1.5},
	{90, 1.0},
}

// farAnchorDays is the horizon beyond which the multiplier is flat 1.0.
const farAnchorDays = 90

// Multiplier returns the urgency price multiplier for the given days
// remaining. Negative inputs are treated as 0 (the cap). The steepness input
// exists for interface compatibility with the booking surface and has no
// effect on the output; the curve is fully determined by its anchors.
func Multiplier(daysOut int, steepness float64) float64 {
	_ = steepness

	if daysOut < 0 {
		daysOut = 0
	}
	if daysOut >= farAnchorDays {
		return 1.0
	}

	for i := 1; i < len(anchors); i++ {
		hi := anchors[i]
		if daysOut > hi.daysOut {
			continue
		}
		lo := anchors[i-1]
		if daysOut == lo.daysOut {
			return lo.multiplier
		}
		// Linear interpolation between the surrounding anchors.
		span := float64(hi.daysOut - lo.daysOut)
		frac := float64(daysOut-lo.daysOut) / span
		return lo.multiplier + frac*(hi.multiplier-lo.multiplier)
	}
	return 1.0
}

// Price combines the base price, market demand, and the urgency multiplier
// into a whole-currency-unit price, rounding half up to the nearest unit.
func Price(basePrice float64, daysOut int, marketDemandMultiplier float64) float64 {
	raw := basePrice * marketDemandMultiplier * Multiplier(daysOut, 0)
	return math.Floor(raw + 0.5)
}
