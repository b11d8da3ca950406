package pricing

import "github.com/mkrell/staywatch/internal/models"

// Projections forecasts future prices for the stay described by ctx, one
// entry per day offset counting down from daysUntilCheckIn-1 toward 0. At
// most forecastDays entries are produced; the window stops at offset 0 when
// check-in is closer than the window. Because the multiplier curve is
// non-increasing in days remaining, prices are non-decreasing as the offset
// shrinks, so the last entry is the peak.
func Projections(ctx *models.UrgencyContext, forecastDays int, currentPrice float64) []models.PriceProjection {
	if forecastDays <= 0 {
		return []models.PriceProjection{}
	}

	projections := make([]models.PriceProjection, 0, forecastDays)
	for i := 1; i <= forecastDays; i++ {
		daysOut := ctx.DaysUntilCheckIn - i
		if daysOut < 0 {
			break
		}

		price := Price(ctx.BasePrice, daysOut, ctx.MarketDemandMultiplier)
		increase := price - currentPrice
		pct := 0.0
		if currentPrice != 0 {
			pct = increase / currentPrice * 100
		}

		projections = append(projections, models.PriceProjection{
			DaysOut:             daysOut,
			Price:               price,
			Multiplier:          Multiplier(daysOut, ctx.UrgencySteepness),
			IncreaseFromCurrent: increase,
			PercentageIncrease:  pct,
		})
	}
	return projections
}

// PeakPrice returns the price at the smallest day offset in the projection
// window, the most urgent projected point. Falls back to currentPrice when
// the window is empty.
func PeakPrice(projections []models.PriceProjection, currentPrice float64) float64 {
	if len(projections) == 0 {
		return currentPrice
	}
	return projections[len(projections)-1].Price
}

// DailyIncreaseRate returns the average per-day price climb between the
// current price and the peak. The rate is meaningless at the boundary:
// daysOut <= 1 reports exactly 0, never NaN or a negative artifact.
func DailyIncreaseRate(currentPrice, peakPrice float64, daysOut int) float64 {
	if daysOut <= 1 {
		return 0
	}
	return (peakPrice - currentPrice) / float64(daysOut)
}
