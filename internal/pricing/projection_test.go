package pricing

import (
	"testing"
	"time"

	"github.com/mkrell/staywatch/internal/models"
)

func testContext(daysUntil int, basePrice float64) *models.UrgencyContext {
	now := time.Now()
	return &models.UrgencyContext{
		TargetDate:             now.AddDate(0, 0, daysUntil),
		CurrentDate:            now,
		DaysUntilCheckIn:       daysUntil,
		HoursUntilCheckIn:      float64(daysUntil * 24),
		BasePrice:              basePrice,
		MarketDemandMultiplier: 1.0,
	}
}

func TestProjectionsWindow(t *testing.T) {
	ctx := testContext(30, 200)
	current := Price(ctx.BasePrice, ctx.DaysUntilCheckIn, ctx.MarketDemandMultiplier)

	projections := Projections(ctx, 7, current)
	if len(projections) != 7 {
		t.Fatalf("Expected 7 projections, got %d", len(projections))
	}
	if projections[0].DaysOut != 29 {
		t.Errorf("First projection at %d days out, want 29", projections[0].DaysOut)
	}
	if projections[6].DaysOut != 23 {
		t.Errorf("Last projection at %d days out, want 23", projections[6].DaysOut)
	}
}

func TestProjectionsClampAtCheckIn(t *testing.T) {
	ctx := testContext(3, 200)
	current := Price(ctx.BasePrice, ctx.DaysUntilCheckIn, ctx.MarketDemandMultiplier)

	projections := Projections(ctx, 7, current)
	if len(projections) != 3 {
		t.Fatalf("Expected 3 projections (offsets 2, 1, 0), got %d", len(projections))
	}
	if projections[len(projections)-1].DaysOut != 0 {
		t.Errorf("Window should stop at offset 0, got %d", projections[len(projections)-1].DaysOut)
	}
}

func TestProjectionsNonDecreasing(t *testing.T) {
	ctx := testContext(7, 180)
	current := Price(ctx.BasePrice, ctx.DaysUntilCheckIn, ctx.MarketDemandMultiplier)

	projections := Projections(ctx, 7, current)
	for i := 1; i < len(projections); i++ {
		if projections[i].Price < projections[i-1].Price {
			t.Errorf("Projection price decreased: %v at %d days out, %v at %d days out",
				projections[i-1].Price, projections[i-1].DaysOut,
				projections[i].Price, projections[i].DaysOut)
		}
	}
}

func TestProjectionsIncreaseFields(t *testing.T) {
	ctx := testContext(7, 180)
	current := Price(ctx.BasePrice, ctx.DaysUntilCheckIn, ctx.MarketDemandMultiplier)

	projections := Projections(ctx, 3, current)
	for _, p := range projections {
		wantIncrease := p.Price - current
		if p.IncreaseFromCurrent != wantIncrease {
			t.Errorf("IncreaseFromCurrent at %d days out = %v, want %v", p.DaysOut, p.IncreaseFromCurrent, wantIncrease)
		}
		wantPct := wantIncrease / current * 100
		if p.PercentageIncrease != wantPct {
			t.Errorf("PercentageIncrease at %d days out = %v, want %v", p.DaysOut, p.PercentageIncrease, wantPct)
		}
	}
}

func TestProjectionsEmptyWindow(t *testing.T) {
	ctx := testContext(0, 180)
	projections := Projections(ctx, 7, 180)
	if len(projections) != 0 {
		t.Errorf("Expected no projections at check-in day, got %d", len(projections))
	}
	if got := PeakPrice(projections, 180); got != 180 {
		t.Errorf("PeakPrice of empty window = %v, want currentPrice 180", got)
	}
}

func TestPeakPrice(t *testing.T) {
	ctx := testContext(7, 180)
	current := Price(ctx.BasePrice, ctx.DaysUntilCheckIn, ctx.MarketDemandMultiplier)

	projections := Projections(ctx, 7, current)
	peak := PeakPrice(projections, current)

	// Smallest offset in the window is 0: 180 * 9.6.
	if peak != 1728 {
		t.Errorf("PeakPrice = %v, want 1728", peak)
	}
}

func TestDailyIncreaseRate(t *testing.T) {
	if got := DailyIncreaseRate(123, 9999, 1); got != 0 {
		t.Errorf("DailyIncreaseRate(_, _, 1) = %v, want 0", got)
	}
	if got := DailyIncreaseRate(50, 10, 0); got != 0 {
		t.Errorf("DailyIncreaseRate(_, _, 0) = %v, want 0", got)
	}
	got := DailyIncreaseRate(810, 1584, 7)
	if got <= 0 {
		t.Errorf("DailyIncreaseRate(810, 1584, 7) = %v, want > 0", got)
	}
	want := (1584.0 - 810.0) / 7.0
	if got != want {
		t.Errorf("DailyIncreaseRate(810, 1584, 7) = %v, want %v", got, want)
	}
}
