package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mkrell/staywatch/internal/models"
	"github.com/mkrell/staywatch/internal/reconcile"
)

type calcFunc func(ctx context.Context, req reconcile.Request) (float64, error)

func (f calcFunc) CalculatePrice(ctx context.Context, req reconcile.Request) (float64, error) {
	return f(ctx, req)
}

func fixedMock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return mock
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestRecomputeSevenDaysOut(t *testing.T) {
	mock := fixedMock()
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	p, ok := c.Pricing()
	if !ok {
		t.Fatal("Expected a pricing result")
	}
	if p.CurrentPrice != 810 {
		t.Errorf("CurrentPrice = %v, want 810", p.CurrentPrice)
	}
	if p.CurrentMultiplier != 4.5 {
		t.Errorf("CurrentMultiplier = %v, want 4.5", p.CurrentMultiplier)
	}
	if len(p.Projections) != 7 {
		t.Errorf("Expected 7 projections, got %d", len(p.Projections))
	}
	if p.NextUpdateIn != 5*time.Minute {
		t.Errorf("NextUpdateIn = %v, want 5m (high urgency cadence)", p.NextUpdateIn)
	}
	if p.IncreaseRatePerDay <= 0 {
		t.Errorf("IncreaseRatePerDay = %v, want > 0", p.IncreaseRatePerDay)
	}
}

func TestMarketDemandChangeRecomputes(t *testing.T) {
	mock := fixedMock()
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if err := c.SetMarketDemandMultiplier(1.2); err != nil {
		t.Fatalf("SetMarketDemandMultiplier failed: %v", err)
	}

	p, _ := c.Pricing()
	if p.CurrentPrice != 972 {
		t.Errorf("CurrentPrice = %v, want 972 after demand change", p.CurrentPrice)
	}
}

func TestValidationFailureRetainsLastGood(t *testing.T) {
	mock := fixedMock()
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	err := c.SetBasePrice(-100)
	if err == nil {
		t.Fatal("Expected validation error for negative base price")
	}
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *models.ValidationError, got %T", err)
	}
	if c.LastError() == nil {
		t.Error("LastError must report the validation failure")
	}

	// The previous valid result is retained.
	p, ok := c.Pricing()
	if !ok || p.CurrentPrice != 810 {
		t.Errorf("Expected retained price 810, got %v (ok=%v)", p.CurrentPrice, ok)
	}
}

func TestValidationPastTargetDate(t *testing.T) {
	mock := fixedMock()
	c := New(Inputs{
		TargetDate: mock.Now().Add(-7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock})
	defer c.Close()

	if err := c.Recompute(); err == nil {
		t.Fatal("Expected validation error for past target date")
	}
	if _, ok := c.Pricing(); ok {
		t.Error("Expected no pricing result after failed first computation")
	}
}

func TestValidationAcceptsValidContext(t *testing.T) {
	mock := fixedMock()
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Errorf("Expected valid context to be accepted, got %v", err)
	}
	if c.LastError() != nil {
		t.Errorf("LastError = %v, want nil", c.LastError())
	}
}

func TestReconciliationVerified(t *testing.T) {
	mock := fixedMock()
	calc := calcFunc(func(_ context.Context, req reconcile.Request) (float64, error) {
		return 810.6, nil // within the 1.0 tolerance of the local 810
	})
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock, Calculator: calc})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return c.Verification().Outcome == models.VerificationVerified
	})
	v := c.Verification()
	if v.LocalPrice != 810 || v.RemotePrice != 810.6 {
		t.Errorf("Verification prices local=%v remote=%v, want 810/810.6", v.LocalPrice, v.RemotePrice)
	}
}

func TestReconciliationMismatchKeepsLocalPrice(t *testing.T) {
	mock := fixedMock()
	calc := calcFunc(func(_ context.Context, req reconcile.Request) (float64, error) {
		return 850, nil
	})
	var notified atomic.Bool
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{
		Clock:      mock,
		Calculator: calc,
		Callbacks: Callbacks{
			OnVerification: func(v models.VerificationState) {
				if v.Outcome == models.VerificationMismatch {
					notified.Store(true)
				}
			},
		},
	})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return c.Verification().Outcome == models.VerificationMismatch
	})

	v := c.Verification()
	if v.RemotePrice != 850 {
		t.Errorf("RemotePrice = %v, want 850", v.RemotePrice)
	}
	// The disagreement is surfaced, never silently applied.
	p, _ := c.Pricing()
	if p.CurrentPrice != 810 {
		t.Errorf("Local price overwritten: got %v, want 810", p.CurrentPrice)
	}
	if !notified.Load() {
		t.Error("Expected OnVerification mismatch notification")
	}
}

func TestReconciliationUnreachableIsNonFatal(t *testing.T) {
	mock := fixedMock()
	calc := calcFunc(func(_ context.Context, req reconcile.Request) (float64, error) {
		return 0, errors.New("connection refused")
	})
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock, Calculator: calc})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return c.Verification().Outcome == models.VerificationUnavailable
	})
	// The local price still displays.
	p, ok := c.Pricing()
	if !ok || p.CurrentPrice != 810 {
		t.Errorf("Expected local price 810 despite unreachable remote, got %v", p.CurrentPrice)
	}
}

func TestStaleReconciliationDiscarded(t *testing.T) {
	mock := fixedMock()
	release := make(chan struct{})
	var calls int32
	calc := calcFunc(func(_ context.Context, req reconcile.Request) (float64, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-release
			return 111, nil // wildly wrong; must never surface
		}
		return 972, nil
	})
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock, Calculator: calc})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	// Inputs change while the first reconciliation is still in flight.
	if err := c.SetMarketDemandMultiplier(1.2); err != nil {
		t.Fatalf("SetMarketDemandMultiplier failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return c.Verification().Outcome == models.VerificationVerified
	})

	// Now let the stale response land; it must be dropped.
	close(release)
	time.Sleep(20 * time.Millisecond)

	v := c.Verification()
	if v.Outcome != models.VerificationVerified || v.RemotePrice != 972 {
		t.Errorf("Stale response applied: outcome=%s remote=%v", v.Outcome, v.RemotePrice)
	}
}

func TestReconciliationAfterCloseDiscarded(t *testing.T) {
	mock := fixedMock()
	release := make(chan struct{})
	calc := calcFunc(func(_ context.Context, req reconcile.Request) (float64, error) {
		<-release
		return 999, nil
	})
	c := New(Inputs{
		TargetDate: mock.Now().Add(7 * 24 * time.Hour),
		BasePrice:  180,
	}, Config{Clock: mock, Calculator: calc})

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	c.Close()
	close(release)
	time.Sleep(20 * time.Millisecond)

	if v := c.Verification(); v.Outcome != models.VerificationPending {
		t.Errorf("Response applied after Close: outcome=%s", v.Outcome)
	}
}

func TestSelfTimerRecomputes(t *testing.T) {
	mock := fixedMock()
	var updates atomic.Int32
	c := New(Inputs{
		TargetDate: mock.Now().Add(30 * 24 * time.Hour),
		BasePrice:  200,
	}, Config{
		Clock: mock,
		Callbacks: Callbacks{
			OnPriceUpdate: func(models.UrgencyPricing) { updates.Add(1) },
		},
	})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	p, _ := c.Pricing()
	if p.NextUpdateIn != time.Hour {
		t.Fatalf("NextUpdateIn = %v, want 1h (low urgency cadence)", p.NextUpdateIn)
	}

	before := updates.Load()
	mock.Add(time.Hour)
	if updates.Load() != before+1 {
		t.Errorf("Expected one timer-driven recomputation, got %d", updates.Load()-before)
	}
}

func TestAlertAccumulationCapped(t *testing.T) {
	mock := fixedMock()
	c := New(Inputs{
		TargetDate: mock.Now().Add(24 * time.Hour), // 8.8x multiplier: milestone + critical each cycle
		BasePrice:  100,
	}, Config{Clock: mock, MaxAlerts: 6})
	defer c.Close()

	for i := 0; i < 10; i++ {
		if err := c.Recompute(); err != nil {
			t.Fatalf("Recompute failed: %v", err)
		}
	}

	alerts := c.Alerts()
	if len(alerts) != 6 {
		t.Fatalf("Expected alert list capped at 6, got %d", len(alerts))
	}

	c.ClearAlerts()
	if got := c.Alerts(); len(got) != 0 {
		t.Errorf("Expected no alerts after clear, got %d", len(got))
	}
}

func TestAlertCallbacks(t *testing.T) {
	mock := fixedMock()
	var mu sync.Mutex
	var types []models.AlertType
	c := New(Inputs{
		TargetDate: mock.Now().Add(24 * time.Hour),
		BasePrice:  100,
	}, Config{
		Clock: mock,
		Callbacks: Callbacks{
			OnAlert: func(a models.PriceAlert) {
				mu.Lock()
				types = append(types, a.Type)
				mu.Unlock()
			},
		},
	})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// 1 day out at base 100: price 880, which is >= 2x and >= 8x base.
	if len(types) != 2 {
		t.Fatalf("Expected 2 alert notifications, got %d (%v)", len(types), types)
	}
}

func TestPauseStopsSelfTimer(t *testing.T) {
	mock := fixedMock()
	var updates atomic.Int32
	c := New(Inputs{
		TargetDate: mock.Now().Add(30 * 24 * time.Hour),
		BasePrice:  200,
	}, Config{
		Clock: mock,
		Callbacks: Callbacks{
			OnPriceUpdate: func(models.UrgencyPricing) { updates.Add(1) },
		},
	})
	defer c.Close()

	if err := c.Recompute(); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	c.Pause()

	before := updates.Load()
	mock.Add(3 * time.Hour)
	if updates.Load() != before {
		t.Errorf("Expected no updates while paused, got %d", updates.Load()-before)
	}

	// State survives a pause.
	if _, ok := c.Pricing(); !ok {
		t.Error("Pricing should be retained while paused")
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if updates.Load() != before+1 {
		t.Errorf("Expected one immediate update on resume, got %d", updates.Load()-before)
	}

	// Timer re-armed after resume.
	mock.Add(time.Hour)
	if updates.Load() != before+2 {
		t.Errorf("Expected a timer-driven update after resume, got %d", updates.Load()-before)
	}
}
