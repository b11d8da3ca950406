package models

import "time"

// UrgencyLevel is an ordinal urgency band derived solely from the number of
// whole days remaining until the target date.
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "low"      // >= 15 days out
	UrgencyMedium   UrgencyLevel = "medium"   // 8-14 days out
	UrgencyHigh     UrgencyLevel = "high"     // 4-7 days out
	UrgencyCritical UrgencyLevel = "critical" // 0-3 days out
)

// Rank returns the ordinal position of the level, low = 0 through critical = 3.
// Unknown levels rank as low.
func (l UrgencyLevel) Rank() int {
	switch l {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// UrgencyMetadata is the display projection of an urgency level. It carries
// no owned state; any two records for the same level and daysUntil are equal.
type UrgencyMetadata struct {
	Level              UrgencyLevel `json:"level"`
	Color              string       `json:"color"`
	BackgroundColor    string       `json:"background_color"`
	Label              string       `json:"label"`
	Message            string       `json:"message"`
	ShowProgressBar    bool         `json:"show_progress_bar"`
	ShowCTA            bool         `json:"show_cta"`
	AnimationIntensity float64      `json:"animation_intensity"`
}

// TimeRemaining is the structured breakdown of time left until a target
// instant. All fields are non-negative; a past target collapses to zero.
// Recomputed on every tick, never persisted.
type TimeRemaining struct {
	Days         int   `json:"days"`
	Hours        int   `json:"hours"`
	Minutes      int   `json:"minutes"`
	Seconds      int   `json:"seconds"`
	TotalHours   int64 `json:"total_hours"`
	TotalMinutes int64 `json:"total_minutes"`
	TotalSeconds int64 `json:"total_seconds"`
}

// Expired reports whether the target instant has been reached.
func (tr TimeRemaining) Expired() bool {
	return tr.TotalSeconds <= 0
}

// VerificationOutcome labels the result of reconciling the locally computed
// price against the authoritative remote calculator.
type VerificationOutcome string

const (
	VerificationUnverified  VerificationOutcome = "unverified"  // no reconciliation attempted yet
	VerificationPending     VerificationOutcome = "pending"     // request in flight
	VerificationVerified    VerificationOutcome = "verified"    // remote agrees within tolerance
	VerificationMismatch    VerificationOutcome = "mismatch"    // remote disagrees beyond tolerance
	VerificationUnavailable VerificationOutcome = "unavailable" // remote unreachable or malformed
)

// VerificationState is the reconciliation status attached to a pricing
// result. A mismatch is reportable data, not an error: the local price stays
// on display and the remote value is surfaced alongside it.
type VerificationState struct {
	Outcome     VerificationOutcome `json:"outcome"`
	LocalPrice  float64             `json:"local_price"`
	RemotePrice float64             `json:"remote_price,omitempty"`
	Difference  float64             `json:"difference,omitempty"`
	Error       string              `json:"error,omitempty"`
	CheckedAt   time.Time           `json:"checked_at"`
}
