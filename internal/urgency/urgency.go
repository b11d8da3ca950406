// Package urgency classifies time remaining until a check-in date into
// ordinal urgency levels and derives the display metadata for each level.
//
// Levels are a pure function of whole days remaining:
//
//	critical  0-3 days
//	high      4-7 days
//	medium    8-14 days
//	low       15+ days
//
// Boundaries are inclusive with no gaps or overlaps. A level never changes
// independent of a time advance.
package urgency

import (
	"fmt"
	"time"

	"github.com/mkrell/staywatch/internal/models"
)

// Band thresholds in whole days remaining. Upper bounds are inclusive.
const (
	criticalMaxDays = 3
	highMaxDays     = 7
	mediumMaxDays   = 14
)

// Level maps days remaining to an urgency level. Negative inputs are treated
// as zero days remaining.
func Level(daysOut int) models.UrgencyLevel {
	if daysOut < 0 {
		daysOut = 0
	}
	switch {
	case daysOut <= criticalMaxDays:
		return models.UrgencyCritical
	case daysOut <= highMaxDays:
		return models.UrgencyHigh
	case daysOut <= mediumMaxDays:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// Metadata returns the fixed display record for a level. The colors and
// messages are data, not behavior: engines are equivalent if they agree on
// level boundaries and the CTA flag. The call-to-action and progress
// indicator are suppressed only at low urgency.
func Metadata(level models.UrgencyLevel, daysUntil int) models.UrgencyMetadata {
	md := models.UrgencyMetadata{
		Level:           level,
		ShowProgressBar: level != models.UrgencyLow,
		ShowCTA:         level != models.UrgencyLow,
	}

	switch level {
	case models.UrgencyCritical:
		md.Color = "#DC2626"
		md.BackgroundColor = "#FEF2F2"
		md.Label = "Booking closes soon"
		md.Message = "Check-in is almost here. Prices are at their steepest right now."
		md.AnimationIntensity = 1.0
	case models.UrgencyHigh:
		md.Color = "#EA580C"
		md.BackgroundColor = "#FFF7ED"
		md.Label = "Less than a week out"
		md.Message = "Prices climb quickly inside the final week before check-in."
		md.AnimationIntensity = 0.6
	case models.UrgencyMedium:
		md.Color = "#D97706"
		md.BackgroundColor = "#FFFBEB"
		md.Label = "Under two weeks out"
		md.Message = "Prices have started rising. Locking in earlier costs less."
		md.AnimationIntensity = 0.3
	default:
		md.Color = "#16A34A"
		md.BackgroundColor = "#F0FDF4"
		md.Label = "Plenty of time"
		md.Message = "Prices are still at their base rate."
		md.AnimationIntensity = 0
	}

	if daysUntil == 1 {
		md.Label = "Last day to book"
	}
	return md
}

// Remaining breaks down the time between now and target into days, hours,
// minutes, and seconds plus raw totals. A target at or before now yields the
// zero value; no field is ever negative.
func Remaining(target, now time.Time) models.TimeRemaining {
	diff := target.Sub(now)
	if diff <= 0 {
		return models.TimeRemaining{}
	}

	totalSeconds := int64(diff / time.Second)
	return models.TimeRemaining{
		Days:         int(totalSeconds / 86400),
		Hours:        int(totalSeconds % 86400 / 3600),
		Minutes:      int(totalSeconds % 3600 / 60),
		Seconds:      int(totalSeconds % 60),
		TotalHours:   totalSeconds / 3600,
		TotalMinutes: totalSeconds / 60,
		TotalSeconds: totalSeconds,
	}
}

// FormatRemaining renders the time left as its two most significant units,
// for status lines and notifications.
func FormatRemaining(tr models.TimeRemaining) string {
	switch {
	case tr.Expired():
		return "now"
	case tr.Days > 0:
		return fmt.Sprintf("%dd %dh", tr.Days, tr.Hours)
	case tr.Hours > 0:
		return fmt.Sprintf("%dh %dm", tr.Hours, tr.Minutes)
	default:
		return fmt.Sprintf("%dm %ds", tr.Minutes, tr.Seconds)
	}
}

// DaysUntil returns the number of whole days between now and target.
// Partial days truncate, so the final 24 hours count as zero days out.
// Past targets return 0.
func DaysUntil(target, now time.Time) int {
	diff := target.Sub(now)
	if diff <= 0 {
		return 0
	}
	return int(diff / (24 * time.Hour))
}
