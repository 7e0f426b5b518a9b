package comparison

import (
	"time"

	"dashboard_cards/internal/model"
)

const (
	// Window is the length of each averaged period.
	Window = 7 * 24 * time.Hour
	// YearOffset shifts the current window back to the same week last year.
	YearOffset = 365 * 24 * time.Hour
)

// Ranges holds the two averaging windows of one cycle.
type Ranges struct {
	Current  model.TimeRange
	LastYear model.TimeRange
}

// BuildRanges derives the current 7-day window and its counterpart one year
// earlier from now.
func BuildRanges(now time.Time) Ranges {
	start := now.Add(-Window)
	return Ranges{
		Current:  model.TimeRange{Start: start, End: now},
		LastYear: model.TimeRange{Start: start.Add(-YearOffset), End: now.Add(-YearOffset)},
	}
}
