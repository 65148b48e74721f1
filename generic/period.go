package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Reward windows in a fixed reference timezone
// =============================================================================

// Period is the half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}

// PeriodType defines how periods are calculated
type PeriodType string

const (
	PeriodDaily  PeriodType = "daily"  // Local midnight to midnight
	PeriodWeekly PeriodType = "weekly" // Monday 00:00 to next Monday 00:00
)

// ParsePeriodType validates a configured period name.
func ParsePeriodType(s string) (PeriodType, error) {
	switch PeriodType(s) {
	case PeriodDaily, PeriodWeekly:
		return PeriodType(s), nil
	default:
		return "", fmt.Errorf("unknown period type %q", s)
	}
}

// PeriodConfig places period boundaries in a reference timezone so that
// every server computes the same window regardless of its own TZ.
type PeriodConfig struct {
	Type     PeriodType
	Location *time.Location
}

// =============================================================================
// PERIOD CALCULATOR - Determines which period an instant falls into
// =============================================================================

// PeriodFor returns the period that contains t.
func (pc PeriodConfig) PeriodFor(t time.Time) Period {
	loc := pc.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch pc.Type {
	case PeriodWeekly:
		// Monday-based weeks; Sunday belongs to the week that started six days earlier.
		back := (int(local.Weekday()) + 6) % 7
		start := startOfDay.AddDate(0, 0, -back)
		return Period{Start: start, End: start.AddDate(0, 0, 7)}
	default:
		return Period{Start: startOfDay, End: startOfDay.AddDate(0, 0, 1)}
	}
}

// NextPeriod returns the period following p under the same config.
func (pc PeriodConfig) NextPeriod(p Period) Period {
	return pc.PeriodFor(p.End)
}

// PreviousPeriod returns the period before p under the same config.
func (pc PeriodConfig) PreviousPeriod(p Period) Period {
	return pc.PeriodFor(p.Start.Add(-time.Nanosecond))
}
