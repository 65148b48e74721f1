package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/market-engine/generic"
)

func pacific(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

func TestPeriodFor_DailyUsesReferenceMidnight(t *testing.T) {
	loc := pacific(t)
	pc := generic.PeriodConfig{Type: generic.PeriodDaily, Location: loc}

	// 2025-03-04 06:00 UTC is 2025-03-03 22:00 in Los Angeles.
	p := pc.PeriodFor(time.Date(2025, 3, 4, 6, 0, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, loc), p.Start)
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, loc), p.End)
}

func TestPeriodFor_WeeklyStartsMonday(t *testing.T) {
	pc := generic.PeriodConfig{Type: generic.PeriodWeekly, Location: time.UTC}
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"monday midnight", monday, monday},
		{"wednesday", time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC), monday},
		{"sunday late", time.Date(2025, 6, 8, 23, 59, 0, 0, time.UTC), monday},
		{"next monday", time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), monday.AddDate(0, 0, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pc.PeriodFor(tt.at)
			assert.Equal(t, tt.want, p.Start)
			assert.Equal(t, tt.want.AddDate(0, 0, 7), p.End)
			assert.True(t, p.Contains(tt.at))
		})
	}
}

func TestPeriod_NextAndPrevious(t *testing.T) {
	pc := generic.PeriodConfig{Type: generic.PeriodDaily}
	p := pc.PeriodFor(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	next := pc.NextPeriod(p)
	prev := pc.PreviousPeriod(p)

	assert.Equal(t, p.End, next.Start)
	assert.Equal(t, p.Start, prev.End)
	assert.False(t, p.Contains(p.End))
}

func TestParsePeriodType(t *testing.T) {
	got, err := generic.ParsePeriodType("weekly")
	require.NoError(t, err)
	assert.Equal(t, generic.PeriodWeekly, got)

	_, err = generic.ParsePeriodType("monthly")
	assert.Error(t, err)
}
