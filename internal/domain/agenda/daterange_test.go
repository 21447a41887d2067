package agenda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateViewDates_Day(t *testing.T) {
	ref := at(2024, time.January, 10, 15, 45)
	dates, err := GenerateViewDates(ref, ViewDay)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, time.January, 10, 0, 0)}, dates)
}

func TestGenerateViewDates_WeekIsMondayFirst(t *testing.T) {
	start := at(2023, time.December, 1, 12, 0)
	for i := 0; i < 400; i++ {
		ref := start.AddDate(0, 0, i)
		dates, err := GenerateViewDates(ref, ViewWeek)
		require.NoError(t, err)
		require.Len(t, dates, 7)
		assert.Equal(t, time.Monday, dates[0].Weekday(), "ref %s", ref)
		for j := 1; j < 7; j++ {
			assert.Equal(t, dates[j-1].AddDate(0, 0, 1), dates[j])
		}
		assert.Contains(t, dates, StartOfDay(ref))
	}
}

func TestGenerateViewDates_WeekFromSunday(t *testing.T) {
	dates, err := GenerateViewDates(at(2024, time.January, 14, 9, 0), ViewWeek)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.January, 8, 0, 0), dates[0])
	assert.Equal(t, at(2024, time.January, 14, 0, 0), dates[6])
}

func TestGenerateViewDates_MonthCoversFullWeeks(t *testing.T) {
	for year := 2023; year <= 2025; year++ {
		for month := time.January; month <= time.December; month++ {
			ref := time.Date(year, month, 15, 0, 0, 0, 0, time.UTC)
			dates, err := GenerateViewDates(ref, ViewMonth)
			require.NoError(t, err)
			require.Zero(t, len(dates)%7, "%s has %d dates", ref.Format("2006-01"), len(dates))
			assert.Equal(t, time.Monday, dates[0].Weekday())
			assert.Equal(t, time.Sunday, dates[len(dates)-1].Weekday())

			set := make(map[time.Time]bool, len(dates))
			for _, d := range dates {
				set[d] = true
			}
			for d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC); d.Month() == month; d = d.AddDate(0, 0, 1) {
				assert.True(t, set[d], "missing %s", d.Format("2006-01-02"))
			}
		}
	}
}

func TestGenerateViewDates_MonthIncludesAdjacentDays(t *testing.T) {
	// January 2024 starts on a Monday and ends on a Wednesday.
	dates, err := GenerateViewDates(at(2024, time.January, 20, 0, 0), ViewMonth)
	require.NoError(t, err)
	require.Len(t, dates, 35)
	assert.Equal(t, at(2024, time.January, 1, 0, 0), dates[0])
	assert.Equal(t, at(2024, time.February, 4, 0, 0), dates[34])
}

func TestGenerateViewDates_InvalidMode(t *testing.T) {
	_, err := GenerateViewDates(at(2024, time.January, 1, 0, 0), ViewMode("year"))
	assert.ErrorIs(t, err, ErrInvalidViewMode)

	_, err = ParseViewMode("fortnight")
	assert.ErrorIs(t, err, ErrInvalidViewMode)
}

func TestNavigate(t *testing.T) {
	ref := at(2024, time.January, 31, 0, 0)

	next, err := Navigate(ref, ViewDay, 1)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.February, 1, 0, 0), next)

	prev, err := Navigate(ref, ViewWeek, -1)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.January, 24, 0, 0), prev)

	month, err := Navigate(ref, ViewMonth, 1)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.February, 29, 0, 0), month, "month steps clamp to month end")

	back, err := Navigate(at(2024, time.March, 31, 0, 0), ViewMonth, -1)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.February, 29, 0, 0), back)

	_, err = Navigate(ref, "year", 1)
	assert.ErrorIs(t, err, ErrInvalidViewMode)
}

func TestPeriodLabel(t *testing.T) {
	ref := at(2024, time.January, 10, 0, 0)
	assert.Equal(t, "Wednesday, 10 January 2024", PeriodLabel(ref, ViewDay))
	assert.Equal(t, "8 Jan - 14 Jan 2024", PeriodLabel(ref, ViewWeek))
	assert.Equal(t, "January 2024", PeriodLabel(ref, ViewMonth))
}

func TestSameDay_UsesSecondLocation(t *testing.T) {
	clinic := time.FixedZone("clinic", -5*3600)
	utcLate := at(2024, time.January, 11, 2, 0) // 21:00 on the 10th in the clinic
	assert.True(t, SameDay(utcLate, time.Date(2024, 1, 10, 0, 0, 0, 0, clinic)))
	assert.False(t, SameDay(utcLate, at(2024, time.January, 10, 0, 0)))
}
