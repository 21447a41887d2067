package agenda

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidViewMode = errors.New("invalid view mode")

// ViewMode is the calendar granularity.
type ViewMode string

const (
	ViewDay   ViewMode = "day"
	ViewWeek  ViewMode = "week"
	ViewMonth ViewMode = "month"
)

// ParseViewMode accepts "day", "week" or "month".
func ParseViewMode(s string) (ViewMode, error) {
	switch m := ViewMode(s); m {
	case ViewDay, ViewWeek, ViewMonth:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidViewMode, s)
	}
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar date in the
// location of b.
func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// isoWeekdayOffset is the number of days since the Monday on or before t.
func isoWeekdayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// StartOfWeek returns the Monday on or before t, at midnight.
func StartOfWeek(t time.Time) time.Time {
	d := StartOfDay(t)
	return d.AddDate(0, 0, -isoWeekdayOffset(d))
}

// GenerateViewDates lists the calendar dates rendered for the given view:
// the reference day, its ISO week (Monday first), or every full week
// covering the reference month. Returned dates are midnights in the
// reference's location.
func GenerateViewDates(reference time.Time, mode ViewMode) ([]time.Time, error) {
	switch mode {
	case ViewDay:
		return []time.Time{StartOfDay(reference)}, nil
	case ViewWeek:
		return consecutiveDays(StartOfWeek(reference), 7), nil
	case ViewMonth:
		first := time.Date(reference.Year(), reference.Month(), 1, 0, 0, 0, 0, reference.Location())
		last := first.AddDate(0, 1, -1)
		start := first.AddDate(0, 0, -isoWeekdayOffset(first))
		end := last.AddDate(0, 0, 6-isoWeekdayOffset(last))
		days := int(end.Sub(start).Hours()/24+0.5) + 1
		return consecutiveDays(start, days), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidViewMode, mode)
	}
}

func consecutiveDays(start time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return dates
}

// Navigate moves the reference date one period backwards (direction < 0) or
// forwards (direction > 0). Month steps clamp to the last day of the target
// month, so Jan 31 + 1 month is Feb 28/29.
func Navigate(reference time.Time, mode ViewMode, direction int) (time.Time, error) {
	switch mode {
	case ViewDay:
		return reference.AddDate(0, 0, direction), nil
	case ViewWeek:
		return reference.AddDate(0, 0, 7*direction), nil
	case ViewMonth:
		return addMonthsClamped(reference, direction), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidViewMode, mode)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(months), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return firstOfTarget.AddDate(0, 0, day-1)
}

// PeriodLabel renders the header label of the period containing reference.
func PeriodLabel(reference time.Time, mode ViewMode) string {
	switch mode {
	case ViewDay:
		return reference.Format("Monday, 2 January 2006")
	case ViewWeek:
		start := StartOfWeek(reference)
		end := start.AddDate(0, 0, 6)
		return start.Format("2 Jan") + " - " + end.Format("2 Jan 2006")
	case ViewMonth:
		return reference.Format("January 2006")
	default:
		return ""
	}
}
