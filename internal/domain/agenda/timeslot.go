package agenda

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSlotGrid = errors.New("invalid slot grid")

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from an hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses an "HH:MM" label.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return NewTimeOfDay(h, m), nil
}

// TimeOfDayOf extracts the wall-clock time of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String renders the zero-padded "HH:MM" label.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places the time of day on the calendar date of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, d.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Value stores the time of day as its "HH:MM" label.
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

// Scan reads a TIME or text column.
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return t.UnmarshalText([]byte(v[:min(len(v), 5)]))
	case []byte:
		return t.UnmarshalText(v[:min(len(v), 5)])
	case time.Time:
		*t = TimeOfDayOf(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

// SlotGrid is the bookable operating window of a day, cut into fixed steps.
type SlotGrid struct {
	StartHour   int `json:"start_hour"`
	EndHour     int `json:"end_hour"`
	StepMinutes int `json:"step_minutes"`
}

// DefaultSlotGrid is the 08:00-20:00 window at 30 minute steps.
func DefaultSlotGrid() SlotGrid {
	return SlotGrid{StartHour: 8, EndHour: 20, StepMinutes: 30}
}

func (g SlotGrid) Validate() error {
	if g.StepMinutes <= 0 {
		return fmt.Errorf("%w: step must be positive, got %d", ErrInvalidSlotGrid, g.StepMinutes)
	}
	if g.StartHour < 0 || g.EndHour > 24 {
		return fmt.Errorf("%w: hours must be within 0..24", ErrInvalidSlotGrid)
	}
	if g.EndHour <= g.StartHour {
		return fmt.Errorf("%w: end hour %d must be after start hour %d", ErrInvalidSlotGrid, g.EndHour, g.StartHour)
	}
	return nil
}

// Slots lists the slot start times of the grid.
func (g SlotGrid) Slots() ([]TimeOfDay, error) {
	return GenerateTimeSlots(g.StartHour, g.EndHour, g.StepMinutes)
}

// GenerateTimeSlots returns every stepMinutes-spaced time of day from
// startHour:00 inclusive to endHour:00 exclusive, in chronological order.
func GenerateTimeSlots(startHour, endHour, stepMinutes int) ([]TimeOfDay, error) {
	g := SlotGrid{StartHour: startHour, EndHour: endHour, StepMinutes: stepMinutes}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	end := TimeOfDay(endHour * 60)
	slots := make([]TimeOfDay, 0, (int(end)-startHour*60)/stepMinutes+1)
	for t := TimeOfDay(startHour * 60); t < end; t += TimeOfDay(stepMinutes) {
		slots = append(slots, t)
	}
	return slots, nil
}

// SlotLabels renders slots as "HH:MM" labels.
func SlotLabels(slots []TimeOfDay) []string {
	labels := make([]string, len(slots))
	for i, s := range slots {
		labels[i] = s.String()
	}
	return labels
}
