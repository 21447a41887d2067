package agenda

import (
	"time"

	"github.com/google/uuid"
)

// SlotWindow returns the half-open interval covered by the slot starting at
// tod on the calendar date of date.
func SlotWindow(date time.Time, tod TimeOfDay, stepMinutes int) Interval {
	start := tod.On(date)
	return Interval{Start: start, End: start.Add(time.Duration(stepMinutes) * time.Minute)}
}

func occupies(a Appointment, date time.Time, slot Interval, roomID *uuid.UUID) bool {
	if roomID != nil && !a.InRoom(*roomID) {
		return false
	}
	if !SameDay(a.Date, date) {
		return false
	}
	return a.Interval().Overlaps(slot)
}

// AppointmentsInSlot returns the appointments occupying the slot that starts
// at tod on date, in input order. An appointment occupies a slot when it
// starts on the same calendar date (in date's location) and its interval
// strictly overlaps the slot window. A nil roomID matches any room.
func AppointmentsInSlot(appts []Appointment, date time.Time, tod TimeOfDay, stepMinutes int, roomID *uuid.UUID) []Appointment {
	slot := SlotWindow(date, tod, stepMinutes)
	var out []Appointment
	for _, a := range appts {
		if occupies(a, date, slot, roomID) {
			out = append(out, a)
		}
	}
	return out
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

func dayKeyOf(t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{y, m, d}
}

// OccupancyIndex buckets appointments by calendar date so cell lookups only
// scan the appointments of one day.
type OccupancyIndex struct {
	loc   *time.Location
	all   []Appointment
	byDay map[dayKey][]Appointment
}

// NewOccupancyIndex indexes appts by their start date in loc. A nil loc
// means time.Local.
func NewOccupancyIndex(appts []Appointment, loc *time.Location) *OccupancyIndex {
	if loc == nil {
		loc = time.Local
	}
	idx := &OccupancyIndex{
		loc:   loc,
		all:   appts,
		byDay: make(map[dayKey][]Appointment),
	}
	for _, a := range appts {
		k := dayKeyOf(a.Date.In(loc))
		idx.byDay[k] = append(idx.byDay[k], a)
	}
	return idx
}

// Len returns the number of indexed appointments.
func (idx *OccupancyIndex) Len() int { return len(idx.all) }

// OnDate returns the appointments starting on the calendar date of date.
func (idx *OccupancyIndex) OnDate(date time.Time) []Appointment {
	if date.Location() != idx.loc {
		var out []Appointment
		for _, a := range idx.all {
			if SameDay(a.Date, date) {
				out = append(out, a)
			}
		}
		return out
	}
	return idx.byDay[dayKeyOf(date)]
}

// InSlot answers the same query as AppointmentsInSlot using the date buckets.
func (idx *OccupancyIndex) InSlot(date time.Time, tod TimeOfDay, stepMinutes int, roomID *uuid.UUID) []Appointment {
	slot := SlotWindow(date, tod, stepMinutes)
	var out []Appointment
	for _, a := range idx.OnDate(date) {
		if occupies(a, date, slot, roomID) {
			out = append(out, a)
		}
	}
	return out
}

// Overlapping returns every indexed appointment whose interval overlaps iv,
// regardless of date or room.
func (idx *OccupancyIndex) Overlapping(iv Interval) []Appointment {
	var out []Appointment
	for _, a := range idx.all {
		if a.Interval().Overlaps(iv) {
			out = append(out, a)
		}
	}
	return out
}
