package agenda

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats are the dashboard figures for a list of appointments.
type Stats struct {
	Total           int                       `json:"total"`
	Today           int                       `json:"today"`
	Tomorrow        int                       `json:"tomorrow"`
	ThisWeek        int                       `json:"this_week"`
	ByStatus        map[AppointmentStatus]int `json:"by_status"`
	Virtual         int                       `json:"virtual"`
	AverageDuration int                       `json:"average_duration"`
	OccupiedMinutes int                       `json:"occupied_minutes"`
	OccupancyRate   decimal.Decimal           `json:"occupancy_rate"`
	Billed          decimal.Decimal           `json:"billed"`
	Collected       decimal.Decimal           `json:"collected"`
	Outstanding     decimal.Decimal           `json:"outstanding"`
}

// ComputeStats counts appts relative to now (today, tomorrow and the ISO
// week of now, in now's location). Occupancy compares the minutes held by
// active appointments with the grid's operating window over days days.
// Revenue only counts completed appointments.
func ComputeStats(appts []Appointment, now time.Time, grid SlotGrid, days int) Stats {
	s := Stats{
		ByStatus:      make(map[AppointmentStatus]int),
		OccupancyRate: decimal.Zero,
		Billed:        decimal.Zero,
		Collected:     decimal.Zero,
		Outstanding:   decimal.Zero,
	}
	today := StartOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	week := Interval{Start: StartOfWeek(now), End: StartOfWeek(now).AddDate(0, 0, 7)}

	totalDuration := 0
	for _, a := range appts {
		s.Total++
		s.ByStatus[a.Status]++
		totalDuration += a.Duration
		if a.IsVirtual {
			s.Virtual++
		}
		switch {
		case SameDay(a.Date, today):
			s.Today++
		case SameDay(a.Date, tomorrow):
			s.Tomorrow++
		}
		if !a.Date.Before(week.Start) && a.Date.Before(week.End) {
			s.ThisWeek++
		}
		if a.Active() {
			s.OccupiedMinutes += a.Duration
		}
		if a.Status == StatusCompleted {
			s.Billed = s.Billed.Add(a.Cost)
			if a.Paid {
				s.Collected = s.Collected.Add(a.Cost)
			} else {
				s.Outstanding = s.Outstanding.Add(a.Cost)
			}
		}
	}
	if s.Total > 0 {
		s.AverageDuration = (totalDuration + s.Total/2) / s.Total
	}
	if days > 0 && grid.Validate() == nil {
		available := decimal.NewFromInt(int64((grid.EndHour - grid.StartHour) * 60 * days))
		s.OccupancyRate = decimal.NewFromInt(int64(s.OccupiedMinutes)).
			Div(available).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return s
}
