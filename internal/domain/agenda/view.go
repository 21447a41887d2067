package agenda

import (
	"time"

	"github.com/google/uuid"
)

// ViewState is everything the calendar header and grid need to render,
// outside of the appointment data itself.
type ViewState struct {
	SelectedDate    time.Time  `json:"selected_date"`
	Mode            ViewMode   `json:"mode"`
	ShowConflicts   bool       `json:"show_conflicts"`
	TherapistFilter *uuid.UUID `json:"therapist_filter,omitempty"`
	Dragging        *uuid.UUID `json:"dragging,omitempty"`
}

// NewViewState opens the week of today with the conflict banner visible.
func NewViewState(today time.Time) ViewState {
	return ViewState{SelectedDate: StartOfDay(today), Mode: ViewWeek, ShowConflicts: true}
}

// Event is a user interaction that changes the view state.
type Event interface{ viewEvent() }

type (
	DateChanged       struct{ Date time.Time }
	ViewModeChanged   struct{ Mode ViewMode }
	NavigatePrevious  struct{}
	NavigateNext      struct{}
	NavigateToday     struct{ Today time.Time }
	ToggleConflicts   struct{}
	TherapistFiltered struct{ TherapistID *uuid.UUID }
	DragStarted       struct{ AppointmentID uuid.UUID }
	DragCancelled     struct{}
	Dropped           struct{}
)

func (DateChanged) viewEvent()       {}
func (ViewModeChanged) viewEvent()   {}
func (NavigatePrevious) viewEvent()  {}
func (NavigateNext) viewEvent()      {}
func (NavigateToday) viewEvent()     {}
func (ToggleConflicts) viewEvent()   {}
func (TherapistFiltered) viewEvent() {}
func (DragStarted) viewEvent()       {}
func (DragCancelled) viewEvent()     {}
func (Dropped) viewEvent()           {}

// Reduce returns the state that follows s after e. Events that cannot apply,
// such as an unknown view mode, leave s unchanged.
func Reduce(s ViewState, e Event) ViewState {
	switch ev := e.(type) {
	case DateChanged:
		s.SelectedDate = StartOfDay(ev.Date)
	case ViewModeChanged:
		if _, err := ParseViewMode(string(ev.Mode)); err == nil {
			s.Mode = ev.Mode
		}
	case NavigatePrevious:
		if d, err := Navigate(s.SelectedDate, s.Mode, -1); err == nil {
			s.SelectedDate = d
		}
	case NavigateNext:
		if d, err := Navigate(s.SelectedDate, s.Mode, 1); err == nil {
			s.SelectedDate = d
		}
	case NavigateToday:
		s.SelectedDate = StartOfDay(ev.Today)
	case ToggleConflicts:
		s.ShowConflicts = !s.ShowConflicts
	case TherapistFiltered:
		if ev.TherapistID == nil {
			s.TherapistFilter = nil
		} else {
			id := *ev.TherapistID
			s.TherapistFilter = &id
		}
	case DragStarted:
		id := ev.AppointmentID
		s.Dragging = &id
	case DragCancelled, Dropped:
		s.Dragging = nil
	}
	return s
}

// Cell is one (date, room, slot) square of the day and week grids.
type Cell struct {
	Time           TimeOfDay   `json:"time"`
	RoomID         *uuid.UUID  `json:"room_id,omitempty"`
	AppointmentIDs []uuid.UUID `json:"appointment_ids"`
	Conflicted     bool        `json:"conflicted"`
	Bookable       bool        `json:"bookable"`
}

// CalendarDay is one rendered date. Day and week views fill Cells; the month
// view lists the day's appointments instead.
type CalendarDay struct {
	Date           time.Time   `json:"date"`
	InPeriod       bool        `json:"in_period"`
	Cells          []Cell      `json:"cells,omitempty"`
	AppointmentIDs []uuid.UUID `json:"appointment_ids,omitempty"`
}

// Calendar is the rendered skeleton of one view.
type Calendar struct {
	Label     string           `json:"label"`
	State     ViewState        `json:"state"`
	Slots     []TimeOfDay      `json:"slots"`
	Rooms     []ConsultingRoom `json:"rooms"`
	Days      []CalendarDay    `json:"days"`
	Conflicts []Conflict       `json:"conflicts,omitempty"`
	Summary   ConflictSummary  `json:"summary"`
}

// BuildCalendar lays appts out on the grid described by state. The therapist
// filter narrows the appointments placed in cells; conflicts are always
// computed over the full list and only attached when ShowConflicts is set.
// A nil detector runs with zero options.
func BuildCalendar(state ViewState, appts []Appointment, rooms []ConsultingRoom, grid SlotGrid, detector *Detector) (*Calendar, error) {
	dates, err := GenerateViewDates(state.SelectedDate, state.Mode)
	if err != nil {
		return nil, err
	}
	slots, err := grid.Slots()
	if err != nil {
		return nil, err
	}
	if detector == nil {
		detector = NewDetector(DetectorOptions{})
	}
	conflicts, err := detector.Detect(appts)
	if err != nil {
		return nil, err
	}
	// appts may reach past the visible dates so that overlaps across the
	// first midnight are found; only conflicts touching the view are kept.
	conflicts = ConflictsStartingIn(conflicts, StartOfDay(dates[0]), StartOfDay(dates[len(dates)-1]).AddDate(0, 0, 1))
	conflicted := ConflictedIDs(conflicts)

	visible := appts
	if state.TherapistFilter != nil {
		visible = make([]Appointment, 0, len(appts))
		for _, a := range appts {
			if a.TherapistID == *state.TherapistFilter {
				visible = append(visible, a)
			}
		}
	}
	idx := NewOccupancyIndex(visible, state.SelectedDate.Location())

	cal := &Calendar{
		Label:   PeriodLabel(state.SelectedDate, state.Mode),
		State:   state,
		Slots:   slots,
		Rooms:   rooms,
		Days:    make([]CalendarDay, 0, len(dates)),
		Summary: Summarize(conflicts),
	}
	if state.ShowConflicts {
		cal.Conflicts = conflicts
	}

	for _, d := range dates {
		day := CalendarDay{Date: d, InPeriod: true}
		if state.Mode == ViewMonth {
			day.InPeriod = d.Month() == state.SelectedDate.Month()
			for _, a := range idx.OnDate(d) {
				day.AppointmentIDs = append(day.AppointmentIDs, a.ID)
			}
			cal.Days = append(cal.Days, day)
			continue
		}
		columns := roomColumns(rooms)
		day.Cells = make([]Cell, 0, len(columns)*len(slots))
		for _, col := range columns {
			var roomID *uuid.UUID
			bookable := true
			if col != nil {
				id := col.ID
				roomID = &id
				bookable = col.Bookable()
			}
			for _, s := range slots {
				cell := Cell{Time: s, RoomID: roomID, Bookable: bookable, AppointmentIDs: []uuid.UUID{}}
				for _, a := range idx.InSlot(d, s, grid.StepMinutes, roomID) {
					cell.AppointmentIDs = append(cell.AppointmentIDs, a.ID)
					if state.ShowConflicts && conflicted[a.ID] {
						cell.Conflicted = true
					}
				}
				day.Cells = append(day.Cells, cell)
			}
		}
		cal.Days = append(cal.Days, day)
	}
	return cal, nil
}

// roomColumns returns one column per room, or a single any-room column when
// no rooms are configured.
func roomColumns(rooms []ConsultingRoom) []*ConsultingRoom {
	if len(rooms) == 0 {
		return []*ConsultingRoom{nil}
	}
	cols := make([]*ConsultingRoom, len(rooms))
	for i := range rooms {
		cols[i] = &rooms[i]
	}
	return cols
}
