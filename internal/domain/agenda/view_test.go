package agenda

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	s := NewViewState(at(2024, time.January, 10, 15, 0))
	assert.Equal(t, ViewWeek, s.Mode)
	assert.True(t, s.ShowConflicts)
	assert.Equal(t, at(2024, time.January, 10, 0, 0), s.SelectedDate)

	s = Reduce(s, NavigateNext{})
	assert.Equal(t, at(2024, time.January, 17, 0, 0), s.SelectedDate)

	s = Reduce(s, ViewModeChanged{Mode: ViewMonth})
	s = Reduce(s, NavigatePrevious{})
	assert.Equal(t, at(2023, time.December, 17, 0, 0), s.SelectedDate)

	s = Reduce(s, ViewModeChanged{Mode: "year"})
	assert.Equal(t, ViewMonth, s.Mode, "unknown mode is ignored")

	s = Reduce(s, NavigateToday{Today: at(2024, time.February, 2, 8, 30)})
	assert.Equal(t, at(2024, time.February, 2, 0, 0), s.SelectedDate)

	s = Reduce(s, DateChanged{Date: at(2024, time.March, 5, 12, 0)})
	assert.Equal(t, at(2024, time.March, 5, 0, 0), s.SelectedDate)

	s = Reduce(s, ToggleConflicts{})
	assert.False(t, s.ShowConflicts)

	id := therapistT
	s = Reduce(s, TherapistFiltered{TherapistID: &id})
	id = therapistU
	require.NotNil(t, s.TherapistFilter)
	assert.Equal(t, therapistT, *s.TherapistFilter, "filter holds its own copy")
	s = Reduce(s, TherapistFiltered{})
	assert.Nil(t, s.TherapistFilter)

	appt := uuid.New()
	s = Reduce(s, DragStarted{AppointmentID: appt})
	require.NotNil(t, s.Dragging)
	assert.Equal(t, appt, *s.Dragging)
	assert.Nil(t, Reduce(s, Dropped{}).Dragging)
	assert.Nil(t, Reduce(s, DragCancelled{}).Dragging)
}

func testRooms() []ConsultingRoom {
	return []ConsultingRoom{
		{ID: roomR1, Name: "Sala 1", Status: RoomAvailable, Capacity: 1},
		{ID: roomR2, Name: "Sala 2", Status: RoomMaintenance, Capacity: 2},
	}
}

func findCell(t *testing.T, day CalendarDay, tod TimeOfDay, room uuid.UUID) Cell {
	t.Helper()
	for _, c := range day.Cells {
		if c.Time == tod && c.RoomID != nil && *c.RoomID == room {
			return c
		}
	}
	t.Fatalf("no cell at %s in room %s", tod, room)
	return Cell{}
}

func TestBuildCalendar_DayGrid(t *testing.T) {
	a := booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 9, 0), 60)
	b := booking(therapistT, roomPtr(roomR2), at(2024, time.January, 10, 9, 30), 30)
	other := booking(therapistU, roomPtr(roomR1), at(2024, time.January, 10, 14, 0), 30)

	state := ViewState{SelectedDate: at(2024, time.January, 10, 0, 0), Mode: ViewDay, ShowConflicts: true}
	cal, err := BuildCalendar(state, []Appointment{a, b, other}, testRooms(), DefaultSlotGrid(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Wednesday, 10 January 2024", cal.Label)
	require.Len(t, cal.Days, 1)
	day := cal.Days[0]
	assert.Len(t, day.Cells, 2*24)

	nine := findCell(t, day, NewTimeOfDay(9, 0), roomR1)
	assert.Equal(t, []uuid.UUID{a.ID}, nine.AppointmentIDs)
	assert.True(t, nine.Conflicted)
	assert.True(t, nine.Bookable)

	maint := findCell(t, day, NewTimeOfDay(9, 30), roomR2)
	assert.Equal(t, []uuid.UUID{b.ID}, maint.AppointmentIDs)
	assert.False(t, maint.Bookable)

	two := findCell(t, day, NewTimeOfDay(14, 0), roomR1)
	assert.Equal(t, []uuid.UUID{other.ID}, two.AppointmentIDs)
	assert.False(t, two.Conflicted)

	empty := findCell(t, day, NewTimeOfDay(8, 0), roomR1)
	assert.NotNil(t, empty.AppointmentIDs)
	assert.Empty(t, empty.AppointmentIDs)

	require.Len(t, cal.Conflicts, 1)
	assert.Equal(t, 1, cal.Summary.Errors)
}

func TestBuildCalendar_HiddenConflictsAndFilter(t *testing.T) {
	a := booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 9, 0), 60)
	b := booking(therapistT, roomPtr(roomR2), at(2024, time.January, 10, 9, 30), 30)
	other := booking(therapistU, roomPtr(roomR1), at(2024, time.January, 10, 14, 0), 30)

	filter := therapistU
	state := ViewState{SelectedDate: at(2024, time.January, 10, 0, 0), Mode: ViewWeek, TherapistFilter: &filter}
	cal, err := BuildCalendar(state, []Appointment{a, b, other}, nil, DefaultSlotGrid(), nil)
	require.NoError(t, err)

	assert.Nil(t, cal.Conflicts)
	assert.Equal(t, 1, cal.Summary.Total, "summary covers every appointment")
	require.Len(t, cal.Days, 7)

	wednesday := cal.Days[2]
	require.Len(t, wednesday.Cells, 24, "one any-room column")
	for _, c := range wednesday.Cells {
		assert.Nil(t, c.RoomID)
		assert.False(t, c.Conflicted)
		if c.Time == NewTimeOfDay(14, 0) {
			assert.Equal(t, []uuid.UUID{other.ID}, c.AppointmentIDs)
		} else {
			assert.Empty(t, c.AppointmentIDs, c.Time.String())
		}
	}
}

func TestBuildCalendar_Month(t *testing.T) {
	a := booking(therapistT, nil, at(2024, time.February, 1, 9, 0), 60)
	state := ViewState{SelectedDate: at(2024, time.January, 10, 0, 0), Mode: ViewMonth}

	cal, err := BuildCalendar(state, []Appointment{a}, testRooms(), DefaultSlotGrid(), nil)
	require.NoError(t, err)
	require.Len(t, cal.Days, 35)
	assert.Equal(t, "January 2024", cal.Label)

	feb1 := cal.Days[31]
	assert.Equal(t, at(2024, time.February, 1, 0, 0), feb1.Date)
	assert.False(t, feb1.InPeriod)
	assert.Equal(t, []uuid.UUID{a.ID}, feb1.AppointmentIDs)
	assert.Empty(t, feb1.Cells)
	assert.True(t, cal.Days[0].InPeriod)
}

func TestBuildCalendar_Errors(t *testing.T) {
	state := NewViewState(at(2024, time.January, 10, 0, 0))

	_, err := BuildCalendar(state, nil, nil, SlotGrid{StartHour: 8, EndHour: 20}, nil)
	assert.ErrorIs(t, err, ErrInvalidSlotGrid)

	state.Mode = "year"
	_, err = BuildCalendar(state, nil, nil, DefaultSlotGrid(), nil)
	assert.ErrorIs(t, err, ErrInvalidViewMode)

	bad := booking(therapistT, roomPtr(roomR1), at(2024, time.January, 10, 9, 0), 0)
	_, err = BuildCalendar(NewViewState(at(2024, time.January, 10, 0, 0)), []Appointment{bad}, nil, DefaultSlotGrid(), nil)
	var malformed *MalformedAppointmentError
	assert.ErrorAs(t, err, &malformed)
}
