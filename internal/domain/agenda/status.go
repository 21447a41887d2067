package agenda

import "time"

var statusTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
	StatusCompleted: nil,
	StatusCancelled: nil,
	StatusNoShow:    nil,
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// allowedTransitions lists the statuses reachable from s.
func allowedTransitions(s AppointmentStatus) []AppointmentStatus {
	next := statusTransitions[s]
	out := make([]AppointmentStatus, len(next))
	copy(out, next)
	return out
}

// Terminal reports whether no further transition is possible from s.
func (s AppointmentStatus) Terminal() bool {
	return s.Valid() && len(statusTransitions[s]) == 0
}

// Transition moves a to status to at instant now. Entering checked-in stamps
// CheckIn; leaving checked-in for completed stamps CheckOut.
func Transition(a *Appointment, to AppointmentStatus, now time.Time) error {
	if !to.Valid() || !CanTransition(a.Status, to) {
		return &TransitionError{ID: a.ID, From: a.Status, To: to}
	}
	switch to {
	case StatusCheckedIn:
		t := now
		a.CheckIn = &t
	case StatusCompleted:
		t := now
		a.CheckOut = &t
	}
	a.Status = to
	return nil
}
