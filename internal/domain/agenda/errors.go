package agenda

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDropAbandoned      = errors.New("drop outside a valid target")
	ErrRoomUnavailable    = errors.New("room is not accepting bookings")
	ErrUnknownAppointment = errors.New("appointment not in working set")
	ErrInvalidInput       = errors.New("invalid input")
)

// MalformedAppointmentError reports appointment data the calendar cannot
// compute with, such as a missing start or a non-positive duration.
type MalformedAppointmentError struct {
	ID     uuid.UUID
	Field  string
	Reason string
}

func (e *MalformedAppointmentError) Error() string {
	return fmt.Sprintf("malformed appointment %s: %s %s", e.ID, e.Field, e.Reason)
}

// TransitionError is returned when a status change is not allowed from the
// appointment's current status.
type TransitionError struct {
	ID   uuid.UUID
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("appointment %s: cannot transition from %q to %q", e.ID, e.From, e.To)
}

// ConflictError is returned in enforcing mode when a command would introduce
// conflicts involving the edited appointment.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	kinds := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		kinds = append(kinds, string(c.Type))
	}
	return fmt.Sprintf("%d scheduling conflict(s): %s", len(e.Conflicts), strings.Join(kinds, ", "))
}
