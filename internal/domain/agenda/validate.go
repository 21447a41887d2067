package agenda

import (
	"github.com/google/uuid"
)

// Validate checks that a carries everything interval arithmetic relies on.
func Validate(a Appointment) error {
	switch {
	case a.Date.IsZero():
		return &MalformedAppointmentError{ID: a.ID, Field: "date", Reason: "is required"}
	case a.Duration <= 0:
		return &MalformedAppointmentError{ID: a.ID, Field: "duration", Reason: "must be positive"}
	case a.TherapistID == uuid.Nil:
		return &MalformedAppointmentError{ID: a.ID, Field: "therapist_id", Reason: "is required"}
	case !a.IsVirtual && (a.RoomID == nil || *a.RoomID == uuid.Nil):
		return &MalformedAppointmentError{ID: a.ID, Field: "room_id", Reason: "is required for in-person appointments"}
	}
	return nil
}

// ValidateAll returns the first validation failure in appts.
func ValidateAll(appts []Appointment) error {
	for _, a := range appts {
		if err := Validate(a); err != nil {
			return err
		}
	}
	return nil
}
