package agenda

import (
	"time"

	"github.com/google/uuid"
)

var (
	therapistT = uuid.MustParse("6f1c2d3e-0000-4000-8000-000000000001")
	therapistU = uuid.MustParse("6f1c2d3e-0000-4000-8000-000000000002")
	roomR1     = uuid.MustParse("9a000000-0000-4000-8000-000000000001")
	roomR2     = uuid.MustParse("9a000000-0000-4000-8000-000000000002")
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func roomPtr(id uuid.UUID) *uuid.UUID { return &id }

// booking builds a well-formed scheduled appointment. A nil room makes it
// virtual.
func booking(therapist uuid.UUID, room *uuid.UUID, start time.Time, minutes int) Appointment {
	return Appointment{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		TherapistID: therapist,
		RoomID:      room,
		Date:        start,
		Duration:    minutes,
		Type:        TypeIndividual,
		Status:      StatusScheduled,
		IsVirtual:   room == nil,
	}
}
