package agenda

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Move(ctx context.Context, id uuid.UUID, start time.Time, roomID *uuid.UUID) error
	ApplyPatch(ctx context.Context, id uuid.UUID, p Patch) error
	// ListRange returns appointments starting in [from, to), oldest first.
	ListRange(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
}

type RoomRepository interface {
	Create(ctx context.Context, r *ConsultingRoom) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConsultingRoom, error)
	List(ctx context.Context) ([]*ConsultingRoom, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status RoomStatus) error
}

type TherapistScheduleRepository interface {
	Create(ctx context.Context, s *TherapistSchedule) error
	ListByTherapist(ctx context.Context, therapistID uuid.UUID) ([]*TherapistSchedule, error)
}
