//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinica/agenda/internal/domain/agenda"
)

func TestMultiCenterIsolation(t *testing.T) {
	ctx := context.Background()
	centerA := createCenter(t, ctx, "centerA")
	centerB := createCenter(t, ctx, "centerB")

	roomA := createRoom(t, ctx, centerA, "Sala A", agenda.RoomAvailable)
	roomB := createRoom(t, ctx, centerB, "Sala B", agenda.RoomAvailable)

	therapist := uuid.New()
	start := time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC)
	a1 := createAppointment(t, ctx, centerA, therapist, ptrUUID(roomA.ID), start, 50)
	createAppointment(t, ctx, centerA, therapist, ptrUUID(roomA.ID), start.Add(time.Hour), 50)
	createAppointment(t, ctx, centerB, therapist, ptrUUID(roomB.ID), start, 50)

	t.Run("Appointment_Isolation", func(t *testing.T) {
		count := func(center string) int {
			var n int
			inCenter(t, ctx, center, func(ctx context.Context) error {
				items, err := agenda.NewAppointmentRepoPG(globalPool).ListRange(ctx, start, start.AddDate(0, 0, 1))
				n = len(items)
				return err
			})
			return n
		}
		if got := count(centerA); got != 2 {
			t.Errorf("expected 2 appointments in center A, got %d", got)
		}
		if got := count(centerB); got != 1 {
			t.Errorf("expected 1 appointment in center B, got %d", got)
		}

		inCenter(t, ctx, centerB, func(ctx context.Context) error {
			_, err := agenda.NewAppointmentRepoPG(globalPool).GetByID(ctx, a1.ID)
			if !errors.Is(err, agenda.ErrNotFound) {
				t.Errorf("center B must not see center A appointment, got %v", err)
			}
			return nil
		})
	})

	t.Run("Room_Isolation", func(t *testing.T) {
		inCenter(t, ctx, centerA, func(ctx context.Context) error {
			rooms, err := agenda.NewRoomRepoPG(globalPool).List(ctx)
			if err != nil {
				return err
			}
			if len(rooms) != 1 || rooms[0].ID != roomA.ID {
				t.Errorf("expected only Sala A in center A, got %d rooms", len(rooms))
			}
			return nil
		})
	})

	t.Run("Conflicts_DoNotCrossCenters", func(t *testing.T) {
		// The same therapist is booked at the same time in both centers; each
		// center only sees its own calendar.
		svc := newService(time.UTC, agenda.PolicyAdvisory)
		for _, center := range []string{centerA, centerB} {
			inCenter(t, ctx, center, func(ctx context.Context) error {
				conflicts, _, err := svc.Conflicts(ctx, start, start.AddDate(0, 0, 1))
				if err != nil {
					return err
				}
				if len(conflicts) != 0 {
					t.Errorf("center %s: expected no conflicts, got %d", center, len(conflicts))
				}
				return nil
			})
		}
	})
}
