package agenda

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppointmentType classifies the kind of session booked.
type AppointmentType string

const (
	TypeIndividual  AppointmentType = "individual"
	TypeGroup       AppointmentType = "group"
	TypeFamily      AppointmentType = "family"
	TypeCouple      AppointmentType = "couple"
	TypeAssessment  AppointmentType = "assessment"
	TypeSupervision AppointmentType = "supervision"
)

var validAppointmentTypes = map[AppointmentType]bool{
	TypeIndividual: true, TypeGroup: true, TypeFamily: true,
	TypeCouple: true, TypeAssessment: true, TypeSupervision: true,
}

// Valid reports whether t is a known appointment type.
func (t AppointmentType) Valid() bool { return validAppointmentTypes[t] }

// AppointmentStatus is the lifecycle state of an appointment. Transitions
// between statuses are governed by the table in status.go.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCheckedIn AppointmentStatus = "checked-in"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

var validAppointmentStatuses = map[AppointmentStatus]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusCheckedIn: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

// Valid reports whether s is a known appointment status.
func (s AppointmentStatus) Valid() bool { return validAppointmentStatuses[s] }

// Appointment is a booked session between a therapist and a patient. Virtual
// appointments occupy no consulting room.
type Appointment struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	CenterID    *string           `db:"center_id" json:"center_id,omitempty"`
	PatientID   uuid.UUID         `db:"patient_id" json:"patient_id"`
	TherapistID uuid.UUID         `db:"therapist_id" json:"therapist_id"`
	RoomID      *uuid.UUID        `db:"room_id" json:"room_id,omitempty"`
	Date        time.Time         `db:"start_time" json:"date"`
	Duration    int               `db:"duration_minutes" json:"duration"`
	Type        AppointmentType   `db:"appointment_type" json:"type"`
	Status      AppointmentStatus `db:"status" json:"status"`
	IsVirtual   bool              `db:"is_virtual" json:"is_virtual"`
	MeetingLink *string           `db:"meeting_link" json:"meeting_link,omitempty"`
	Notes       *string           `db:"notes" json:"notes,omitempty"`
	CheckIn     *time.Time        `db:"check_in" json:"check_in,omitempty"`
	CheckOut    *time.Time        `db:"check_out" json:"check_out,omitempty"`
	Cost        decimal.Decimal   `db:"cost" json:"cost"`
	Paid        bool              `db:"paid" json:"paid"`
	VersionID   int               `db:"version_id" json:"version_id"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// End is the exclusive end of the appointment.
func (a Appointment) End() time.Time {
	return a.Date.Add(time.Duration(a.Duration) * time.Minute)
}

// Interval returns the half-open interval [Date, End).
func (a Appointment) Interval() Interval {
	return Interval{Start: a.Date, End: a.End()}
}

// OccupiesRoom reports whether the appointment holds a physical room.
func (a Appointment) OccupiesRoom() bool {
	return !a.IsVirtual && a.RoomID != nil && *a.RoomID != uuid.Nil
}

// InRoom reports whether the appointment is booked in roomID.
func (a Appointment) InRoom(roomID uuid.UUID) bool {
	return a.RoomID != nil && *a.RoomID == roomID
}

// Active reports whether the appointment still claims its time, i.e. it has
// not been cancelled or marked as a no-show.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled && a.Status != StatusNoShow
}

// RoomStatus is the operational state of a consulting room.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "available"
	RoomOccupied    RoomStatus = "occupied"
	RoomMaintenance RoomStatus = "maintenance"
)

var validRoomStatuses = map[RoomStatus]bool{
	RoomAvailable: true, RoomOccupied: true, RoomMaintenance: true,
}

// Valid reports whether s is a known room status.
func (s RoomStatus) Valid() bool { return validRoomStatuses[s] }

// ConsultingRoom is a physical room appointments can be booked into.
type ConsultingRoom struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	CenterID  *string    `db:"center_id" json:"center_id,omitempty"`
	Name      string     `db:"name" json:"name"`
	Status    RoomStatus `db:"status" json:"status"`
	Capacity  int        `db:"capacity" json:"capacity"`
	Location  *string    `db:"location" json:"location,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Bookable reports whether new appointments may be placed in the room.
func (r ConsultingRoom) Bookable() bool { return r.Status != RoomMaintenance }

// TherapistSchedule is a recurring weekly working window for a therapist.
// The calendar core carries it through without interpreting it.
type TherapistSchedule struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	TherapistID uuid.UUID    `db:"therapist_id" json:"therapist_id"`
	DayOfWeek   time.Weekday `db:"day_of_week" json:"day_of_week"`
	StartTime   TimeOfDay    `db:"start_time" json:"start_time"`
	EndTime     TimeOfDay    `db:"end_time" json:"end_time"`
	Active      bool         `db:"active" json:"active"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}
