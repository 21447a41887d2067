package agenda

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinica/agenda/internal/platform/db"
	"github.com/clinica/agenda/internal/platform/websocket"
)

// ServiceConfig carries the agenda settings of a deployment.
type ServiceConfig struct {
	Grid           SlotGrid
	Policy         Policy
	Detector       DetectorOptions
	Location       *time.Location
	MeetingBaseURL string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Grid:     DefaultSlotGrid(),
		Policy:   PolicyAdvisory,
		Detector: DetectorOptions{IgnoreInactive: true},
		Location: time.Local,
	}
}

type Service struct {
	appointments AppointmentRepository
	rooms        RoomRepository
	schedules    TherapistScheduleRepository
	publisher    websocket.EventPublisher
	cfg          ServiceConfig
	detector     *Detector
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService wires the repositories. A nil publisher disables realtime
// events.
func NewService(appts AppointmentRepository, rooms RoomRepository, schedules TherapistScheduleRepository,
	publisher websocket.EventPublisher, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAdvisory
	}
	return &Service{
		appointments: appts,
		rooms:        rooms,
		schedules:    schedules,
		publisher:    publisher,
		cfg:          cfg,
		detector:     NewDetector(cfg.Detector),
		logger:       logger,
		now:          time.Now,
	}
}

// Config returns the settings the service runs with.
func (s *Service) Config() ServiceConfig { return s.cfg }

// Now is the current time in the agenda's timezone.
func (s *Service) Now() time.Time { return s.now().In(s.cfg.Location) }

// -- Calendar --

// Calendar renders the view described by state from the appointments of the
// visible dates.
func (s *Service) Calendar(ctx context.Context, state ViewState) (*Calendar, error) {
	dates, err := GenerateViewDates(state.SelectedDate, state.Mode)
	if err != nil {
		return nil, err
	}
	from := StartOfDay(dates[0])
	to := StartOfDay(dates[len(dates)-1]).AddDate(0, 0, 1)

	appts, err := s.listRange(ctx, from.AddDate(0, 0, -1), to)
	if err != nil {
		return nil, err
	}
	rooms, err := s.listRooms(ctx)
	if err != nil {
		return nil, err
	}
	return BuildCalendar(state, appts, rooms, s.cfg.Grid, s.detector)
}

// Conflicts detects the conflicts involving an appointment that starts in
// [from, to). The day before from is loaded too, so an appointment running
// past midnight into the window is checked against it.
func (s *Service) Conflicts(ctx context.Context, from, to time.Time) ([]Conflict, ConflictSummary, error) {
	appts, err := s.listRange(ctx, from.AddDate(0, 0, -1), to)
	if err != nil {
		return nil, ConflictSummary{}, err
	}
	conflicts, err := s.detector.Detect(appts)
	if err != nil {
		return nil, ConflictSummary{}, err
	}
	conflicts = ConflictsStartingIn(conflicts, from, to)
	return conflicts, Summarize(conflicts), nil
}

// Stats computes the dashboard figures over [from, to).
func (s *Service) Stats(ctx context.Context, from, to time.Time) (Stats, error) {
	if !from.Before(to) {
		return Stats{}, fmt.Errorf("%w: from must be before to", ErrInvalidInput)
	}
	appts, err := s.listRange(ctx, from, to)
	if err != nil {
		return Stats{}, err
	}
	days := int(math.Round(StartOfDay(to.Add(-time.Nanosecond)).Sub(StartOfDay(from)).Hours()/24)) + 1
	return ComputeStats(appts, s.Now(), s.cfg.Grid, days), nil
}

func (s *Service) listRange(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	items, err := s.appointments.ListRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	out := make([]Appointment, len(items))
	for i, a := range items {
		out[i] = *a
	}
	return out, nil
}

func (s *Service) listRooms(ctx context.Context) ([]ConsultingRoom, error) {
	items, err := s.rooms.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]ConsultingRoom, len(items))
	for i, r := range items {
		out[i] = *r
	}
	return out, nil
}

// -- Appointments --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) SearchAppointments(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.Search(ctx, params, limit, offset)
}

// CreateRequest is a slot click plus the booking details the grid does not
// know about.
type CreateRequest struct {
	Target    SlotTarget
	PatientID uuid.UUID
	Type      AppointmentType
	Notes     *string
	Cost      decimal.Decimal
}

// CreateAppointment books req.Target. The target's absence of a room makes
// the appointment virtual and gives it a meeting link.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if req.Target.TherapistID == uuid.Nil {
		return nil, fmt.Errorf("%w: therapist_id is required", ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = TypeIndividual
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown appointment type %q", ErrInvalidInput, req.Type)
	}
	if req.Target.Duration <= 0 {
		req.Target.Duration = s.cfg.Grid.StepMinutes
	}

	var created *Appointment
	cb := CallbackFuncs{
		Create: func(ctx context.Context, target SlotTarget) error {
			a := &Appointment{
				PatientID:   req.PatientID,
				TherapistID: target.TherapistID,
				RoomID:      target.RoomID,
				Date:        target.Start(),
				Duration:    target.Duration,
				Type:        req.Type,
				Status:      StatusScheduled,
				IsVirtual:   target.RoomID == nil,
				Notes:       req.Notes,
				Cost:        req.Cost,
			}
			if a.IsVirtual {
				link, err := s.meetingLink()
				if err != nil {
					return err
				}
				a.MeetingLink = &link
			}
			if err := s.appointments.Create(ctx, a); err != nil {
				return err
			}
			created = a
			return nil
		},
	}
	start := req.Target.Start()
	coord, err := s.coordinator(ctx, nil, start, start, cb)
	if err != nil {
		return nil, err
	}
	if err := coord.CreateAppointment(ctx, req.Target); err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventAppointmentCreated, created.ID, created)
	return created, nil
}

// MoveAppointment drops id on target.
func (s *Service) MoveAppointment(ctx context.Context, id uuid.UUID, target DropTarget) (*Appointment, error) {
	cur, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.IsZero() {
		return nil, ErrDropAbandoned
	}
	cb := CallbackFuncs{
		Move: func(ctx context.Context, id uuid.UUID, start time.Time, roomID *uuid.UUID) error {
			return s.appointments.Move(ctx, id, start, roomID)
		},
	}
	coord, err := s.coordinator(ctx, cur, cur.Date, target.Start(), cb)
	if err != nil {
		return nil, err
	}
	if err := coord.ProposeMove(ctx, id, target); err != nil {
		return nil, err
	}
	moved, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventAppointmentMoved, id, moved)
	return moved, nil
}

// UpdateAppointment applies a partial update. Turning an appointment virtual
// issues a meeting link unless one is supplied or already present.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, patch Patch) (*Appointment, error) {
	return s.update(ctx, id, func(ctx context.Context, c *Coordinator) error {
		return c.UpdateAppointment(ctx, id, patch)
	}, &patch)
}

// SetStatus moves id through its lifecycle.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	cmd, ok := statusCommands[status]
	if !ok {
		return nil, fmt.Errorf("%w: cannot set status %q directly", ErrInvalidInput, status)
	}
	return s.update(ctx, id, func(ctx context.Context, c *Coordinator) error {
		return cmd(c, ctx, id)
	}, nil)
}

var statusCommands = map[AppointmentStatus]func(*Coordinator, context.Context, uuid.UUID) error{
	StatusConfirmed: (*Coordinator).Confirm,
	StatusCheckedIn: (*Coordinator).CheckIn,
	StatusCompleted: (*Coordinator).CheckOut,
	StatusCancelled: (*Coordinator).Cancel,
	StatusNoShow:    (*Coordinator).MarkNoShow,
}

func (s *Service) update(ctx context.Context, id uuid.UUID, run func(context.Context, *Coordinator) error, patch *Patch) (*Appointment, error) {
	cur, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	day := cur.Date
	if patch != nil {
		if patch.Date != nil {
			day = *patch.Date
		}
		if patch.IsVirtual != nil && *patch.IsVirtual && patch.MeetingLink == nil && cur.MeetingLink == nil {
			link, err := s.meetingLink()
			if err != nil {
				return nil, err
			}
			patch.MeetingLink = &link
		}
	}
	cb := CallbackFuncs{
		Update: func(ctx context.Context, id uuid.UUID, p Patch) error {
			return s.appointments.ApplyPatch(ctx, id, p)
		},
	}
	coord, err := s.coordinator(ctx, cur, cur.Date, day, cb)
	if err != nil {
		return nil, err
	}
	if err := run(ctx, coord); err != nil {
		return nil, err
	}
	updated, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventAppointmentUpdated, id, updated)
	return updated, nil
}

// coordinator loads the working set spanning the days of a and b and
// returns a synchronous coordinator over it. The set starts a day early so
// appointments running past midnight are seen. cur is added when the range
// query missed it.
func (s *Service) coordinator(ctx context.Context, cur *Appointment, a, b time.Time, cb Callbacks) (*Coordinator, error) {
	lo, hi := a, b
	if hi.Before(lo) {
		lo, hi = hi, lo
	}
	from := StartOfDay(lo.In(s.cfg.Location)).AddDate(0, 0, -1)
	to := StartOfDay(hi.In(s.cfg.Location)).AddDate(0, 0, 1)

	appts, err := s.listRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if cur != nil && !containsAppointment(appts, cur.ID) {
		appts = append(appts, *cur)
	}
	rooms, err := s.listRooms(ctx)
	if err != nil {
		return nil, err
	}
	return NewCoordinator(appts, cb,
		WithPolicy(s.cfg.Policy),
		WithDetector(s.detector),
		WithDispatcher(SyncDispatch{}),
		WithLogger(s.logger.With().Str("center_id", db.CenterFromContext(ctx)).Logger()),
		WithClock(s.now),
		WithSlotMinutes(s.cfg.Grid.StepMinutes),
		WithRooms(rooms),
	)
}

func containsAppointment(appts []Appointment, id uuid.UUID) bool {
	for _, a := range appts {
		if a.ID == id {
			return true
		}
	}
	return false
}

const meetingAlphabet = "abcdefghijkmnopqrstuvwxyz23456789"

func (s *Service) meetingLink() (string, error) {
	id, err := gonanoid.Generate(meetingAlphabet, 12)
	if err != nil {
		return "", fmt.Errorf("generate meeting id: %w", err)
	}
	base := strings.TrimRight(s.cfg.MeetingBaseURL, "/")
	if base == "" {
		return "agenda-" + id, nil
	}
	return base + "/agenda-" + id, nil
}

// -- Rooms --

func (s *Service) ListRooms(ctx context.Context) ([]*ConsultingRoom, error) {
	return s.rooms.List(ctx)
}

func (s *Service) CreateRoom(ctx context.Context, r *ConsultingRoom) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if r.Status == "" {
		r.Status = RoomAvailable
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: invalid room status %q", ErrInvalidInput, r.Status)
	}
	if r.Capacity <= 0 {
		r.Capacity = 1
	}
	if err := s.rooms.Create(ctx, r); err != nil {
		return err
	}
	s.publish(ctx, websocket.EventRoomUpdated, r.ID, r)
	return nil
}

// UpdateRoomStatus changes a room's status. Putting a room under maintenance
// does not touch the appointments already booked in it.
func (s *Service) UpdateRoomStatus(ctx context.Context, id uuid.UUID, status RoomStatus) (*ConsultingRoom, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid room status %q", ErrInvalidInput, status)
	}
	if err := s.rooms.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	r, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventRoomUpdated, id, r)
	return r, nil
}

// -- Therapist schedules --

func (s *Service) ListSchedules(ctx context.Context, therapistID uuid.UUID) ([]*TherapistSchedule, error) {
	return s.schedules.ListByTherapist(ctx, therapistID)
}

func (s *Service) CreateSchedule(ctx context.Context, sched *TherapistSchedule) error {
	if sched.TherapistID == uuid.Nil {
		return fmt.Errorf("%w: therapist_id is required", ErrInvalidInput)
	}
	if sched.DayOfWeek < time.Sunday || sched.DayOfWeek > time.Saturday {
		return fmt.Errorf("%w: day_of_week must be 0-6", ErrInvalidInput)
	}
	if sched.EndTime <= sched.StartTime {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidInput)
	}
	return s.schedules.Create(ctx, sched)
}

func (s *Service) publish(ctx context.Context, typ string, subjectID uuid.UUID, data interface{}) {
	if s.publisher == nil {
		return
	}
	centerID := db.CenterFromContext(ctx)
	topic := websocket.TopicAgenda
	if centerID != "" {
		topic = websocket.CenterTopic(centerID)
	}
	ev, err := websocket.NewEvent(typ, topic, subjectID.String(), data)
	if err != nil {
		s.logger.Error().Err(err).Str("type", typ).Msg("build agenda event")
		return
	}
	ev.CenterID = centerID
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("type", typ).Msg("publish agenda event")
	}
}
