package agenda

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Policy decides what the coordinator does when a command would introduce a
// scheduling conflict.
type Policy string

const (
	// PolicyAdvisory applies every command and only reports conflicts.
	PolicyAdvisory Policy = "advisory"
	// PolicyEnforcing rejects commands that introduce double-bookings or
	// book rooms under maintenance.
	PolicyEnforcing Policy = "enforcing"
)

// ParsePolicy accepts "advisory" or "enforcing".
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAdvisory, PolicyEnforcing:
		return p, nil
	default:
		return "", fmt.Errorf("invalid conflict policy %q: expected advisory or enforcing", s)
	}
}

// SlotTarget is a calendar cell: a date, a slot start and an optional room.
// TherapistID and Duration are optional hints used when checking a new
// booking for conflicts.
type SlotTarget struct {
	Date        time.Time
	Time        TimeOfDay
	RoomID      *uuid.UUID
	TherapistID uuid.UUID
	Duration    int
}

// DropTarget is the cell an appointment is dropped on. A zero target means
// the drag ended outside the grid.
type DropTarget = SlotTarget

// IsZero reports whether the target carries no date.
func (t SlotTarget) IsZero() bool { return t.Date.IsZero() }

// Start is the absolute start instant of the cell.
func (t SlotTarget) Start() time.Time { return t.Time.On(t.Date) }

// Patch is a partial appointment update. Nil fields are left unchanged.
// CheckIn and CheckOut are filled by the coordinator when a status change
// stamps them; values supplied by callers are ignored.
type Patch struct {
	Date        *time.Time         `json:"date,omitempty"`
	Duration    *int               `json:"duration,omitempty"`
	TherapistID *uuid.UUID         `json:"therapist_id,omitempty"`
	PatientID   *uuid.UUID         `json:"patient_id,omitempty"`
	RoomID      *uuid.UUID         `json:"room_id,omitempty"`
	IsVirtual   *bool              `json:"is_virtual,omitempty"`
	MeetingLink *string            `json:"meeting_link,omitempty"`
	Type        *AppointmentType   `json:"type,omitempty"`
	Status      *AppointmentStatus `json:"status,omitempty"`
	Notes       *string            `json:"notes,omitempty"`
	Cost        *decimal.Decimal   `json:"cost,omitempty"`
	Paid        *bool              `json:"paid,omitempty"`
	CheckIn     *time.Time         `json:"check_in,omitempty"`
	CheckOut    *time.Time         `json:"check_out,omitempty"`
}

// reschedules reports whether p touches a field that conflict detection
// looks at.
func (p Patch) reschedules() bool {
	return p.Date != nil || p.Duration != nil || p.TherapistID != nil ||
		p.RoomID != nil || p.IsVirtual != nil
}

// ApplyPatch applies p to a. A status change goes through Transition; a
// patch that repeats the current status is a no-op for the status.
func ApplyPatch(a *Appointment, p Patch, now time.Time) error {
	if p.Status != nil && *p.Status != a.Status {
		if err := Transition(a, *p.Status, now); err != nil {
			return err
		}
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Duration != nil {
		a.Duration = *p.Duration
	}
	if p.TherapistID != nil {
		a.TherapistID = *p.TherapistID
	}
	if p.PatientID != nil {
		a.PatientID = *p.PatientID
	}
	if p.RoomID != nil {
		id := *p.RoomID
		a.RoomID = &id
	}
	if p.IsVirtual != nil {
		a.IsVirtual = *p.IsVirtual
	}
	if p.MeetingLink != nil {
		a.MeetingLink = p.MeetingLink
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Notes != nil {
		a.Notes = p.Notes
	}
	if p.Cost != nil {
		a.Cost = *p.Cost
	}
	if p.Paid != nil {
		a.Paid = *p.Paid
	}
	return nil
}

// Callbacks persist coordinator commands. They are invoked after the local
// working copy has been updated.
type Callbacks interface {
	OnMove(ctx context.Context, id uuid.UUID, newStart time.Time, newRoomID *uuid.UUID) error
	OnCreate(ctx context.Context, target SlotTarget) error
	OnUpdate(ctx context.Context, id uuid.UUID, patch Patch) error
}

// CallbackFuncs adapts plain functions to Callbacks. Nil functions succeed
// without doing anything.
type CallbackFuncs struct {
	Move   func(ctx context.Context, id uuid.UUID, newStart time.Time, newRoomID *uuid.UUID) error
	Create func(ctx context.Context, target SlotTarget) error
	Update func(ctx context.Context, id uuid.UUID, patch Patch) error
}

func (f CallbackFuncs) OnMove(ctx context.Context, id uuid.UUID, newStart time.Time, newRoomID *uuid.UUID) error {
	if f.Move == nil {
		return nil
	}
	return f.Move(ctx, id, newStart, newRoomID)
}

func (f CallbackFuncs) OnCreate(ctx context.Context, target SlotTarget) error {
	if f.Create == nil {
		return nil
	}
	return f.Create(ctx, target)
}

func (f CallbackFuncs) OnUpdate(ctx context.Context, id uuid.UUID, patch Patch) error {
	if f.Update == nil {
		return nil
	}
	return f.Update(ctx, id, patch)
}

// Dispatcher runs persistence jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, job func(context.Context) error) error
	Wait()
}

// SyncDispatch runs each job inline and returns its error.
type SyncDispatch struct{}

func (SyncDispatch) Dispatch(ctx context.Context, job func(context.Context) error) error {
	return job(ctx)
}

func (SyncDispatch) Wait() {}

// AsyncDispatch runs each job on its own goroutine and never reports job
// errors to the caller. The job context is detached from the caller's
// cancellation.
type AsyncDispatch struct {
	wg sync.WaitGroup
}

func (d *AsyncDispatch) Dispatch(ctx context.Context, job func(context.Context) error) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = job(context.WithoutCancel(ctx))
	}()
	return nil
}

// Wait blocks until every dispatched job has returned.
func (d *AsyncDispatch) Wait() { d.wg.Wait() }

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithPolicy(p Policy) Option { return func(c *Coordinator) { c.policy = p } }

func WithDetector(d *Detector) Option { return func(c *Coordinator) { c.detector = d } }

func WithDispatcher(d Dispatcher) Option { return func(c *Coordinator) { c.dispatcher = d } }

func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithSlotMinutes sets the duration assumed for new bookings that carry no
// duration hint.
func WithSlotMinutes(m int) Option { return func(c *Coordinator) { c.slotMinutes = m } }

// WithRooms registers the consulting rooms so room status can be checked.
func WithRooms(rooms []ConsultingRoom) Option {
	return func(c *Coordinator) {
		for _, r := range rooms {
			c.rooms[r.ID] = r
		}
	}
}

// Coordinator owns a working copy of appointments and applies move, create
// and update commands to it optimistically before handing them to the
// persistence callbacks.
type Coordinator struct {
	mu    sync.RWMutex
	appts []Appointment
	pos   map[uuid.UUID]int
	rev   map[uuid.UUID]uint64
	rooms map[uuid.UUID]ConsultingRoom

	cb          Callbacks
	policy      Policy
	detector    *Detector
	dispatcher  Dispatcher
	log         zerolog.Logger
	now         func() time.Time
	slotMinutes int
}

// NewCoordinator copies appts into a new working set. It fails if any
// appointment is malformed.
func NewCoordinator(appts []Appointment, cb Callbacks, opts ...Option) (*Coordinator, error) {
	if err := ValidateAll(appts); err != nil {
		return nil, err
	}
	if cb == nil {
		cb = CallbackFuncs{}
	}
	c := &Coordinator{
		appts:       make([]Appointment, len(appts)),
		pos:         make(map[uuid.UUID]int, len(appts)),
		rev:         make(map[uuid.UUID]uint64, len(appts)),
		rooms:       make(map[uuid.UUID]ConsultingRoom),
		cb:          cb,
		policy:      PolicyAdvisory,
		detector:    NewDetector(DetectorOptions{}),
		dispatcher:  &AsyncDispatch{},
		log:         zerolog.Nop(),
		now:         time.Now,
		slotMinutes: DefaultSlotGrid().StepMinutes,
	}
	copy(c.appts, appts)
	for i, a := range c.appts {
		c.pos[a.ID] = i
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Policy returns the conflict policy in effect.
func (c *Coordinator) Policy() Policy { return c.policy }

// Snapshot returns a copy of the working set.
func (c *Coordinator) Snapshot() []Appointment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Appointment, len(c.appts))
	copy(out, c.appts)
	return out
}

// Get returns the working copy of one appointment.
func (c *Coordinator) Get(id uuid.UUID) (Appointment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.pos[id]
	if !ok {
		return Appointment{}, false
	}
	return c.appts[i], true
}

// Conflicts runs the detector over the current working set.
func (c *Coordinator) Conflicts() ([]Conflict, error) {
	return c.detector.Detect(c.Snapshot())
}

// Wait blocks until dispatched persistence calls have finished.
func (c *Coordinator) Wait() { c.dispatcher.Wait() }

// MoveAppointment moves id to newStart and, when newRoomID is non-nil, to a
// new room. The working copy changes before OnMove is invoked.
func (c *Coordinator) MoveAppointment(ctx context.Context, id uuid.UUID, newStart time.Time, newRoomID *uuid.UUID) error {
	c.mu.Lock()
	i, ok := c.pos[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("move %s: %w", id, ErrUnknownAppointment)
	}
	prev := c.appts[i]
	next := prev
	next.Date = newStart
	if newRoomID != nil {
		room := *newRoomID
		next.RoomID = &room
	}
	if err := Validate(next); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.admit(prev, next, newRoomID != nil); err != nil {
		c.mu.Unlock()
		return err
	}
	c.appts[i] = next
	c.rev[id]++
	rev := c.rev[id]
	c.mu.Unlock()

	return c.dispatch(ctx, "move", id, rev, prev, func(ctx context.Context) error {
		return c.cb.OnMove(ctx, id, newStart, next.RoomID)
	})
}

// ProposeMove is the drag-and-drop command: it resolves the drop cell to an
// absolute start and moves the appointment there. Dropping outside the grid
// leaves everything untouched and returns ErrDropAbandoned.
func (c *Coordinator) ProposeMove(ctx context.Context, id uuid.UUID, target DropTarget) error {
	if target.IsZero() {
		return ErrDropAbandoned
	}
	return c.MoveAppointment(ctx, id, target.Start(), target.RoomID)
}

// CreateAppointment hands a slot click to OnCreate. The coordinator does not
// assign ids, so the working set is unchanged until the caller reloads it.
func (c *Coordinator) CreateAppointment(ctx context.Context, target SlotTarget) error {
	if target.IsZero() {
		return ErrDropAbandoned
	}
	duration := target.Duration
	if duration <= 0 {
		duration = c.slotMinutes
	}
	probe := Appointment{
		ID:          uuid.Nil,
		Date:        target.Start(),
		Duration:    duration,
		TherapistID: target.TherapistID,
		RoomID:      target.RoomID,
		IsVirtual:   target.RoomID == nil,
		Status:      StatusScheduled,
	}

	c.mu.RLock()
	err := c.admit(Appointment{}, probe, target.RoomID != nil)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return c.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		if err := c.cb.OnCreate(ctx, target); err != nil {
			c.log.Error().Err(err).Time("start", probe.Date).Msg("failed to persist new appointment")
			return err
		}
		return nil
	})
}

// UpdateAppointment applies a partial update to id. Status changes are
// checked against the transition table.
func (c *Coordinator) UpdateAppointment(ctx context.Context, id uuid.UUID, patch Patch) error {
	c.mu.Lock()
	i, ok := c.pos[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, ErrUnknownAppointment)
	}
	prev := c.appts[i]
	next := prev
	if err := ApplyPatch(&next, patch, c.now()); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := Validate(next); err != nil {
		c.mu.Unlock()
		return err
	}
	if patch.reschedules() {
		if err := c.admit(prev, next, patch.RoomID != nil); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	patch.CheckIn, patch.CheckOut = nil, nil
	if !timePtrEqual(prev.CheckIn, next.CheckIn) {
		patch.CheckIn = next.CheckIn
	}
	if !timePtrEqual(prev.CheckOut, next.CheckOut) {
		patch.CheckOut = next.CheckOut
	}
	c.appts[i] = next
	c.rev[id]++
	rev := c.rev[id]
	c.mu.Unlock()

	return c.dispatch(ctx, "update", id, rev, prev, func(ctx context.Context) error {
		return c.cb.OnUpdate(ctx, id, patch)
	})
}

func (c *Coordinator) setStatus(ctx context.Context, id uuid.UUID, s AppointmentStatus) error {
	return c.UpdateAppointment(ctx, id, Patch{Status: &s})
}

func (c *Coordinator) Confirm(ctx context.Context, id uuid.UUID) error {
	return c.setStatus(ctx, id, StatusConfirmed)
}

func (c *Coordinator) CheckIn(ctx context.Context, id uuid.UUID) error {
	return c.setStatus(ctx, id, StatusCheckedIn)
}

// CheckOut completes a checked-in appointment.
func (c *Coordinator) CheckOut(ctx context.Context, id uuid.UUID) error {
	return c.setStatus(ctx, id, StatusCompleted)
}

func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) error {
	return c.setStatus(ctx, id, StatusCancelled)
}

func (c *Coordinator) MarkNoShow(ctx context.Context, id uuid.UUID) error {
	return c.setStatus(ctx, id, StatusNoShow)
}

// admit checks candidate, the new state of prev, against the working set.
// Only error conflicts that prev did not already have count as introduced.
// Under PolicyEnforcing it returns ErrRoomUnavailable or a *ConflictError;
// under PolicyAdvisory it only logs what it finds. The caller holds c.mu.
func (c *Coordinator) admit(prev, candidate Appointment, roomChanged bool) error {
	var roomErr error
	if roomChanged && candidate.OccupiesRoom() {
		if room, ok := c.rooms[*candidate.RoomID]; ok && !room.Bookable() {
			roomErr = fmt.Errorf("room %s (%s): %w", room.Name, room.Status, ErrRoomUnavailable)
		}
	}
	conflicts := Blocking(c.detector.Against(candidate, c.appts))
	if !prev.Date.IsZero() && len(conflicts) > 0 {
		conflicts = introduced(Blocking(c.detector.Against(prev, c.appts)), conflicts)
	}

	if c.policy == PolicyEnforcing {
		if roomErr != nil {
			return roomErr
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}
		return nil
	}
	if roomErr != nil {
		c.log.Warn().Err(roomErr).Str("appointment_id", candidate.ID.String()).Msg("booking room under maintenance")
	}
	if len(conflicts) > 0 {
		c.log.Warn().
			Str("appointment_id", candidate.ID.String()).
			Int("conflicts", len(conflicts)).
			Msg("command introduces scheduling conflicts")
	}
	return nil
}

// dispatch hands persist to the dispatcher. If persist fails and the
// appointment has not been edited since revision rev, the working copy is
// restored to prev.
func (c *Coordinator) dispatch(ctx context.Context, op string, id uuid.UUID, rev uint64, prev Appointment, persist func(context.Context) error) error {
	return c.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		err := persist(ctx)
		if err == nil {
			return nil
		}
		reverted := c.revert(id, rev, prev)
		c.log.Error().Err(err).
			Str("op", op).
			Str("appointment_id", id.String()).
			Bool("reverted", reverted).
			Msg("failed to persist appointment change")
		return err
	})
}

func (c *Coordinator) revert(id uuid.UUID, rev uint64, prev Appointment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.pos[id]
	if !ok || c.rev[id] != rev {
		return false
	}
	c.appts[i] = prev
	c.rev[id]++
	return true
}

type conflictKey struct {
	typ  ConflictType
	pair pairKey
}

// introduced returns the conflicts in after that are not in before.
func introduced(before, after []Conflict) []Conflict {
	seen := make(map[conflictKey]bool, len(before))
	for _, c := range before {
		seen[conflictKey{c.Type, c.pair()}] = true
	}
	var out []Conflict
	for _, c := range after {
		if !seen[conflictKey{c.Type, c.pair()}] {
			out = append(out, c)
		}
	}
	return out
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
