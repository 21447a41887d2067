package agenda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinica/agenda/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, center_id, patient_id, therapist_id, room_id, start_time, duration_minutes,
	appointment_type, status, is_virtual, meeting_link, notes, check_in, check_out,
	cost, paid, version_id, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.CenterID, &a.PatientID, &a.TherapistID, &a.RoomID, &a.Date, &a.Duration,
		&a.Type, &a.Status, &a.IsVirtual, &a.MeetingLink, &a.Notes, &a.CheckIn, &a.CheckOut,
		&a.Cost, &a.Paid, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.VersionID = 1
	if a.CenterID == nil {
		if c := db.CenterFromContext(ctx); c != "" {
			a.CenterID = &c
		}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, center_id, patient_id, therapist_id, room_id, start_time,
			duration_minutes, appointment_type, status, is_virtual, meeting_link, notes,
			cost, paid, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		a.ID, a.CenterID, a.PatientID, a.TherapistID, a.RoomID, a.Date,
		a.Duration, a.Type, a.Status, a.IsVirtual, a.MeetingLink, a.Notes,
		a.Cost, a.Paid, a.VersionID).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Move(ctx context.Context, id uuid.UUID, start time.Time, roomID *uuid.UUID) error {
	return affected(r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET start_time=$2, room_id=COALESCE($3, room_id),
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1`, id, start, roomID))
}

// patchColumns turns the set fields of p into SET assignments starting at
// placeholder $start.
func patchColumns(p Patch, start int) ([]string, []interface{}) {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		sets = append(sets, fmt.Sprintf("%s=$%d", col, start+len(args)))
		args = append(args, v)
	}
	if p.Date != nil {
		add("start_time", *p.Date)
	}
	if p.Duration != nil {
		add("duration_minutes", *p.Duration)
	}
	if p.TherapistID != nil {
		add("therapist_id", *p.TherapistID)
	}
	if p.PatientID != nil {
		add("patient_id", *p.PatientID)
	}
	if p.RoomID != nil {
		add("room_id", *p.RoomID)
	}
	if p.IsVirtual != nil {
		add("is_virtual", *p.IsVirtual)
	}
	if p.MeetingLink != nil {
		add("meeting_link", *p.MeetingLink)
	}
	if p.Type != nil {
		add("appointment_type", *p.Type)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	if p.Cost != nil {
		add("cost", *p.Cost)
	}
	if p.Paid != nil {
		add("paid", *p.Paid)
	}
	if p.CheckIn != nil {
		add("check_in", *p.CheckIn)
	}
	if p.CheckOut != nil {
		add("check_out", *p.CheckOut)
	}
	return sets, args
}

func (r *appointmentRepoPG) ApplyPatch(ctx context.Context, id uuid.UUID, p Patch) error {
	sets, args := patchColumns(p, 2)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "version_id=version_id+1", "updated_at=NOW()")
	query := `UPDATE appointment SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	return affected(r.conn(ctx).Exec(ctx, query, append([]interface{}{id}, args...)...))
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListRange(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE start_time >= $1 AND start_time < $2
		ORDER BY start_time, created_at`, from, to)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

var apptSearchColumns = []struct {
	param string
	cond  string
}{
	{"therapist", "therapist_id = $%d"},
	{"patient", "patient_id = $%d"},
	{"room", "room_id = $%d"},
	{"status", "status = $%d"},
	{"type", "appointment_type = $%d"},
	{"from", "start_time >= $%d"},
	{"to", "start_time < $%d"},
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	for _, c := range apptSearchColumns {
		if p, ok := params[c.param]; ok {
			where += ` AND ` + fmt.Sprintf(c.cond, idx)
			args = append(args, p)
			idx++
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY start_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// =========== Room Repository ===========

type roomRepoPG struct{ pool *pgxpool.Pool }

func NewRoomRepoPG(pool *pgxpool.Pool) RoomRepository { return &roomRepoPG{pool: pool} }

func (r *roomRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const roomCols = `id, center_id, name, status, capacity, location, created_at, updated_at`

func (r *roomRepoPG) scanRoom(row pgx.Row) (*ConsultingRoom, error) {
	var rm ConsultingRoom
	if err := row.Scan(&rm.ID, &rm.CenterID, &rm.Name, &rm.Status, &rm.Capacity, &rm.Location,
		&rm.CreatedAt, &rm.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &rm, nil
}

func (r *roomRepoPG) Create(ctx context.Context, rm *ConsultingRoom) error {
	rm.ID = uuid.New()
	if rm.CenterID == nil {
		if c := db.CenterFromContext(ctx); c != "" {
			rm.CenterID = &c
		}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consulting_room (id, center_id, name, status, capacity, location)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		rm.ID, rm.CenterID, rm.Name, rm.Status, rm.Capacity, rm.Location).Scan(&rm.CreatedAt, &rm.UpdatedAt)
}

func (r *roomRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConsultingRoom, error) {
	return r.scanRoom(r.conn(ctx).QueryRow(ctx, `SELECT `+roomCols+` FROM consulting_room WHERE id = $1`, id))
}

func (r *roomRepoPG) List(ctx context.Context) ([]*ConsultingRoom, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+roomCols+` FROM consulting_room ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ConsultingRoom
	for rows.Next() {
		rm, err := r.scanRoom(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rm)
	}
	return items, rows.Err()
}

func (r *roomRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status RoomStatus) error {
	return affected(r.conn(ctx).Exec(ctx,
		`UPDATE consulting_room SET status=$2, updated_at=NOW() WHERE id = $1`, id, status))
}

// =========== Therapist Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewTherapistScheduleRepoPG(pool *pgxpool.Pool) TherapistScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

func (r *scheduleRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *TherapistSchedule) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO therapist_schedule (id, therapist_id, day_of_week, start_time, end_time, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		s.ID, s.TherapistID, int16(s.DayOfWeek), s.StartTime, s.EndTime, s.Active).Scan(&s.CreatedAt)
}

func (r *scheduleRepoPG) ListByTherapist(ctx context.Context, therapistID uuid.UUID) ([]*TherapistSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, therapist_id, day_of_week, start_time, end_time, active, created_at
		FROM therapist_schedule WHERE therapist_id = $1
		ORDER BY day_of_week, start_time`, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TherapistSchedule
	for rows.Next() {
		var s TherapistSchedule
		var dow int16
		if err := rows.Scan(&s.ID, &s.TherapistID, &dow, &s.StartTime, &s.EndTime, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.DayOfWeek = time.Weekday(dow)
		items = append(items, &s)
	}
	return items, rows.Err()
}
