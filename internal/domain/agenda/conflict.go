package agenda

import (
	"time"

	"github.com/google/uuid"
)

// ConflictType names the scheduling rule a conflict violates.
type ConflictType string

const (
	ConflictTherapistDoubleBooking ConflictType = "therapist-double-booking"
	ConflictRoomDoubleBooking      ConflictType = "room-double-booking"
	ConflictBackToBack             ConflictType = "back-to-back"
)

// Severity grades a conflict. Double-bookings are errors; softer rules are
// warnings.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Conflict is a derived record linking exactly two appointments.
type Conflict struct {
	Type         ConflictType   `json:"type"`
	Severity     Severity       `json:"severity"`
	Appointments [2]Appointment `json:"appointments"`
}

// Involves reports whether the appointment with id takes part in c.
func (c Conflict) Involves(id uuid.UUID) bool {
	return c.Appointments[0].ID == id || c.Appointments[1].ID == id
}

type pairKey struct{ lo, hi uuid.UUID }

func (c Conflict) pair() pairKey {
	a, b := c.Appointments[0].ID, c.Appointments[1].ID
	if b.String() < a.String() {
		a, b = b, a
	}
	return pairKey{a, b}
}

// DetectorOptions tunes a Detector. The zero value reproduces the plain
// double-booking scan.
type DetectorOptions struct {
	// Dedupe collapses records that share an unordered appointment pair,
	// keeping the first (therapist) record.
	Dedupe bool
	// BufferMinutes > 0 flags same-therapist pairs separated by less than
	// the buffer as back-to-back warnings.
	BufferMinutes int
	// IgnoreInactive skips cancelled and no-show appointments.
	IgnoreInactive bool
}

// Detector finds therapist and room double-bookings.
type Detector struct {
	opts DetectorOptions
}

func NewDetector(opts DetectorOptions) *Detector {
	return &Detector{opts: opts}
}

// DetectConflicts runs a zero-option Detector over appts.
func DetectConflicts(appts []Appointment) ([]Conflict, error) {
	return NewDetector(DetectorOptions{}).Detect(appts)
}

// Detect returns every conflict among appts. Therapist conflicts come first,
// then room conflicts; within a pass groups appear in first-seen order and
// pairs in input order. Malformed appointments abort the scan.
func (d *Detector) Detect(appts []Appointment) ([]Conflict, error) {
	if err := ValidateAll(appts); err != nil {
		return nil, err
	}
	if d.opts.IgnoreInactive {
		active := make([]Appointment, 0, len(appts))
		for _, a := range appts {
			if a.Active() {
				active = append(active, a)
			}
		}
		appts = active
	}

	var conflicts []Conflict
	buffer := time.Duration(d.opts.BufferMinutes) * time.Minute

	for _, group := range groupBy(appts, func(a Appointment) (uuid.UUID, bool) {
		return a.TherapistID, true
	}) {
		forEachPair(group, func(a, b Appointment) {
			switch {
			case a.Interval().Overlaps(b.Interval()):
				conflicts = append(conflicts, Conflict{
					Type: ConflictTherapistDoubleBooking, Severity: SeverityError,
					Appointments: [2]Appointment{a, b},
				})
			case buffer > 0:
				if gap := Gap(a.Interval(), b.Interval()); gap >= 0 && gap < buffer {
					conflicts = append(conflicts, Conflict{
						Type: ConflictBackToBack, Severity: SeverityWarning,
						Appointments: [2]Appointment{a, b},
					})
				}
			}
		})
	}

	for _, group := range groupBy(appts, func(a Appointment) (uuid.UUID, bool) {
		if !a.OccupiesRoom() {
			return uuid.Nil, false
		}
		return *a.RoomID, true
	}) {
		forEachPair(group, func(a, b Appointment) {
			if a.Interval().Overlaps(b.Interval()) {
				conflicts = append(conflicts, Conflict{
					Type: ConflictRoomDoubleBooking, Severity: SeverityError,
					Appointments: [2]Appointment{a, b},
				})
			}
		})
	}

	if d.opts.Dedupe {
		conflicts = dedupe(conflicts)
	}
	return conflicts, nil
}

// Against applies the detector's rules between candidate and each of others,
// skipping others that share the candidate's id. A candidate without a
// therapist is only checked for room clashes. Therapist records come before
// room records.
func (d *Detector) Against(candidate Appointment, others []Appointment) []Conflict {
	if d.opts.IgnoreInactive && !candidate.Active() {
		return nil
	}
	buffer := time.Duration(d.opts.BufferMinutes) * time.Minute
	var therapist, room []Conflict
	for _, o := range others {
		if o.ID == candidate.ID || (d.opts.IgnoreInactive && !o.Active()) {
			continue
		}
		overlap := candidate.Interval().Overlaps(o.Interval())
		if candidate.TherapistID != uuid.Nil && o.TherapistID == candidate.TherapistID {
			if overlap {
				therapist = append(therapist, Conflict{
					Type: ConflictTherapistDoubleBooking, Severity: SeverityError,
					Appointments: [2]Appointment{o, candidate},
				})
			} else if buffer > 0 {
				if gap := Gap(candidate.Interval(), o.Interval()); gap >= 0 && gap < buffer {
					therapist = append(therapist, Conflict{
						Type: ConflictBackToBack, Severity: SeverityWarning,
						Appointments: [2]Appointment{o, candidate},
					})
				}
			}
		}
		if overlap && candidate.OccupiesRoom() && o.OccupiesRoom() && *o.RoomID == *candidate.RoomID {
			room = append(room, Conflict{
				Type: ConflictRoomDoubleBooking, Severity: SeverityError,
				Appointments: [2]Appointment{o, candidate},
			})
		}
	}
	out := append(therapist, room...)
	if d.opts.Dedupe {
		out = dedupe(out)
	}
	return out
}

// Blocking keeps only error-severity conflicts.
func Blocking(conflicts []Conflict) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		if c.Severity == SeverityError {
			out = append(out, c)
		}
	}
	return out
}

func groupBy(appts []Appointment, key func(Appointment) (uuid.UUID, bool)) [][]Appointment {
	order := make([]uuid.UUID, 0)
	groups := make(map[uuid.UUID][]Appointment)
	for _, a := range appts {
		k, ok := key(a)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], a)
	}
	out := make([][]Appointment, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

func forEachPair(group []Appointment, fn func(a, b Appointment)) {
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			fn(group[i], group[j])
		}
	}
}

func dedupe(conflicts []Conflict) []Conflict {
	seen := make(map[pairKey]bool, len(conflicts))
	out := conflicts[:0]
	for _, c := range conflicts {
		k := c.pair()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// ConflictsInvolving filters conflicts down to those that include id.
func ConflictsInvolving(conflicts []Conflict, id uuid.UUID) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		if c.Involves(id) {
			out = append(out, c)
		}
	}
	return out
}

// ConflictsStartingIn keeps the conflicts in which at least one appointment
// starts in [from, to).
func ConflictsStartingIn(conflicts []Conflict, from, to time.Time) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		for _, a := range c.Appointments {
			if !a.Date.Before(from) && a.Date.Before(to) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// ConflictSummary aggregates conflicts for the calendar banner.
type ConflictSummary struct {
	Total    int                  `json:"total"`
	Errors   int                  `json:"errors"`
	Warnings int                  `json:"warnings"`
	ByType   map[ConflictType]int `json:"by_type"`
}

// Summarize counts conflicts by type and severity.
func Summarize(conflicts []Conflict) ConflictSummary {
	s := ConflictSummary{Total: len(conflicts), ByType: make(map[ConflictType]int)}
	for _, c := range conflicts {
		s.ByType[c.Type]++
		switch c.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		}
	}
	return s
}

// ConflictedIDs returns the set of appointment ids that take part in at
// least one conflict.
func ConflictedIDs(conflicts []Conflict) map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool, 2*len(conflicts))
	for _, c := range conflicts {
		ids[c.Appointments[0].ID] = true
		ids[c.Appointments[1].ID] = true
	}
	return ids
}
