package slot

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ExceptionType string

const (
	ExceptionClosed            ExceptionType = "closed"
	ExceptionPractitionerBlock ExceptionType = "practitioner_block"
)

// AvailabilityWindow is a recurring weekly interval [From, To) in which a
// practitioner can be booked.
type AvailabilityWindow struct {
	PractitionerID uuid.UUID
	Weekday        time.Weekday
	From           Clock
	To             Clock
	SlotMinutes    int
	Capacity       int // parallel sub-slots, 0 means unlimited
}

func (w AvailabilityWindow) Contains(t Clock) bool {
	return t >= w.From && t < w.To
}

// ScheduleException overrides availability on a single date. A nil
// PractitionerID applies to the whole clinic.
type ScheduleException struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	PractitionerID *uuid.UUID
	Date           time.Time
	From           *Clock
	To             *Clock
	Type           ExceptionType
	Reason         string
}

func (e ScheduleException) coversTime(t Clock) bool {
	if e.From == nil || e.To == nil {
		return true
	}
	return t >= *e.From && t < *e.To
}

// Booking is the resolver's view of an existing appointment.
type Booking struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	StartTime      Clock
	SubSlot        int
	TreatmentType  string
	Cancelled      bool
}

// Request is a candidate booking.
type Request struct {
	ClinicID       uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	StartTime      Clock
	SubSlot        int // 1-based; values below 1 are rejected
	TreatmentType  string
}

func (r Request) booking() Booking {
	return Booking{
		PractitionerID: r.PractitionerID,
		Date:           r.Date,
		StartTime:      r.StartTime,
		SubSlot:        r.SubSlot,
		TreatmentType:  r.TreatmentType,
	}
}

// Snapshot is the read-only state a request is judged against. It may hold
// rows for several practitioners and dates; the resolver filters by request.
type Snapshot struct {
	Windows    []AvailabilityWindow
	Exceptions []ScheduleException
	Bookings   []Booking
}

// TreatmentSet is a case-insensitive set of treatment type names.
type TreatmentSet map[string]struct{}

func NewTreatmentSet(names ...string) TreatmentSet {
	s := make(TreatmentSet, len(names))
	for _, n := range names {
		if n = normalizeTreatment(n); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s TreatmentSet) Contains(treatment string) bool {
	_, ok := s[normalizeTreatment(treatment)]
	return ok
}

func (s TreatmentSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalizeTreatment(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
