package slot

import (
	"fmt"
	"strings"
)

// Reason classifies a rejected request. Every value is terminal: the caller
// has to pick another time or practitioner rather than retry.
type Reason string

const (
	ReasonOutsideWorkday             Reason = "outside_workday"
	ReasonPractitionerBlocked        Reason = "practitioner_blocked"
	ReasonOutsideAvailabilityWindow  Reason = "outside_availability_window"
	ReasonSlotOccupied               Reason = "slot_occupied"
	ReasonExclusiveTreatmentConflict Reason = "exclusive_treatment_conflict"
)

// Policy holds the clinic-level rules the resolver applies.
type Policy struct {
	WorkdayStart        Clock
	LatestStart         Clock
	ExclusiveTreatments TreatmentSet
}

// DefaultPolicy matches the deployment the scheduling rules were taken from:
// bookings may start up to 19:00 and drenaje/masaje need the practitioner's
// full attention.
func DefaultPolicy() Policy {
	return Policy{
		WorkdayStart:        NewClock(0, 0),
		LatestStart:         NewClock(19, 0),
		ExclusiveTreatments: NewTreatmentSet("drenaje", "masaje"),
	}
}

type Decision struct {
	Request  Request
	Accepted bool
	Reason   Reason

	// BlockReason is the exception's reason text for ReasonPractitionerBlocked.
	BlockReason string
	// Conflict is the existing booking behind ReasonSlotOccupied or
	// ReasonExclusiveTreatmentConflict.
	Conflict *Booking
	// Capacity is the seat count of a window that covers the start time but
	// not the requested sub-slot. Zero when the time itself is unattended.
	Capacity int

	WorkdayStart Clock
	LatestStart  Clock
}

func (d Decision) Rejected() bool { return !d.Accepted }

// Message renders an actionable explanation naming the practitioner, time and
// conflicting treatment.
func (d Decision) Message(practitioner string) string {
	if practitioner == "" {
		practitioner = d.Request.PractitionerID.String()
	}
	when := fmt.Sprintf("%s %s", d.Request.Date.Format(DateLayout), d.Request.StartTime)

	switch {
	case d.Accepted:
		return fmt.Sprintf("%s is available on %s (sub-slot %d)", practitioner, when, d.Request.SubSlot)
	case d.Reason == ReasonOutsideWorkday:
		return fmt.Sprintf("%s is outside clinic hours: bookings must start between %s and %s",
			d.Request.StartTime, d.WorkdayStart, d.LatestStart)
	case d.Reason == ReasonPractitionerBlocked:
		msg := fmt.Sprintf("%s is not available on %s", practitioner, d.Request.Date.Format(DateLayout))
		if d.BlockReason != "" {
			msg += " (" + d.BlockReason + ")"
		}
		return msg
	case d.Reason == ReasonOutsideAvailabilityWindow && d.Request.SubSlot < 1:
		return fmt.Sprintf("sub-slot %d does not exist on %s: sub-slots are numbered from 1", d.Request.SubSlot, when)
	case d.Reason == ReasonOutsideAvailabilityWindow && d.Capacity > 0:
		return fmt.Sprintf("%s: sub-slot %d exceeds the window capacity of %d on %s",
			practitioner, d.Request.SubSlot, d.Capacity, when)
	case d.Reason == ReasonOutsideAvailabilityWindow:
		return fmt.Sprintf("%s does not attend on %s %s", practitioner,
			strings.ToLower(d.Request.Date.Weekday().String()), d.Request.StartTime)
	case d.Reason == ReasonSlotOccupied:
		return fmt.Sprintf("%s already has an appointment on %s in sub-slot %d",
			practitioner, when, d.Request.SubSlot)
	case d.Reason == ReasonExclusiveTreatmentConflict && d.Conflict != nil:
		return fmt.Sprintf("%s cannot take %s on %s: %s is booked in sub-slot %d and the two cannot share the slot",
			practitioner, d.Request.TreatmentType, when, d.Conflict.TreatmentType, d.Conflict.SubSlot)
	default:
		return fmt.Sprintf("%s cannot be booked on %s: %s", practitioner, when, d.Reason)
	}
}

type Resolver struct {
	policy Policy
}

func NewResolver(policy Policy) *Resolver {
	if policy.ExclusiveTreatments == nil {
		policy.ExclusiveTreatments = NewTreatmentSet()
	}
	return &Resolver{policy: policy}
}

func (r *Resolver) Policy() Policy { return r.policy }

func (r *Resolver) IsExclusive(treatment string) bool {
	return r.policy.ExclusiveTreatments.Contains(treatment)
}

// Resolve decides whether req may be booked against snap. It never performs
// I/O; identical inputs always give identical decisions.
func (r *Resolver) Resolve(req Request, snap Snapshot) Decision {
	return r.resolve(req, snap.Windows, snap.Exceptions, snap.Bookings)
}

// ResolveBatch evaluates candidates in order. Accepted candidates occupy their
// slot for the remaining candidates, so two colliding entries of the same batch
// cannot both be accepted.
func (r *Resolver) ResolveBatch(reqs []Request, snap Snapshot) []Decision {
	bookings := make([]Booking, len(snap.Bookings), len(snap.Bookings)+len(reqs))
	copy(bookings, snap.Bookings)

	out := make([]Decision, 0, len(reqs))
	for _, req := range reqs {
		d := r.resolve(req, snap.Windows, snap.Exceptions, bookings)
		if d.Accepted {
			bookings = append(bookings, req.booking())
		}
		out = append(out, d)
	}
	return out
}

func (r *Resolver) resolve(req Request, windows []AvailabilityWindow, exceptions []ScheduleException, bookings []Booking) Decision {
	if req.StartTime < r.policy.WorkdayStart || req.StartTime > r.policy.LatestStart {
		return Decision{
			Request:      req,
			Reason:       ReasonOutsideWorkday,
			WorkdayStart: r.policy.WorkdayStart,
			LatestStart:  r.policy.LatestStart,
		}
	}

	if ex, ok := blockingException(req, exceptions); ok {
		return Decision{Request: req, Reason: ReasonPractitionerBlocked, BlockReason: ex.Reason}
	}

	if req.SubSlot < 1 {
		return Decision{Request: req, Reason: ReasonOutsideAvailabilityWindow}
	}

	if ok, capacity := withinAvailability(req, windows); !ok {
		return Decision{Request: req, Reason: ReasonOutsideAvailabilityWindow, Capacity: capacity}
	}

	sameTime := make([]Booking, 0, 4)
	for _, b := range bookings {
		if b.Cancelled || b.PractitionerID != req.PractitionerID ||
			!SameDay(b.Date, req.Date) || b.StartTime != req.StartTime {
			continue
		}
		if b.SubSlot == req.SubSlot {
			conflict := b
			return Decision{Request: req, Reason: ReasonSlotOccupied, Conflict: &conflict}
		}
		sameTime = append(sameTime, b)
	}

	wantExclusive := r.IsExclusive(req.TreatmentType)
	for _, b := range sameTime {
		if wantExclusive || r.IsExclusive(b.TreatmentType) {
			conflict := b
			return Decision{Request: req, Reason: ReasonExclusiveTreatmentConflict, Conflict: &conflict}
		}
	}

	return Decision{Request: req, Accepted: true}
}

// blockingException finds a practitioner block for the request's day, or a
// clinic-wide closure covering the requested time.
func blockingException(req Request, exceptions []ScheduleException) (ScheduleException, bool) {
	for _, ex := range exceptions {
		if !SameDay(ex.Date, req.Date) {
			continue
		}
		switch {
		case ex.Type == ExceptionPractitionerBlock && ex.PractitionerID != nil && *ex.PractitionerID == req.PractitionerID:
			return ex, true
		case ex.Type == ExceptionClosed && ex.PractitionerID == nil && ex.ClinicID == req.ClinicID && ex.coversTime(req.StartTime):
			return ex, true
		}
	}
	return ScheduleException{}, false
}

// withinAvailability applies the open policy: a practitioner without any
// window on any weekday is unrestricted. On rejection it reports the largest
// capacity among windows that cover the time but seat fewer sub-slots.
func withinAvailability(req Request, windows []AvailabilityWindow) (bool, int) {
	configured := false
	capacity := 0
	weekday := req.Date.Weekday()
	for _, w := range windows {
		if w.PractitionerID != req.PractitionerID {
			continue
		}
		configured = true
		if w.Weekday != weekday || !w.Contains(req.StartTime) {
			continue
		}
		if w.Capacity > 0 && req.SubSlot > w.Capacity {
			capacity = max(capacity, w.Capacity)
			continue
		}
		return true, 0
	}
	return !configured, capacity
}
