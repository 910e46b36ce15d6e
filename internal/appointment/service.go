package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/salvi1605/kinetech-scheduling/internal/config"
	redisclient "github.com/salvi1605/kinetech-scheduling/internal/redis"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"
)

var (
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrLockingUnavailable      = errors.New("slot locking is not configured")
)

// RejectionError carries a resolver rejection through the error path of
// write operations.
type RejectionError struct {
	Decision     slot.Decision
	Practitioner string
}

func (e *RejectionError) Error() string {
	return e.Decision.Message(e.Practitioner)
}

func (e *RejectionError) Reason() slot.Reason {
	return e.Decision.Reason
}

// BookingRequest is the raw input for checking or creating an appointment.
type BookingRequest struct {
	ClinicID       uuid.UUID
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	Date           string
	StartTime      string
	SubSlot        int
	TreatmentType  string
	Notes          string
}

// SlotCheck is the answer to a pre-check: the decision and a message fit for
// showing to the person booking.
type SlotCheck struct {
	Decision slot.Decision
	Message  string
}

// BatchOutcome is the result of one candidate of a mass creation. Exactly one
// of Appointment, Rejection or Err is set.
type BatchOutcome struct {
	Index       int
	Appointment *Appointment
	Rejection   *RejectionError
	Err         error
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	cfg       config.Config
	log       zerolog.Logger
	exclusive slot.TreatmentSet
	now       func() time.Time
}

// NewService builds the booking service. locker may be nil for processes that
// never create appointments, such as the no-show sweep; writes then fail with
// ErrLockingUnavailable.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		cfg:       cfg,
		log:       log.With().Str("component", "appointment").Logger(),
		exclusive: slot.NewTreatmentSet(cfg.ExclusiveTreatments...),
		now:       time.Now,
	}
}

// CheckSlot runs the resolver without writing anything.
func (s *Service) CheckSlot(ctx context.Context, in BookingRequest) (*SlotCheck, error) {
	clinic, practitioner, err := s.loadScope(ctx, in.ClinicID, in.PractitionerID)
	if err != nil {
		return nil, err
	}

	req, err := parseRequest(clinic, in)
	if err != nil {
		return nil, err
	}

	snap, err := s.loadSnapshot(ctx, req.ClinicID, req.PractitionerID, req.Date)
	if err != nil {
		return nil, err
	}

	d := s.resolver(clinic).Resolve(req, snap)
	return &SlotCheck{Decision: d, Message: d.Message(practitioner.Name)}, nil
}

// CreateAppointment books a slot. The decision is taken twice: once without
// the lock to reject cheap cases, then again under the slot lock against
// freshly loaded appointments right before the insert.
func (s *Service) CreateAppointment(ctx context.Context, in BookingRequest) (*Appointment, error) {
	clinic, practitioner, err := s.loadScope(ctx, in.ClinicID, in.PractitionerID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPatient(ctx, clinic.ID, in.PatientID); err != nil {
		return nil, err
	}

	req, err := parseRequest(clinic, in)
	if err != nil {
		return nil, err
	}

	resolver := s.resolver(clinic)
	snap, err := s.loadSnapshot(ctx, req.ClinicID, req.PractitionerID, req.Date)
	if err != nil {
		return nil, err
	}

	if d := resolver.Resolve(req, snap); d.Rejected() {
		return nil, &RejectionError{Decision: d, Practitioner: practitioner.Name}
	}

	var created *Appointment

	if s.locker == nil {
		return nil, ErrLockingUnavailable
	}

	err = s.locker.WithSlotLock(ctx, slotKey(req), func(lockCtx context.Context) error {
		bookings, err := s.loadBookings(lockCtx, req.PractitionerID, req.Date)
		if err != nil {
			return err
		}
		snap.Bookings = bookings

		if d := resolver.Resolve(req, snap); d.Rejected() {
			return &RejectionError{Decision: d, Practitioner: practitioner.Name}
		}

		appt := newAppointment(req, in)
		if err := s.repo.CreateAppointment(lockCtx, appt); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return s.occupied(lockCtx, req, practitioner.Name)
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, createdPayload(appt))
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// CreateAppointmentsBatch books several candidates of one clinic. Candidates
// are judged in order and earlier accepted ones occupy their slot for the
// later ones. Failures are reported per candidate; the returned error is only
// set when the batch as a whole could not run.
func (s *Service) CreateAppointmentsBatch(ctx context.Context, clinicID uuid.UUID, ins []BookingRequest) ([]BatchOutcome, error) {
	clinic, err := s.loadClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]BatchOutcome, len(ins))
	practitioners := make(map[uuid.UUID]*Practitioner)
	patients := make(map[uuid.UUID]error)

	var (
		reqs    []slot.Request
		indexes []int
	)

	for i, in := range ins {
		outcomes[i].Index = i
		in.ClinicID = clinic.ID

		p, ok := practitioners[in.PractitionerID]
		if !ok {
			p, err = s.loadPractitioner(ctx, clinic.ID, in.PractitionerID)
			if err != nil && !errors.Is(err, ErrPractitionerNotFound) {
				return nil, err
			}
			practitioners[in.PractitionerID] = p
		}
		if p == nil {
			outcomes[i].Err = ErrPractitionerNotFound
			continue
		}

		patientErr, ok := patients[in.PatientID]
		if !ok {
			patientErr = s.checkPatient(ctx, clinic.ID, in.PatientID)
			if patientErr != nil && !errors.Is(patientErr, ErrPatientNotFound) {
				return nil, patientErr
			}
			patients[in.PatientID] = patientErr
		}
		if patientErr != nil {
			outcomes[i].Err = patientErr
			continue
		}

		req, err := parseRequest(clinic, in)
		if err != nil {
			outcomes[i].Err = err
			continue
		}

		reqs = append(reqs, req)
		indexes = append(indexes, i)
	}

	if len(reqs) == 0 {
		return outcomes, nil
	}

	resolver := s.resolver(clinic)
	snap, err := s.loadBatchSnapshot(ctx, clinic.ID, reqs)
	if err != nil {
		return nil, err
	}

	// Only candidates that pass the unlocked pass take a lock.
	var (
		pending    []slot.Request
		pendingIdx []int
		keys       []string
	)
	for j, d := range resolver.ResolveBatch(reqs, snap) {
		i := indexes[j]
		if d.Rejected() {
			outcomes[i].Rejection = &RejectionError{Decision: d, Practitioner: practitioners[d.Request.PractitionerID].Name}
			continue
		}
		pending = append(pending, reqs[j])
		pendingIdx = append(pendingIdx, i)
		keys = append(keys, slotKey(reqs[j]))
	}

	if len(pending) == 0 {
		return outcomes, nil
	}
	if s.locker == nil {
		return nil, ErrLockingUnavailable
	}

	err = redisclient.WithSlotLocks(ctx, s.locker, keys, func(lockCtx context.Context) error {
		if err := s.reloadBatchBookings(lockCtx, &snap, pending); err != nil {
			return err
		}

		var (
			toInsert  []*Appointment
			insertIdx []int
		)
		for j, d := range resolver.ResolveBatch(pending, snap) {
			i := pendingIdx[j]
			if d.Rejected() {
				outcomes[i].Rejection = &RejectionError{Decision: d, Practitioner: practitioners[d.Request.PractitionerID].Name}
				continue
			}
			toInsert = append(toInsert, newAppointment(pending[j], ins[i]))
			insertIdx = append(insertIdx, i)
		}

		if len(toInsert) == 0 {
			return nil
		}

		rowErrs, err := s.repo.CreateAppointments(lockCtx, toInsert)
		if err != nil {
			return fmt.Errorf("create appointments: %w", err)
		}

		for k, appt := range toInsert {
			i := insertIdx[k]
			if rowErrs[k] != nil {
				name := practitioners[appt.PractitionerID].Name
				var rej *RejectionError
				if errors.As(s.occupied(lockCtx, bookingRequest(appt), name), &rej) {
					outcomes[i].Rejection = rej
				} else {
					outcomes[i].Err = rowErrs[k]
				}
				continue
			}
			outcomes[i].Appointment = appt
			s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, createdPayload(appt))
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return outcomes, nil
}

func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

// CancelAppointment frees the slot: cancelled rows are ignored by the
// resolver and by the slot index.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, EventAppointmentNoShow)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, event string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := CanTransition(appt.Status, to); err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		// Someone else moved it between the read and the update.
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatusTransition, appt.ID)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, updated.ID, event, map[string]any{
		"from": appt.Status,
		"to":   to,
	})

	return updated, nil
}

// DeleteAppointment removes the row entirely, for staff corrections.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{})
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsForDay returns the practitioner's non-cancelled agenda.
func (s *Service) ListAppointmentsForDay(ctx context.Context, clinicID, practitionerID uuid.UUID, date string) ([]Appointment, error) {
	if _, _, err := s.loadScope(ctx, clinicID, practitionerID); err != nil {
		return nil, err
	}

	day, err := slot.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	appointments, err := s.repo.ListActiveForPractitionerDay(ctx, practitionerID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments for day: %w", err)
	}
	return appointments, nil
}

// FreeSlots lists every start time and sub-slot a booking of treatment could
// take for the practitioner on date.
func (s *Service) FreeSlots(ctx context.Context, clinicID, practitionerID uuid.UUID, date, treatment string) ([]slot.Opening, error) {
	clinic, _, err := s.loadScope(ctx, clinicID, practitionerID)
	if err != nil {
		return nil, err
	}

	day, err := slot.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(treatment) == "" {
		return nil, fmt.Errorf("%w: treatment is required", ErrInvalidRequest)
	}

	snap, err := s.loadSnapshot(ctx, clinic.ID, practitionerID, day)
	if err != nil {
		return nil, err
	}

	openings := s.resolver(clinic).Openings(clinic.ID, practitionerID, day, treatment, snap, clinic.Grid())
	if openings == nil {
		openings = []slot.Opening{}
	}
	return openings, nil
}

// SweepNoShows marks scheduled appointments of past days as no-shows. A day
// is past once it is over in the clinic's own timezone.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	clinics, err := s.repo.ListClinics(ctx)
	if err != nil {
		return 0, fmt.Errorf("list clinics: %w", err)
	}

	total := 0
	for _, c := range clinics {
		today := localToday(s.now(), s.location(&c))

		ids, err := s.repo.MarkNoShows(ctx, c.ID, today)
		if err != nil {
			s.log.Error().Err(err).Str("clinic_id", c.ID.String()).Msg("no-show sweep failed")
			continue
		}

		for _, id := range ids {
			s.logEvent(ctx, id, EventAppointmentNoShow, map[string]any{
				"reason": "sweep",
			})
		}

		if len(ids) > 0 {
			s.log.Info().Str("clinic_id", c.ID.String()).Int("count", len(ids)).Msg("marked no-shows")
		}
		total += len(ids)
	}

	return total, nil
}

// Helpers

func (s *Service) resolver(c *Clinic) *slot.Resolver {
	return slot.NewResolver(c.Policy(s.exclusive))
}

func (s *Service) location(c *Clinic) *time.Location {
	for _, name := range []string{c.Timezone, s.cfg.DefaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

func localToday(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) loadClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	c, err := s.repo.GetClinicByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrClinicNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load clinic: %w", err)
	}
	return c, nil
}

// loadPractitioner treats a practitioner of another clinic as missing.
func (s *Service) loadPractitioner(ctx context.Context, clinicID, id uuid.UUID) (*Practitioner, error) {
	p, err := s.repo.GetPractitionerByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPractitionerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load practitioner: %w", err)
	}
	if p.ClinicID != clinicID {
		return nil, ErrPractitionerNotFound
	}
	return p, nil
}

func (s *Service) loadScope(ctx context.Context, clinicID, practitionerID uuid.UUID) (*Clinic, *Practitioner, error) {
	clinic, err := s.loadClinic(ctx, clinicID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.loadPractitioner(ctx, clinic.ID, practitionerID)
	if err != nil {
		return nil, nil, err
	}
	return clinic, p, nil
}

func (s *Service) checkPatient(ctx context.Context, clinicID, id uuid.UUID) error {
	p, err := s.repo.GetPatientByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return err
		}
		return fmt.Errorf("load patient: %w", err)
	}
	if p.ClinicID != clinicID {
		return ErrPatientNotFound
	}
	return nil
}

func (s *Service) loadBookings(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]slot.Booking, error) {
	appts, err := s.repo.ListActiveForPractitionerDay(ctx, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	out := make([]slot.Booking, 0, len(appts))
	for i := range appts {
		out = append(out, appts[i].Booking())
	}
	return out, nil
}

func (s *Service) loadSnapshot(ctx context.Context, clinicID, practitionerID uuid.UUID, date time.Time) (slot.Snapshot, error) {
	windows, err := s.repo.ListWindowsByPractitioner(ctx, practitionerID)
	if err != nil {
		return slot.Snapshot{}, fmt.Errorf("load availability: %w", err)
	}

	exceptions, err := s.repo.ListExceptions(ctx, clinicID, date, practitionerID)
	if err != nil {
		return slot.Snapshot{}, fmt.Errorf("load exceptions: %w", err)
	}

	bookings, err := s.loadBookings(ctx, practitionerID, date)
	if err != nil {
		return slot.Snapshot{}, err
	}

	return slot.Snapshot{Windows: windows, Exceptions: exceptions, Bookings: bookings}, nil
}

type dayKey struct {
	practitionerID uuid.UUID
	date           string
}

func keyOf(r slot.Request) dayKey {
	return dayKey{practitionerID: r.PractitionerID, date: r.Date.Format(slot.DateLayout)}
}

// loadBatchSnapshot merges the state of every (practitioner, date) touched by
// reqs into one snapshot.
func (s *Service) loadBatchSnapshot(ctx context.Context, clinicID uuid.UUID, reqs []slot.Request) (slot.Snapshot, error) {
	var snap slot.Snapshot
	seenWindows := make(map[uuid.UUID]bool)
	seenDays := make(map[dayKey]bool)

	for _, r := range reqs {
		if !seenWindows[r.PractitionerID] {
			seenWindows[r.PractitionerID] = true
			windows, err := s.repo.ListWindowsByPractitioner(ctx, r.PractitionerID)
			if err != nil {
				return slot.Snapshot{}, fmt.Errorf("load availability: %w", err)
			}
			snap.Windows = append(snap.Windows, windows...)
		}

		k := keyOf(r)
		if seenDays[k] {
			continue
		}
		seenDays[k] = true

		exceptions, err := s.repo.ListExceptions(ctx, clinicID, r.Date, r.PractitionerID)
		if err != nil {
			return slot.Snapshot{}, fmt.Errorf("load exceptions: %w", err)
		}
		snap.Exceptions = append(snap.Exceptions, exceptions...)

		bookings, err := s.loadBookings(ctx, r.PractitionerID, r.Date)
		if err != nil {
			return slot.Snapshot{}, err
		}
		snap.Bookings = append(snap.Bookings, bookings...)
	}

	return snap, nil
}

func (s *Service) reloadBatchBookings(ctx context.Context, snap *slot.Snapshot, reqs []slot.Request) error {
	seen := make(map[dayKey]bool)
	var bookings []slot.Booking
	for _, r := range reqs {
		k := keyOf(r)
		if seen[k] {
			continue
		}
		seen[k] = true

		b, err := s.loadBookings(ctx, r.PractitionerID, r.Date)
		if err != nil {
			return err
		}
		bookings = append(bookings, b...)
	}
	snap.Bookings = bookings
	return nil
}

// occupied builds the rejection for an insert that lost the race on the slot
// index, naming the appointment that won when it can be found.
func (s *Service) occupied(ctx context.Context, req slot.Request, practitioner string) error {
	d := slot.Decision{Request: req, Reason: slot.ReasonSlotOccupied}

	winner, err := s.repo.GetActiveAppointmentAt(ctx, req.PractitionerID, req.Date, req.StartTime, req.SubSlot)
	if err == nil {
		b := winner.Booking()
		d.Conflict = &b
	} else if !errors.Is(err, ErrAppointmentNotFound) {
		s.log.Warn().Err(err).Msg("failed to load conflicting appointment")
	}

	return &RejectionError{Decision: d, Practitioner: practitioner}
}

func parseRequest(c *Clinic, in BookingRequest) (slot.Request, error) {
	date, err := slot.ParseDate(in.Date)
	if err != nil {
		return slot.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	start, err := slot.ParseClock(in.StartTime)
	if err != nil {
		return slot.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if in.SubSlot < 1 || (c.SubSlotsPerBlock > 0 && in.SubSlot > c.SubSlotsPerBlock) {
		return slot.Request{}, fmt.Errorf("%w: sub-slot %d outside 1..%d", ErrInvalidRequest, in.SubSlot, c.SubSlotsPerBlock)
	}

	treatment := strings.TrimSpace(in.TreatmentType)
	if treatment == "" {
		return slot.Request{}, fmt.Errorf("%w: treatment type is required", ErrInvalidRequest)
	}

	return slot.Request{
		ClinicID:       c.ID,
		PractitionerID: in.PractitionerID,
		Date:           date,
		StartTime:      start,
		SubSlot:        in.SubSlot,
		TreatmentType:  treatment,
	}, nil
}

// slotKey names the lock for a (practitioner, date, start time) position.
// Sub-slots share it so exclusivity is checked under the same lock.
func slotKey(r slot.Request) string {
	return fmt.Sprintf("%s:%s:%s", r.PractitionerID, r.Date.Format(slot.DateLayout), r.StartTime)
}

func newAppointment(req slot.Request, in BookingRequest) *Appointment {
	return &Appointment{
		ClinicID:       req.ClinicID,
		PractitionerID: req.PractitionerID,
		PatientID:      in.PatientID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		SubSlot:        req.SubSlot,
		Status:         StatusScheduled,
		TreatmentType:  req.TreatmentType,
		Notes:          in.Notes,
	}
}

func bookingRequest(a *Appointment) slot.Request {
	return slot.Request{
		ClinicID:       a.ClinicID,
		PractitionerID: a.PractitionerID,
		Date:           a.Date,
		StartTime:      a.StartTime,
		SubSlot:        a.SubSlot,
		TreatmentType:  a.TreatmentType,
	}
}

func createdPayload(a *Appointment) map[string]any {
	return map[string]any{
		"clinic_id":       a.ClinicID.String(),
		"practitioner_id": a.PractitionerID.String(),
		"patient_id":      a.PatientID.String(),
		"date":            a.Date.Format(slot.DateLayout),
		"start_time":      a.StartTime.String(),
		"sub_slot":        a.SubSlot,
		"treatment_type":  a.TreatmentType,
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
