package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	redisclient "github.com/salvi1605/kinetech-scheduling/internal/redis"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

// memRepo is an in-memory Repository that enforces the slot uniqueness rule
// the way the database index does.
type memRepo struct {
	mu sync.Mutex

	clinics       map[uuid.UUID]*Clinic
	practitioners map[uuid.UUID]*Practitioner
	patients      map[uuid.UUID]*Patient
	windows       map[uuid.UUID][]slot.AvailabilityWindow
	exceptions    []slot.ScheduleException
	appointments  map[uuid.UUID]*Appointment
	events        []EventLog

	// beforeInsert runs ahead of every appointment insert, outside the lock.
	beforeInsert func(a *Appointment)
	lastLimit    int
}

var _ Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		clinics:       make(map[uuid.UUID]*Clinic),
		practitioners: make(map[uuid.UUID]*Practitioner),
		patients:      make(map[uuid.UUID]*Patient),
		windows:       make(map[uuid.UUID][]slot.AvailabilityWindow),
		appointments:  make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepo) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) ListClinics(_ context.Context) ([]Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Clinic
	for _, c := range r.clinics {
		out = append(out, *c)
	}
	return out, nil
}

func (r *memRepo) GetPractitionerByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) ListWindowsByPractitioner(_ context.Context, practitionerID uuid.UUID) ([]slot.AvailabilityWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]slot.AvailabilityWindow(nil), r.windows[practitionerID]...), nil
}

func (r *memRepo) ReplaceWindows(_ context.Context, practitionerID uuid.UUID, windows []slot.AvailabilityWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[practitionerID] = append([]slot.AvailabilityWindow(nil), windows...)
	return nil
}

func (r *memRepo) ListExceptions(_ context.Context, clinicID uuid.UUID, date time.Time, practitionerID uuid.UUID) ([]slot.ScheduleException, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []slot.ScheduleException
	for _, ex := range r.exceptions {
		if ex.ClinicID != clinicID || !slot.SameDay(ex.Date, date) {
			continue
		}
		if ex.PractitionerID == nil || *ex.PractitionerID == practitionerID {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (r *memRepo) CreateException(_ context.Context, ex *slot.ScheduleException) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	r.exceptions = append(r.exceptions, *ex)
	return nil
}

func (r *memRepo) DeleteException(_ context.Context, clinicID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ex := range r.exceptions {
		if ex.ID == id && ex.ClinicID == clinicID {
			r.exceptions = append(r.exceptions[:i], r.exceptions[i+1:]...)
			return nil
		}
	}
	return ErrExceptionNotFound
}

func (r *memRepo) ListActiveForPractitionerDay(_ context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && slot.SameDay(a.Date, date) && a.Status != StatusCancelled {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].SubSlot < out[j].SubSlot
	})
	return out, nil
}

func (r *memRepo) GetActiveAppointmentAt(_ context.Context, practitionerID uuid.UUID, date time.Time, start slot.Clock, subSlot int) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.activeAt(practitionerID, date, start, subSlot); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) activeAt(practitionerID uuid.UUID, date time.Time, start slot.Clock, subSlot int) *Appointment {
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && slot.SameDay(a.Date, date) &&
			a.StartTime == start && a.SubSlot == subSlot && a.Status != StatusCancelled {
			return a
		}
	}
	return nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) insert(a *Appointment) error {
	if r.beforeInsert != nil {
		r.beforeInsert(a)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeAt(a.PractitionerID, a.Date, a.StartTime, a.SubSlot) != nil {
		return ErrSlotTaken
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	r.appointments[a.ID] = &cp
	return nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) error {
	return r.insert(a)
}

func (r *memRepo) CreateAppointments(_ context.Context, as []*Appointment) ([]error, error) {
	errs := make([]error, len(as))
	for i, a := range as {
		errs[i] = r.insert(a)
	}
	return errs, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (r *memRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *memRepo) MarkNoShows(_ context.Context, clinicID uuid.UUID, before time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, a := range r.appointments {
		if a.ClinicID == clinicID && a.Status == StatusScheduled && a.Date.Before(before) {
			a.Status = StatusNoShow
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

// seed stores a scheduled appointment directly, bypassing the service.
func (r *memRepo) seed(a Appointment) *Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = &a
	return &a
}

// passLocker grants every lock and optionally runs a hook inside it before
// the guarded function.
type passLocker struct {
	mu     sync.Mutex
	keys   []string
	inside func()
}

func (l *passLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	if l.inside != nil {
		l.inside()
	}
	return fn(ctx)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	args := m.Called(key)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

var (
	_ redisclient.Locker = (*passLocker)(nil)
	_ redisclient.Locker = (*mockLocker)(nil)
)
