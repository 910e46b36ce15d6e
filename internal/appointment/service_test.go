package appointment

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/salvi1605/kinetech-scheduling/internal/config"
	redisclient "github.com/salvi1605/kinetech-scheduling/internal/redis"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

const testDate = "2025-01-06" // a Monday

type fixture struct {
	repo    *memRepo
	locker  *passLocker
	svc     *Service
	clinic  *Clinic
	pracP   *Practitioner // Monday 08:00-16:00
	pracQ   *Practitioner // no windows, unrestricted
	patient *Patient
}

func testConfig() config.Config {
	return config.Config{
		DefaultTimezone:     "UTC",
		ExclusiveTreatments: []string{"drenaje", "masaje"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	clinic := &Clinic{
		ID:               uuid.New(),
		Name:             "Kinesio Centro",
		Timezone:         "America/Argentina/Buenos_Aires",
		WorkdayStart:     slot.MustClock("08:00"),
		WorkdayEnd:       slot.MustClock("20:00"),
		LatestStart:      slot.MustClock("19:00"),
		MinSlotMinutes:   30,
		SubSlotsPerBlock: 3,
	}
	repo.clinics[clinic.ID] = clinic

	p := &Practitioner{ID: uuid.New(), ClinicID: clinic.ID, Name: "Lucía Pérez"}
	q := &Practitioner{ID: uuid.New(), ClinicID: clinic.ID, Name: "Martín Gómez"}
	repo.practitioners[p.ID] = p
	repo.practitioners[q.ID] = q
	repo.windows[p.ID] = []slot.AvailabilityWindow{{
		PractitionerID: p.ID,
		Weekday:        time.Monday,
		From:           slot.MustClock("08:00"),
		To:             slot.MustClock("16:00"),
		SlotMinutes:    30,
	}}

	patient := &Patient{ID: uuid.New(), ClinicID: clinic.ID, Name: "Ana Torres"}
	repo.patients[patient.ID] = patient

	locker := &passLocker{}
	svc := NewService(repo, locker, testConfig(), zerolog.Nop())

	return &fixture{
		repo:    repo,
		locker:  locker,
		svc:     svc,
		clinic:  clinic,
		pracP:   p,
		pracQ:   q,
		patient: patient,
	}
}

func (f *fixture) request(p *Practitioner, start string, sub int, treatment string) BookingRequest {
	return BookingRequest{
		ClinicID:       f.clinic.ID,
		PractitionerID: p.ID,
		PatientID:      f.patient.ID,
		Date:           testDate,
		StartTime:      start,
		SubSlot:        sub,
		TreatmentType:  treatment,
	}
}

func (f *fixture) seed(p *Practitioner, date, start string, sub int, treatment string) *Appointment {
	d, err := slot.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return f.repo.seed(Appointment{
		ClinicID:       f.clinic.ID,
		PractitionerID: p.ID,
		PatientID:      f.patient.ID,
		Date:           d,
		StartTime:      slot.MustClock(start),
		SubSlot:        sub,
		TreatmentType:  treatment,
	})
}

func requireRejection(t *testing.T, err error, reason slot.Reason) *RejectionError {
	t.Helper()
	var rej *RejectionError
	require.True(t, errors.As(err, &rej), "expected a rejection, got %v", err)
	assert.Equal(t, reason, rej.Reason())
	return rej
}

func TestCreateAppointment_Accepts(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.CreateAppointment(context.Background(), f.request(f.pracP, "08:00", 1, "fkt"))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, appt.ID)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, slot.MustClock("08:00"), appt.StartTime)
	assert.Equal(t, "fkt", appt.TreatmentType)
	assert.Equal(t, []string{EventAppointmentCreated}, f.repo.eventTypes())
	assert.Equal(t, []string{f.pracP.ID.String() + ":2025-01-06:08:00"}, f.locker.keys)
}

func TestCreateAppointment_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		req    func(f *fixture) BookingRequest
		reason slot.Reason
	}{
		{
			name:   "outside availability window",
			req:    func(f *fixture) BookingRequest { return f.request(f.pracP, "16:30", 1, "fkt") },
			reason: slot.ReasonOutsideAvailabilityWindow,
		},
		{
			name:   "after latest start",
			req:    func(f *fixture) BookingRequest { return f.request(f.pracQ, "19:30", 1, "fkt") },
			reason: slot.ReasonOutsideWorkday,
		},
		{
			name: "practitioner blocked",
			setup: func(f *fixture) {
				id := f.pracP.ID
				f.repo.exceptions = append(f.repo.exceptions, slot.ScheduleException{
					ID:             uuid.New(),
					ClinicID:       f.clinic.ID,
					PractitionerID: &id,
					Date:           time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
					Type:           slot.ExceptionPractitionerBlock,
					Reason:         "congreso",
				})
			},
			req:    func(f *fixture) BookingRequest { return f.request(f.pracP, "09:00", 1, "fkt") },
			reason: slot.ReasonPractitionerBlocked,
		},
		{
			name:   "slot occupied",
			setup:  func(f *fixture) { f.seed(f.pracP, testDate, "09:00", 1, "fkt") },
			req:    func(f *fixture) BookingRequest { return f.request(f.pracP, "09:00", 1, "fkt") },
			reason: slot.ReasonSlotOccupied,
		},
		{
			name:   "existing exclusive treatment",
			setup:  func(f *fixture) { f.seed(f.pracP, testDate, "09:00", 1, "drenaje") },
			req:    func(f *fixture) BookingRequest { return f.request(f.pracP, "09:00", 2, "fkt") },
			reason: slot.ReasonExclusiveTreatmentConflict,
		},
		{
			name:   "requested exclusive treatment",
			setup:  func(f *fixture) { f.seed(f.pracP, testDate, "09:00", 1, "fkt") },
			req:    func(f *fixture) BookingRequest { return f.request(f.pracP, "09:00", 2, "Masaje") },
			reason: slot.ReasonExclusiveTreatmentConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			before := len(f.repo.appointments)

			_, err := f.svc.CreateAppointment(context.Background(), tt.req(f))

			rej := requireRejection(t, err, tt.reason)
			assert.NotEmpty(t, rej.Error())
			assert.Len(t, f.repo.appointments, before)
			assert.Empty(t, f.locker.keys, "rejected before taking the lock")
		})
	}
}

func TestCreateAppointment_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, r *BookingRequest)
		want   error
	}{
		{"bad date", func(_ *fixture, r *BookingRequest) { r.Date = "06/01/2025" }, ErrInvalidRequest},
		{"bad time", func(_ *fixture, r *BookingRequest) { r.StartTime = "25:00" }, ErrInvalidRequest},
		{"sub-slot zero", func(_ *fixture, r *BookingRequest) { r.SubSlot = 0 }, ErrInvalidRequest},
		{"sub-slot above block", func(_ *fixture, r *BookingRequest) { r.SubSlot = 4 }, ErrInvalidRequest},
		{"empty treatment", func(_ *fixture, r *BookingRequest) { r.TreatmentType = "  " }, ErrInvalidRequest},
		{"unknown clinic", func(_ *fixture, r *BookingRequest) { r.ClinicID = uuid.New() }, ErrClinicNotFound},
		{"unknown practitioner", func(_ *fixture, r *BookingRequest) { r.PractitionerID = uuid.New() }, ErrPractitionerNotFound},
		{"unknown patient", func(_ *fixture, r *BookingRequest) { r.PatientID = uuid.New() }, ErrPatientNotFound},
		{
			name: "practitioner of another clinic",
			mutate: func(f *fixture, r *BookingRequest) {
				other := &Practitioner{ID: uuid.New(), ClinicID: uuid.New(), Name: "Ajeno"}
				f.repo.practitioners[other.ID] = other
				r.PractitionerID = other.ID
			},
			want: ErrPractitionerNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.request(f.pracP, "09:00", 1, "fkt")
			tt.mutate(f, &r)

			_, err := f.svc.CreateAppointment(context.Background(), r)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.repo.appointments)
		})
	}
}

func TestCreateAppointment_LockBusy(t *testing.T) {
	f := newFixture(t)
	locker := &mockLocker{}
	locker.On("WithSlotLock", mock.Anything).Return(redisclient.ErrLockNotAcquired)
	svc := NewService(f.repo, locker, testConfig(), zerolog.Nop())

	_, err := svc.CreateAppointment(context.Background(), f.request(f.pracP, "09:00", 1, "fkt"))

	assert.ErrorIs(t, err, ErrSlotBeingBooked)
	assert.Empty(t, f.repo.appointments)
	locker.AssertExpectations(t)
}

func TestCreateAppointment_RechecksUnderLock(t *testing.T) {
	f := newFixture(t)
	// A competing exclusive booking lands between the pre-check and the lock.
	f.locker.inside = func() { f.seed(f.pracP, testDate, "09:00", 1, "drenaje") }

	_, err := f.svc.CreateAppointment(context.Background(), f.request(f.pracP, "09:00", 2, "fkt"))

	rej := requireRejection(t, err, slot.ReasonExclusiveTreatmentConflict)
	require.NotNil(t, rej.Decision.Conflict)
	assert.Equal(t, "drenaje", rej.Decision.Conflict.TreatmentType)
	assert.Len(t, f.repo.appointments, 1)
}

func TestCreateAppointment_UniqueViolationIsSlotOccupied(t *testing.T) {
	f := newFixture(t)

	var winner *Appointment
	f.repo.beforeInsert = func(a *Appointment) {
		f.repo.beforeInsert = nil
		winner = f.seed(f.pracP, testDate, "09:00", 1, "fkt")
	}

	_, err := f.svc.CreateAppointment(context.Background(), f.request(f.pracP, "09:00", 1, "fkt"))

	rej := requireRejection(t, err, slot.ReasonSlotOccupied)
	require.NotNil(t, rej.Decision.Conflict)
	assert.Equal(t, winner.ID, rej.Decision.Conflict.ID)
	assert.Contains(t, rej.Error(), f.pracP.Name)
	assert.Len(t, f.repo.appointments, 1)
}

func TestCreateAppointmentsBatch(t *testing.T) {
	f := newFixture(t)

	reqs := []BookingRequest{
		f.request(f.pracP, "10:00", 1, "fkt"),
		f.request(f.pracP, "10:00", 1, "fkt"),
		f.request(f.pracP, "10:00", 2, "drenaje"),
		{PractitionerID: f.pracP.ID, PatientID: f.patient.ID, Date: "mañana", StartTime: "10:00", SubSlot: 1, TreatmentType: "fkt"},
		f.request(f.pracQ, "10:00", 1, "masaje"),
		{PractitionerID: uuid.New(), PatientID: f.patient.ID, Date: testDate, StartTime: "10:00", SubSlot: 1, TreatmentType: "fkt"},
	}

	outcomes, err := f.svc.CreateAppointmentsBatch(context.Background(), f.clinic.ID, reqs)
	require.NoError(t, err)
	require.Len(t, outcomes, len(reqs))

	require.NotNil(t, outcomes[0].Appointment)
	assert.Equal(t, f.clinic.ID, outcomes[0].Appointment.ClinicID)

	require.NotNil(t, outcomes[1].Rejection)
	assert.Equal(t, slot.ReasonSlotOccupied, outcomes[1].Rejection.Reason())

	require.NotNil(t, outcomes[2].Rejection)
	assert.Equal(t, slot.ReasonExclusiveTreatmentConflict, outcomes[2].Rejection.Reason())

	assert.ErrorIs(t, outcomes[3].Err, ErrInvalidRequest)

	require.NotNil(t, outcomes[4].Appointment)
	assert.Equal(t, f.pracQ.ID, outcomes[4].Appointment.PractitionerID)

	assert.ErrorIs(t, outcomes[5].Err, ErrPractitionerNotFound)

	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
	}

	assert.Len(t, f.repo.appointments, 2)
	assert.Len(t, f.locker.keys, 2)
	assert.True(t, sort.StringsAreSorted(f.locker.keys))
}

func TestCreateAppointmentsBatch_InsertCollision(t *testing.T) {
	f := newFixture(t)

	f.repo.beforeInsert = func(a *Appointment) {
		f.repo.beforeInsert = nil
		f.seed(f.pracP, testDate, "11:00", 1, "fkt")
	}

	outcomes, err := f.svc.CreateAppointmentsBatch(context.Background(), f.clinic.ID, []BookingRequest{
		f.request(f.pracP, "11:00", 1, "fkt"),
		f.request(f.pracP, "11:30", 1, "fkt"),
	})
	require.NoError(t, err)

	require.NotNil(t, outcomes[0].Rejection)
	assert.Equal(t, slot.ReasonSlotOccupied, outcomes[0].Rejection.Reason())
	assert.NotNil(t, outcomes[0].Rejection.Decision.Conflict)
	require.NotNil(t, outcomes[1].Appointment)
}

func TestCreateAppointmentsBatch_UnknownClinic(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointmentsBatch(context.Background(), uuid.New(), []BookingRequest{
		f.request(f.pracP, "10:00", 1, "fkt"),
	})
	assert.ErrorIs(t, err, ErrClinicNotFound)
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	appt, err := f.svc.CreateAppointment(ctx, f.request(f.pracP, "09:00", 1, "fkt"))
	require.NoError(t, err)

	done, err := f.svc.CompleteAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.svc.CompleteAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.CancelAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	other, err := f.svc.CreateAppointment(ctx, f.request(f.pracP, "09:30", 1, "fkt"))
	require.NoError(t, err)

	noShow, err := f.svc.MarkNoShow(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, noShow.Status)

	_, err = f.svc.CancelAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.Equal(t, []string{
		EventAppointmentCreated,
		EventAppointmentCompleted,
		EventAppointmentCreated,
		EventAppointmentNoShow,
	}, f.repo.eventTypes())
}

func TestCancelAppointment_FreesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.CreateAppointment(ctx, f.request(f.pracP, "09:00", 1, "drenaje"))
	require.NoError(t, err)

	_, err = f.svc.CreateAppointment(ctx, f.request(f.pracP, "09:00", 2, "fkt"))
	requireRejection(t, err, slot.ReasonExclusiveTreatmentConflict)

	_, err = f.svc.CancelAppointment(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateAppointment(ctx, f.request(f.pracP, "09:00", 1, "fkt"))
	assert.NoError(t, err)
}

func TestDeleteAppointment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.seed(f.pracP, testDate, "09:00", 1, "fkt")

	require.NoError(t, f.svc.DeleteAppointment(ctx, appt.ID))

	_, err := f.svc.GetAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.ErrorIs(t, f.svc.DeleteAppointment(ctx, appt.ID), ErrAppointmentNotFound)
	assert.Equal(t, []string{EventAppointmentDeleted}, f.repo.eventTypes())
}

func TestListAppointmentsByPatient_Limits(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, 20},
		{-3, 20},
		{5, 5},
		{500, 100},
	}

	for _, tt := range tests {
		f := newFixture(t)
		_, err := f.svc.ListAppointmentsByPatient(context.Background(), f.patient.ID, tt.limit, -1)
		require.NoError(t, err)
		assert.Equal(t, tt.want, f.repo.lastLimit, "limit %d", tt.limit)
	}
}

func TestListAppointmentsForDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	late := f.seed(f.pracP, testDate, "10:00", 1, "fkt")
	early := f.seed(f.pracP, testDate, "08:30", 2, "fkt")
	cancelled := f.seed(f.pracP, testDate, "09:00", 1, "fkt")
	f.repo.appointments[cancelled.ID].Status = StatusCancelled
	f.seed(f.pracP, "2025-01-13", "08:30", 1, "fkt")
	f.seed(f.pracQ, testDate, "08:30", 1, "fkt")

	got, err := f.svc.ListAppointmentsForDay(ctx, f.clinic.ID, f.pracP.ID, testDate)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)

	_, err = f.svc.ListAppointmentsForDay(ctx, f.clinic.ID, f.pracP.ID, "2025-13-01")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFreeSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(f.pracP, testDate, "08:00", 1, "drenaje")

	openings, err := f.svc.FreeSlots(ctx, f.clinic.ID, f.pracP.ID, testDate, "fkt")
	require.NoError(t, err)

	// 08:00-16:00 every 30 minutes, 3 sub-slots each, minus the drenaje slot.
	assert.Len(t, openings, 15*3)
	assert.Equal(t, slot.Opening{StartTime: slot.MustClock("08:30"), SubSlot: 1}, openings[0])

	tuesday, err := f.svc.FreeSlots(ctx, f.clinic.ID, f.pracP.ID, "2025-01-07", "fkt")
	require.NoError(t, err)
	assert.NotNil(t, tuesday)
	assert.Empty(t, tuesday)

	_, err = f.svc.FreeSlots(ctx, f.clinic.ID, f.pracP.ID, "2025-01-06", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.FreeSlots(ctx, f.clinic.ID, uuid.New(), testDate, "fkt")
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}

func TestSweepNoShows_UsesClinicTimezone(t *testing.T) {
	f := newFixture(t)
	// 02:00 UTC on the 7th is still the 6th in Buenos Aires.
	f.svc.now = func() time.Time { return time.Date(2025, 1, 7, 2, 0, 0, 0, time.UTC) }

	past := f.seed(f.pracP, "2025-01-05", "09:00", 1, "fkt")
	today := f.seed(f.pracP, testDate, "09:00", 1, "fkt")
	done := f.seed(f.pracP, "2025-01-04", "09:00", 1, "fkt")
	f.repo.appointments[done.ID].Status = StatusCompleted

	n, err := f.svc.SweepNoShows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, StatusNoShow, f.repo.appointments[past.ID].Status)
	assert.Equal(t, StatusScheduled, f.repo.appointments[today.ID].Status)
	assert.Equal(t, StatusCompleted, f.repo.appointments[done.ID].Status)
	assert.Equal(t, []string{EventAppointmentNoShow}, f.repo.eventTypes())
}

func TestCheckSlot(t *testing.T) {
	f := newFixture(t)
	f.seed(f.pracP, testDate, "09:00", 1, "drenaje")

	check, err := f.svc.CheckSlot(context.Background(), f.request(f.pracP, "09:00", 2, "fkt"))
	require.NoError(t, err)
	assert.True(t, check.Decision.Rejected())
	assert.Equal(t, slot.ReasonExclusiveTreatmentConflict, check.Decision.Reason)
	assert.Contains(t, check.Message, f.pracP.Name)
	assert.Contains(t, check.Message, "drenaje")

	check, err = f.svc.CheckSlot(context.Background(), f.request(f.pracP, "09:30", 2, "fkt"))
	require.NoError(t, err)
	assert.True(t, check.Decision.Accepted)
	assert.Len(t, f.repo.appointments, 1)
}

func TestSweepOnlyService_WithoutLocker(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.repo, nil, testConfig(), zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC) }

	past := f.seed(f.pracP, testDate, "09:00", 1, "fkt")

	n, err := svc.SweepNoShows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusNoShow, f.repo.appointments[past.ID].Status)

	_, err = svc.CreateAppointment(context.Background(), f.request(f.pracP, "10:00", 1, "fkt"))
	assert.ErrorIs(t, err, ErrLockingUnavailable)

	_, err = svc.CreateAppointmentsBatch(context.Background(), f.clinic.ID, []BookingRequest{f.request(f.pracP, "10:00", 1, "fkt")})
	assert.ErrorIs(t, err, ErrLockingUnavailable)
	assert.Len(t, f.repo.appointments, 1)
}
