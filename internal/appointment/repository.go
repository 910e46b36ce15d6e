package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

var (
	ErrClinicNotFound       = errors.New("clinic not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrExceptionNotFound    = errors.New("schedule exception not found")

	// ErrSlotTaken is returned by inserts that hit the slot uniqueness index.
	ErrSlotTaken = errors.New("slot already taken")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	ListClinics(ctx context.Context) ([]Clinic, error)
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Availability store
	ListWindowsByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]slot.AvailabilityWindow, error)
	ReplaceWindows(ctx context.Context, practitionerID uuid.UUID, windows []slot.AvailabilityWindow) error

	// Exception store. Clinic-wide rows are always included.
	ListExceptions(ctx context.Context, clinicID uuid.UUID, date time.Time, practitionerID uuid.UUID) ([]slot.ScheduleException, error)
	CreateException(ctx context.Context, ex *slot.ScheduleException) error
	DeleteException(ctx context.Context, clinicID, id uuid.UUID) error

	// For conflict checks
	ListActiveForPractitionerDay(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error)
	GetActiveAppointmentAt(ctx context.Context, practitionerID uuid.UUID, date time.Time, start slot.Clock, subSlot int) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a *Appointment) error
	// CreateAppointments inserts in one transaction. A row hitting the slot
	// index gets ErrSlotTaken in its position without aborting the others.
	CreateAppointments(ctx context.Context, as []*Appointment) ([]error, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	// No-show sweep
	MarkNoShows(ctx context.Context, clinicID uuid.UUID, before time.Time) ([]uuid.UUID, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
