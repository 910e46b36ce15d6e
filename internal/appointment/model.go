package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Clinic carries the per-clinic settings the resolver and the grid depend on.
type Clinic struct {
	ID               uuid.UUID
	Name             string
	Timezone         string
	WorkdayStart     slot.Clock
	WorkdayEnd       slot.Clock
	LatestStart      slot.Clock
	MinSlotMinutes   int
	SubSlotsPerBlock int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c *Clinic) Policy(exclusive slot.TreatmentSet) slot.Policy {
	latest := c.LatestStart
	if c.WorkdayEnd > 0 && (latest == 0 || latest > c.WorkdayEnd) {
		latest = c.WorkdayEnd
	}
	return slot.Policy{
		WorkdayStart:        c.WorkdayStart,
		LatestStart:         latest,
		ExclusiveTreatments: exclusive,
	}
}

func (c *Clinic) Grid() slot.Grid {
	return slot.Grid{SlotMinutes: c.MinSlotMinutes, SubSlots: c.SubSlotsPerBlock}
}

type Practitioner struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	Date           time.Time
	StartTime      slot.Clock
	SubSlot        int
	Status         Status
	TreatmentType  string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a *Appointment) Booking() slot.Booking {
	return slot.Booking{
		ID:             a.ID,
		PractitionerID: a.PractitionerID,
		Date:           a.Date,
		StartTime:      a.StartTime,
		SubSlot:        a.SubSlot,
		TreatmentType:  a.TreatmentType,
		Cancelled:      a.Status == StatusCancelled,
	}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
