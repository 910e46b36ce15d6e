package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/salvi1605/kinetech-scheduling/internal/appointment"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

// SlotRequest is the body of a check, a booking and each entry of a batch.
type SlotRequest struct {
	PractitionerID string `json:"practitioner_id"`
	PatientID      string `json:"patient_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	SubSlot        int    `json:"sub_slot"`
	TreatmentType  string `json:"treatment_type"`
	Notes          string `json:"notes,omitempty"`
}

type BatchRequest struct {
	Appointments []SlotRequest `json:"appointments"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	ClinicID       uuid.UUID  `json:"clinic_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	Date           string     `json:"date"`
	StartTime      slot.Clock `json:"start_time"`
	SubSlot        int        `json:"sub_slot"`
	Status         string     `json:"status"`
	TreatmentType  string     `json:"treatment_type"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		ClinicID:       a.ClinicID,
		PractitionerID: a.PractitionerID,
		PatientID:      a.PatientID,
		Date:           a.Date.Format(slot.DateLayout),
		StartTime:      a.StartTime,
		SubSlot:        a.SubSlot,
		Status:         string(a.Status),
		TreatmentType:  a.TreatmentType,
		Notes:          a.Notes,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toAppointmentList(as []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(as))
	for i := range as {
		out = append(out, toAppointmentResponse(&as[i]))
	}
	return out
}

type CheckResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message"`
}

type BatchResult struct {
	Index       int                  `json:"index"`
	Status      string               `json:"status"` // created, rejected, invalid
	Appointment *AppointmentResponse `json:"appointment,omitempty"`
	Error       string               `json:"error,omitempty"`
	Details     string               `json:"details,omitempty"`
}

type BatchResponse struct {
	Created  int           `json:"created"`
	Rejected int           `json:"rejected"`
	Results  []BatchResult `json:"results"`
}

type FreeSlotsResponse struct {
	PractitionerID uuid.UUID      `json:"practitioner_id"`
	Date           string         `json:"date"`
	TreatmentType  string         `json:"treatment_type"`
	Slots          []slot.Opening `json:"slots"`
}

type WindowRequest struct {
	Weekday     int    `json:"weekday"`
	From        string `json:"from"`
	To          string `json:"to"`
	SlotMinutes int    `json:"slot_minutes"`
	Capacity    int    `json:"capacity"`
}

type AvailabilityRequest struct {
	Windows []WindowRequest `json:"windows"`
}

type WindowResponse struct {
	Weekday     int        `json:"weekday"`
	From        slot.Clock `json:"from"`
	To          slot.Clock `json:"to"`
	SlotMinutes int        `json:"slot_minutes"`
	Capacity    int        `json:"capacity"`
}

type ExceptionRequest struct {
	PractitionerID *string `json:"practitioner_id,omitempty"`
	Date           string  `json:"date"`
	From           *string `json:"from,omitempty"`
	To             *string `json:"to,omitempty"`
	Type           string  `json:"type"`
	Reason         string  `json:"reason"`
}

type ExceptionResponse struct {
	ID             uuid.UUID   `json:"id"`
	ClinicID       uuid.UUID   `json:"clinic_id"`
	PractitionerID *uuid.UUID  `json:"practitioner_id,omitempty"`
	Date           string      `json:"date"`
	From           *slot.Clock `json:"from,omitempty"`
	To             *slot.Clock `json:"to,omitempty"`
	Type           string      `json:"type"`
	Reason         string      `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
