package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/salvi1605/kinetech-scheduling/internal/appointment"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

var errBadUUID = errors.New("must be a valid UUID")

// bookingRequest converts a body entry. The patient is optional so the same
// shape serves slot checks.
func bookingRequest(clinicID uuid.UUID, req SlotRequest) (appointment.BookingRequest, string, error) {
	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		return appointment.BookingRequest{}, "invalid_practitioner_id", errBadUUID
	}

	var patientID uuid.UUID
	if req.PatientID != "" {
		if patientID, err = uuid.Parse(req.PatientID); err != nil {
			return appointment.BookingRequest{}, "invalid_patient_id", errBadUUID
		}
	}

	return appointment.BookingRequest{
		ClinicID:       clinicID,
		PractitionerID: practitionerID,
		PatientID:      patientID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		SubSlot:        req.SubSlot,
		TreatmentType:  req.TreatmentType,
		Notes:          req.Notes,
	}, "", nil
}

func checkSlotHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}

		var req SlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		in, code, err := bookingRequest(clinicID, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, code, err.Error())
			return
		}

		check, err := svc.CheckSlot(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := CheckResponse{Accepted: check.Decision.Accepted, Message: check.Message}
		if check.Decision.Rejected() {
			resp.Reason = string(check.Decision.Reason)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func freeSlotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}
		practitionerID, ok := uuidParam(w, r, "practitionerID", "invalid_practitioner_id")
		if !ok {
			return
		}

		date := r.URL.Query().Get("date")
		treatment := r.URL.Query().Get("treatment")

		openings, err := svc.FreeSlots(r.Context(), clinicID, practitionerID, date, treatment)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, FreeSlotsResponse{
			PractitionerID: practitionerID,
			Date:           date,
			TreatmentType:  treatment,
			Slots:          openings,
		})
	}
}

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}

		var req SlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		in, code, err := bookingRequest(clinicID, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, code, err.Error())
			return
		}
		if in.PatientID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id is required")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func createBatchHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}

		var req BatchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Appointments) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "appointments must not be empty")
			return
		}

		// Entries that fail to convert are answered without reaching the service.
		results := make([]BatchResult, len(req.Appointments))
		var (
			ins     []appointment.BookingRequest
			indexes []int
		)
		for i, entry := range req.Appointments {
			results[i].Index = i
			in, code, err := bookingRequest(clinicID, entry)
			if err == nil && in.PatientID == uuid.Nil {
				code, err = "invalid_patient_id", errors.New("patient_id is required")
			}
			if err != nil {
				results[i].Status = "invalid"
				results[i].Error = code
				results[i].Details = err.Error()
				continue
			}
			ins = append(ins, in)
			indexes = append(indexes, i)
		}

		if len(ins) > 0 {
			outcomes, err := svc.CreateAppointmentsBatch(r.Context(), clinicID, ins)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			for j, o := range outcomes {
				results[indexes[j]] = batchResult(indexes[j], o)
			}
		}

		resp := BatchResponse{Results: results}
		for _, res := range results {
			switch res.Status {
			case "created":
				resp.Created++
			case "rejected":
				resp.Rejected++
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func batchResult(index int, o appointment.BatchOutcome) BatchResult {
	res := BatchResult{Index: index}
	switch {
	case o.Appointment != nil:
		appt := toAppointmentResponse(o.Appointment)
		res.Status = "created"
		res.Appointment = &appt
	case o.Rejection != nil:
		res.Status = "rejected"
		res.Error = string(o.Rejection.Reason())
		res.Details = o.Rejection.Error()
	default:
		res.Status = "invalid"
		res.Error = "invalid_request"
		if o.Err != nil {
			res.Details = o.Err.Error()
		}
	}
	return res
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		patientID, err := uuid.Parse(q.Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		limit, offset := 0, 0
		if v := q.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
				return
			}
		}
		if v := q.Get("offset"); v != "" {
			if offset, err = strconv.Atoi(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
				return
			}
		}

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(appts))
	}
}

func listDayHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}
		practitionerID, ok := uuidParam(w, r, "practitionerID", "invalid_practitioner_id")
		if !ok {
			return
		}

		appts, err := svc.ListAppointmentsForDay(r.Context(), clinicID, practitionerID, r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(appts))
	}
}

func transitionHandler(fn func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := fn(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func setAvailabilityHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}
		practitionerID, ok := uuidParam(w, r, "practitionerID", "invalid_practitioner_id")
		if !ok {
			return
		}

		var req AvailabilityRequest
		if !decodeBody(w, r, &req) {
			return
		}

		in := make([]appointment.WindowInput, 0, len(req.Windows))
		for _, win := range req.Windows {
			in = append(in, appointment.WindowInput{
				Weekday:     win.Weekday,
				From:        win.From,
				To:          win.To,
				SlotMinutes: win.SlotMinutes,
				Capacity:    win.Capacity,
			})
		}

		windows, err := svc.SetAvailability(r.Context(), clinicID, practitionerID, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]WindowResponse, 0, len(windows))
		for _, win := range windows {
			resp = append(resp, WindowResponse{
				Weekday:     int(win.Weekday),
				From:        win.From,
				To:          win.To,
				SlotMinutes: win.SlotMinutes,
				Capacity:    win.Capacity,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addExceptionHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}

		var req ExceptionRequest
		if !decodeBody(w, r, &req) {
			return
		}

		in := appointment.ExceptionInput{
			Date:   req.Date,
			From:   req.From,
			To:     req.To,
			Type:   req.Type,
			Reason: req.Reason,
		}
		if req.PractitionerID != nil {
			id, err := uuid.Parse(*req.PractitionerID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
				return
			}
			in.PractitionerID = &id
		}

		ex, err := svc.AddException(r.Context(), clinicID, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toExceptionResponse(ex))
	}
}

func toExceptionResponse(ex *slot.ScheduleException) ExceptionResponse {
	return ExceptionResponse{
		ID:             ex.ID,
		ClinicID:       ex.ClinicID,
		PractitionerID: ex.PractitionerID,
		Date:           ex.Date.Format(slot.DateLayout),
		From:           ex.From,
		To:             ex.To,
		Type:           string(ex.Type),
		Reason:         ex.Reason,
	}
}

func removeExceptionHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "invalid_exception_id")
		if !ok {
			return
		}

		if err := svc.RemoveException(r.Context(), clinicID, id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
