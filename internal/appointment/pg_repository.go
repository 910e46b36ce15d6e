package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/salvi1605/kinetech-scheduling/internal/db"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Helpers

const microsPerMinute = int64(time.Minute / time.Microsecond)

func pgClock(c slot.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * microsPerMinute, Valid: true}
}

func clockFromPg(t pgtype.Time) slot.Clock {
	return slot.Clock(t.Microseconds / microsPerMinute)
}

func pgOptionalClock(c *slot.Clock) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return pgClock(*c)
}

func isSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == db.SlotUniqueIndex
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var start, end, latest pgtype.Time

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Timezone,
		&start,
		&end,
		&latest,
		&c.MinSlotMinutes,
		&c.SubSlotsPerBlock,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	c.WorkdayStart = clockFromPg(start)
	c.WorkdayEnd = clockFromPg(end)
	c.LatestStart = clockFromPg(latest)
	return &c, nil
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	var specialty *string

	err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start pgtype.Time

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.PractitionerID,
		&a.PatientID,
		&a.Date,
		&start,
		&a.SubSlot,
		&a.Status,
		&a.TreatmentType,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTime = clockFromPg(start)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const appointmentColumns = `id, clinic_id, practitioner_id, patient_id, date, start_time, sub_slot, status, treatment_type, notes, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone, workday_start, workday_end, latest_start,
		       min_slot_minutes, sub_slots_per_block, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) ListClinics(ctx context.Context) ([]Clinic, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, timezone, workday_start, workday_end, latest_start,
		       min_slot_minutes, sub_slots_per_block, created_at, updated_at
		FROM clinics
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, specialty, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListWindowsByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]slot.AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT practitioner_id, weekday, from_time, to_time, slot_minutes, capacity
		FROM availability_windows
		WHERE practitioner_id = $1
		ORDER BY weekday, from_time
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []slot.AvailabilityWindow
	for rows.Next() {
		var w slot.AvailabilityWindow
		var weekday int16
		var from, to pgtype.Time
		if err := rows.Scan(&w.PractitionerID, &weekday, &from, &to, &w.SlotMinutes, &w.Capacity); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		w.From = clockFromPg(from)
		w.To = clockFromPg(to)
		result = append(result, w)
	}
	return result, rows.Err()
}

func (r *PgRepository) ReplaceWindows(ctx context.Context, practitionerID uuid.UUID, windows []slot.AvailabilityWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM availability_windows WHERE practitioner_id = $1`, practitionerID); err != nil {
		return fmt.Errorf("clear windows: %w", err)
	}

	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			INSERT INTO availability_windows (id, practitioner_id, weekday, from_time, to_time, slot_minutes, capacity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), practitionerID, int16(w.Weekday), pgClock(w.From), pgClock(w.To), w.SlotMinutes, w.Capacity)
		if err != nil {
			return fmt.Errorf("insert window: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) ListExceptions(ctx context.Context, clinicID uuid.UUID, date time.Time, practitionerID uuid.UUID) ([]slot.ScheduleException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, clinic_id, practitioner_id, date, from_time, to_time, type, reason
		FROM schedule_exceptions
		WHERE clinic_id = $1
		  AND date = $2
		  AND (practitioner_id IS NULL OR practitioner_id = $3)
	`, clinicID, date, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []slot.ScheduleException
	for rows.Next() {
		var ex slot.ScheduleException
		var from, to pgtype.Time
		var typ string
		if err := rows.Scan(&ex.ID, &ex.ClinicID, &ex.PractitionerID, &ex.Date, &from, &to, &typ, &ex.Reason); err != nil {
			return nil, err
		}
		ex.Type = slot.ExceptionType(typ)
		if from.Valid {
			c := clockFromPg(from)
			ex.From = &c
		}
		if to.Valid {
			c := clockFromPg(to)
			ex.To = &c
		}
		result = append(result, ex)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateException(ctx context.Context, ex *slot.ScheduleException) error {
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO schedule_exceptions (id, clinic_id, practitioner_id, date, from_time, to_time, type, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ex.ID, ex.ClinicID, ex.PractitionerID, ex.Date, pgOptionalClock(ex.From), pgOptionalClock(ex.To), string(ex.Type), ex.Reason)
	if err != nil {
		return fmt.Errorf("insert schedule exception: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteException(ctx context.Context, clinicID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedule_exceptions WHERE id = $1 AND clinic_id = $2`, id, clinicID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExceptionNotFound
	}
	return nil
}

func (r *PgRepository) ListActiveForPractitionerDay(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND date = $2
		  AND status <> 'cancelled'
		ORDER BY start_time, sub_slot
	`, practitionerID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetActiveAppointmentAt(ctx context.Context, practitionerID uuid.UUID, date time.Time, start slot.Clock, subSlot int) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND date = $2
		  AND start_time = $3
		  AND sub_slot = $4
		  AND status <> 'cancelled'
	`, practitionerID, date, pgClock(start), subSlot)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func insertAppointment(ctx context.Context, q querier, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := q.QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, practitioner_id, patient_id, date, start_time, sub_slot,
		                          status, treatment_type, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ClinicID, a.PractitionerID, a.PatientID, a.Date, pgClock(a.StartTime), a.SubSlot,
		string(a.Status), a.TreatmentType, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		if isSlotViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	*a = *created
	return nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	return insertAppointment(ctx, r.pool, a)
}

func (r *PgRepository) CreateAppointments(ctx context.Context, as []*Appointment) ([]error, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rowErrs := make([]error, len(as))
	for i, a := range as {
		// Nested Begin is a savepoint; a collision only rolls back this row.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}

		if err := insertAppointment(ctx, sp, a); err != nil {
			_ = sp.Rollback(ctx)
			if errors.Is(err, ErrSlotTaken) {
				rowErrs[i] = err
				continue
			}
			return nil, err
		}

		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rowErrs, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) MarkNoShows(ctx context.Context, clinicID uuid.UUID, before time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE appointments
		SET status = 'no_show',
		    updated_at = now()
		WHERE clinic_id = $1
		  AND status = 'scheduled'
		  AND date < $2
		RETURNING id
	`, clinicID, before)
	if err != nil {
		return nil, err
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("mark no-shows: %w", err)
	}
	return ids, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
