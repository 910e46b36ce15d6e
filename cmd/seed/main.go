package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/salvi1605/kinetech-scheduling/internal/appointment"
	"github.com/salvi1605/kinetech-scheduling/internal/config"
	"github.com/salvi1605/kinetech-scheduling/internal/db"
	"github.com/salvi1605/kinetech-scheduling/internal/logging"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

const (
	clinicCount          = 3
	practitionersPerSite = 6
	patientsPerSite      = 300
)

var specialties = []string{
	"Kinesiología",
	"Fisioterapia deportiva",
	"Rehabilitación neurológica",
	"Drenaje linfático",
	"Traumatología",
	"Osteopatía",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "prod")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "seed").Logger()
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("apply schema")
	}

	gofakeit.Seed(0)
	repo := appointment.NewPgRepository(pool)

	for i := 0; i < clinicCount; i++ {
		clinicID, err := seedClinic(ctx, pool, cfg.DefaultTimezone)
		if err != nil {
			log.Fatal().Err(err).Msg("seed clinic")
		}
		clinicLog := log.With().Str("clinic_id", clinicID.String()).Logger()

		practitioners, err := seedPractitioners(ctx, pool, clinicID, practitionersPerSite)
		if err != nil {
			clinicLog.Fatal().Err(err).Msg("seed practitioners")
		}
		if err := seedPatients(ctx, pool, clinicID, patientsPerSite); err != nil {
			clinicLog.Fatal().Err(err).Msg("seed patients")
		}
		if err := seedAvailability(ctx, repo, practitioners); err != nil {
			clinicLog.Fatal().Err(err).Msg("seed availability")
		}
		if err := seedExceptions(ctx, repo, clinicID, practitioners); err != nil {
			clinicLog.Fatal().Err(err).Msg("seed exceptions")
		}

		clinicLog.Info().
			Int("practitioners", len(practitioners)).
			Int("patients", patientsPerSite).
			Msg("clinic seeded")
	}

	log.Info().Msg("seed complete")
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool, timezone string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO clinics (id, name, timezone, workday_start, workday_end, latest_start,
		                     min_slot_minutes, sub_slots_per_block, created_at, updated_at)
		VALUES ($1, $2, $3, '07:00', '20:00', '19:00', 30, 3, now(), now())
	`, id, "Kinesio "+gofakeit.City(), timezone)
	return id, err
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) ([]uuid.UUID, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, clinic_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, clinicID, gofakeit.Name(), spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, clinic_id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), clinicID, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	return nil
}

// seedAvailability gives every practitioner but the last a split weekday
// schedule. The last one keeps no windows and is bookable at any hour.
func seedAvailability(ctx context.Context, repo *appointment.PgRepository, practitioners []uuid.UUID) error {
	for i, id := range practitioners {
		if i == len(practitioners)-1 {
			break
		}

		var windows []slot.AvailabilityWindow
		for wd := time.Monday; wd <= time.Friday; wd++ {
			if gofakeit.Number(0, 4) == 0 {
				continue // day off
			}
			windows = append(windows,
				slot.AvailabilityWindow{PractitionerID: id, Weekday: wd, From: slot.MustClock("08:00"), To: slot.MustClock("13:00"), SlotMinutes: 30},
				slot.AvailabilityWindow{PractitionerID: id, Weekday: wd, From: slot.MustClock("14:00"), To: slot.MustClock("18:00"), SlotMinutes: 30, Capacity: 2},
			)
		}

		if err := repo.ReplaceWindows(ctx, id, windows); err != nil {
			return err
		}
	}
	return nil
}

func seedExceptions(ctx context.Context, repo *appointment.PgRepository, clinicID uuid.UUID, practitioners []uuid.UUID) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	blocked := practitioners[gofakeit.Number(0, len(practitioners)-1)]
	if err := repo.CreateException(ctx, &slot.ScheduleException{
		ClinicID:       clinicID,
		PractitionerID: &blocked,
		Date:           today.AddDate(0, 0, gofakeit.Number(1, 7)),
		Type:           slot.ExceptionPractitionerBlock,
		Reason:         "licencia",
	}); err != nil {
		return err
	}

	from, to := slot.MustClock("12:00"), slot.MustClock("14:00")
	return repo.CreateException(ctx, &slot.ScheduleException{
		ClinicID: clinicID,
		Date:     today.AddDate(0, 0, gofakeit.Number(1, 14)),
		From:     &from,
		To:       &to,
		Type:     slot.ExceptionClosed,
		Reason:   gofakeit.Sentence(4),
	})
}
