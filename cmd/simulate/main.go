package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/salvi1605/kinetech-scheduling/internal/config"
	"github.com/salvi1605/kinetech-scheduling/internal/db"
	"github.com/salvi1605/kinetech-scheduling/internal/logging"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	BookRatio   float64
	BatchRatio  float64
	CancelRatio float64
	ReadRatio   float64
	HotStarts   int // distinct start times every worker fights over
	SubSlots    int
	PostgresDSN string
}

type Practitioner struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
}

type DataPool struct {
	Practitioners []Practitioner
	Patients      map[uuid.UUID][]uuid.UUID // by clinic
	Date          string
	Starts        []string

	mu           sync.RWMutex
	appointments []uuid.UUID // created appointment IDs
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments = append(dp.appointments[:idx], dp.appointments[idx+1:]...)
	return id, true
}

var treatments = []string{"fkt", "fkt", "fkt", "rehabilitacion", "drenaje", "masaje"}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "prod")
		bootLog.Fatal().Err(err).Msg("failed to load base config")
	}
	log := logging.New(baseCfg.LogLevel, baseCfg.Env).With().Str("service", "simulate").Logger()
	log.Info().Msg("simulator starting")

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("hot_starts", cfg.HotStarts).
		Msg("config loaded")

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	log.Info().
		Int("practitioners", len(dataPool.Practitioners)).
		Str("date", dataPool.Date).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()

	if err := verifyNoDoubleBooking(verifyCtx, pgPool, baseCfg.ExclusiveTreatments); err != nil {
		log.Error().Err(err).Msg("invariant check failed")
		os.Exit(1)
	}
	log.Info().Msg("no double bookings and no exclusive conflicts found")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		BookRatio:   getFloat("SIM_BOOK_RATIO", 0.5),
		BatchRatio:  getFloat("SIM_BATCH_RATIO", 0.1),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.3),
		HotStarts:   getInt("SIM_HOT_STARTS", 4),
		SubSlots:    getInt("SIM_SUB_SLOTS", 3),
		PostgresDSN: base.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookRatio + cfg.BatchRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.BatchRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HotStarts <= 0 || cfg.SubSlots <= 0 {
		return errors.New("SIM_HOT_STARTS and SIM_SUB_SLOTS must be > 0")
	}
	return nil
}

// nextWeekday returns the first Monday to Friday date after today.
func nextWeekday(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{
		Patients: make(map[uuid.UUID][]uuid.UUID),
		Date:     nextWeekday(time.Now()).Format(slot.DateLayout),
	}

	start := slot.MustClock("09:00")
	for i := 0; i < cfg.HotStarts; i++ {
		dataPool.Starts = append(dataPool.Starts, start.Add(30*i).String())
	}

	rows, err := pool.Query(ctx, `SELECT id, clinic_id FROM practitioners`)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	for rows.Next() {
		var p Practitioner
		if err := rows.Scan(&p.ID, &p.ClinicID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Practitioners = append(dataPool.Practitioners, p)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT id, clinic_id FROM (
			SELECT id, clinic_id, row_number() OVER (PARTITION BY clinic_id) AS rn
			FROM patients
		) p
		WHERE rn <= 200
	`)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id, clinicID uuid.UUID
		if err := rows.Scan(&id, &clinicID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients[clinicID] = append(dataPool.Patients[clinicID], id)
	}
	rows.Close()

	if len(dataPool.Practitioners) == 0 {
		return nil, errors.New("no practitioners loaded, run cmd/seed first")
	}
	if len(dataPool.Patients) == 0 {
		return nil, errors.New("no patients loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookRatio+s.config.BatchRatio:
				s.doBatch(ctx, rng)
			case r < s.config.BookRatio+s.config.BatchRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doCheck(ctx, rng)
				case 1:
					s.doFreeSlots(ctx, rng)
				case 2:
					s.doListByPatient(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) randomSlot(rng *rand.Rand) (Practitioner, map[string]any) {
	p := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	patients := s.pool.Patients[p.ClinicID]

	body := map[string]any{
		"practitioner_id": p.ID.String(),
		"date":            s.pool.Date,
		"start_time":      s.pool.Starts[rng.Intn(len(s.pool.Starts))],
		"sub_slot":        rng.Intn(s.config.SubSlots) + 1,
		"treatment_type":  treatments[rng.Intn(len(treatments))],
	}
	if len(patients) > 0 {
		body["patient_id"] = patients[rng.Intn(len(patients))].String()
	}
	return p, body
}

// post sends a JSON body and returns the status code and raw response.
func (s *Simulator) post(ctx context.Context, url string, body any) (int, []byte, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.send(req)
}

func (s *Simulator) get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	return s.send(req)
}

func (s *Simulator) send(req *http.Request) (int, []byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func errorCode(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		return "unknown"
	}
	return e.Error
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	p, body := s.randomSlot(rng)

	start := time.Now()
	status, resp, err := s.post(ctx, fmt.Sprintf("%s/clinics/%s/appointments", s.config.APIBaseURL, p.ClinicID), body)
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, false, "")
		}
		return
	}

	switch status {
	case http.StatusCreated:
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(resp, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(appt.ID)
		}
		s.metrics.Booking.Record(latency, true, "")
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, errorCode(resp))
	default:
		s.metrics.Booking.Record(latency, false, "")
	}
}

func (s *Simulator) doBatch(ctx context.Context, rng *rand.Rand) {
	p, first := s.randomSlot(rng)
	entries := []map[string]any{first}
	for i := 0; i < 2; i++ {
		_, next := s.randomSlot(rng)
		next["practitioner_id"] = p.ID.String()
		if patient, ok := first["patient_id"]; ok {
			next["patient_id"] = patient
		}
		entries = append(entries, next)
	}

	start := time.Now()
	status, resp, err := s.post(ctx, fmt.Sprintf("%s/clinics/%s/appointments/batch", s.config.APIBaseURL, p.ClinicID),
		map[string]any{"appointments": entries})
	latency := time.Since(start)

	if err != nil || status != http.StatusOK {
		if err == nil && status == http.StatusConflict {
			s.metrics.Batch.Record(latency, false, errorCode(resp))
		} else if ctx.Err() == nil {
			s.metrics.Batch.Record(latency, false, "")
		}
		return
	}

	var out struct {
		Results []struct {
			Status      string `json:"status"`
			Error       string `json:"error"`
			Appointment *struct {
				ID uuid.UUID `json:"id"`
			} `json:"appointment"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		s.metrics.Batch.Record(latency, false, "")
		return
	}

	for _, r := range out.Results {
		switch r.Status {
		case "created":
			if r.Appointment != nil {
				s.pool.AddAppointment(r.Appointment.ID)
			}
			s.metrics.Batch.Record(latency, true, "")
		case "rejected":
			s.metrics.Batch.Record(latency, false, r.Error)
		default:
			s.metrics.Batch.Record(latency, false, "")
		}
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, resp, err := s.post(ctx, fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, id), nil)
	latency := time.Since(start)

	switch {
	case err != nil:
		if ctx.Err() == nil {
			s.metrics.Cancel.Record(latency, false, "")
		}
	case status == http.StatusOK:
		s.metrics.Cancel.Record(latency, true, "")
	case status == http.StatusConflict:
		s.metrics.Cancel.Record(latency, false, errorCode(resp))
	default:
		s.metrics.Cancel.Record(latency, false, "")
	}
}

func (s *Simulator) doCheck(ctx context.Context, rng *rand.Rand) {
	p, body := s.randomSlot(rng)

	start := time.Now()
	status, _, err := s.post(ctx, fmt.Sprintf("%s/clinics/%s/slots/check", s.config.APIBaseURL, p.ClinicID), body)
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		return
	}
	s.metrics.Check.Record(latency, err == nil && status == http.StatusOK, "")
}

func (s *Simulator) doFreeSlots(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	treatment := treatments[rng.Intn(len(treatments))]

	start := time.Now()
	status, _, err := s.get(ctx, fmt.Sprintf("%s/clinics/%s/practitioners/%s/free-slots?date=%s&treatment=%s",
		s.config.APIBaseURL, p.ClinicID, p.ID, s.pool.Date, treatment))
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		return
	}
	s.metrics.FreeSlots.Record(latency, err == nil && status == http.StatusOK, "")
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	patients := s.pool.Patients[p.ClinicID]
	if len(patients) == 0 {
		return
	}
	patientID := patients[rng.Intn(len(patients))]

	start := time.Now()
	status, _, err := s.get(ctx, fmt.Sprintf("%s/appointments?patient_id=%s&limit=20&offset=0", s.config.APIBaseURL, patientID))
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		return
	}
	s.metrics.ListByPatient.Record(latency, err == nil && status == http.StatusOK, "")
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %s x %d start times x %d sub-slots\n", s.pool.Date, len(s.pool.Starts), s.config.SubSlots)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Batch entries", &s.metrics.Batch)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Slot check", &s.metrics.Check)
	printOperationReport("Free slots", &s.metrics.FreeSlots)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
}

// verifyNoDoubleBooking reads the stored appointments back and fails if two
// active rows share a sub-slot or an exclusive treatment shares its slot.
func verifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool, exclusive []string) error {
	var dupes int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY practitioner_id, date, start_time, sub_slot
			HAVING count(*) > 1
		) d
	`).Scan(&dupes)
	if err != nil {
		return fmt.Errorf("count duplicate sub-slots: %w", err)
	}

	var conflicts int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY practitioner_id, date, start_time
			HAVING count(*) > 1
			   AND bool_or(lower(treatment_type) = ANY($1))
		) c
	`, slot.NewTreatmentSet(exclusive...).Names()).Scan(&conflicts)
	if err != nil {
		return fmt.Errorf("count exclusive conflicts: %w", err)
	}

	if dupes > 0 || conflicts > 0 {
		return fmt.Errorf("found %d double-booked sub-slots and %d exclusive conflicts", dupes, conflicts)
	}
	return nil
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
