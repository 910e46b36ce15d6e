package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/salvi1605/kinetech-scheduling/internal/appointment"
	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

// AppointmentService is the part of appointment.Service the handlers use.
type AppointmentService interface {
	CheckSlot(ctx context.Context, in appointment.BookingRequest) (*appointment.SlotCheck, error)
	FreeSlots(ctx context.Context, clinicID, practitionerID uuid.UUID, date, treatment string) ([]slot.Opening, error)

	CreateAppointment(ctx context.Context, in appointment.BookingRequest) (*appointment.Appointment, error)
	CreateAppointmentsBatch(ctx context.Context, clinicID uuid.UUID, ins []appointment.BookingRequest) ([]appointment.BatchOutcome, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsForDay(ctx context.Context, clinicID, practitionerID uuid.UUID, date string) ([]appointment.Appointment, error)

	CompleteAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)

	SetAvailability(ctx context.Context, clinicID, practitionerID uuid.UUID, in []appointment.WindowInput) ([]slot.AvailabilityWindow, error)
	AddException(ctx context.Context, clinicID uuid.UUID, in appointment.ExceptionInput) (*slot.ScheduleException, error)
	RemoveException(ctx context.Context, clinicID, id uuid.UUID) error
}

var _ AppointmentService = (*appointment.Service)(nil)

type RouterConfig struct {
	Service AppointmentService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, dependencyChecks(cfg)...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	r.Route("/clinics/{clinicID}", func(r chi.Router) {
		r.Post("/slots/check", checkSlotHandler(svc))

		r.Post("/appointments", createAppointmentHandler(svc))
		r.Post("/appointments/batch", createBatchHandler(svc))

		r.Route("/practitioners/{practitionerID}", func(r chi.Router) {
			r.Get("/free-slots", freeSlotsHandler(svc))
			r.Get("/appointments", listDayHandler(svc))
			r.Put("/availability", setAvailabilityHandler(svc))
		})

		r.Post("/exceptions", addExceptionHandler(svc))
		r.Delete("/exceptions/{id}", removeExceptionHandler(svc))
	})

	// Appointment endpoints
	r.Get("/appointments", listAppointmentsHandler(svc))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Delete("/appointments/{id}", deleteAppointmentHandler(svc))
	r.Post("/appointments/{id}/complete", transitionHandler(svc.CompleteAppointment))
	r.Post("/appointments/{id}/cancel", transitionHandler(svc.CancelAppointment))
	r.Post("/appointments/{id}/no-show", transitionHandler(svc.MarkNoShow))

	return r
}

func dependencyChecks(cfg RouterConfig) []DependencyCheck {
	var checks []DependencyCheck
	if cfg.PgPool != nil {
		checks = append(checks, DependencyCheck{
			Name:     "postgres",
			Critical: true,
			Ping:     cfg.PgPool.Ping,
		})
	}
	if cfg.Redis != nil {
		rdb := cfg.Redis
		checks = append(checks, DependencyCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return checks
}
