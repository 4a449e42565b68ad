package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/metadata"
	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

// AppointmentService is the part of *appointment.Service the handlers use.
type AppointmentService interface {
	CreateSchedule(ctx context.Context, scope appointment.Scope, anchor time.Time) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, scope appointment.Scope, order appointment.Order) ([]appointment.Appointment, error)
	VisitOf(a *appointment.Appointment) (visitschedule.Visit, error)

	CreateUnscheduled(ctx context.Context, parentID uuid.UUID, suggested time.Time) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) ([]appointment.Appointment, error)
	SkipAppointments(ctx context.Context, req appointment.SkipRequest) ([]appointment.Appointment, error)
	ChangeApptDatetime(ctx context.Context, id uuid.UUID, proposed time.Time) (*appointment.Appointment, appointment.DateChange, error)

	Start(ctx context.Context, id uuid.UUID) (*appointment.Transition, error)
	Close(ctx context.Context, id uuid.UUID) (*appointment.Transition, error)
	Cancel(ctx context.Context, id uuid.UUID) (*appointment.Transition, error)
	RefreshStatus(ctx context.Context, id uuid.UUID) (*appointment.Transition, error)
	MarkMissed(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

// MetadataWriter records data-collection facts for appointments.
type MetadataWriter interface {
	SaveVisitReport(ctx context.Context, r *metadata.VisitReport) error
	DeleteVisitReport(ctx context.Context, appointmentID uuid.UUID) error
	SeedRequiredForms(ctx context.Context, appointmentID uuid.UUID, crfs, requisitions []string) error
	ListFormEntries(ctx context.Context, appointmentID uuid.UUID) ([]metadata.FormEntry, error)
	SaveFormEntry(ctx context.Context, e metadata.FormEntry) error
}

type RouterConfig struct {
	Service  AppointmentService
	Metadata MetadataWriter
	Postgres Pinger
	Redis    Pinger
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service
	r.Post("/enrollments", enrollHandler(svc))
	r.Get("/subjects/{subject}/schedules/{visitSchedule}/{schedule}/appointments", listAppointmentsHandler(svc))

	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(svc))
		r.Delete("/", deleteAppointmentHandler(svc))
		r.Patch("/appt-datetime", changeDatetimeHandler(svc))
		r.Post("/unscheduled", createUnscheduledHandler(svc))
		r.Post("/skip", skipHandler(svc))

		r.Post("/start", transitionHandler(svc, AppointmentService.Start))
		r.Post("/close", transitionHandler(svc, AppointmentService.Close))
		r.Post("/cancel", transitionHandler(svc, AppointmentService.Cancel))
		r.Post("/refresh", transitionHandler(svc, AppointmentService.RefreshStatus))
		r.Post("/missed", markMissedHandler(svc))

		r.Put("/visit-report", saveVisitReportHandler(svc, cfg.Metadata))
		r.Delete("/visit-report", deleteVisitReportHandler(svc, cfg.Metadata))
		r.Get("/forms", listFormEntriesHandler(svc, cfg.Metadata))
		r.Put("/forms/{kind}/{name}", saveFormEntryHandler(svc, cfg.Metadata))
	})

	return r
}
