package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/appointment"
	"github.com/hackgods/tea-session-scheduling/internal/metrics"
)

// AppointmentService is implemented by *appointment.Service.
type AppointmentService interface {
	SetAvailability(ctx context.Context, p appointment.Principal, start, end, dayType string) (int, error)
	RemoveAvailability(ctx context.Context, p appointment.Principal, start, end string) (int, error)
	GetAvailability(ctx context.Context, date time.Time) (*appointment.AvailableDay, error)
	ListAvailability(ctx context.Context, from, to *time.Time) ([]appointment.DayAvailability, error)

	BookForUser(ctx context.Context, p appointment.Principal, userID uuid.UUID, date string) (*appointment.Appointment, error)
	BookWalkIn(ctx context.Context, p appointment.Principal, date string, guest appointment.WalkIn) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, p appointment.Principal, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, p appointment.Principal, date *time.Time) ([]appointment.Appointment, error)

	Confirm(ctx context.Context, p appointment.Principal, id uuid.UUID) (*appointment.Appointment, error)
	Deny(ctx context.Context, p appointment.Principal, id uuid.UUID) error
	Flag(ctx context.Context, p appointment.Principal, id uuid.UUID, reason string) (*appointment.Appointment, error)
	Complete(ctx context.Context, p appointment.Principal, id uuid.UUID) (*appointment.Appointment, error)
}

var _ AppointmentService = (*appointment.Service)(nil)

type RouterConfig struct {
	Service        AppointmentService
	Auth           *Authenticator
	Health         *HealthHandler
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler // mounted at /metrics when set
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	svc := cfg.Service

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Get("/me/privileges", privilegesHandler)

		r.Get("/available-days", listAvailabilityHandler(svc, log))
		r.Get("/available-days/{date}", getAvailabilityHandler(svc, log))
		r.Post("/admin/availability", setAvailabilityHandler(svc, log))
		r.Delete("/admin/availability", removeAvailabilityHandler(svc, log))

		r.Get("/appointments", listAppointmentsHandler(svc, log))
		r.Post("/appointments", createAppointmentHandler(svc, log))
		r.Post("/appointments/walk-in", createWalkInHandler(svc, log))
		r.Get("/appointments/{id}", getAppointmentHandler(svc, log))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(svc, log))
		r.Post("/appointments/{id}/deny", denyAppointmentHandler(svc, log))
		r.Post("/appointments/{id}/flag", flagAppointmentHandler(svc, log))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(svc, log))
	})

	return r
}
