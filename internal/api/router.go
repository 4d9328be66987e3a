package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

type RouterConfig struct {
	Appointments   *appointment.Service
	Catalog        *timeslot.Catalog
	Notifications  *notification.Service
	Health         *HealthHandler
	Logger         zerolog.Logger
	Metrics        *metrics.SchedulingMetrics
	MetricsHandler http.Handler // served on /metrics when set
	ActorJWTSecret string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(cfg.ActorJWTSecret))

		r.Get("/providers/{providerID}/availability", availabilityHandler(cfg.Catalog, cfg.Logger))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.Get("/", listAppointmentsHandler(cfg.Appointments, cfg.Logger))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.Post("/{id}/complete", completeAppointmentHandler(cfg.Appointments, cfg.Logger))
		})

		if cfg.Notifications != nil {
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", listNotificationsHandler(cfg.Notifications, cfg.Logger))
				r.Get("/unread-count", unreadCountHandler(cfg.Notifications, cfg.Logger))
				r.Get("/stream", streamNotificationsHandler(cfg.Notifications, cfg.Logger))
				r.Post("/{id}/read", markReadHandler(cfg.Notifications, cfg.Logger))
			})
		}
	})

	return r
}
