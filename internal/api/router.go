package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/internal/metrics"
	"github.com/Zecruu/SpineLineDemo/internal/patient"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

type RouterConfig struct {
	Appointments AppointmentService
	Patients     patient.Store
	Users        identity.Directory
	AuditLog     AuditReader
	AuditSink    audit.Sink
	Auth         *Authenticator
	Health       *HealthHandler
	Logger       *logging.Logger
	HTTPMetrics  *metrics.HTTPMetrics
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	sink := cfg.AuditSink
	if sink == nil {
		sink = audit.Discard
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.HTTPMetrics))
	r.Use(middleware.Recoverer)

	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Route("/appointments", func(r chi.Router) {
			svc := cfg.Appointments
			r.Get("/", listAppointmentsHandler(svc, logger))
			r.Post("/", createAppointmentHandler(svc, logger))
			r.Get("/{id}", getAppointmentHandler(svc, logger))
			r.Put("/{id}", updateAppointmentHandler(svc, logger))
			r.Put("/{id}/confirm", transitionHandler(svc, appointment.StatusConfirmed, logger))
			r.Put("/{id}/checkin", transitionHandler(svc, appointment.StatusCheckedIn, logger))
			r.Put("/{id}/cancel", transitionHandler(svc, appointment.StatusCancelled, logger))
			r.Put("/{id}/no-show", transitionHandler(svc, appointment.StatusNoShow, logger))

			r.With(RequireRole(identity.RoleDoctor)).Put("/{id}/start", transitionHandler(svc, appointment.StatusInProgress, logger))
			r.With(RequireRole(identity.RoleDoctor)).Put("/{id}/complete", transitionHandler(svc, appointment.StatusCompleted, logger))
		})

		if cfg.Patients != nil {
			r.Route("/patients", func(r chi.Router) {
				store := cfg.Patients
				r.Get("/", listPatientsHandler(store, logger))
				r.Post("/", createPatientHandler(store, sink, logger))
				r.Get("/{id}", getPatientHandler(store, logger))
				r.Put("/{id}", updatePatientHandler(store, sink, logger))
				r.Post("/{id}/insurance", addInsuranceHandler(store, sink, logger))
				r.Post("/{id}/alert", addAlertHandler(store, sink, logger))

				r.With(RequireRole(identity.RoleDoctor)).Post("/{id}/referral", addReferralHandler(store, sink, logger))
			})
		}

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", currentUserHandler())
			r.Put("/{id}", updateUserHandler(cfg.Users, sink, logger))

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(identity.RoleAdmin))
				r.Get("/", listUsersHandler(cfg.Users, logger))
				r.Get("/{id}", getUserHandler(cfg.Users, logger))
				r.Put("/{id}/deactivate", setActiveHandler(cfg.Users, sink, false, logger))
				r.Put("/{id}/reactivate", setActiveHandler(cfg.Users, sink, true, logger))
			})
		})

		if cfg.AuditLog != nil {
			r.With(RequireRole(identity.RoleAdmin)).Get("/audit", listAuditHandler(cfg.AuditLog, logger))
		}
	})

	return r
}
