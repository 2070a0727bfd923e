package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/oncall/internal/api/handler"
	mw "github.com/edvin/oncall/internal/api/middleware"
	"github.com/edvin/oncall/internal/config"
	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/escalation"
)

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	corePool       *pgxpool.Pool
	temporalClient temporalclient.Client
	evaluator      *escalation.Evaluator
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, coreDB *pgxpool.Pool, temporalClient temporalclient.Client, services *core.Services, evaluator *escalation.Evaluator, cfg *config.Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		corePool:       coreDB,
		temporalClient: temporalClient,
		evaluator:      evaluator,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.corePool))

		// Incidents
		incident := handler.NewIncident(s.services.Incident, s.services.Event, s.services.Notification, s.services.User, s.evaluator)
		r.Get("/incidents", incident.List)
		r.Post("/incidents", incident.Create)
		r.Get("/incidents/{id}", incident.Get)
		r.Patch("/incidents/{id}", incident.Update)
		r.Delete("/incidents/{id}", incident.Delete)
		r.Post("/incidents/{id}/acknowledge", incident.Acknowledge)
		r.Post("/incidents/{id}/resolve", incident.Resolve)
		r.Post("/incidents/{id}/snooze", incident.Snooze)
		r.Post("/incidents/{id}/escalate", incident.Escalate)
		r.Get("/incidents/{id}/assignments", incident.ListAssignees)
		r.Post("/incidents/{id}/assignments", incident.Assign)
		r.Get("/incidents/{id}/escalation-events", incident.ListEvents)
		r.Get("/incidents/{id}/notifications", incident.ListNotifications)

		// Escalation policies
		policy := handler.NewPolicy(s.services.Policy)
		r.Get("/policies", policy.List)
		r.Post("/policies", policy.Create)
		r.Get("/policies/{id}", policy.Get)
		r.Put("/policies/{id}", policy.Update)
		r.Delete("/policies/{id}", policy.Delete)

		// Users
		user := handler.NewUser(s.services.User)
		r.Get("/users", user.List)
		r.Post("/users", user.Create)
		r.Get("/users/{id}", user.Get)
		r.Patch("/users/{id}", user.Update)
		r.Delete("/users/{id}", user.Delete)

		// Teams
		team := handler.NewTeam(s.services.Team)
		r.Get("/teams", team.List)
		r.Post("/teams", team.Create)
		r.Get("/teams/{id}", team.Get)
		r.Patch("/teams/{id}", team.Update)
		r.Delete("/teams/{id}", team.Delete)

		// Escalation events (global audit view)
		event := handler.NewEvent(s.services.Event)
		r.Get("/escalation/events", event.List)

		// Notifications (global audit view)
		notification := handler.NewNotification(s.services.Notification)
		r.Get("/notifications", notification.List)

		// API keys
		apiKey := handler.NewAPIKey(s.services.APIKey)
		r.Get("/api-keys", apiKey.List)
		r.Post("/api-keys", apiKey.Create)
		r.Get("/api-keys/{id}", apiKey.Get)
		r.Delete("/api-keys/{id}", apiKey.Revoke)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.corePool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
