// Package api serves the HTTP surface: the cron sync trigger, unsubscribe
// actions, account connection and message management.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsweep/internal/api/handler"
	mw "github.com/nhle/mailsweep/internal/api/middleware"
	"github.com/nhle/mailsweep/internal/api/response"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Syncer       handler.Syncer
	Unsubscriber handler.Unsubscriber
	Connector    handler.Connector
	Messages     handler.MessageStore
	Artifacts    handler.ArtifactOpener
	DB           Pinger

	// Poller is nil when background polling is off; its routes are then
	// not mounted.
	Poller handler.SyncPoller
}

type Server struct {
	router     chi.Router
	logger     zerolog.Logger
	deps       Deps
	cronSecret string
}

func NewServer(logger zerolog.Logger, deps Deps, cronSecret string) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.With().Str("component", "api").Logger(),
		deps:       deps,
		cronSecret: cronSecret,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api", func(r chi.Router) {
		// Scheduled trigger
		r.Group(func(r chi.Router) {
			r.Use(mw.CronSecret(s.cronSecret))
			sync := handler.NewSync(s.deps.Syncer)
			r.Get("/cron/sync", sync.All)
			r.Post("/cron/sync", sync.All)
			if s.deps.Poller != nil {
				r.Post("/sync/trigger", handler.NewPoller(s.deps.Poller).Trigger)
			}
		})

		// Background sync
		if s.deps.Poller != nil {
			r.Get("/sync/status", handler.NewPoller(s.deps.Poller).Status)
		}

		// Account connection
		oauth := handler.NewOAuth(s.deps.Connector)
		r.Get("/oauth/url", oauth.URL)
		r.Post("/oauth/callback", oauth.Callback)

		// Messages
		messages := handler.NewMessages(s.deps.Messages)
		r.Get("/messages", messages.List)
		r.Get("/messages/{id}", messages.Get)
		r.Put("/messages/{id}/category", messages.SetCategory)
		r.Delete("/messages/{id}", messages.Delete)

		// Unsubscribe
		unsub := handler.NewUnsubscribe(s.deps.Unsubscriber)
		r.Post("/messages/{id}/unsubscribe", unsub.Run)
		r.Get("/messages/{id}/unsubscribe", unsub.Latest)
		r.Post("/unsubscribe/bulk", unsub.Bulk)
	})

	artifacts := handler.NewArtifacts(s.deps.Artifacts)
	s.router.Get("/artifacts/*", artifacts.Get)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			response.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
