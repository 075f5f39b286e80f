// Package server hosts the HTTP surface: the Telegram webhook route and the
// health endpoint for container probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"tg_ai_gate_bot/internal/logging"
)

const (
	mongoPingTimeout  = 2 * time.Second
	readHeaderTimeout = 2 * time.Second
	listenPrefix      = ":"
)

// MongoChecker defines the subset of MongoDB client behavior required for health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// Options describes the routes mounted on the server. Webhook may be nil when
// updates arrive by long polling; MongoChecker is nil for in-memory registries.
type Options struct {
	Port         int
	WebhookPath  string
	Webhook      http.Handler
	MongoChecker MongoChecker
}

// Server hosts the HTTP routes and owns the underlying HTTP server.
type Server struct {
	server       *http.Server
	logger       *logrus.Entry
	mongoChecker MongoChecker
}

type healthResponse struct {
	Status string `json:"status"`
	Mongo  string `json:"mongo,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New constructs the server with GET /healthz and, when a webhook handler is
// supplied, POST on the webhook path.
func New(opts Options, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:       logger,
		mongoChecker: opts.MongoChecker,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.NotFound(srv.handleNotFound)
	router.MethodNotAllowed(srv.handleNotAllowed)

	router.Get("/healthz", srv.handleHealth)
	if opts.Webhook != nil && opts.WebhookPath != "" {
		router.Method(http.MethodPost, opts.WebhookPath, opts.Webhook)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", listenPrefix, opts.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "http_listen",
		"addr":  s.server.Addr,
	}).Info("starting http server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "http_stopped").Info("http server stopped")
			return nil
		}

		return fmt.Errorf("http server listen: %w", err)
	}

	s.logger.WithField("event", "http_stopped").Info("http server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

// handleHealth always answers 200; a failed Mongo ping reports degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if s.mongoChecker != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), mongoPingTimeout)
		err := s.mongoChecker.Ping(pingCtx)
		cancel()

		if err != nil {
			s.logger.WithFields(logging.Fields{
				"event":      "health_mongo_error",
				"request_id": middleware.GetReqID(r.Context()),
			}).WithError(err).Warn("mongo ping failed during health check")

			resp.Status = "degraded"
			resp.Mongo = "error"
		}
	}

	render.JSON(w, r, resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, errorResponse{Error: "not found"})
}

func (s *Server) handleNotAllowed(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusMethodNotAllowed)
	render.JSON(w, r, errorResponse{Error: "method not allowed"})
}
