package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/openscout/openscout/pkg/catalog"
	"github.com/openscout/openscout/pkg/discovery"
	"github.com/openscout/openscout/pkg/layers"
	"github.com/openscout/openscout/pkg/telemetry"
)

// Options configures the HTTP server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8484"
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 60 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Orchestrator *discovery.Orchestrator
	Invoker      discovery.ToolInvoker
	Store        discovery.Store
	Layers       *layers.Registry
	Catalog      *catalog.Registry
	Tokens       discovery.TokenSource
	Metrics      *telemetry.Metrics
}

// Server is the HTTP API server.
type Server struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	http   *http.Server
}

// NewServer creates the HTTP server with its routes mounted.
func NewServer(opts Options, deps Deps, logger zerolog.Logger) *Server {
	opts.applyDefaults()
	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withIdentity)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/layers", s.handleListLayers)
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/invoke", s.handleInvokeTool)

		r.Post("/connections", s.handleCreateConnection)
		r.Get("/connections", s.handleListConnections)

		r.Post("/discoveries", s.handleCreateDiscovery)
		r.Get("/discoveries", s.handleListDiscoveries)
		r.Get("/discoveries/{id}", s.handleGetDiscovery)
		r.Get("/discoveries/{id}/graph", s.handleGetGraph)
	})

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler returns the mounted HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.opts.Addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.respond(w, status, errorResponse{
		Error:         message,
		CorrelationID: CorrelationID(r.Context()),
	})
}
