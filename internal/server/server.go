// Package server exposes the carbon pipeline over HTTP: document import,
// calculation records, catalog browsing. Authentication is bearer-token
// checking only; anything session-shaped lives upstream.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terrametric/carbon-cli/internal/compliance"
	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/pipeline"
	"github.com/terrametric/carbon-cli/internal/ratelimit"
	"github.com/terrametric/carbon-cli/internal/store"
)

// Options configures the HTTP server.
type Options struct {
	APITokens      []string
	AllowedOrigins []string
	MaxFileBytes   int64

	// Import rate limiting, per user.
	RateWindow time.Duration
	RateMax    int

	// Events receives audit events for record creation. Optional.
	Events *events.Queue
}

// Server holds the wired handlers.
type Server struct {
	pipe    *pipeline.Pipeline
	store   store.Store
	checker *compliance.Checker
	limiter *ratelimit.Limiter
	opts    Options
}

// New wires a Server. The compliance checker may be nil, in which case
// saved records carry no compliance section.
func New(pipe *pipeline.Pipeline, st store.Store, checker *compliance.Checker, opts Options) *Server {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 20 << 20
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.RateMax <= 0 {
		opts.RateMax = 10
	}
	return &Server{
		pipe:    pipe,
		store:   st,
		checker: checker,
		limiter: ratelimit.New(opts.RateWindow, opts.RateMax),
		opts:    opts,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:           300,
		AllowCredentials: false,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.auth)

		api.With(s.importRateLimit).Post("/import", s.handleImport)

		api.Post("/calculations", s.handleCreateCalculation)
		api.Get("/calculations", s.handleListCalculations)
		api.Get("/calculations/{id}", s.handleGetCalculation)

		api.Get("/materials", s.handleListMaterials)
	})

	return r
}
