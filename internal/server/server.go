// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/howard-nolan/cardforge/internal/card"
	"github.com/howard-nolan/cardforge/internal/provider"
)

// CardGenerator designs and stores a new card. card.Designer implements it.
type CardGenerator interface {
	Generate(ctx context.Context, userID, name, style string) (*card.Card, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	// Providers holds one client per configured vendor.
	Providers map[provider.ID]*provider.Client
	// DefaultProvider serves the /v1 routes that don't name a provider.
	DefaultProvider provider.ID

	Profiles card.ProfileStore
	Cards    card.CardStore
	Service  *card.Service
	Designer CardGenerator

	// Objects serves uploaded objects under /objects. Optional.
	Objects http.Handler
	// Metrics serves /metrics. Optional.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(deps Deps) *Server {
	s := &Server{deps: deps, log: deps.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions,
// gathered in one method so the routing table is easy to scan.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID tags each request so log lines can be correlated; Logger
	// prints method, path, status and duration; Recoverer turns a handler
	// panic into a 500 instead of crashing the process.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Routes ---
	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}
	if s.deps.Objects != nil {
		r.Handle("/objects/*", http.StripPrefix("/objects", s.deps.Objects))
	}

	r.Route("/v1", func(r chi.Router) {
		// OpenAI-compatible gateway. The unprefixed routes use the default
		// provider; the /providers/{provider} ones pick a vendor explicitly.
		r.Get("/providers", s.handleListProviders)
		r.Group(s.gatewayRoutes)
		r.Route("/providers/{provider}", s.gatewayRoutes)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/profile", s.handleGetProfile)
			r.Put("/profile", s.handlePutProfile)
			r.Get("/cards", s.handleListCards)
			r.Post("/cards", s.handleGenerateCard)
			r.Patch("/cards/{cardID}", s.handleUpdateCardInfo)
		})
		r.Get("/cards/{cardID}", s.handleGetCard)
		r.Delete("/cards/{cardID}", s.handleDeleteCard)
	})

	s.router = r
}

func (s *Server) gatewayRoutes(r chi.Router) {
	r.Post("/chat/completions", s.handleChatCompletions)
	r.Post("/images/generations", s.handleImageGenerations)
	r.Post("/embeddings", s.handleEmbeddings)
}

// ServeHTTP makes Server satisfy the http.Handler interface by delegating
// to chi's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
