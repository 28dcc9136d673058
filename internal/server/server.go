// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/llmrouter/gateway/internal/completion"
	"github.com/llmrouter/gateway/internal/config"
	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/gwerrors"
	"github.com/llmrouter/gateway/internal/metrics"
	"github.com/llmrouter/gateway/internal/responses"
	"github.com/llmrouter/gateway/internal/store"
)

// Server holds the HTTP router and all dependencies that handlers need —
// similar to attaching services to an Express app.
type Server struct {
	router chi.Router
	cfg    *config.Config

	completion *completion.Service
	responses  *responses.Service
	auth       store.AuthService
	metrics    *metrics.Recorder
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, completionSvc *completion.Service, responsesSvc *responses.Service, auth store.AuthService, metricsRecorder *metrics.Recorder) *Server {
	s := &Server{cfg: cfg, completion: completionSvc, responses: responsesSvc, auth: auth, metrics: metricsRecorder}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
// This is conceptually like your Express app.use() / app.get() / app.post()
// setup, but gathered in one method so the routing table is easy to scan.
func (s *Server) routes() {
	r := chi.NewRouter()

	// middleware.Logger prints a log line for every request, similar to
	// morgan('dev') in Express. It logs method, path, status, and duration.
	r.Use(middleware.Logger)

	// middleware.Recoverer catches panics in handlers and returns a 500
	// instead of crashing the whole process.
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/completions", s.handleChatCompletions)
		r.Post("/v1/responses", s.handleCreateResponse)
		r.Get("/v1/responses/{id}/input_items", s.handleListInputItems)
	})

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface. Every incoming
// request flows through this method, and we just delegate to chi's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type principalContextKey struct{}

// authenticate resolves the Authorization: Bearer <api-key> header to a
// domain.Principal via the (out-of-scope) AuthService and stashes it on
// the request context for handlers to read back with principalFromContext
// (§4.H, §6 "Request: Authorization: Bearer <api-key>").
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindUnauthorized, "missing or malformed Authorization header"))
			return
		}

		principal, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			gwerrors.WriteJSON(w, gwerrors.Wrap(gwerrors.KindUnauthorized, "invalid API key", err))
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalContextKey{}).(domain.Principal)
	return p
}
