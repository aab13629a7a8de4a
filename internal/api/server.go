package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/roach88/escrow/internal/host"
)

// maxBodyBytes bounds request bodies. A signed instruction with 256 bytes of
// metadata is well under 2 KiB.
const maxBodyBytes = 64 << 10

// Server exposes a host.Runtime over HTTP.
type Server struct {
	runtime *host.Runtime
	logger  *slog.Logger
	faucet  bool
	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithFaucet enables POST /v1/fund.
func WithFaucet(enabled bool) Option {
	return func(s *Server) { s.faucet = enabled }
}

// WithCORSOrigins allows browser calls from origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates a server for rt.
func NewServer(rt *host.Runtime, opts ...Option) *Server {
	s := &Server{
		runtime: rt,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.Method+" "+r.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path, nil)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/instructions", s.handleSubmit)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/accounts/{identity}", s.handleGetAccount)
		r.Get("/history", s.handleHistory)
		if s.faucet {
			r.Post("/fund", s.handleFund)
		}
	})

	if len(s.origins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
