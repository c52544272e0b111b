package demo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config holds demo server configuration.
type Config struct {
	Listen string
	// Token, when set, is required as a Bearer token on every /api route.
	Token string
	// TokenDelay spaces out token events so streams look alive in a
	// terminal. Zero streams as fast as the wire allows.
	TokenDelay time.Duration
}

// Server is the built-in demo finance backend. It speaks the same chat
// API the real backend does, answering from a scripted planner and an
// in-memory ledger.
type Server struct {
	config    Config
	logger    *slog.Logger
	mem       *memory
	assist    *planner
	ledger    *Ledger
	server    *http.Server
	startedAt time.Time
}

// NewServer creates a demo server with a freshly seeded ledger.
func NewServer(config Config, logger *slog.Logger) *Server {
	ledger := NewLedger()
	return &Server{
		config:    config,
		logger:    logger,
		mem:       newMemory(),
		assist:    newPlanner(ledger),
		ledger:    ledger,
		startedAt: time.Now(),
	}
}

// Handler returns the demo server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE endpoints are long-lived streams.
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("demo server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("demo server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated
	r.Get("/healthz", s.handleHealthz)

	// Protected when a token is configured
	r.Group(func(r chi.Router) {
		if s.config.Token != "" {
			r.Use(s.bearerAuth)
		}
		r.Route("/api/v1/ai", func(r chi.Router) {
			r.Post("/chat", s.handleChat)
			r.Post("/chat/stream", s.handleChatStream)
			r.Post("/chat/confirm", s.handleConfirm)
			r.Get("/sessions", s.handleListSessions)
			r.Get("/sessions/{session_id}", s.handleGetSession)
			r.Put("/sessions/{session_id}", s.handleUpdateSession)
			r.Delete("/sessions/{session_id}", s.handleDeleteSession)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
