// Package api serves the protocol engine over REST.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"agentlink/internal/engine"
	"agentlink/internal/metrics"
)

const maxBodySize = 1 << 20 // 1MB

// Config holds the Server dependencies.
type Config struct {
	Engine *engine.Engine
	// APIKeyHash is a bcrypt hash; when set /api routes require a matching
	// bearer key.
	APIKeyHash      string
	CORSOrigins     []string
	MetricsEndpoint string // empty disables /metrics
	Logger          *slog.Logger
}

// Server is the REST transport.
type Server struct {
	engine *engine.Engine
	router *chi.Mux
	logger *slog.Logger
}

// New builds the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: cfg.Engine, logger: logger}

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", s.root)
	r.Get("/health", s.health)
	if cfg.MetricsEndpoint != "" {
		r.Handle(cfg.MetricsEndpoint, metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))
		if cfg.APIKeyHash != "" {
			r.Use(RequireKey(cfg.APIKeyHash))
		}

		r.Post("/agents/register", s.registerAgent)
		r.Get("/agents", s.findAgents)
		r.Get("/agents/{accountId}", s.getAgent)

		r.Post("/connections/request", s.requestConnection)
		r.Post("/connections/accept", s.acceptConnection)
		r.Get("/connections", s.listConnections)
		r.Get("/connections/pending", s.pendingRequests)

		r.Post("/messages/send", s.sendMessage)
		r.Get("/messages", s.getMessages)

		r.Get("/objects/{topicId}", s.getObject)
		r.Post("/resolve", s.resolve)

		r.Get("/events", s.events)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // ledger round trips
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("REST API started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("REST API stopping")
		return srv.Shutdown(shutdownCtx)
	}
}
