package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clawinfra/applytrack/internal/actions"
	"github.com/clawinfra/applytrack/internal/offline"
)

// Queue is the part of the offline queue the control API drives.
type Queue interface {
	Enqueue(ctx context.Context, draft actions.Draft) (string, error)
	Remove(ctx context.Context, id string) bool
	Clear(ctx context.Context)
	Snapshot() []actions.Action
	Status() offline.Status
	SyncNow(ctx context.Context) []actions.Result
	SetOnline(online bool)
	SetVisible(visible bool)
	OnChange(fn func([]actions.Action)) (unsubscribe func())
	OnDeadLetter(fn func(actions.DeadLetter)) (unsubscribe func())
}

// Server is the HTTP control API server
type Server struct {
	addr       string
	queue      Queue
	logger     *slog.Logger
	startedAt  time.Time
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(addr string, queue Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		queue:     queue,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.handleListActions)
			r.Post("/", s.handleEnqueue)
			r.Delete("/", s.handleClear)
			r.Delete("/{id}", s.handleRemove)
		})

		r.Post("/sync", s.handleSync)
		r.Post("/connectivity", s.handleConnectivity)
		r.Post("/visibility", s.handleVisibility)
		r.Get("/ws", s.handleStream)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Sync requests can outlive a single request timeout when batches queue up.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
