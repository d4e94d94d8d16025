package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"watchrelay/internal/domain"
	"watchrelay/internal/logging"
)

// StatsSource reports relay counters.
type StatsSource interface {
	Stats() domain.Stats
}

// Server exposes relay health over HTTP.
type Server struct {
	source StatsSource
	logger *slog.Logger
}

func NewServer(source StatsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{source: source, logger: logger.With(slog.String("component", "status"))}
}

// Router returns the status routes.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(serverHeader)
	router.Get("/healthz", health())
	router.Get("/status", statsRoute(s.source, s.logger))
	return router
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info("status endpoint listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func statsRoute(source StatsSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(source.Stats()); err != nil {
			logger.Warn("failed to encode stats", slog.Any("error", err))
		}
	}
}

func serverHeader(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "watchrelay")
		handler.ServeHTTP(w, r)
	})
}
