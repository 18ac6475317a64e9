// Package server exposes the page and worker to a browser over HTTP. The API
// routes drive the page context; every other path goes through the worker's
// cache-first handler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcalert/internal/notify"
	"btcalert/internal/page"
	"btcalert/internal/threshold"
	"btcalert/internal/visibility"
	"btcalert/internal/worker"
)

const maxBodySize = 16 << 10

// Page is the foreground context as the HTTP surface sees it.
type Page interface {
	Status(ctx context.Context) (page.Status, error)
	SetThresholds(ctx context.Context, cfg threshold.Config) (page.Status, error)
	EnableAlerts(ctx context.Context, cfg threshold.Config) (page.Status, error)
	MonitorOnly(ctx context.Context, cfg threshold.Config) (page.Status, error)
	StopMonitoring(ctx context.Context) (page.Status, error)
	TestFetch(ctx context.Context) (page.Status, error)
	Signal(ctx context.Context, sig visibility.Signal) (page.Status, error)
}

// Worker is the background context as the HTTP surface sees it.
type Worker interface {
	http.Handler
	NotificationClick(ctx context.Context) error
	TriggerSync(tag string) bool
}

// Options configure the HTTP surface.
type Options struct {
	Listen      string
	CORSOrigins []string
}

// Server serves the UI surface.
type Server struct {
	opts   Options
	page   Page
	worker Worker
	logger zerolog.Logger
}

// New builds a server around an open page and the worker.
func New(opts Options, p Page, w Worker, logger zerolog.Logger) *Server {
	return &Server{opts: opts, page: p, worker: w, logger: logger.With().Str("component", "server").Logger()}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	c := corslib.New(corslib.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Cache"},
	})
	r.Use(c.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Put("/thresholds", s.handleThresholds)
		r.Post("/alerts/enable", s.handleEnableAlerts)
		r.Post("/test-fetch", s.handleTestFetch)
		r.Post("/monitor", s.handleMonitor)
		r.Delete("/monitor", s.handleStopMonitor)
		r.Post("/visibility", s.handleVisibility)
		r.Post("/notifications/click", s.handleNotificationClick)
		r.Post("/sync/{tag}", s.handleSync)
	})
	r.Handle("/*", s.worker)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("serving UI")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", s.opts.Listen, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type thresholdsRequest struct {
	Below decimal.Decimal `json:"below"`
	Above decimal.Decimal `json:"above"`
}

type visibilityRequest struct {
	Signal string `json:"signal"`
}

type response struct {
	page.Status
	Error string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.page.Status(r.Context())
	s.reply(w, st, err)
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeThresholds(w, r)
	if !ok {
		return
	}
	st, err := s.page.SetThresholds(r.Context(), cfg)
	s.reply(w, st, err)
}

func (s *Server) handleEnableAlerts(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeThresholds(w, r)
	if !ok {
		return
	}
	st, err := s.page.EnableAlerts(r.Context(), cfg)
	s.reply(w, st, err)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeThresholds(w, r)
	if !ok {
		return
	}
	st, err := s.page.MonitorOnly(r.Context(), cfg)
	s.reply(w, st, err)
}

func (s *Server) handleStopMonitor(w http.ResponseWriter, r *http.Request) {
	st, err := s.page.StopMonitoring(r.Context())
	s.reply(w, st, err)
}

func (s *Server) handleTestFetch(w http.ResponseWriter, r *http.Request) {
	st, err := s.page.TestFetch(r.Context())
	s.reply(w, st, err)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	sig, ok := visibility.ParseSignal(req.Signal)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown signal %q", req.Signal)
		return
	}
	st, err := s.page.Signal(r.Context(), sig)
	s.reply(w, st, err)
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	if err := s.worker.NotificationClick(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if tag != worker.SyncTag && tag != worker.PeriodicTag {
		writeError(w, http.StatusNotFound, "unknown sync tag %q", tag)
		return
	}
	if !s.worker.TriggerSync(tag) {
		writeError(w, http.StatusServiceUnavailable, "worker is not running")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) decodeThresholds(w http.ResponseWriter, r *http.Request) (threshold.Config, bool) {
	var req thresholdsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", threshold.ErrInvalidConfig)
		return threshold.Config{}, false
	}
	return threshold.Config{Below: req.Below, Above: req.Above}, true
}

// reply writes the page status. Domain errors keep the status in the body
// so the UI can still render it.
func (s *Server) reply(w http.ResponseWriter, st page.Status, err error) {
	code := http.StatusOK
	var pe *notify.PermissionError
	switch {
	case err == nil:
	case errors.Is(err, threshold.ErrInvalidConfig):
		code = http.StatusUnprocessableEntity
	case errors.As(err, &pe) && pe.Kind == notify.PermissionDenied:
		code = http.StatusForbidden
	case errors.As(err, &pe) && pe.Kind == notify.PermissionUnsupported:
		code = http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	default:
		s.logger.Error().Err(err).Msg("request failed")
		code = http.StatusInternalServerError
	}

	body := response{Status: st}
	if err != nil {
		body.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
