// Package server wires the chi router and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/whatnick/aws-tf-vibe/internal/core/config"
	"github.com/whatnick/aws-tf-vibe/internal/core/health"
	middleware "github.com/whatnick/aws-tf-vibe/internal/core/middleware"
	"github.com/whatnick/aws-tf-vibe/internal/core/router"
)

type Options struct {
	Metrics     http.Handler
	MetricsPath string
	Ready       []health.Check
}

// NewHandler builds the full route tree.
func NewHandler(cfg config.Config, logger *slog.Logger, h *router.Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, opts.Ready...))
	r.Get("/health", router.Instrument("/health", h.Health))
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitRPM > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitRPM, time.Minute))
		}
		r.Get("/catalogs", router.Instrument("/api/catalogs", h.Catalogs))
		r.Get("/collections", router.Instrument("/api/collections", h.Collections))
		r.Get("/geocode", router.Instrument("/api/geocode", h.Geocode))
		r.Post("/search", router.Instrument("/api/search", h.Search))
		r.Post("/search/count", router.Instrument("/api/search/count", h.Count))
		r.Post("/search/summary", router.Instrument("/api/search/summary", h.Summary))
	})
	return r
}

// Run serves handler on cfg.Addr until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return Serve(ctx, ln, cfg, logger, handler)
}

// Serve serves handler on ln until ctx is done, then drains in-flight requests
// for cfg.ShutdownTimeout. Requests still running after that are cut off and
// reported as an error.
func Serve(ctx context.Context, ln net.Listener, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	writeTimeout := 60 * time.Second
	if cfg.SummaryTimeout+5*time.Second > writeTimeout {
		writeTimeout = cfg.SummaryTimeout + 5*time.Second
	}
	drain := cfg.ShutdownTimeout
	if drain <= 0 {
		drain = writeTimeout
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown incomplete", "drain", drain, "err", err)
			_ = srv.Close()
			return fmt.Errorf("http shutdown: %w", err)
		}
		logger.Info("http shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}
