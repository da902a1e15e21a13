package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arwahdevops/opresolve/internal/config"
	"github.com/arwahdevops/opresolve/internal/metrics"
)

// ReadinessChecker reports whether the credential tool can serve resolutions.
type ReadinessChecker interface {
	Probe(ctx context.Context) error
}

// NewMux builds the handler tree for metrics, health checks, and pprof.
func NewMux(cfg *config.Config, metricsStore *metrics.Store, checker ReadinessChecker, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(metricsStore.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// Readiness runs the credential tool probe; it never reads a secret.
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		probeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if checker == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "Not Ready: no credential tool configured")
			return
		}
		if err := checker.Probe(probeCtx); err != nil {
			log.Warn("Readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "Not Ready: %v\n", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Ready")
	})

	if cfg.EnablePprof {
		log.Info("Enabling pprof endpoints on /debug/pprof/")
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Pprof endpoints are disabled.")
	}
	return mux
}

// RunHTTPServer serves NewMux until ctx is cancelled, then shuts down gracefully.
func RunHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	metricsStore *metrics.Store,
	checker ReadinessChecker,
	logger *zap.Logger,
) {
	log := logger.Named("http-server")

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewMux(cfg, metricsStore, checker, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server ListenAndServe error", zap.Error(err))
		}
		log.Info("HTTP server stopped listening")
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server due to context cancellation...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		log.Info("HTTP server gracefully stopped")
	}
}
