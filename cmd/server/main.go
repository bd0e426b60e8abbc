package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	demomiddleware "github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/api"
	"github.com/tendant/simple-blobstore/pkg/blobstore/config"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "err", err)
	}

	opts := []config.Option{config.WithEnv()}
	if path := os.Getenv("BLOBSTORE_CONFIG"); path != "" {
		opts = append(opts, config.WithFile(path))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	ctx := context.Background()

	inst, err := cfg.BuildStore(ctx, logger)
	if err != nil {
		return err
	}
	defer inst.Close()

	store := inst.Store
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("failed to start blob store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metricsstore.NewCollector(cfg.StoreName, inst.Metrics),
	)

	var auth func(http.Handler) http.Handler
	if cfg.APIKeySHA256 != "" {
		auth, err = demomiddleware.ApiKeyMiddleware(demomiddleware.ApiKeyConfig{
			APIKeys: map[string]string{"default": cfg.APIKeySHA256},
		})
		if err != nil {
			_ = store.Stop(ctx)
			return fmt.Errorf("failed to initialize API key middleware: %w", err)
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           newRouter(store, registry, auth, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "store", cfg.StoreName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			_ = store.Stop(ctx)
			return fmt.Errorf("server error: %w", err)
		}
	}
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	if err := store.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop blob store: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}

func newRouter(store *blobstore.Store, registry *prometheus.Registry, auth func(http.Handler) http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if state := store.State(); state != blobstore.StateStarted {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": state.String()})
			return
		}
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// no request timeout on the blob routes; uploads and downloads stream
	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		r.Mount("/", api.NewBlobHandler(store, logger).Routes())
	})

	return r
}
