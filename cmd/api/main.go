package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/metalalive/atfp-go/internal/api/handler"
	"github.com/metalalive/atfp-go/internal/api/middleware"
	"github.com/metalalive/atfp-go/internal/config"
	"github.com/metalalive/atfp-go/internal/contentcache"
	"github.com/metalalive/atfp-go/internal/crypto"
	"github.com/metalalive/atfp-go/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Cache.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create cache root: %w", err)
	}

	keyStore := crypto.NewFileKeyStore(cfg.Crypto.KeyStorePath)
	keyManager, err := crypto.NewManager(keyStore, nil, cfg.Crypto.MaxKeyAge)
	if err != nil {
		return fmt.Errorf("failed to initialize crypto key manager: %w", err)
	}

	contentCache := contentcache.NewCache(cfg.Cache.Root)
	sourceBackend := storage.NewLocalBackend()
	cacheHandler := handler.NewCacheHandler(contentCache, keyManager, cfg.Worker.StagingRoot, sourceBackend)

	r := setupRouter(logger, cacheHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, cacheHandler *handler.CacheHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cache/{docID}/*", cacheHandler.Get)
	})

	return r
}
