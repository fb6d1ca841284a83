package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/config"
	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/memory"
	"github.com/kailas-cloud/holodex/internal/db/postgres"
	logpkg "github.com/kailas-cloud/holodex/internal/logger"
	chiTransport "github.com/kailas-cloud/holodex/internal/transport/chi"
	"github.com/kailas-cloud/holodex/internal/version"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting holodex gateway",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("database", cfg.Backend.Database),
	)

	ctx := context.Background()
	backend, err := openBackend(ctx, cfg.Backend, logger)
	if err != nil {
		logger.Fatal("Failed to open backend", zap.Error(err))
	}
	defer func() { _ = backend.Close() }()
	logger.Info("Connected to backend")

	server := chiTransport.NewServer(backend, cfg.Backend.Database, logger)
	handler := server.Handler(chiTransport.Options{
		APIKeys:    cfg.Auth.APIKeys,
		SigningKey: []byte(cfg.Auth.SigningKey),
		Registerer: prometheus.DefaultRegisterer,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// openBackend builds the transport the gateway serves. Validate already
// rejected cloud URIs.
func openBackend(ctx context.Context, bc config.BackendConfig, logger *zap.Logger) (db.Transport, error) {
	res, err := config.ParseURI(bc.URI, config.OSEnv)
	if err != nil {
		return nil, err
	}
	switch res.Kind {
	case config.KindMemory:
		return memory.New(res.Credentials.Database), nil
	case config.KindLocal:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             res.Credentials.DSN,
			MaxConns:        res.Pool.MaxConns,
			MinConns:        res.Pool.MinConns,
			MaxConnIdleTime: res.Pool.MaxConnIdleTime,
			Retry:           res.Retry.Policy(),
			CreateExtension: true,
			Logger:          logger.With(zap.String("transport", string(res.Kind))),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("backend kind %q cannot be served", res.Kind)
}
