package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/app"
	"github.com/EdouardKamole/clean-city-dashboard/internal/config"
	"github.com/EdouardKamole/clean-city-dashboard/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.NewNamed(cfg.AppEnv, "pickup-map")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	application, err := app.New(context.Background(), cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize app", zap.Error(err))
	}
	defer application.Shutdown()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     application.Router,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: it would cut session streams. REST handlers are
		// bounded by the timeout middleware instead.
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background.
	go func() {
		zlog.Info("server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal then gracefully shut down.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("server forced to shut down", zap.Error(err))
	}

	zlog.Info("server stopped")
}
