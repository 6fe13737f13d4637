package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"okoapay/internal/config"
	"okoapay/internal/middleware"
	"okoapay/internal/router"
	"okoapay/internal/session"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Server.Env == "development" {
		if dev, devErr := zap.NewDevelopment(); devErr == nil {
			logger = dev
		}
	}

	// --- Submit Deduper (Redis with in-memory fallback) ---
	submitDeduper, dedupeErr := middleware.NewSubmitDeduper(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		cfg.Payment.DedupTTL,
	)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for submit dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Payment sessions ---
	store := session.NewStore(cfg.Session.TTL, logger)
	store.Start()

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, cfg, store, submitDeduper, logger)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting Okoapay server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Dispose sessions (tears down any live polling)
	ctx := store.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
