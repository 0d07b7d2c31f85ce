package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/kosarica/place-service/config"
	"github.com/kosarica/place-service/internal/app"
	"github.com/kosarica/place-service/internal/handlers"
	"github.com/kosarica/place-service/internal/logging"
	"github.com/kosarica/place-service/internal/middleware"
)

// @title Place Service API
// @version 1.0
// @description Internal API for controlling continuous place ingestion and the enrichment task queue.
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-Internal-API-Key
func main() {
	cfg, err := config.Load(os.Getenv("PLACE_SERVICE_CONFIG"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	logger.Info().Msg("Starting place service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to assemble service")
	}
	a.Start(ctx)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var db handlers.Pinger
	if a.DB != nil {
		db = a.DB
	}
	h := handlers.New(a.Controller, a.Queue, a.Checkpoints, db, logger)
	router := handlers.NewRouter(ctx, h, handlers.RouterOptions{
		APIKey:            cfg.Auth.InternalAPIKey,
		RequestsPerSecond: cfg.Auth.RequestsPerSecond,
		Burst:             cfg.Auth.Burst,
		PerIP:             middleware.DefaultRateLimiterConfig(),
	}, logger)

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Service did not shut down cleanly")
	}

	logger.Info().Msg("Server exited")
}
