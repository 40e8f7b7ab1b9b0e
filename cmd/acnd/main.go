// Command acnd is the ACN server entrypoint: it boots the full dependency
// graph (config -> logger -> storage -> collaborators -> services), starts
// the registry liveness watchdog and the gateway heartbeat sweeper, serves
// the gin request surface, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/r3e-network/acn/internal/app"
	"github.com/r3e-network/acn/internal/config"
	"github.com/r3e-network/acn/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("acnd").WithField("error", err).Fatal("acnd: failed to load configuration")
	}
	log0 := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.OperatorToken == "" {
		log0.Fatal("ACN_OPERATOR_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log0)
	if err != nil {
		log0.WithField("error", err).Fatal("acnd: failed to build application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log0.WithField("error", err).Warn("acnd: error closing resources")
		}
	}()

	watchdogCtx, cancelWatchdogs := context.WithCancel(ctx)
	defer cancelWatchdogs()
	go a.Registry.RunLivenessWatchdog(watchdogCtx, cfg.WatchdogInterval)
	go a.Gateway.RunHeartbeatSweeper(watchdogCtx)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.HTTP.Routes(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	healthServer := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           a.Gateway.HealthMux(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log0.WithField("addr", cfg.HTTPAddr).Info("acnd: request surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log0.WithField("error", err).Fatal("acnd: request surface server error")
		}
	}()
	go func() {
		log0.WithField("addr", cfg.HealthAddr).Info("acnd: gateway health mux listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log0.WithField("error", err).Fatal("acnd: health server error")
		}
	}()

	<-ctx.Done()
	log0.Info("acnd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log0.WithField("error", err).Warn("acnd: request surface shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log0.WithField("error", err).Warn("acnd: health server shutdown error")
	}
}
