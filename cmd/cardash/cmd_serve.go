// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/cardash/pkg/logging"
	"github.com/AleutianAI/cardash/services/dashboard"
	"github.com/AleutianAI/cardash/services/dashboard/config"
	"github.com/AleutianAI/cardash/services/dashboard/routes"
	"github.com/AleutianAI/cardash/services/dashboard/telemetry"
)

const shutdownTimeout = 10 * time.Second

// loadRuntime reads the configuration and installs the process logger.
func loadRuntime() (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return cfg, nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "cardash",
		JSON:    cfg.Logging.JSON,
	})
	slog.SetDefault(logger.Slog())
	return cfg, logger, nil
}

// runServe connects, starts the timers and the HTTP server, and blocks
// until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, "cardash")
	if err != nil {
		log.Warn("Tracing disabled", "error", err)
		shutdownTracer = func(context.Context) {}
	}

	app, err := dashboard.New(ctx, cfg, dashboard.Options{
		Logger:     log,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		shutdownTracer(context.Background())
		return fmt.Errorf("dashboard startup failed: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           routes.NewRouter(log, app, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Run(gctx)
	})
	g.Go(func() error {
		log.Info("Starting the dashboard server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	log.Info("Shutting down")

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		log.Warn("Dashboard close incomplete", "error", err)
	}
	shutdownTracer(closeCtx)
	return runErr
}
