// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/cardash/services/dashboard/handlers"
)

// NewRouter builds the engine with recovery, tracing, request IDs and
// request logging, then registers the routes.
func NewRouter(logger *slog.Logger, d handlers.Dashboard, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(handlers.ServiceName))
	router.Use(handlers.RequestIDMiddleware())
	router.Use(handlers.LoggingMiddleware(logger))

	SetupRoutes(router, d, gatherer)
	return router
}

// SetupRoutes registers the dashboard API on router. A nil gatherer serves
// the default Prometheus registry.
func SetupRoutes(router *gin.Engine, d handlers.Dashboard, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/countries", handlers.ListCountries(d))
		api.GET("/chart", handlers.GetChart(d))
		api.PUT("/selection", handlers.SelectCountry(d))
		api.GET("/banner", handlers.GetBanner(d))
		api.GET("/cache/stats", handlers.GetCacheStats(d))
	}
}
