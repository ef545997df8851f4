// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/cardash/services/dashboard"
	"github.com/AleutianAI/cardash/services/dashboard/cache"
	"github.com/AleutianAI/cardash/services/dashboard/scheduler"
)

// ServiceName is reported by the health check and used as the span prefix.
const ServiceName = "cardash"

// Dashboard is the part of *dashboard.App the HTTP surface needs.
type Dashboard interface {
	Countries(ctx context.Context) []string
	Chart() dashboard.Chart
	SelectCountry(ctx context.Context, country string) (dashboard.Chart, error)
	Banner() string
	CacheStats() cache.Stats
	JobStats() []scheduler.JobStats
}

// SelectionRequest is the body of PUT /api/selection.
type SelectionRequest struct {
	Country string `json:"country"`
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
}

// ListCountries returns the distinct countries in the store. A store error
// yields an empty list; the dashboard logs it.
func ListCountries(d Dashboard) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"countries": d.Countries(c.Request.Context())})
	}
}

// GetChart returns the latest chart payload.
func GetChart(d Dashboard) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Chart())
	}
}

// SelectCountry stores the selection and returns the refreshed chart.
//
// # Description
//
// An empty country clears the selection. A name that fails validation is
// rejected with 400 and leaves the current selection untouched.
func SelectCountry(d Dashboard) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SelectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Rejected selection body", "error", err, "request_id", RequestID(c))
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"country\": \"...\"}"})
			return
		}

		chart, err := d.SelectCountry(c.Request.Context(), req.Country)
		if err != nil {
			if errors.Is(err, dashboard.ErrInvalidSelection) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Selection failed", "error", err, "request_id", RequestID(c))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "selection failed"})
			return
		}
		c.JSON(http.StatusOK, chart)
	}
}

// GetBanner returns the current banner image.
func GetBanner(d Dashboard) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"banner": d.Banner()})
	}
}

// GetCacheStats returns the query cache and timer counters.
func GetCacheStats(d Dashboard) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"cache": d.CacheStats(),
			"jobs":  d.JobStats(),
		})
	}
}
