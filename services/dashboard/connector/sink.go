// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/cardash/services/dashboard/config"
)

// ErrSinkEnsureFailed is returned when the metrics sink could not be
// verified or created. Callers log it and continue.
var ErrSinkEnsureFailed = errors.New("metrics sink ensure failed")

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SinkEnsurer creates the metrics sink when it does not exist. Ensure is
// idempotent.
type SinkEnsurer interface {
	Ensure(ctx context.Context) error
}

// NewSinkEnsurer picks the bucket flavour when a token is configured and the
// legacy database flavour otherwise. The returned func releases resources.
func NewSinkEnsurer(cfg config.MetricsConfig, logger *slog.Logger) (SinkEnsurer, func()) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TokenMode() {
		client := influxdb2.NewClient(cfg.URL, cfg.Token)
		return NewBucketSink(client.OrganizationsAPI(), client.BucketsAPI(), cfg.Org, cfg.Bucket, logger), client.Close
	}

	return &DatabaseSink{
		URL:      cfg.URL,
		Database: cfg.Database,
		Client:   &http.Client{Timeout: cfg.Timeout},
		Logger:   logger,
	}, func() {}
}

// =============================================================================
// Legacy database sink
// =============================================================================

// DatabaseSink issues CREATE DATABASE through the 1.x query endpoint. The
// statement is a no-op when the database exists.
type DatabaseSink struct {
	URL      string
	Database string
	Client   HTTPClient
	Logger   *slog.Logger
}

// Ensure posts the create statement and expects 200.
func (d *DatabaseSink) Ensure(ctx context.Context) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	stmt := fmt.Sprintf(`CREATE DATABASE "%s"`, strings.ReplaceAll(d.Database, `"`, `\"`))
	form := url.Values{"q": {stmt}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(d.URL, "/")+"/query", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkEnsureFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("Failed to ensure metrics database", "database", d.Database, "error", err)
		return fmt.Errorf("%w: database %q: %w", ErrSinkEnsureFailed, d.Database, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Error("Failed to ensure metrics database",
			"database", d.Database,
			"status", resp.StatusCode,
			"body", string(body))
		return fmt.Errorf("%w: database %q: status %d", ErrSinkEnsureFailed, d.Database, resp.StatusCode)
	}

	logger.Info("Metrics database ensured", "database", d.Database)
	return nil
}

// =============================================================================
// Bucket sink
// =============================================================================

// BucketSink looks the bucket up through the 2.x API and creates it in the
// configured organization when the lookup fails.
type BucketSink struct {
	orgs    api.OrganizationsAPI
	buckets api.BucketsAPI
	org     string
	bucket  string
	logger  *slog.Logger
}

// NewBucketSink creates a BucketSink.
func NewBucketSink(orgs api.OrganizationsAPI, buckets api.BucketsAPI, org, bucket string, logger *slog.Logger) *BucketSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &BucketSink{orgs: orgs, buckets: buckets, org: org, bucket: bucket, logger: logger}
}

// Ensure finds or creates the bucket.
func (b *BucketSink) Ensure(ctx context.Context) error {
	_, err := b.buckets.FindBucketByName(ctx, b.bucket)
	if err == nil {
		b.logger.Info("Metrics bucket found", "bucket", b.bucket)
		return nil
	}
	b.logger.Debug("Bucket lookup failed, creating", "bucket", b.bucket, "error", err)

	org, err := b.orgs.FindOrganizationByName(ctx, b.org)
	if err != nil {
		b.logger.Error("Failed to find organization", "org", b.org, "error", err)
		return fmt.Errorf("%w: organization %q: %w", ErrSinkEnsureFailed, b.org, err)
	}

	if _, err := b.buckets.CreateBucketWithName(ctx, org, b.bucket); err != nil {
		b.logger.Error("Failed to create metrics bucket", "bucket", b.bucket, "org", b.org, "error", err)
		return fmt.Errorf("%w: bucket %q: %w", ErrSinkEnsureFailed, b.bucket, err)
	}

	b.logger.Info("Metrics bucket created", "bucket", b.bucket, "org", b.org)
	return nil
}
