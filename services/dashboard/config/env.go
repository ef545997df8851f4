// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupFunc matches os.LookupEnv so tests can inject a map.
type lookupFunc func(key string) (string, bool)

// applyEnv overlays environment variables onto cfg. Empty values are ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("COUCHDB_USER", &cfg.Store.User)
	e.str("COUCHDB_PASSWORD", &cfg.Store.Password)
	e.str("COUCHDB_HOST", &cfg.Store.Host)
	e.int("COUCHDB_PORT", &cfg.Store.Port)
	e.str("COUCHDB_DATABASE", &cfg.Store.Database)

	e.str("INFLUXDB_URL", &cfg.Metrics.URL)
	e.str("INFLUXDB_DB", &cfg.Metrics.Database)
	e.str("INFLUXDB_TOKEN", &cfg.Metrics.Token)
	e.str("INFLUXDB_ORG", &cfg.Metrics.Org)
	e.str("INFLUXDB_BUCKET", &cfg.Metrics.Bucket)

	e.int("CONNECT_MAX_ATTEMPTS", &cfg.Connector.MaxAttempts)
	e.duration("CONNECT_DELAY", &cfg.Connector.Delay)
	e.int("METRICS_MAX_RETRIES", &cfg.Metrics.MaxRetries)
	e.duration("METRICS_BASE_DELAY", &cfg.Metrics.BaseDelay)

	e.int("CACHE_MAX_KEYS", &cfg.Cache.MaxKeys)
	e.duration("REFRESH_INTERVAL", &cfg.Refresh.DataInterval)
	e.duration("BANNER_INTERVAL", &cfg.Refresh.BannerInterval)
	e.duration("CACHE_INVALIDATE_INTERVAL", &cfg.Refresh.InvalidateInterval)

	e.int("PORT", &cfg.Server.Port)
	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	if v, ok := e.value("BANNERS"); ok {
		cfg.Banners = splitList(v)
	}

	return e.err
}

// envReader records the first malformed value and skips the rest.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.Trim(v, "\"' ")
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.value(key)
	if !ok || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = n
}

// duration accepts Go durations ("3s") or plain seconds ("3").
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.value(key)
	if !ok || e.err != nil {
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
