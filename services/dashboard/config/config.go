// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the dashboard configuration.
//
// Values come from DefaultConfig, then an optional YAML file, then
// environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete dashboard configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Connector RetryConfig     `yaml:"connector"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Cache     CacheConfig     `yaml:"cache"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Banners are the images rotated by the banner timer.
	Banners []string `yaml:"banners"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// StoreConfig addresses the CouchDB server. Each part of the URL can be
// overridden independently.
type StoreConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Database string `yaml:"database" validate:"required"`

	// MaxDocs caps a single query. CouchDB defaults to 25 without a limit.
	MaxDocs int `yaml:"max_docs" validate:"min=1"`
}

// RetryConfig is a fixed-delay retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	Delay       time.Duration `yaml:"delay" validate:"min=0"`
}

// MetricsConfig addresses the InfluxDB collector.
//
// Token mode (InfluxDB 2.x) is used when Token is set and requires Org and
// Bucket. Otherwise legacy mode writes to Database.
type MetricsConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	Database string `yaml:"database"`
	Token    string `yaml:"token"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`

	MaxRetries int           `yaml:"max_retries" validate:"min=0"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"min=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	Workers    int           `yaml:"workers" validate:"min=1"`
	QueueSize  int           `yaml:"queue_size" validate:"min=1"`
}

// TokenMode reports whether the token-authenticated API is selected.
func (m MetricsConfig) TokenMode() bool {
	return m.Token != ""
}

type CacheConfig struct {
	MaxKeys int `yaml:"max_keys" validate:"min=1"`
}

// RefreshConfig holds the three independent timer intervals.
type RefreshConfig struct {
	DataInterval       time.Duration `yaml:"data_interval" validate:"gt=0"`
	BannerInterval     time.Duration `yaml:"banner_interval" validate:"gt=0"`
	InvalidateInterval time.Duration `yaml:"invalidate_interval" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables trace export when non-empty (host:port, gRPC).
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the defaults used by the containerised deployment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8050},
		Store: StoreConfig{
			User:     "admin",
			Password: "admin",
			Host:     "couchdb",
			Port:     5984,
			Database: "car_prices",
			MaxDocs:  100000,
		},
		Connector: RetryConfig{MaxAttempts: 10, Delay: 3 * time.Second},
		Metrics: MetricsConfig{
			URL:        "http://influxdb:8086",
			Database:   "car_dashboard",
			MaxRetries: 3,
			BaseDelay:  1 * time.Second,
			Timeout:    5 * time.Second,
			Workers:    2,
			QueueSize:  64,
		},
		Cache: CacheConfig{MaxKeys: 32},
		Refresh: RefreshConfig{
			DataInterval:       30 * time.Second,
			BannerInterval:     10 * time.Second,
			InvalidateInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Banners: []string{
			"/assets/banner-1.jpg",
			"/assets/banner-2.jpg",
			"/assets/banner-3.jpg",
		},
	}
}

// StoreURL builds the CouchDB base URL with embedded basic-auth credentials.
func (c Config) StoreURL() string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.Store.Host, strconv.Itoa(c.Store.Port)),
		Path:   "/",
	}
	if c.Store.User != "" {
		u.User = url.UserPassword(c.Store.User, c.Store.Password)
	}
	return u.String()
}

// RedactedStoreURL is StoreURL without the password, safe for logging.
func (c Config) RedactedStoreURL() string {
	u, err := url.Parse(c.StoreURL())
	if err != nil {
		return ""
	}
	return u.Redacted()
}

var validate = validator.New()

// Validate checks field constraints and the metrics addressing mode.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Metrics.TokenMode() {
		if c.Metrics.Org == "" || c.Metrics.Bucket == "" {
			return errors.New("invalid config: metrics token mode requires org and bucket")
		}
	} else if c.Metrics.Database == "" {
		return errors.New("invalid config: metrics database is required when no token is configured")
	}
	return nil
}

// Load builds the configuration.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file at path (skipped when
// path is empty), then overlays environment variables and validates.
//
// # Inputs
//
//   - path: Optional YAML file.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Non-nil if the file cannot be read or parsed, an environment
//     value is malformed, or validation fails.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
