// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dashboard wires the store session, query cache, metric emitter and
// refresh timers into one application context.
//
// # Lifecycle
//
//	app, err := dashboard.New(ctx, cfg, dashboard.Options{...})
//	if errors.Is(err, connector.ErrConnectionExhausted) {
//	    os.Exit(1)
//	}
//	go app.Run(ctx)
//	defer app.Close(shutdownCtx)
//
// Every refresh reads the selected country through the cache, rebuilds the
// chart and hands a summary point to the emitter without waiting for it.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/cardash/pkg/lineproto"
	"github.com/AleutianAI/cardash/pkg/validation"
	"github.com/AleutianAI/cardash/services/dashboard/cache"
	"github.com/AleutianAI/cardash/services/dashboard/config"
	"github.com/AleutianAI/cardash/services/dashboard/connector"
	"github.com/AleutianAI/cardash/services/dashboard/emitter"
	"github.com/AleutianAI/cardash/services/dashboard/observability"
	"github.com/AleutianAI/cardash/services/dashboard/scheduler"
	"github.com/AleutianAI/cardash/services/dashboard/store"
)

// Job names registered with the scheduler.
const (
	JobRefresh    = "refresh"
	JobBanner     = "banner"
	JobInvalidate = "invalidate"
)

const storeTarget = "couchdb"

// ErrInvalidSelection wraps a rejected country name.
var ErrInvalidSelection = errors.New("invalid selection")

// MetricPusher is the part of the emitter the dashboard uses.
type MetricPusher interface {
	PushAsync(p *lineproto.Point) error
	Close(ctx context.Context) error
}

// Options injects collaborators. Zero values select production defaults.
type Options struct {
	Logger *slog.Logger

	// Registerer receives the Prometheus collectors.
	// Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Dial opens a store session. Default: CouchDB from cfg.Store.
	Dial connector.DialFunc[store.Store]

	// Pusher delivers summary points. Default: emitter built from cfg.Metrics.
	Pusher MetricPusher

	// Sink ensures the metrics database or bucket. Default: from cfg.Metrics.
	Sink connector.SinkEnsurer

	// ConnectorOptions are appended to the store connector's options.
	ConnectorOptions []connector.Option

	// Now stamps summary points. Default: time.Now.
	Now func() time.Time
}

// App is the dashboard's application context.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. UI state is guarded by mu;
// the cache has its own lock.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	session   *connector.Session[store.Store]
	cache     *cache.QueryCache
	pusher    MetricPusher
	scheduler *scheduler.Scheduler
	release   func()
	now       func() time.Time

	mu        sync.RWMutex
	selected  string
	chart     Chart
	bannerIdx int

	reconnecting atomic.Bool
	bgCtx        context.Context
	bgCancel     context.CancelFunc
	bg           sync.WaitGroup
	closeOnce    sync.Once
}

// New connects to the store and assembles the application.
//
// # Description
//
// Runs the store connection loop with cfg.Connector's policy, then ensures
// the metrics sink exists. A sink failure is logged and ignored. The
// refresh, banner and invalidate timers are registered but not started.
//
// # Inputs
//
//   - ctx: Bounds the connection loop and the sink call.
//   - cfg: Validated configuration.
//   - opts: Collaborator overrides, mostly for tests.
//
// # Outputs
//
//   - *App: Ready to Run.
//   - error: Wraps connector.ErrConnectionExhausted when the store never
//     came up. The caller should exit.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	metrics := observability.NewMetrics(reg)

	dial := opts.Dial
	if dial == nil {
		dial = couchDialer(cfg, logger)
	}

	logger.Info("Connecting to document store", "url", cfg.RedactedStoreURL(), "database", cfg.Store.Database)
	connOpts := append([]connector.Option{
		connector.WithLogger(logger),
		connector.WithMetrics(metrics),
	}, opts.ConnectorOptions...)
	policy := connector.RetryPolicy{MaxAttempts: cfg.Connector.MaxAttempts, Delay: cfg.Connector.Delay}

	session, err := connector.NewSession(ctx, storeTarget, dial, policy, connOpts...)
	if err != nil {
		return nil, err
	}

	release := func() {}
	sink := opts.Sink
	if sink == nil {
		sink, release = connector.NewSinkEnsurer(cfg.Metrics, logger)
	}
	if err := sink.Ensure(ctx); err != nil {
		logger.Warn("Continuing without a guaranteed metrics sink", "error", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a := &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		session:  session,
		release:  release,
		now:      now,
		chart:    NoSelectionChart(),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	a.cache, err = cache.New(a.fetch,
		cache.WithMaxKeys(cfg.Cache.MaxKeys),
		cache.WithMetrics(metrics),
		cache.WithLogger(logger))
	if err != nil {
		a.abort()
		return nil, err
	}

	a.pusher = opts.Pusher
	if a.pusher == nil {
		emitOpts := emitter.OptionsFromConfig(cfg.Metrics)
		emitOpts.Logger = logger
		emitOpts.Metrics = metrics
		a.pusher = emitter.New(emitter.TargetFromConfig(cfg.Metrics), emitOpts)
	}

	a.scheduler = scheduler.New(logger, metrics)
	jobs := []scheduler.Job{
		{Name: JobRefresh, Interval: cfg.Refresh.DataInterval, Run: a.Refresh, RunOnStart: true},
		{Name: JobBanner, Interval: cfg.Refresh.BannerInterval, Run: a.rotateBannerJob},
		{Name: JobInvalidate, Interval: cfg.Refresh.InvalidateInterval, Run: a.invalidateJob},
	}
	for _, job := range jobs {
		if err := a.scheduler.Register(job); err != nil {
			a.abort()
			return nil, err
		}
	}

	return a, nil
}

// couchDialer opens CouchStore sessions from cfg.
func couchDialer(cfg config.Config, logger *slog.Logger) connector.DialFunc[store.Store] {
	return func(ctx context.Context) (store.Store, error) {
		s, err := store.DialCouch(ctx, store.CouchOptions{
			URL:      cfg.StoreURL(),
			Database: cfg.Store.Database,
			MaxDocs:  cfg.Store.MaxDocs,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// abort releases what New acquired before failing.
func (a *App) abort() {
	a.bgCancel()
	if a.pusher != nil {
		_ = a.pusher.Close(context.Background())
	}
	_ = a.session.Close()
	a.release()
}

// Run starts the timers and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("Dashboard running",
		"refresh_interval", a.cfg.Refresh.DataInterval.String(),
		"banner_interval", a.cfg.Refresh.BannerInterval.String(),
		"invalidate_interval", a.cfg.Refresh.InvalidateInterval.String())

	<-ctx.Done()
	return a.scheduler.Stop()
}

// Close stops the timers, drains the emitter until ctx expires and closes
// the store session.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		_ = a.scheduler.Stop()
		a.bgCancel()
		a.bg.Wait()

		err = a.pusher.Close(ctx)
		if cerr := a.session.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		a.release()
		a.logger.Info("Dashboard closed")
	})
	return err
}

// =============================================================================
// Refresh cycle
// =============================================================================

// Refresh rebuilds the chart for the selected country.
//
// # Description
//
// Reads through the cache, so a warm key costs no store round trip. A fetch
// failure yields the error chart; when it looks like a lost connection a
// background reconnect is started. On success a summary point is queued for
// the emitter. The selection is re-read at the end and the cycle repeats if
// it changed meanwhile.
//
// # Outputs
//
//   - error: The fetch error, already reflected in the chart.
func (a *App) Refresh(ctx context.Context) error {
	for {
		country := a.Selected()
		err := a.refreshCountry(ctx, country)
		if a.Selected() == country || ctx.Err() != nil {
			return err
		}
	}
}

func (a *App) refreshCountry(ctx context.Context, country string) error {
	if country == "" {
		a.logger.Debug("No country selected yet")
		a.setChart(NoSelectionChart())
		return nil
	}

	records, err := a.cache.Get(ctx, country)
	if err != nil {
		a.logger.Error("Error retrieving car data", "country", country, "error", err)
		a.setChart(ErrorChart(country))
		if store.IsConnectivityError(err) {
			a.triggerReconnect()
		}
		return err
	}

	chart := BuildChart(country, records)
	a.setChart(chart)
	if chart.State == ChartEmpty {
		a.logger.Warn("No data found for country", "country", country)
		return nil
	}

	summary, ok := Summarize(records)
	if !ok {
		return nil
	}
	if err := a.pusher.PushAsync(summary.Point(country, a.now())); err != nil {
		a.logger.Warn("Summary metric not queued", "country", country, "error", err)
	}

	a.logger.Debug("Chart refreshed", "country", country, "listings", summary.Listings)
	return nil
}

// fetch is the cache's live query.
func (a *App) fetch(ctx context.Context, country string) ([]store.Record, error) {
	return a.session.Handle().FetchByCountry(ctx, country)
}

// triggerReconnect starts at most one background reconnect.
func (a *App) triggerReconnect() {
	if !a.reconnecting.CompareAndSwap(false, true) {
		return
	}

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		defer a.reconnecting.Store(false)

		if err := a.session.Reconnect(a.bgCtx); err != nil {
			a.logger.Error("Store reconnect failed", "error", err)
			return
		}
		a.logger.Info("Store session re-established", "reconnects", a.session.Reconnects())
	}()
}

func (a *App) invalidateJob(context.Context) error {
	a.cache.InvalidateAll()
	return nil
}

func (a *App) rotateBannerJob(context.Context) error {
	a.RotateBanner()
	return nil
}

// =============================================================================
// UI state
// =============================================================================

// Selected returns the selected country, or "" when none is selected.
func (a *App) Selected() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selected
}

// SelectCountry stores the selection and refreshes immediately. A blank name
// clears the selection. When a refresh is already running it picks the new
// selection up before it returns.
func (a *App) SelectCountry(ctx context.Context, country string) (Chart, error) {
	normalized := ""
	if strings.TrimSpace(country) != "" {
		var err error
		normalized, err = validation.SanitizeCountry(country)
		if err != nil {
			return Chart{}, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
		}
	}

	a.mu.Lock()
	a.selected = normalized
	a.mu.Unlock()
	a.logger.Info("Country selected", "country", normalized)

	err := a.scheduler.RunNow(ctx, JobRefresh)
	if err != nil && !errors.Is(err, scheduler.ErrJobInFlight) {
		a.logger.Debug("Refresh after selection failed", "country", normalized, "error", err)
	}
	return a.Chart(), nil
}

// Chart returns the latest chart.
func (a *App) Chart() Chart {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chart
}

func (a *App) setChart(c Chart) {
	c.UpdatedAt = a.now()
	a.mu.Lock()
	a.chart = c
	a.mu.Unlock()
}

// Countries lists the distinct countries in the store. Errors are logged
// and yield an empty list.
func (a *App) Countries(ctx context.Context) []string {
	countries, err := a.session.Handle().Countries(ctx)
	if err != nil {
		a.logger.Error("Error fetching countries", "error", err)
		if store.IsConnectivityError(err) {
			a.triggerReconnect()
		}
		return []string{}
	}
	return countries
}

// Banner returns the current banner image, or "" when none are configured.
func (a *App) Banner() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.cfg.Banners) == 0 {
		return ""
	}
	return a.cfg.Banners[a.bannerIdx]
}

// RotateBanner advances to the next banner, wrapping around.
func (a *App) RotateBanner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cfg.Banners) == 0 {
		return ""
	}
	a.bannerIdx = (a.bannerIdx + 1) % len(a.cfg.Banners)
	return a.cfg.Banners[a.bannerIdx]
}

// CacheStats exposes the query cache counters.
func (a *App) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// JobStats exposes the scheduler counters.
func (a *App) JobStats() []scheduler.JobStats {
	return a.scheduler.Stats()
}

// Metrics returns the dashboard's collectors.
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}
