// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability defines the Prometheus metrics of the dashboard.
//
// # Metrics
//
//   - cardash_cache_lookups_total{result}: hit or miss
//   - cardash_cache_fetches_total{result}: live fetches, ok or error
//   - cardash_cache_evictions_total: LRU evictions at capacity
//   - cardash_cache_invalidations_total: wholesale sweeps
//   - cardash_cache_entries: resident keys
//   - cardash_emitter_attempts_total{result}: delivery attempts
//   - cardash_emitter_deliveries_total{result}: final outcome per point
//   - cardash_emitter_dropped_total: async points dropped on a full queue
//   - cardash_connector_attempts_total{target,result}: connection attempts
//   - cardash_scheduler_runs_total{job,result}: timer firings
//   - cardash_scheduler_run_duration_seconds{job}: firing duration
//
// Every recording method is safe on a nil *Metrics, so components can run
// without instrumentation in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cardash"

const (
	cacheSubsystem     = "cache"
	emitterSubsystem   = "emitter"
	connectorSubsystem = "connector"
	schedulerSubsystem = "scheduler"
)

// Result label values.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics holds every dashboard collector.
type Metrics struct {
	CacheLookups       *prometheus.CounterVec
	CacheFetches       *prometheus.CounterVec
	CacheEvictions     prometheus.Counter
	CacheInvalidations prometheus.Counter
	CacheEntries       prometheus.Gauge

	EmitterAttempts   *prometheus.CounterVec
	EmitterDeliveries *prometheus.CounterVec
	EmitterDropped    prometheus.Counter

	ConnectorAttempts *prometheus.CounterVec

	SchedulerRuns        *prometheus.CounterVec
	SchedulerRunDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors with reg.
//
// Pass prometheus.DefaultRegisterer in production and prometheus.NewRegistry()
// in tests so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cacheSubsystem,
				Name:      "lookups_total",
				Help:      "Query cache lookups by result",
			},
			[]string{"result"},
		),
		CacheFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cacheSubsystem,
				Name:      "fetches_total",
				Help:      "Live fetches performed on cache miss by result",
			},
			[]string{"result"},
		),
		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cacheSubsystem,
				Name:      "evictions_total",
				Help:      "Entries evicted because the cache was at capacity",
			},
		),
		CacheInvalidations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cacheSubsystem,
				Name:      "invalidations_total",
				Help:      "Wholesale cache invalidation sweeps",
			},
		),
		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: cacheSubsystem,
				Name:      "entries",
				Help:      "Number of keys currently resident in the cache",
			},
		),

		EmitterAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: emitterSubsystem,
				Name:      "attempts_total",
				Help:      "Metric delivery attempts by result",
			},
			[]string{"result"},
		),
		EmitterDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: emitterSubsystem,
				Name:      "deliveries_total",
				Help:      "Final delivery outcome per metric point",
			},
			[]string{"result"},
		),
		EmitterDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: emitterSubsystem,
				Name:      "dropped_total",
				Help:      "Asynchronous metric points dropped because the queue was full",
			},
		),

		ConnectorAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectorSubsystem,
				Name:      "attempts_total",
				Help:      "Connection attempts by target and result",
			},
			[]string{"target", "result"},
		),

		SchedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: schedulerSubsystem,
				Name:      "runs_total",
				Help:      "Timer firings by job and result",
			},
			[]string{"job", "result"},
		),
		SchedulerRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: schedulerSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Duration of a timer firing in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"job"},
		),
	}
}

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues(ResultHit).Inc()
	} else {
		m.CacheLookups.WithLabelValues(ResultMiss).Inc()
	}
}

// RecordCacheFetch counts a live fetch.
func (m *Metrics) RecordCacheFetch(err error) {
	if m == nil {
		return
	}
	m.CacheFetches.WithLabelValues(resultOf(err)).Inc()
}

// RecordCacheEviction counts an LRU eviction.
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

// RecordCacheInvalidation counts a sweep.
func (m *Metrics) RecordCacheInvalidation() {
	if m == nil {
		return
	}
	m.CacheInvalidations.Inc()
}

// SetCacheEntries publishes the resident key count.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordEmitAttempt counts one delivery attempt.
func (m *Metrics) RecordEmitAttempt(err error) {
	if m == nil {
		return
	}
	m.EmitterAttempts.WithLabelValues(resultOf(err)).Inc()
}

// RecordDelivery counts the final outcome of one point.
func (m *Metrics) RecordDelivery(err error) {
	if m == nil {
		return
	}
	m.EmitterDeliveries.WithLabelValues(resultOf(err)).Inc()
}

// RecordDropped counts a point dropped on a full queue.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.EmitterDropped.Inc()
}

// RecordConnectAttempt counts one connection attempt for target.
func (m *Metrics) RecordConnectAttempt(target string, err error) {
	if m == nil {
		return
	}
	m.ConnectorAttempts.WithLabelValues(target, resultOf(err)).Inc()
}

// RecordSchedulerRun counts a firing and observes its duration.
func (m *Metrics) RecordSchedulerRun(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(job, resultOf(err)).Inc()
	m.SchedulerRunDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordSchedulerSkip counts a firing skipped because the job was in flight.
func (m *Metrics) RecordSchedulerSkip(job string) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(job, ResultSkipped).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
