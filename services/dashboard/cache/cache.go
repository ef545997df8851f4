// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache memoizes per-country listing queries.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/cardash/services/dashboard/observability"
	"github.com/AleutianAI/cardash/services/dashboard/store"
)

var tracer = otel.Tracer("cardash.cache")

// ErrFetchFailed wraps a live fetch failure. Failures are never cached.
var ErrFetchFailed = errors.New("cache fetch failed")

// DefaultMaxKeys is used when no bound is configured.
const DefaultMaxKeys = 32

// Fetcher performs the live query for a key.
type Fetcher func(ctx context.Context, key string) ([]store.Record, error)

// CacheOption configures a QueryCache.
type CacheOption func(*QueryCache)

// WithMaxKeys bounds the number of resident keys.
func WithMaxKeys(n int) CacheOption {
	return func(c *QueryCache) {
		if n > 0 {
			c.maxKeys = n
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) CacheOption {
	return func(c *QueryCache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *QueryCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int    `json:"entries"`
	MaxKeys       int    `json:"max_keys"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Fetches       int64  `json:"fetches"`
	FetchErrors   int64  `json:"fetch_errors"`
	Evictions     int64  `json:"evictions"`
	Invalidations int64  `json:"invalidations"`
	Generation    uint64 `json:"generation"`
}

// QueryCache memoizes Fetcher results per key.
//
// Thread Safety:
//
//	Safe for concurrent use. A single mutex guards lookups, fills and the
//	invalidation sweep, so a reader never observes a partially cleared cache.
//	Concurrent misses for the same key share one live fetch.
//
// Eviction:
//
//	At most maxKeys keys are resident. Adding a key at capacity evicts the
//	least recently used one. InvalidateAll drops everything and bumps the
//	generation; a fetch that began under an older generation returns its
//	result to its callers but does not store it.
type QueryCache struct {
	mu         sync.Mutex
	entries    *lru.Cache
	generation uint64
	flight     singleflight.Group

	fetch   Fetcher
	maxKeys int
	metrics *observability.Metrics
	logger  *slog.Logger

	hits          int64
	misses        int64
	fetches       int64
	fetchErrors   int64
	evictions     int64
	invalidations int64
}

// New creates a QueryCache around fetch.
func New(fetch Fetcher, opts ...CacheOption) (*QueryCache, error) {
	if fetch == nil {
		return nil, errors.New("cache: fetcher must not be nil")
	}

	c := &QueryCache{
		fetch:   fetch,
		maxKeys: DefaultMaxKeys,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := lru.New(c.maxKeys)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Get returns the records for key, fetching them on a miss.
//
// Description:
//
//	A hit returns a copy of the stored slice without touching the store. A
//	miss runs the Fetcher once per key even under concurrent callers and
//	stores the result unless InvalidateAll ran in the meantime.
//
// Inputs:
//
//	ctx - Passed to the Fetcher on a miss.
//	key - Query key, typically a country name.
//
// Outputs:
//
//	[]store.Record - Shallow copy; callers may reorder or truncate it freely.
//	error - Wraps ErrFetchFailed and the Fetcher's error on failure.
func (c *QueryCache) Get(ctx context.Context, key string) ([]store.Record, error) {
	c.mu.Lock()
	if v, ok := c.entries.Get(key); ok {
		c.mu.Unlock()
		atomic.AddInt64(&c.hits, 1)
		c.metrics.RecordCacheLookup(true)
		return slices.Clone(v.([]store.Record)), nil
	}
	gen := c.generation
	c.mu.Unlock()

	atomic.AddInt64(&c.misses, 1)
	c.metrics.RecordCacheLookup(false)

	flightKey := fmt.Sprintf("%d/%s", gen, key)
	v, err, _ := c.flight.Do(flightKey, func() (any, error) {
		return c.fill(ctx, key, gen)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]store.Record)), nil
}

// fill performs the live fetch and stores the result for generation gen.
func (c *QueryCache) fill(ctx context.Context, key string, gen uint64) ([]store.Record, error) {
	ctx, span := tracer.Start(ctx, "cache.fetch",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.generation", int64(gen)),
		),
	)
	defer span.End()

	atomic.AddInt64(&c.fetches, 1)
	records, err := c.fetch(ctx, key)
	c.metrics.RecordCacheFetch(err)
	if err != nil {
		atomic.AddInt64(&c.fetchErrors, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Cache fetch failed", "key", key, "error", err)
		return nil, fmt.Errorf("%w for %q: %w", ErrFetchFailed, key, err)
	}
	if records == nil {
		records = []store.Record{}
	}
	span.SetAttributes(attribute.Int("cache.records", len(records)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		c.logger.Debug("Discarding fetch from before invalidation", "key", key)
		return records, nil
	}
	if evicted := c.entries.Add(key, records); evicted {
		atomic.AddInt64(&c.evictions, 1)
		c.metrics.RecordCacheEviction()
	}
	c.metrics.SetCacheEntries(c.entries.Len())
	return records, nil
}

// InvalidateAll drops every entry.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := c.entries.Len()
	c.entries.Purge()
	c.generation++

	atomic.AddInt64(&c.invalidations, 1)
	c.metrics.RecordCacheInvalidation()
	c.metrics.SetCacheEntries(0)
	c.logger.Debug("Cache invalidated", "dropped", dropped, "generation", c.generation)
}

// Len returns the number of resident keys.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns current counters.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	entries, gen := c.entries.Len(), c.generation
	c.mu.Unlock()

	return Stats{
		Entries:       entries,
		MaxKeys:       c.maxKeys,
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Fetches:       atomic.LoadInt64(&c.fetches),
		FetchErrors:   atomic.LoadInt64(&c.fetchErrors),
		Evictions:     atomic.LoadInt64(&c.evictions),
		Invalidations: atomic.LoadInt64(&c.invalidations),
		Generation:    gen,
	}
}
