// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package emitter pushes line protocol points to InfluxDB over HTTP.
//
// Push delivers synchronously with bounded exponential-backoff retries.
// PushAsync hands the point to a small worker pool and returns at once; when
// the pool's queue is full the point is dropped and counted.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/AleutianAI/cardash/pkg/lineproto"
	"github.com/AleutianAI/cardash/services/dashboard/config"
	"github.com/AleutianAI/cardash/services/dashboard/observability"
)

var (
	// ErrDeliveryFailed is returned after every attempt failed.
	ErrDeliveryFailed = errors.New("metric delivery failed")

	// ErrQueueFull is returned by PushAsync when the point was dropped.
	ErrQueueFull = errors.New("metric queue full")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("emitter closed")
)

const bodySnippetLimit = 256

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Target addresses the write endpoint. A non-empty Token selects the 2.x API.
type Target struct {
	URL      string
	Database string
	Token    string
	Org      string
	Bucket   string
}

// TargetFromConfig copies the addressing part of the metrics config.
func TargetFromConfig(cfg config.MetricsConfig) Target {
	return Target{
		URL:      cfg.URL,
		Database: cfg.Database,
		Token:    cfg.Token,
		Org:      cfg.Org,
		Bucket:   cfg.Bucket,
	}
}

// TokenMode reports whether writes go to /api/v2/write.
func (t Target) TokenMode() bool {
	return t.Token != ""
}

// WriteURL returns the full write URL for the target.
func (t Target) WriteURL() string {
	base := strings.TrimRight(t.URL, "/")
	if t.TokenMode() {
		return fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=ns",
			base, url.QueryEscape(t.Org), url.QueryEscape(t.Bucket))
	}
	return fmt.Sprintf("%s/write?db=%s&precision=ns", base, url.QueryEscape(t.Database))
}

// Options tunes delivery.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the wait after the first failure; it doubles each time.
	BaseDelay time.Duration

	// Timeout bounds a single HTTP attempt. Zero means no per-attempt limit.
	Timeout time.Duration

	Workers   int
	QueueSize int

	Client  HTTPClient
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Timer replaces the backoff timer; nil uses real time.
	Timer retry.Timer
}

// OptionsFromConfig maps the metrics config onto Options.
func OptionsFromConfig(cfg config.MetricsConfig) Options {
	return Options{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		Timeout:    cfg.Timeout,
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
	}
}

// statusError is a non-204 response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Emitter delivers encoded points.
//
// # Thread Safety
//
// Push and PushAsync are safe for concurrent use. Close may be called once
// intake should stop; later pushes return ErrClosed.
type Emitter struct {
	target   Target
	writeURL string
	opts     Options
	client   HTTPClient
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan string

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	wg           sync.WaitGroup
}

// New creates an Emitter and starts its workers.
func New(target Target, opts Options) *Emitter {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		target:       target,
		writeURL:     target.WriteURL(),
		opts:         opts,
		client:       client,
		logger:       logger,
		metrics:      opts.Metrics,
		queue:        make(chan string, opts.QueueSize),
		workerCtx:    workerCtx,
		cancelWorker: cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return e
}

// Push encodes p and delivers it, retrying with exponential backoff.
//
// # Description
//
// Makes at most MaxRetries+1 attempts. Only 204 No Content counts as
// success. Between attempts it waits BaseDelay, 2*BaseDelay, 4*BaseDelay and
// so on; there is no wait after the last attempt.
//
// # Inputs
//
//   - ctx: Cancels a pending backoff or in-flight request.
//   - p: Point to deliver.
//
// # Outputs
//
//   - error: lineproto.ErrInvalidPoint without any network call when p does
//     not encode; ErrDeliveryFailed after exhaustion or cancellation.
func (e *Emitter) Push(ctx context.Context, p *lineproto.Point) error {
	line, err := lineproto.Encode(p)
	if err != nil {
		return err
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	return e.deliver(ctx, line)
}

// PushAsync encodes p and queues it for a worker without waiting.
func (e *Emitter) PushAsync(p *lineproto.Point) error {
	line, err := lineproto.Encode(p)
	if err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	select {
	case e.queue <- line:
		return nil
	default:
		e.metrics.RecordDropped()
		e.logger.Warn("Metric queue full, dropping point", "queue_size", cap(e.queue))
		return ErrQueueFull
	}
}

// Close stops intake and waits for queued points to drain. When ctx expires
// first, in-flight deliveries are cancelled and ctx's error is returned.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancelWorker()
		return nil
	case <-ctx.Done():
		e.cancelWorker()
		<-done
		e.logger.Warn("Emitter closed before queue drained", "error", ctx.Err())
		return ctx.Err()
	}
}

// worker delivers queued points until the queue is closed.
func (e *Emitter) worker(id int) {
	defer e.wg.Done()
	for line := range e.queue {
		if err := e.deliver(e.workerCtx, line); err != nil {
			e.logger.Debug("Async delivery gave up", "worker_id", id, "error", err)
		}
	}
}

// deliver runs the retry loop for one encoded line.
func (e *Emitter) deliver(ctx context.Context, line string) error {
	total := e.opts.MaxRetries + 1
	attempt := 0

	retryOpts := []retry.Option{
		retry.Attempts(uint(total)),
		retry.DelayType(exponentialDelay(e.opts.BaseDelay)),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
	if e.opts.Timer != nil {
		retryOpts = append(retryOpts, retry.WithTimer(e.opts.Timer))
	}

	err := retry.Do(func() error {
		attempt++
		err := e.send(ctx, line)
		e.metrics.RecordEmitAttempt(err)
		if err == nil {
			return nil
		}

		attrs := []any{"attempt", attempt, "max_attempts", total, "error", err}
		var se *statusError
		if errors.As(err, &se) {
			attrs = append(attrs, "status", se.Status, "body", se.Body)
		}
		e.logger.Warn("Metric delivery attempt failed", attrs...)
		return err
	}, retryOpts...)

	e.metrics.RecordDelivery(err)
	if err != nil {
		e.logger.Error("Failed to deliver metric after all retries",
			"attempts", attempt,
			"url", e.writeURL,
			"error", err)
		return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempt, err)
	}
	return nil
}

// send performs one HTTP write.
func (e *Emitter) send(ctx context.Context, line string) error {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.writeURL, strings.NewReader(line))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to build write request: %w", err))
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if e.target.TokenMode() {
		req.Header.Set("Authorization", "Bearer "+e.target.Token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("write request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
	_, _ = io.Copy(io.Discard, resp.Body)
	return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// exponentialDelay waits base, 2*base, 4*base... retry-go passes n starting
// at 1 for the first wait.
func exponentialDelay(base time.Duration) retry.DelayTypeFunc {
	const maxShift = 30
	return func(n uint, _ error, _ *retry.Config) time.Duration {
		if base <= 0 || n == 0 {
			return 0
		}
		shift := n - 1
		if shift > maxShift {
			shift = maxShift
		}
		return base << shift
	}
}
