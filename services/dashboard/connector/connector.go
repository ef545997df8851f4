// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connector establishes sessions with external systems using a
// bounded, fixed-delay retry loop, and makes sure the metrics sink exists.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/cardash/services/dashboard/observability"
)

// ErrConnectionExhausted is returned when every connection attempt failed.
var ErrConnectionExhausted = errors.New("connection attempts exhausted")

// DialFunc opens one session. It is called once per attempt.
type DialFunc[H any] func(ctx context.Context) (H, error)

// RetryPolicy is a plain linear retry: MaxAttempts tries, Delay apart.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy waits up to 30 seconds for a dependency to come up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, Delay: 3 * time.Second}
}

// Option configures Connect and NewSession.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	timer   retry.Timer
}

// WithLogger sets the logger used for attempt outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimer replaces the timer used between attempts.
func WithTimer(t retry.Timer) Option {
	return func(o *options) { o.timer = t }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Connect dials until it succeeds or the policy runs out.
//
// # Description
//
// Calls dial up to policy.MaxAttempts times, waiting policy.Delay between
// failures and never after the last one. Each failure is logged with its
// attempt number. There is no jitter and no growth.
//
// # Inputs
//
//   - ctx: Cancels the loop, including a pending delay.
//   - name: Target name used in logs and metrics, e.g. "couchdb".
//   - dial: Opens one session.
//   - policy: Attempt count and delay. MaxAttempts below 1 is treated as 1.
//
// # Outputs
//
//   - H: The live handle from the first successful dial.
//   - error: Wraps ErrConnectionExhausted and the last dial error after
//     MaxAttempts failures, or the context error on cancellation.
func Connect[H any](ctx context.Context, name string, dial DialFunc[H], policy RetryPolicy, opts ...Option) (H, error) {
	o := buildOptions(opts)

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	retryOpts := []retry.Option{
		retry.Attempts(uint(attempts)),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
	if o.timer != nil {
		retryOpts = append(retryOpts, retry.WithTimer(o.timer))
	}

	h, err := retry.DoWithData(func() (H, error) {
		attempt++
		h, err := dial(ctx)
		o.metrics.RecordConnectAttempt(name, err)
		if err != nil {
			o.logger.Warn("Target not ready, retrying...",
				"target", name,
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err)
			return h, err
		}
		return h, nil
	}, retryOpts...)

	if err != nil {
		var zero H
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.logger.Warn("Connection cancelled", "target", name, "attempts", attempt)
			return zero, fmt.Errorf("connect to %s: %w", name, ctxErr)
		}
		o.logger.Error("Failed to connect after all retries", "target", name, "attempts", attempt, "error", err)
		return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectionExhausted, name, attempt, err)
	}

	o.logger.Info("Successfully connected", "target", name, "attempts", attempt)
	return h, nil
}

// =============================================================================
// Session
// =============================================================================

// Session owns a live handle and lends it to callers.
//
// The handle is replaced only by Reconnect. Concurrent Reconnect calls share
// one dial loop; the old handle is closed after the new one is installed.
type Session[H io.Closer] struct {
	name   string
	dial   DialFunc[H]
	policy RetryPolicy
	opts   []Option
	logger *slog.Logger

	mu     sync.RWMutex
	handle H
	closed bool

	flight     singleflight.Group
	reconnects atomic.Int64
}

// NewSession connects and wraps the handle.
func NewSession[H io.Closer](ctx context.Context, name string, dial DialFunc[H], policy RetryPolicy, opts ...Option) (*Session[H], error) {
	h, err := Connect(ctx, name, dial, policy, opts...)
	if err != nil {
		return nil, err
	}
	return &Session[H]{
		name:   name,
		dial:   dial,
		policy: policy,
		opts:   opts,
		logger: buildOptions(opts).logger,
		handle: h,
	}, nil
}

// Handle returns the current handle. Callers must not close it.
func (s *Session[H]) Handle() H {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Reconnects reports how many times the handle was replaced.
func (s *Session[H]) Reconnects() int64 {
	return s.reconnects.Load()
}

// Reconnect dials a fresh handle with the session's policy and swaps it in.
func (s *Session[H]) Reconnect(ctx context.Context) error {
	_, err, shared := s.flight.Do("reconnect", func() (any, error) {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return nil, errors.New("session closed")
		}

		s.logger.Info("Reconnecting", "target", s.name)
		h, err := Connect(ctx, s.name, s.dial, s.policy, s.opts...)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = h.Close()
			return nil, errors.New("session closed")
		}
		old := s.handle
		s.handle = h
		s.mu.Unlock()

		s.reconnects.Add(1)
		if err := old.Close(); err != nil {
			s.logger.Warn("Failed to close previous handle", "target", s.name, "error", err)
		}
		return nil, nil
	})
	if shared {
		s.logger.Debug("Joined in-flight reconnect", "target", s.name)
	}
	return err
}

// Close releases the handle. Later Reconnect calls fail.
func (s *Session[H]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handle.Close()
}
