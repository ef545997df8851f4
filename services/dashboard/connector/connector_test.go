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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cardash/services/dashboard/observability"
)

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingTimer) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// fakeHandle is an io.Closer that records Close calls.
type fakeHandle struct {
	id     int
	closed atomic.Bool
}

func (f *fakeHandle) Close() error {
	f.closed.Store(true)
	return nil
}

// flakyDial fails the first failures calls.
func flakyDial(failures int, calls *atomic.Int64) DialFunc[*fakeHandle] {
	return func(ctx context.Context) (*fakeHandle, error) {
		n := int(calls.Add(1))
		if n <= failures {
			return nil, errors.New("connection refused")
		}
		return &fakeHandle{id: n}, nil
	}
}

func TestConnect_SucceedsOnLastAttempt(t *testing.T) {
	var calls atomic.Int64
	timer := &recordingTimer{}
	policy := RetryPolicy{MaxAttempts: 5, Delay: 3 * time.Second}

	h, err := Connect(context.Background(), "couchdb", flakyDial(4, &calls), policy, WithTimer(timer))
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, 5, h.id)
	assert.Equal(t, int64(5), calls.Load())

	delays := timer.Delays()
	require.Len(t, delays, 4)
	for _, d := range delays {
		assert.Equal(t, 3*time.Second, d, "delay must stay fixed")
	}
}

func TestConnect_ExhaustsAfterMaxAttempts(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		wantCalls   int64
	}{
		{"ten attempts", 10, 10},
		{"single attempt", 1, 1},
		{"zero treated as one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			timer := &recordingTimer{}
			policy := RetryPolicy{MaxAttempts: tt.maxAttempts, Delay: time.Second}

			h, err := Connect(context.Background(), "couchdb", flakyDial(1000, &calls), policy, WithTimer(timer))
			require.Error(t, err)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, ErrConnectionExhausted)
			assert.Contains(t, err.Error(), "connection refused")
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Len(t, timer.Delays(), int(tt.wantCalls-1), "no delay after the last attempt")
		})
	}
}

func TestConnect_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	dial := func(context.Context) (*fakeHandle, error) {
		calls.Add(1)
		cancel()
		return nil, errors.New("connection refused")
	}

	start := time.Now()
	_, err := Connect(ctx, "couchdb", dial, RetryPolicy{MaxAttempts: 10, Delay: time.Minute})
	require.Error(t, err)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrConnectionExhausted)
	assert.Equal(t, int64(1), calls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnect_RecordsAttempts(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	var calls atomic.Int64

	_, err := Connect(context.Background(), "couchdb", flakyDial(2, &calls),
		RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		WithMetrics(m), WithTimer(&recordingTimer{}))
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectorAttempts.WithLabelValues("couchdb", observability.ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectorAttempts.WithLabelValues("couchdb", observability.ResultOK)))
}

func TestSession_ReconnectSwapsHandle(t *testing.T) {
	var calls atomic.Int64
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

	s, err := NewSession(context.Background(), "couchdb", flakyDial(0, &calls), policy, WithTimer(&recordingTimer{}))
	require.NoError(t, err)

	first := s.Handle()
	require.NoError(t, s.Reconnect(context.Background()))
	second := s.Handle()

	assert.NotSame(t, first, second)
	assert.True(t, first.closed.Load(), "previous handle must be closed")
	assert.False(t, second.closed.Load())
	assert.Equal(t, int64(1), s.Reconnects())

	require.NoError(t, s.Close())
	assert.True(t, second.closed.Load())
	assert.Error(t, s.Reconnect(context.Background()))
}

func TestSession_ReconnectFailureKeepsHandle(t *testing.T) {
	var calls atomic.Int64
	dial := func(context.Context) (*fakeHandle, error) {
		if calls.Add(1) == 1 {
			return &fakeHandle{id: 1}, nil
		}
		return nil, errors.New("connection refused")
	}
	policy := RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}

	s, err := NewSession(context.Background(), "couchdb", dial, policy, WithTimer(&recordingTimer{}))
	require.NoError(t, err)

	err = s.Reconnect(context.Background())
	assert.ErrorIs(t, err, ErrConnectionExhausted)
	assert.Equal(t, 1, s.Handle().id)
	assert.False(t, s.Handle().closed.Load())
}

func TestSession_ConcurrentReconnectsShareDial(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	dial := func(context.Context) (*fakeHandle, error) {
		n := calls.Add(1)
		if n > 1 {
			<-release
		}
		return &fakeHandle{id: int(n)}, nil
	}

	s, err := NewSession(context.Background(), "couchdb", dial, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Reconnect(context.Background()))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// One initial dial plus at most a couple of reconnect rounds; without
	// coalescing there would be six.
	assert.Less(t, calls.Load(), int64(6))
	assert.Equal(t, calls.Load()-1, s.Reconnects())
}

func TestNewSession_Exhausted(t *testing.T) {
	var calls atomic.Int64
	_, err := NewSession(context.Background(), "couchdb", flakyDial(10, &calls),
		RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, WithTimer(&recordingTimer{}))
	assert.ErrorIs(t, err, ErrConnectionExhausted)
	assert.Equal(t, int64(3), calls.Load())
}
