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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cardash/services/dashboard/config"
)

// MockHTTPClient lets tests control transport behaviour.
type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func TestDatabaseSink_Ensure(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/query", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":[{"statement_id":0}]}`)
	}))
	defer srv.Close()

	sink := &DatabaseSink{URL: srv.URL + "/", Database: "car_dashboard", Client: srv.Client()}
	require.NoError(t, sink.Ensure(context.Background()))
	assert.Equal(t, `CREATE DATABASE "car_dashboard"`, gotQuery)

	// Idempotent: running again is fine.
	require.NoError(t, sink.Ensure(context.Background()))
}

func TestDatabaseSink_Failures(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer srv.Close()

		sink := &DatabaseSink{URL: srv.URL, Database: "car_dashboard"}
		err := sink.Ensure(context.Background())
		assert.ErrorIs(t, err, ErrSinkEnsureFailed)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("transport error", func(t *testing.T) {
		refused := errors.New("connection refused")
		sink := &DatabaseSink{
			URL:      "http://influxdb:8086",
			Database: "car_dashboard",
			Client: &MockHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
				return nil, refused
			}},
		}
		err := sink.Ensure(context.Background())
		assert.ErrorIs(t, err, ErrSinkEnsureFailed)
		assert.ErrorIs(t, err, refused)
	})
}

// fakeInflux serves the handful of 2.x endpoints BucketSink touches.
type fakeInflux struct {
	bucketExists bool
	orgFound     bool
	creates      atomic.Int64
	createdFor   atomic.Value
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v2/buckets":
		if f.bucketExists {
			_, _ = io.WriteString(w, `{"buckets":[{"id":"b1","name":"car_dashboard","orgID":"o1","retentionRules":[]}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"buckets":[]}`)

	case r.Method == http.MethodGet && r.URL.Path == "/api/v2/orgs":
		if f.orgFound {
			_, _ = io.WriteString(w, `{"orgs":[{"id":"o1","name":"cardash"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"orgs":[]}`)

	case r.Method == http.MethodPost && r.URL.Path == "/api/v2/buckets":
		var body struct {
			Name  string `json:"name"`
			OrgID string `json:"orgID"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.creates.Add(1)
		f.createdFor.Store(body.OrgID + "/" + body.Name)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"b2","name":"car_dashboard","orgID":"o1","retentionRules":[]}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"not found","message":"path not found"}`)
	}
}

func newBucketSink(t *testing.T, f *fakeInflux) *BucketSink {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client := influxdb2.NewClient(srv.URL, "secret-token")
	t.Cleanup(client.Close)
	return NewBucketSink(client.OrganizationsAPI(), client.BucketsAPI(), "cardash", "car_dashboard", nil)
}

func TestBucketSink_ExistingBucket(t *testing.T) {
	f := &fakeInflux{bucketExists: true, orgFound: true}
	require.NoError(t, newBucketSink(t, f).Ensure(context.Background()))
	assert.Equal(t, int64(0), f.creates.Load())
}

func TestBucketSink_CreatesMissingBucket(t *testing.T) {
	f := &fakeInflux{orgFound: true}
	require.NoError(t, newBucketSink(t, f).Ensure(context.Background()))
	assert.Equal(t, int64(1), f.creates.Load())
	assert.Equal(t, "o1/car_dashboard", f.createdFor.Load())
}

func TestBucketSink_MissingOrganization(t *testing.T) {
	f := &fakeInflux{}
	err := newBucketSink(t, f).Ensure(context.Background())
	assert.ErrorIs(t, err, ErrSinkEnsureFailed)
	assert.Equal(t, int64(0), f.creates.Load())
}

func TestNewSinkEnsurer_SelectsMode(t *testing.T) {
	cfg := config.DefaultConfig().Metrics

	legacy, release := NewSinkEnsurer(cfg, nil)
	release()
	assert.IsType(t, &DatabaseSink{}, legacy)

	cfg.Token = "secret"
	cfg.Org = "cardash"
	cfg.Bucket = "car_dashboard"
	cfg.Timeout = 2 * time.Second
	bucket, release := NewSinkEnsurer(cfg, nil)
	release()
	assert.IsType(t, &BucketSink{}, bucket)
}
