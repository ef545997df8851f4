// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"syscall"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // registers the "couch" driver
)

const bulkChunkSize = 500

// CouchOptions configures DialCouch.
type CouchOptions struct {
	// URL is the server base URL, credentials included.
	URL string

	// Database is created when absent.
	Database string

	// MaxDocs is the Mango query limit.
	MaxDocs int

	Logger *slog.Logger
}

// CouchStore is a Store backed by a CouchDB database.
//
// # Thread Safety
//
// Safe for concurrent use; kivik clients are goroutine safe.
type CouchStore struct {
	client  *kivik.Client
	db      *kivik.DB
	name    string
	maxDocs int
	logger  *slog.Logger
}

// DialCouch opens a session against CouchDB.
//
// # Description
//
// Creates the client, pings the server, and opens the database, creating it
// when it does not exist yet. Any failure closes the client, so a retry loop
// can call DialCouch repeatedly without leaking connections.
//
// # Inputs
//
//   - ctx: Bounds the ping and database calls.
//   - opts: Server URL, database name and query limit.
//
// # Outputs
//
//   - *CouchStore: Live session.
//   - error: Non-nil when the server is unreachable or the database cannot be
//     opened or created.
func DialCouch(ctx context.Context, opts CouchOptions) (*CouchStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDocs := opts.MaxDocs
	if maxDocs <= 0 {
		maxDocs = 100000
	}

	client, err := kivik.New("couch", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create couchdb client: %w", err)
	}

	up, err := client.Ping(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("couchdb ping failed: %w", err)
	}
	if !up {
		_ = client.Close()
		return nil, errors.New("couchdb is not ready")
	}

	exists, err := client.DBExists(ctx, opts.Database)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to check database %q: %w", opts.Database, err)
	}
	if exists {
		logger.Info("Database found in CouchDB", "database", opts.Database)
	} else {
		err := client.CreateDB(ctx, opts.Database)
		if err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create database %q: %w", opts.Database, err)
		}
		logger.Info("Database created in CouchDB", "database", opts.Database)
	}

	db := client.DB(opts.Database)
	if err := db.Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open database %q: %w", opts.Database, err)
	}

	return &CouchStore{
		client:  client,
		db:      db,
		name:    opts.Database,
		maxDocs: maxDocs,
		logger:  logger,
	}, nil
}

// FetchByCountry runs a Mango query on the country field.
func (s *CouchStore) FetchByCountry(ctx context.Context, country string) ([]Record, error) {
	query := map[string]any{
		"selector": map[string]any{FieldCountry: country},
		"limit":    s.maxDocs,
	}

	rs := s.db.Find(ctx, query)
	defer rs.Close()

	records := make([]Record, 0)
	for rs.Next() {
		var rec Record
		if err := rs.ScanDoc(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode listing: %w", err)
		}
		records = append(records, rec)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("couchdb find for country %q failed: %w", country, err)
	}

	s.logger.Debug("Fetched listings", "database", s.name, "country", country, "count", len(records))
	return records, nil
}

// Countries scans the country field of every document.
func (s *CouchStore) Countries(ctx context.Context) ([]string, error) {
	query := map[string]any{
		"selector": map[string]any{"_id": map[string]any{"$gt": nil}},
		"fields":   []string{FieldCountry},
		"limit":    s.maxDocs,
	}

	rs := s.db.Find(ctx, query)
	defer rs.Close()

	seen := make(map[string]struct{})
	for rs.Next() {
		var rec Record
		if err := rs.ScanDoc(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode listing: %w", err)
		}
		seen[rec.Country()] = struct{}{}
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("couchdb country scan failed: %w", err)
	}

	countries := make([]string, 0, len(seen))
	for c := range seen {
		countries = append(countries, c)
	}
	sort.Strings(countries)

	s.logger.Info("Fetched countries", "count", len(countries))
	return countries, nil
}

// Seed bulk-inserts records in chunks and returns how many were stored.
func (s *CouchStore) Seed(ctx context.Context, records []Record) (int, error) {
	stored := 0
	for start := 0; start < len(records); start += bulkChunkSize {
		end := min(start+bulkChunkSize, len(records))

		docs := make([]any, 0, end-start)
		for _, rec := range records[start:end] {
			docs = append(docs, rec)
		}

		results, err := s.db.BulkDocs(ctx, docs)
		if err != nil {
			return stored, fmt.Errorf("bulk insert failed after %d documents: %w", stored, err)
		}
		for _, r := range results {
			if r.Error != nil {
				s.logger.Warn("Document rejected", "id", r.ID, "error", r.Error)
				continue
			}
			stored++
		}
	}
	return stored, nil
}

// Close releases the client.
func (s *CouchStore) Close() error {
	return s.client.Close()
}

// IsConnectivityError reports whether err is a transport failure rather than
// a query failure. Only connectivity errors warrant a reconnect.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	switch {
	case errors.As(err, &opErr), errors.As(err, &urlErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return true
	}

	switch kivik.HTTPStatus(err) {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
