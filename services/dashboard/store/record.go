// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store reads and seeds car-listing documents in CouchDB.
package store

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
)

// Record field names read by the dashboard. All other fields pass through.
const (
	FieldCountry  = "country"
	FieldCarType  = "car_type"
	FieldPrice    = "price"
	FieldYear     = "year"
	FieldMileage  = "mileage"
	FieldLocation = "location"
)

// UnknownCountry labels documents without a country field.
const UnknownCountry = "Unknown"

// Record is one car listing as stored in the document store.
//
// Records returned by a Store are shared with the query cache; callers must
// not mutate them.
type Record map[string]any

// Country returns the listing country, or UnknownCountry when absent.
func (r Record) Country() string {
	if s, ok := r[FieldCountry].(string); ok && s != "" {
		return s
	}
	return UnknownCountry
}

// CarType returns the model name, or "" when absent.
func (r Record) CarType() string {
	s, _ := r[FieldCarType].(string)
	return s
}

// Price returns the listing price.
func (r Record) Price() (float64, bool) {
	return number(r[FieldPrice])
}

// Year returns the model year.
func (r Record) Year() (int, bool) {
	f, ok := number(r[FieldYear])
	if !ok {
		return 0, false
	}
	return int(f), true
}

// number accepts the numeric shapes a document can take after decoding.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Store is the read side the dashboard depends on.
type Store interface {
	// FetchByCountry returns every listing whose country equals country.
	FetchByCountry(ctx context.Context, country string) ([]Record, error)

	// Countries returns the sorted distinct countries present in the store.
	Countries(ctx context.Context) ([]string, error)

	// Close releases the underlying client.
	Close() error
}
