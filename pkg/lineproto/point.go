// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineproto encodes metric points into the InfluxDB line protocol.
//
// The encoder is deliberately small and dependency free: a point is a
// measurement, an ordered set of tags, an ordered set of typed fields and an
// optional nanosecond timestamp. Encoding is pure and deterministic, so the
// same point always produces the same bytes on the wire.
//
// # Wire Format
//
//	measurement[,tag=value...] field=value[,field=value...] [timestamp]
//
// # Example
//
//	p := lineproto.NewPoint("car_market").
//	    AddTag("country", "South Africa").
//	    AddField("listings", 5)
//	line, err := lineproto.Encode(p) // car_market,country=South_Africa listings=5i
package lineproto

import "time"

// Tag is an indexed string dimension of a point.
type Tag struct {
	Key   string
	Value string
}

// Field is a typed value carried by a point.
//
// Value must be a string, a bool, a Go integer kind or a float kind.
type Field struct {
	Key   string
	Value any
}

// Point is a single time-series sample.
//
// # Fields
//
//   - Measurement: Name of the series. Must not be empty.
//   - Tags: Ordered tags. Keys are unique when built through AddTag.
//   - Fields: Ordered fields. At least one is required for a point to encode.
//   - Timestamp: Optional Unix nanoseconds. Nil lets the collector stamp it.
type Point struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
	Timestamp   *int64
}

// NewPoint returns an empty point for the given measurement.
func NewPoint(measurement string) *Point {
	return &Point{Measurement: measurement}
}

// AddTag appends a tag, or replaces the value in place when the key exists.
func (p *Point) AddTag(key, value string) *Point {
	for i := range p.Tags {
		if p.Tags[i].Key == key {
			p.Tags[i].Value = value
			return p
		}
	}
	p.Tags = append(p.Tags, Tag{Key: key, Value: value})
	return p
}

// AddField appends a field, or replaces the value in place when the key exists.
func (p *Point) AddField(key string, value any) *Point {
	for i := range p.Fields {
		if p.Fields[i].Key == key {
			p.Fields[i].Value = value
			return p
		}
	}
	p.Fields = append(p.Fields, Field{Key: key, Value: value})
	return p
}

// SetTime stamps the point with t at nanosecond precision.
func (p *Point) SetTime(t time.Time) *Point {
	ns := t.UnixNano()
	p.Timestamp = &ns
	return p
}

// TagValue returns the value of the tag with the given key.
func (p *Point) TagValue(key string) (string, bool) {
	for _, t := range p.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}
