// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineproto

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidPoint is returned when a point cannot be encoded.
//
// A point with zero fields is always invalid and must never be sent.
var ErrInvalidPoint = errors.New("invalid point")

// tagReplacer maps the separator characters of the protocol to underscores.
var tagReplacer = strings.NewReplacer(" ", "_", ",", "_", "=", "_")

// fieldStringEscaper escapes backslashes and double quotes inside string fields.
var fieldStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Encode renders p as a single line-protocol line without a trailing newline.
//
// # Description
//
// Tags are emitted only when present. Tag values have spaces, commas and
// equals signs replaced with underscores. String fields are double quoted
// with backslashes and quotes escaped, booleans render as true/false,
// integers carry an "i" suffix and floats render in plain decimal form.
//
// # Inputs
//
//   - p: The point to encode. Not modified.
//
// # Outputs
//
//   - string: The encoded line.
//   - error: Wraps ErrInvalidPoint when p is nil, has no measurement, has no
//     fields, or carries a field value that cannot be represented.
//
// # Examples
//
//	line, err := Encode(NewPoint("m").AddTag("country", "South Africa").AddField("n", 5))
//	// line == "m,country=South_Africa n=5i"
func Encode(p *Point) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil point", ErrInvalidPoint)
	}
	if len(p.Fields) == 0 {
		return "", fmt.Errorf("%w: measurement %q has no fields", ErrInvalidPoint, p.Measurement)
	}
	if p.Measurement == "" {
		return "", fmt.Errorf("%w: empty measurement", ErrInvalidPoint)
	}

	var b strings.Builder
	b.WriteString(p.Measurement)

	for _, t := range p.Tags {
		b.WriteByte(',')
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(tagReplacer.Replace(t.Value))
	}

	b.WriteByte(' ')
	for i, f := range p.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		v, err := formatFieldValue(f.Value)
		if err != nil {
			return "", fmt.Errorf("%w: field %q: %v", ErrInvalidPoint, f.Key, err)
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(v)
	}

	if p.Timestamp != nil {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(*p.Timestamp, 10))
	}

	return b.String(), nil
}

// formatFieldValue renders one field value. bool is checked before the
// numeric kinds so it never picks up an integer suffix.
func formatFieldValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return `"` + fieldStringEscaper.Replace(val) + `"`, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int8:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int16:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int32:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int64:
		return strconv.FormatInt(val, 10) + "i", nil
	case uint:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint64:
		return strconv.FormatUint(val, 10) + "i", nil
	case float32:
		return formatFloat(float64(val), 32)
	case float64:
		return formatFloat(val, 64)
	case nil:
		return "", errors.New("nil value")
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

func formatFloat(f float64, bitSize int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite float %v", f)
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize), nil
}
