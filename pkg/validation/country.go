// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that reach the
// document store or the metrics wire format.
//
// Country names selected in the dashboard become both a Mango selector value
// and a line-protocol tag, so they are restricted to a conservative
// character set before use.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// countryPattern matches country names such as "France", "Czech Republic",
// "United-Kingdom" or "Cote d'Ivoire".
// Max length: 64 characters.
var countryPattern = regexp.MustCompile(`^\p{L}[\p{L} .'\-]{0,63}$`)

// ValidateCountry validates a country name.
//
// Valid names:
//   - 1-64 characters
//   - Start with a letter
//   - Letters, spaces, dots, apostrophes and hyphens only
//
// Example:
//
//	if err := validation.ValidateCountry(country); err != nil {
//	    return fmt.Errorf("invalid selection: %w", err)
//	}
func ValidateCountry(country string) error {
	if country == "" {
		return fmt.Errorf("country cannot be empty")
	}

	if !countryPattern.MatchString(country) {
		return fmt.Errorf("invalid country format: %q (must be 1-64 letters, spaces, dots, apostrophes or hyphens)", country)
	}

	return nil
}

// SanitizeCountry trims and collapses whitespace, then validates.
// Returns the normalized name if valid, or an error if invalid.
//
//	safe, err := validation.SanitizeCountry("  Czech   Republic ")
//	// safe == "Czech Republic"
func SanitizeCountry(country string) (string, error) {
	normalized := strings.Join(strings.Fields(country), " ")
	if err := ValidateCountry(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
