// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import "testing"

func TestValidateCountry(t *testing.T) {
	tests := []struct {
		name    string
		country string
		wantErr bool
	}{
		{"single word", "France", false},
		{"with space", "Czech Republic", false},
		{"with hyphen", "United-Kingdom", false},
		{"with apostrophe", "Cote d'Ivoire", false},
		{"accented", "Österreich", false},
		{"max length", "A" + repeat("b", 63), false},

		{"empty", "", true},
		{"selector injection", `France", "$gt": "`, true},
		{"newline", "France\nGermany", true},
		{"starts with space", " France", true},
		{"digits", "France2", true},
		{"too long", "A" + repeat("b", 64), true},
		{"braces", "{France}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCountry(tt.country)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCountry(%q) error = %v, wantErr %v", tt.country, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeCountry(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"already clean", "Spain", "Spain", false},
		{"trims", "  Spain ", "Spain", false},
		{"collapses", "Czech \t  Republic", "Czech Republic", false},
		{"blank", "   ", "", true},
		{"invalid", "Spain;", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeCountry(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeCountry(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeCountry(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
