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
	"github.com/brianvoe/gofakeit/v7"
)

// SeedOptions controls sample data generation.
type SeedOptions struct {
	Countries []string
	Models    []string

	// MinModels..MaxModels distinct models are sampled per country.
	MinModels int
	MaxModels int

	// MinListings..MaxListings listings are generated per model.
	MinListings int
	MaxListings int

	MinPrice, MaxPrice     int
	MinMileage, MaxMileage int
	MinYear, MaxYear       int
}

// DefaultSeedOptions mirrors the sample data the dashboard ships with.
func DefaultSeedOptions() SeedOptions {
	return SeedOptions{
		Countries: []string{
			"Austria", "Belgium", "Bulgaria", "Croatia", "Czech Republic", "Denmark",
			"Estonia", "Finland", "France", "Germany", "Greece", "Hungary", "Ireland",
			"Italy", "Latvia", "Lithuania", "Netherlands", "Poland", "Portugal", "Spain", "United-Kingdom",
		},
		Models: []string{
			"Volkswagen Golf", "Volkswagen Polo", "Volkswagen Passat", "Volkswagen Tiguan",
			"Renault Clio", "Renault Megane", "Renault Captur", "Peugeot 208", "Peugeot 308",
			"Peugeot 3008", "Citroen C3", "Citroen C4", "Opel Corsa", "Opel Astra",
			"Ford Fiesta", "Ford Focus", "Ford Kuga", "Toyota Yaris", "Toyota Corolla",
			"Toyota RAV4", "Skoda Octavia", "Skoda Fabia", "Skoda Superb", "Seat Ibiza",
			"Seat Leon", "Fiat 500", "Fiat Panda", "BMW 3 Series", "BMW X1",
			"Mercedes-Benz A-Class", "Mercedes-Benz C-Class", "Audi A3", "Audi A4",
			"Hyundai i30", "Kia Ceed", "Dacia Sandero", "Dacia Duster", "Nissan Qashqai",
			"Mazda CX-5", "Volvo XC60", "Subaru Outback", "Subaru Forester",
		},
		MinModels:   20,
		MaxModels:   30,
		MinListings: 5,
		MaxListings: 10,
		MinPrice:    2000,
		MaxPrice:    45000,
		MinMileage:  10000,
		MaxMileage:  200000,
		MinYear:     2005,
		MaxYear:     2024,
	}
}

// Generate builds sample listings.
//
// # Description
//
// For every country, samples between MinModels and MaxModels distinct models
// and emits MinListings..MaxListings listings per model with random price,
// mileage, year and a fake city. The same faker seed yields the same data.
//
// # Inputs
//
//   - f: Source of randomness. Use gofakeit.New(seed) for reproducible output.
//   - opts: Generation bounds.
//
// # Outputs
//
//   - []Record: Listings ready for CouchStore.Seed.
func Generate(f *gofakeit.Faker, opts SeedOptions) []Record {
	var records []Record

	for _, country := range opts.Countries {
		models := append([]string(nil), opts.Models...)
		f.ShuffleStrings(models)

		k := f.IntRange(opts.MinModels, opts.MaxModels)
		if k > len(models) {
			k = len(models)
		}

		for _, model := range models[:k] {
			listings := f.IntRange(opts.MinListings, opts.MaxListings)
			for i := 0; i < listings; i++ {
				records = append(records, Record{
					FieldCountry:  country,
					FieldCarType:  model,
					FieldPrice:    f.IntRange(opts.MinPrice, opts.MaxPrice),
					FieldMileage:  f.IntRange(opts.MinMileage, opts.MaxMileage),
					FieldYear:     f.IntRange(opts.MinYear, opts.MaxYear),
					FieldLocation: f.City(),
				})
			}
		}
	}

	return records
}
