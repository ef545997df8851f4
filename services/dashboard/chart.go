// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dashboard

import (
	"time"

	"github.com/AleutianAI/cardash/pkg/lineproto"
	"github.com/AleutianAI/cardash/services/dashboard/store"
)

// MeasurementCarMarket is the measurement of the per-refresh summary point.
const MeasurementCarMarket = "car_market"

// ChartState tells the UI which of the chart's shapes it is looking at.
type ChartState string

const (
	ChartReady       ChartState = "ready"
	ChartNoSelection ChartState = "no_selection"
	ChartEmpty       ChartState = "empty"
	ChartError       ChartState = "error"
)

// Chart titles shown for the non-ready states.
const (
	TitleNoSelection = "Select a country"
	TitleError       = "Error loading data"
	TitleEmpty       = "No data for selected country"
)

// Series is one bar trace.
type Series struct {
	X    []string  `json:"x"`
	Y    []float64 `json:"y"`
	Type string    `json:"type"`
}

// Layout carries the chart title.
type Layout struct {
	Title string `json:"title"`
}

// Chart is the payload rendered by the UI.
type Chart struct {
	State     ChartState `json:"state"`
	Country   string     `json:"country,omitempty"`
	Data      []Series   `json:"data"`
	Layout    Layout     `json:"layout"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func stateChart(state ChartState, country, title string) Chart {
	return Chart{
		State:   state,
		Country: country,
		Data:    []Series{},
		Layout:  Layout{Title: title},
	}
}

// NoSelectionChart is shown before a country is picked.
func NoSelectionChart() Chart { return stateChart(ChartNoSelection, "", TitleNoSelection) }

// ErrorChart is shown when the fetch for country failed.
func ErrorChart(country string) Chart { return stateChart(ChartError, country, TitleError) }

// BuildChart maps listings to a car type vs price bar chart. Listings
// without a usable price are left out.
func BuildChart(country string, records []store.Record) Chart {
	if len(records) == 0 {
		return stateChart(ChartEmpty, country, TitleEmpty)
	}

	series := Series{
		X:    make([]string, 0, len(records)),
		Y:    make([]float64, 0, len(records)),
		Type: "bar",
	}
	for _, r := range records {
		price, ok := r.Price()
		if !ok {
			continue
		}
		series.X = append(series.X, r.CarType())
		series.Y = append(series.Y, price)
	}

	return Chart{
		State:   ChartReady,
		Country: country,
		Data:    []Series{series},
		Layout:  Layout{Title: "Used Car Prices in " + country},
	}
}

// Summary aggregates one country's listings.
type Summary struct {
	Listings int
	AvgPrice float64
	MinPrice float64
	MaxPrice float64
	AvgYear  float64
	HasYear  bool
	Models   int
}

// Summarize computes price and year statistics. ok is false when no listing
// carries a price, in which case there is nothing to report.
func Summarize(records []store.Record) (s Summary, ok bool) {
	var priceSum, yearSum float64
	var years int
	models := make(map[string]struct{})

	for _, r := range records {
		price, hasPrice := r.Price()
		if !hasPrice {
			continue
		}
		if s.Listings == 0 || price < s.MinPrice {
			s.MinPrice = price
		}
		if s.Listings == 0 || price > s.MaxPrice {
			s.MaxPrice = price
		}
		s.Listings++
		priceSum += price
		models[r.CarType()] = struct{}{}

		if year, hasYear := r.Year(); hasYear {
			yearSum += float64(year)
			years++
		}
	}

	if s.Listings == 0 {
		return Summary{}, false
	}
	s.AvgPrice = priceSum / float64(s.Listings)
	s.Models = len(models)
	if years > 0 {
		s.AvgYear = yearSum / float64(years)
		s.HasYear = true
	}
	return s, true
}

// Point renders the summary as a car_market point tagged with country.
func (s Summary) Point(country string, at time.Time) *lineproto.Point {
	p := lineproto.NewPoint(MeasurementCarMarket).
		AddTag("country", country).
		AddField("listings", s.Listings).
		AddField("avg_price", s.AvgPrice).
		AddField("min_price", s.MinPrice).
		AddField("max_price", s.MaxPrice)
	if s.HasYear {
		p.AddField("avg_year", s.AvgYear)
	}
	return p.AddField("models", s.Models).SetTime(at)
}
