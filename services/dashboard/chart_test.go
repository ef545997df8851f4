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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cardash/pkg/lineproto"
	"github.com/AleutianAI/cardash/services/dashboard/store"
)

func listing(carType string, price any, year any) store.Record {
	r := store.Record{store.FieldCountry: "France", store.FieldCarType: carType}
	if price != nil {
		r[store.FieldPrice] = price
	}
	if year != nil {
		r[store.FieldYear] = year
	}
	return r
}

func TestBuildChart(t *testing.T) {
	records := []store.Record{
		listing("Renault Clio", 9500, 2015),
		listing("Peugeot 208", 12000.5, 2018),
		listing("Broken", nil, 2010),
	}

	chart := BuildChart("France", records)
	assert.Equal(t, ChartReady, chart.State)
	assert.Equal(t, "Used Car Prices in France", chart.Layout.Title)
	require.Len(t, chart.Data, 1)
	assert.Equal(t, "bar", chart.Data[0].Type)
	assert.Equal(t, []string{"Renault Clio", "Peugeot 208"}, chart.Data[0].X)
	assert.Equal(t, []float64{9500, 12000.5}, chart.Data[0].Y)
}

func TestBuildChart_States(t *testing.T) {
	empty := BuildChart("Latvia", nil)
	assert.Equal(t, ChartEmpty, empty.State)
	assert.Equal(t, TitleEmpty, empty.Layout.Title)
	assert.NotNil(t, empty.Data)

	assert.Equal(t, TitleNoSelection, NoSelectionChart().Layout.Title)
	assert.Equal(t, TitleError, ErrorChart("Spain").Layout.Title)
	assert.Equal(t, "Spain", ErrorChart("Spain").Country)
}

func TestSummarize(t *testing.T) {
	s, ok := Summarize([]store.Record{
		listing("Renault Clio", 1000, 2014),
		listing("Renault Clio", 3000, nil),
		listing("Audi A3", 2000, 2017),
		listing("Ghost", nil, 2000),
	})
	require.True(t, ok)

	assert.Equal(t, 3, s.Listings)
	assert.Equal(t, 2000.0, s.AvgPrice)
	assert.Equal(t, 1000.0, s.MinPrice)
	assert.Equal(t, 3000.0, s.MaxPrice)
	assert.True(t, s.HasYear)
	assert.Equal(t, 2015.5, s.AvgYear)
	assert.Equal(t, 2, s.Models)

	_, ok = Summarize([]store.Record{listing("Ghost", nil, nil)})
	assert.False(t, ok)
}

func TestSummary_PointEncoding(t *testing.T) {
	s := Summary{
		Listings: 2, AvgPrice: 1500, MinPrice: 1000, MaxPrice: 2000,
		AvgYear: 2015.5, HasYear: true, Models: 2,
	}

	line, err := lineproto.Encode(s.Point("South Africa", time.Unix(0, 42)))
	require.NoError(t, err)
	assert.Equal(t,
		"car_market,country=South_Africa listings=2i,avg_price=1500,min_price=1000,max_price=2000,avg_year=2015.5,models=2i 42",
		line)

	s.HasYear = false
	line, err = lineproto.Encode(s.Point("Spain", time.Unix(0, 7)))
	require.NoError(t, err)
	assert.NotContains(t, line, "avg_year")
}
