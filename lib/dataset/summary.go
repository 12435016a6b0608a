// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// seriesNames maps the series IDs statfeed usually tracks to readable
// names.
var seriesNames = map[string]string{
	"CEU0000000001": "Total Non-Farm Workers",
	"LNS14000000":   "Unemployment Rates",
	"LNS11300000":   "Labor Force Participation Rate",
	"CES0500000003": "Average Hourly Earnings",
	"LNS12000000":   "Employment Population Ratio",
	"CES3000000001": "Total Manufacturing Employment",
	"CES9091000001": "Construction Employment",
	"LNS13000000":   "Employment Level",
	"CES9092000001": "Transportation Employment",
	"LNS13327709":   "Self-Employed Workers",
}

// SeriesName returns the readable name of a series, or "" for an ID
// outside the catalogue.
func SeriesName(id string) string {
	return seriesNames[id]
}

// ResolveSeries maps each selector (a series ID or a catalogue name,
// case-insensitive) to a series ID. IDs outside the catalogue pass
// through unchanged.
func ResolveSeries(selectors []string) []string {
	ids := make([]string, 0, len(selectors))
	for _, selector := range selectors {
		selector = strings.TrimSpace(selector)
		if selector == "" {
			continue
		}
		id := selector
		for candidate, name := range seriesNames {
			if strings.EqualFold(name, selector) || strings.EqualFold(candidate, selector) {
				id = candidate
				break
			}
		}
		ids = append(ids, id)
	}
	return ids
}

// Filter selects observations by series and inclusive date range.
// Empty SeriesIDs and zero dates select everything.
type Filter struct {
	SeriesIDs []string
	From      time.Time
	To        time.Time
}

// Apply returns the observations the filter selects, in input order.
func (f Filter) Apply(observations []Observation) []Observation {
	wanted := make(map[string]bool, len(f.SeriesIDs))
	for _, id := range f.SeriesIDs {
		wanted[id] = true
	}
	var selected []Observation
	for _, observation := range observations {
		if len(wanted) > 0 && !wanted[observation.SeriesID] {
			continue
		}
		if !f.From.IsZero() && observation.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && observation.Date.After(f.To) {
			continue
		}
		selected = append(selected, observation)
	}
	return selected
}

// ParseMonth accepts YYYY-MM or YYYY-MM-DD and returns the first day
// of that month in UTC. end selects the last day of the month instead,
// so a range "2024-01" to "2024-03" covers March.
func ParseMonth(value string, end bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	var parsed time.Time
	var err error
	if len(value) == len("2006-01") {
		parsed, err = time.Parse("2006-01", value)
	} else {
		parsed, err = time.Parse(DateLayout, value)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM or YYYY-MM-DD", value)
	}
	month := time.Date(parsed.Year(), parsed.Month(), 1, 0, 0, 0, 0, time.UTC)
	if end {
		return month.AddDate(0, 1, -1), nil
	}
	return month, nil
}

// SeriesSummary describes one series over a range of observations.
type SeriesSummary struct {
	SeriesID string    `json:"series_id"`
	Name     string    `json:"name,omitempty"`
	Count    int       `json:"count"`
	First    time.Time `json:"first"`
	Latest   time.Time `json:"latest"`

	FirstValue  float64 `json:"first_value"`
	LatestValue float64 `json:"latest_value"`
	Change      float64 `json:"change"`

	// ChangePercent is nil when the first value is zero.
	ChangePercent *float64 `json:"change_percent,omitempty"`

	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Summarize computes one summary per series present in observations,
// sorted by series ID. Values that do not parse as numbers are
// ignored.
func Summarize(observations []Observation) []SeriesSummary {
	bySeries := make(map[string][]Observation)
	for _, observation := range observations {
		bySeries[observation.SeriesID] = append(bySeries[observation.SeriesID], observation)
	}
	ids := make([]string, 0, len(bySeries))
	for id := range bySeries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	summaries := make([]SeriesSummary, 0, len(ids))
	for _, id := range ids {
		if summary, ok := summarizeSeries(id, bySeries[id]); ok {
			summaries = append(summaries, summary)
		}
	}
	return summaries
}

func summarizeSeries(id string, observations []Observation) (SeriesSummary, bool) {
	summary := SeriesSummary{SeriesID: id, Name: SeriesName(id)}
	var sum float64
	for _, observation := range observations {
		value, err := strconv.ParseFloat(observation.Value, 64)
		if err != nil {
			continue
		}
		if summary.Count == 0 || observation.Date.Before(summary.First) {
			summary.First = observation.Date
			summary.FirstValue = value
		}
		if summary.Count == 0 || !observation.Date.Before(summary.Latest) {
			summary.Latest = observation.Date
			summary.LatestValue = value
		}
		if summary.Count == 0 || value < summary.Min {
			summary.Min = value
		}
		if summary.Count == 0 || value > summary.Max {
			summary.Max = value
		}
		sum += value
		summary.Count++
	}
	if summary.Count == 0 {
		return summary, false
	}
	summary.Mean = sum / float64(summary.Count)
	summary.Change = summary.LatestValue - summary.FirstValue
	if summary.FirstValue != 0 {
		percent := summary.Change / summary.FirstValue * 100
		summary.ChangePercent = &percent
	}
	return summary, true
}
