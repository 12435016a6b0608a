// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package bls

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/statfeed/statfeed/lib/dataset"
)

// DefaultStartYear is the first year fetched into an empty dataset.
const DefaultStartYear = 2022

// ParseSeriesList splits a comma- or whitespace-separated list of
// series IDs, dropping empties and duplicates.
func ParseSeriesList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	seen := make(map[string]bool, len(fields))
	var series []string
	for _, field := range fields {
		if !seen[field] {
			seen[field] = true
			series = append(series, field)
		}
	}
	return series
}

// ParseYear parses a four-digit year. Empty returns fallback.
func ParseYear(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	year, err := strconv.Atoi(value)
	if err != nil || year < 1900 || year > 9999 {
		return 0, fmt.Errorf("invalid year %q", value)
	}
	return year, nil
}

// Observations converts monthly data points to observations. Annual
// averages and other non-monthly periods are dropped, as are points
// without a numeric value; skipped counts the latter.
func Observations(series []Series) (observations []dataset.Observation, skipped int) {
	for _, result := range series {
		for _, point := range result.Data {
			date, monthly := dataset.MonthlyDate(point.Year, point.Period)
			if !monthly {
				continue
			}
			value, err := dataset.NormalizeValue(point.Value)
			if err != nil {
				skipped++
				continue
			}
			observations = append(observations, dataset.Observation{
				SeriesID: result.SeriesID,
				Date:     date,
				Value:    value,
			})
		}
	}
	return observations, skipped
}

// RawRows flattens series into raw rows in response order. Footnote
// texts are joined with "; ".
func RawRows(series []Series) []dataset.RawRow {
	var rows []dataset.RawRow
	for _, result := range series {
		for _, point := range result.Data {
			var notes []string
			for _, footnote := range point.Footnotes {
				if footnote.Text != "" {
					notes = append(notes, footnote.Text)
				}
			}
			rows = append(rows, dataset.RawRow{
				Year:       point.Year,
				Period:     point.Period,
				PeriodName: point.PeriodName,
				Value:      point.Value,
				Footnotes:  strings.Join(notes, "; "),
				SeriesID:   result.SeriesID,
			})
		}
	}
	return rows
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	SeriesIDs []string

	// Output is the observation file read and rewritten.
	Output string

	// StartYear is the first year fetched when Output is missing or
	// empty. Zero means DefaultStartYear.
	StartYear int

	// Now supplies the current year, the last one fetched.
	Now time.Time

	// OnConflict decides between a stored value and a different fetched
	// one for the same month. Empty means dataset.ConflictKeep.
	OnConflict dataset.ConflictPolicy
}

// UpdateResult summarizes an Update. Revised counts months whose stored
// value was replaced; Conflicts counts months whose fetched value
// differed but the stored one was kept.
type UpdateResult struct {
	StartYear int
	EndYear   int
	Existing  int
	Fetched   int
	Added     int
	Revised   int
	Conflicts int
	Skipped   int
	Total     int
}

// Update fetches observations and merges them into the dataset at
// Output. With existing data, fetching starts at the year of the
// latest observation so the file grows incrementally. Months already
// stored keep their value unless OnConflict is dataset.ConflictReplace.
// The file is rewritten sorted and deduplicated.
func Update(ctx context.Context, client *Client, options UpdateOptions) (UpdateResult, error) {
	if len(options.SeriesIDs) == 0 {
		return UpdateResult{}, fmt.Errorf("bls: no series configured")
	}
	policy, err := dataset.ParseConflictPolicy(string(options.OnConflict))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("bls: %w", err)
	}
	existing, err := dataset.LoadObservations(options.Output)
	if err != nil {
		return UpdateResult{}, err
	}

	result := UpdateResult{
		StartYear: options.StartYear,
		EndYear:   options.Now.UTC().Year(),
		Existing:  len(existing),
	}
	if result.StartYear == 0 {
		result.StartYear = DefaultStartYear
	}
	if latest := dataset.LatestDate(existing); !latest.IsZero() {
		result.StartYear = latest.Year()
	}
	if result.StartYear > result.EndYear {
		result.StartYear = result.EndYear
	}

	series, err := client.Fetch(ctx, Request{
		SeriesIDs: options.SeriesIDs,
		StartYear: result.StartYear,
		EndYear:   result.EndYear,
	})
	if err != nil {
		return UpdateResult{}, err
	}
	fetched, skipped := Observations(series)
	result.Fetched = len(fetched)
	result.Skipped = skipped

	stored := make(map[dataset.Key]string, len(existing))
	for _, observation := range existing {
		stored[observation.Key()] = observation.Value
	}
	counted := make(map[dataset.Key]bool, len(fetched))
	for _, observation := range fetched {
		key := observation.Key()
		if counted[key] {
			continue
		}
		counted[key] = true
		previous, exists := stored[key]
		switch {
		case !exists:
			result.Added++
		case dataset.SameValue(previous, observation.Value):
		case policy == dataset.ConflictReplace:
			result.Revised++
		default:
			result.Conflicts++
		}
	}

	merged := dataset.MergeWith(existing, fetched, policy)
	result.Total = len(merged)
	if err := dataset.SaveObservations(options.Output, merged); err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}

// CollectOptions configures Collect.
type CollectOptions struct {
	SeriesIDs []string

	// Output is the raw file written.
	Output string

	StartYear int

	// EndYear zero means the current year.
	EndYear int

	Now time.Time
}

// Collect fetches the requested range and writes every data point to
// Output in the raw format, replacing the file. It returns the number
// of rows written.
func Collect(ctx context.Context, client *Client, options CollectOptions) (int, error) {
	if len(options.SeriesIDs) == 0 {
		return 0, fmt.Errorf("bls: no series configured")
	}
	startYear := options.StartYear
	if startYear == 0 {
		startYear = DefaultStartYear
	}
	endYear := options.EndYear
	if endYear == 0 {
		endYear = options.Now.UTC().Year()
	}

	series, err := client.Fetch(ctx, Request{
		SeriesIDs: options.SeriesIDs,
		StartYear: startYear,
		EndYear:   endYear,
	})
	if err != nil {
		return 0, err
	}
	rows := RawRows(series)
	if err := dataset.SaveRaw(options.Output, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
