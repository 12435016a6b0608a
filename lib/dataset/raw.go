// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// RawHeader is the header row of a raw file.
var RawHeader = []string{"year", "period", "periodName", "value", "footnotes", "seriesID"}

// RawRow is one data point as returned by the BLS API.
type RawRow struct {
	Year       string
	Period     string
	PeriodName string
	Value      string
	Footnotes  string
	SeriesID   string
}

// WriteRaw writes the header and rows in the given order.
func WriteRaw(w io.Writer, rows []RawRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(RawHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{row.Year, row.Period, row.PeriodName, row.Value, row.Footnotes, row.SeriesID}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// SaveRaw atomically replaces the file at path with rows.
func SaveRaw(path string, rows []RawRow) error {
	return writeAtomic(path, func(w io.Writer) error {
		return WriteRaw(w, rows)
	})
}

// ReadRaw parses a raw file. The footnotes and periodName columns are
// optional.
func ReadRaw(r io.Reader) ([]RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns, err := locateColumns(header, []string{"year", "period", "value", "seriesID"})
	if err != nil {
		return nil, err
	}
	field := func(record []string, name string) string {
		index, exists := columns[name]
		if !exists || index >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[index])
	}

	var rows []RawRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, RawRow{
			Year:       field(record, "year"),
			Period:     field(record, "period"),
			PeriodName: field(record, "periodName"),
			Value:      field(record, "value"),
			Footnotes:  field(record, "footnotes"),
			SeriesID:   field(record, "seriesID"),
		})
	}
	return rows, nil
}

// LoadRaw reads the raw file at path. Unlike observation files, a
// missing raw file is an error: it is always the output of an earlier
// step.
func LoadRaw(path string) ([]RawRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := ReadRaw(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// CleanReport counts the raw rows Clean dropped.
type CleanReport struct {
	Kept int

	// NonMonthly counts annual averages and other non-monthly periods.
	NonMonthly int

	// Unavailable counts rows whose value is not a number, such as
	// the "-" BLS publishes for missing data.
	Unavailable int
}

// Clean converts raw rows to sorted, deduplicated observations. Rows
// for non-monthly periods and rows without a numeric value are
// dropped and counted. A row with an unparseable year is an error.
func Clean(rows []RawRow) ([]Observation, CleanReport, error) {
	var report CleanReport
	observations := make([]Observation, 0, len(rows))
	for index, row := range rows {
		if row.SeriesID == "" {
			return nil, report, fmt.Errorf("row %d: empty seriesID", index+1)
		}
		if _, err := strconv.Atoi(row.Year); err != nil {
			return nil, report, fmt.Errorf("row %d: year %q is not a number", index+1, row.Year)
		}
		date, monthly := MonthlyDate(row.Year, row.Period)
		if !monthly {
			report.NonMonthly++
			continue
		}
		value, err := NormalizeValue(row.Value)
		if err != nil {
			report.Unavailable++
			continue
		}
		observations = append(observations, Observation{SeriesID: row.SeriesID, Date: date, Value: value})
	}
	merged := Merge(nil, observations)
	report.Kept = len(merged)
	return merged, report, nil
}
