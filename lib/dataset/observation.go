// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the date column format.
const DateLayout = "2006-01-02"

// ObservationHeader is the header row of an observation file.
var ObservationHeader = []string{"seriesID", "date", "value"}

// Observation is one value of one series for one month.
type Observation struct {
	SeriesID string
	Date     time.Time

	// Value is the decimal as published, without thousands
	// separators. It is kept as text so rewriting a file never
	// changes its formatting.
	Value string
}

// Key identifies an observation within a dataset.
type Key struct {
	SeriesID string
	Date     time.Time
}

// Key returns the observation's identity.
func (o Observation) Key() Key {
	return Key{SeriesID: o.SeriesID, Date: o.Date}
}

// NormalizeValue strips thousands separators and surrounding space
// and checks the result is a decimal number.
func NormalizeValue(raw string) (string, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if value == "" {
		return "", errors.New("empty value")
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return "", fmt.Errorf("value %q is not a number", raw)
	}
	return value, nil
}

// ParseDate accepts YYYY-MM-DD, optionally followed by a midnight
// time as written by some spreadsheet tools.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(value, " 00:00:00")
	date, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD", value)
	}
	return date, nil
}

// MonthlyDate converts a BLS year and period (M01 through M12) to the
// first day of that month. Annual averages (M13), quarterly and other
// periods report false.
func MonthlyDate(year, period string) (time.Time, bool) {
	yearNumber, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || yearNumber < 1 {
		return time.Time{}, false
	}
	period = strings.TrimSpace(period)
	if len(period) != 3 || period[0] != 'M' {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(period[1:])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(yearNumber, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

// ReadObservations parses an observation file. Columns are located by
// header name, so extra columns and any column order are accepted.
func ReadObservations(r io.Reader) ([]Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns, err := locateColumns(header, ObservationHeader)
	if err != nil {
		return nil, err
	}

	var observations []Observation
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if len(record) < len(header) {
			return nil, fmt.Errorf("line %d: %d fields, header has %d", line, len(record), len(header))
		}
		date, err := ParseDate(record[columns["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := NormalizeValue(record[columns["value"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		observations = append(observations, Observation{
			SeriesID: strings.TrimSpace(record[columns["seriesID"]]),
			Date:     date,
			Value:    value,
		})
	}
	return observations, nil
}

// LoadObservations reads the observation file at path. A missing file
// is an empty dataset.
func LoadObservations(path string) ([]Observation, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	observations, err := ReadObservations(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return observations, nil
}

// WriteObservations writes the header and rows in the given order.
func WriteObservations(w io.Writer, observations []Observation) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ObservationHeader); err != nil {
		return err
	}
	for _, observation := range observations {
		record := []string{observation.SeriesID, observation.Date.Format(DateLayout), observation.Value}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// SaveObservations sorts and dedupes observations and atomically
// replaces the file at path, creating parent directories.
func SaveObservations(path string, observations []Observation) error {
	normalized := Merge(nil, observations)
	return writeAtomic(path, func(w io.Writer) error {
		return WriteObservations(w, normalized)
	})
}

// ConflictPolicy decides which value a merge keeps when existing and
// fetched observations share a (seriesID, date).
type ConflictPolicy string

const (
	// ConflictKeep keeps the stored value. Published months are never
	// rewritten.
	ConflictKeep ConflictPolicy = "keep"

	// ConflictReplace takes the fetched value, picking up revisions
	// the source published after the month was first stored.
	ConflictReplace ConflictPolicy = "replace"
)

// ParseConflictPolicy accepts "keep", "replace" or "" (keep).
func ParseConflictPolicy(value string) (ConflictPolicy, error) {
	switch ConflictPolicy(value) {
	case "", ConflictKeep:
		return ConflictKeep, nil
	case ConflictReplace:
		return ConflictReplace, nil
	}
	return "", fmt.Errorf("conflict policy must be %q or %q, got %q", ConflictKeep, ConflictReplace, value)
}

// SameValue reports whether two values denote the same number, so
// "158000.0" and "158000" compare equal. Non-numeric values compare as
// text.
func SameValue(a, b string) bool {
	if a == b {
		return true
	}
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && x == y
}

// Merge combines existing and fetched observations, keeping the stored
// value on a (seriesID, date) conflict. Within either input the last
// occurrence of a key wins. The result is sorted by series then date.
// The inputs are not modified.
func Merge(existing, fetched []Observation) []Observation {
	return MergeWith(existing, fetched, ConflictKeep)
}

// MergeWith is Merge with an explicit conflict policy. Under
// ConflictReplace a fetched value equal to the stored one (per
// SameValue) leaves the stored text untouched.
func MergeWith(existing, fetched []Observation, policy ConflictPolicy) []Observation {
	byKey := make(map[Key]Observation, len(existing)+len(fetched))
	for _, observation := range existing {
		byKey[observation.Key()] = observation
	}
	incoming := make(map[Key]Observation, len(fetched))
	for _, observation := range fetched {
		incoming[observation.Key()] = observation
	}
	for key, observation := range incoming {
		stored, exists := byKey[key]
		switch {
		case !exists:
			byKey[key] = observation
		case policy == ConflictReplace && !SameValue(stored.Value, observation.Value):
			byKey[key] = observation
		}
	}

	merged := make([]Observation, 0, len(byKey))
	for _, observation := range byKey {
		merged = append(merged, observation)
	}
	Sort(merged)
	return merged
}

// Sort orders observations by series ID then date.
func Sort(observations []Observation) {
	slices.SortFunc(observations, func(a, b Observation) int {
		if order := cmp.Compare(a.SeriesID, b.SeriesID); order != 0 {
			return order
		}
		return a.Date.Compare(b.Date)
	})
}

// LatestDate returns the most recent date in observations, or the zero
// time for an empty dataset.
func LatestDate(observations []Observation) time.Time {
	var latest time.Time
	for _, observation := range observations {
		if observation.Date.After(latest) {
			latest = observation.Date
		}
	}
	return latest
}

// Series returns the distinct series IDs in observations, sorted.
func Series(observations []Observation) []string {
	seen := make(map[string]bool)
	var series []string
	for _, observation := range observations {
		if !seen[observation.SeriesID] {
			seen[observation.SeriesID] = true
			series = append(series, observation.SeriesID)
		}
	}
	slices.Sort(series)
	return series
}

func locateColumns(header, required []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for index, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, exists := columns[name]; !exists {
			columns[name] = index
		}
	}
	var missing []string
	for _, name := range required {
		if _, exists := columns[name]; !exists {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("header %v lacks columns: %s", header, strings.Join(missing, ", "))
	}
	return columns, nil
}

// writeAtomic writes through a temporary file in the target directory
// and renames it into place, so readers never see a partial file.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := file.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err := write(file); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Chmod(0o644); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
