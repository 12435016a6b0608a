// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/statfeed/statfeed/lib/bls"
	"github.com/statfeed/statfeed/lib/dataset"
	"github.com/statfeed/statfeed/lib/workflow"
)

// errNoBLSClient is returned by BLS builtins on an executor built
// without a client.
var errNoBLSClient = errors.New("no BLS client configured")

// builtinContext is what a builtin step sees.
type builtinContext struct {
	workspace string
	with      map[string]string
	client    *bls.Client
	now       time.Time
	logger    *slog.Logger
}

// path resolves a workspace-relative path from with[key].
func (b builtinContext) path(key string) (string, error) {
	value := strings.TrimSpace(b.with[key])
	if value == "" {
		return "", fmt.Errorf("with.%s is required", key)
	}
	if filepath.IsAbs(value) {
		return "", fmt.Errorf("with.%s %q must be relative to the workspace", key, value)
	}
	cleaned := filepath.Clean(value)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("with.%s %q escapes the workspace", key, value)
	}
	return filepath.Join(b.workspace, cleaned), nil
}

func (b builtinContext) series() ([]string, error) {
	series := bls.ParseSeriesList(b.with["series"])
	if len(series) == 0 {
		return nil, errors.New("with.series lists no series IDs")
	}
	return series, nil
}

func (b builtinContext) year(key string, fallback int) (int, error) {
	year, err := bls.ParseYear(b.with[key], fallback)
	if err != nil {
		return 0, fmt.Errorf("with.%s: %w", key, err)
	}
	return year, nil
}

type builtinFunc func(ctx context.Context, b builtinContext) error

var builtins = map[string]builtinFunc{
	workflow.BuiltinBLSFetch:   runBLSFetch,
	workflow.BuiltinBLSCollect: runBLSCollect,
	workflow.BuiltinBLSClean:   runBLSClean,
}

// runBLSFetch fetches new observations and merges them into the
// observation file at with.output. with.on_conflict is "keep"
// (default) or "replace".
func runBLSFetch(ctx context.Context, b builtinContext) error {
	if b.client == nil {
		return errNoBLSClient
	}
	series, err := b.series()
	if err != nil {
		return err
	}
	output, err := b.path("output")
	if err != nil {
		return err
	}
	startYear, err := b.year("start_year", bls.DefaultStartYear)
	if err != nil {
		return err
	}
	policy, err := dataset.ParseConflictPolicy(b.with["on_conflict"])
	if err != nil {
		return fmt.Errorf("with.on_conflict: %w", err)
	}

	result, err := bls.Update(ctx, b.client, bls.UpdateOptions{
		SeriesIDs:  series,
		Output:     output,
		StartYear:  startYear,
		Now:        b.now,
		OnConflict: policy,
	})
	if err != nil {
		return err
	}
	b.logger.Info("dataset updated",
		"output", b.with["output"],
		"years", fmt.Sprintf("%d-%d", result.StartYear, result.EndYear),
		"added", result.Added,
		"revised", result.Revised,
		"conflicts_kept", result.Conflicts,
		"skipped", result.Skipped,
		"total", result.Total,
	)
	return nil
}

// runBLSCollect writes the raw API rows for the requested range to
// with.output.
func runBLSCollect(ctx context.Context, b builtinContext) error {
	if b.client == nil {
		return errNoBLSClient
	}
	series, err := b.series()
	if err != nil {
		return err
	}
	output, err := b.path("output")
	if err != nil {
		return err
	}
	startYear, err := b.year("start_year", bls.DefaultStartYear)
	if err != nil {
		return err
	}
	endYear, err := b.year("end_year", 0)
	if err != nil {
		return err
	}

	rows, err := bls.Collect(ctx, b.client, bls.CollectOptions{
		SeriesIDs: series,
		Output:    output,
		StartYear: startYear,
		EndYear:   endYear,
		Now:       b.now,
	})
	if err != nil {
		return err
	}
	b.logger.Info("raw data collected", "output", b.with["output"], "rows", rows)
	return nil
}

// runBLSClean converts the raw file at with.input to the observation
// file at with.output.
func runBLSClean(_ context.Context, b builtinContext) error {
	input, err := b.path("input")
	if err != nil {
		return err
	}
	output, err := b.path("output")
	if err != nil {
		return err
	}

	rows, err := dataset.LoadRaw(input)
	if err != nil {
		return err
	}
	observations, report, err := dataset.Clean(rows)
	if err != nil {
		return fmt.Errorf("%s: %w", b.with["input"], err)
	}
	if err := dataset.SaveObservations(output, observations); err != nil {
		return err
	}
	b.logger.Info("raw data cleaned",
		"output", b.with["output"],
		"observations", report.Kept,
		"non_monthly", report.NonMonthly,
		"unavailable", report.Unavailable,
	)
	return nil
}
