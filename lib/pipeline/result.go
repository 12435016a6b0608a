// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// resultLog appends one JSON object per line as the run progresses.
// Each line is synced on write so a killed process leaves every
// completed step on disk. All methods are no-ops on a nil receiver,
// which is what runs without a result directory get.
type resultLog struct {
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
}

// ResultLogPath returns the result log path for runID under dir.
func ResultLogPath(dir, runID string) string {
	return filepath.Join(dir, runID+".jsonl")
}

func newResultLog(dir, runID string, logger *slog.Logger) (*resultLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating result log directory: %w", err)
	}
	path := ResultLogPath(dir, runID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	return &resultLog{logger: logger, file: file, encoder: json.NewEncoder(file)}, nil
}

func (r *resultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

func (r *resultLog) writeStart(runID, workflowName, trigger string, started time.Time) {
	if r == nil {
		return
	}
	r.write(resultStartEntry{
		Type:      "start",
		RunID:     runID,
		Workflow:  workflowName,
		Trigger:   trigger,
		Timestamp: started.UTC().Format(time.RFC3339),
	})
}

func (r *resultLog) writeStep(stage string, index int, name, status string, attempts int, duration time.Duration, stepError string) {
	if r == nil {
		return
	}
	r.write(resultStepEntry{
		Type:       "step",
		Stage:      stage,
		Index:      index,
		Name:       name,
		Status:     status,
		Attempts:   attempts,
		DurationMS: duration.Milliseconds(),
		Error:      stepError,
	})
}

func (r *resultLog) writeComplete(status string, duration time.Duration, commit, digest, snapshotID string) {
	if r == nil {
		return
	}
	r.write(resultCompleteEntry{
		Type:       "complete",
		Status:     status,
		DurationMS: duration.Milliseconds(),
		Commit:     commit,
		Digest:     digest,
		SnapshotID: snapshotID,
	})
}

func (r *resultLog) writeFailed(stage, step, message string, duration time.Duration) {
	if r == nil {
		return
	}
	r.write(resultFailedEntry{
		Type:       "failed",
		Status:     "failed",
		Stage:      stage,
		Step:       step,
		Error:      message,
		DurationMS: duration.Milliseconds(),
	})
}

func (r *resultLog) write(entry any) {
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("writing result log entry failed", "error", err)
		return
	}
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("syncing result log failed", "error", err)
	}
}

// The first line of every result log.
type resultStartEntry struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Workflow  string `json:"workflow"`
	Trigger   string `json:"trigger"`
	Timestamp string `json:"timestamp"`
}

// One line per finished stage entry or data step.
type resultStepEntry struct {
	Type       string `json:"type"`
	Stage      string `json:"stage"`
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// The last line of a run that succeeded or skipped publishing.
type resultCompleteEntry struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Commit     string `json:"commit,omitempty"`
	Digest     string `json:"digest,omitempty"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// The last line of a failed run.
type resultFailedEntry struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Stage      string `json:"stage"`
	Step       string `json:"step,omitempty"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}
