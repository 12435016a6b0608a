// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/statfeed/statfeed/lib/retry"
)

// Built-in data step kinds.
const (
	// BuiltinBLSFetch fetches observations and merges them into an
	// observation CSV.
	BuiltinBLSFetch = "bls-fetch"
	// BuiltinBLSCollect fetches observations into a raw CSV.
	BuiltinBLSCollect = "bls-collect"
	// BuiltinBLSClean converts a raw CSV into an observation CSV.
	BuiltinBLSClean = "bls-clean"
)

// Builtins lists the valid values of Step.Builtin.
var Builtins = []string{BuiltinBLSFetch, BuiltinBLSCollect, BuiltinBLSClean}

// Publish no-change policies.
const (
	OnNoChangesSkip = "skip"
	OnNoChangesFail = "fail"
)

// Defaults applied when a field is empty.
const (
	DefaultSchedule       = "0 0 1 * *"
	DefaultDataDir        = "data"
	DefaultInterpreter    = "python3"
	DefaultInstallCommand = "${INTERPRETER} -m pip install -r ${MANIFEST}"
	DefaultStepTimeout    = 10 * time.Minute
	DefaultInstallTimeout = 15 * time.Minute
)

// Workflow is a parsed workflow definition.
type Workflow struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// Schedule is a cron expression or descriptor. Empty means
	// DefaultSchedule.
	Schedule string `json:"schedule,omitempty"`

	Variables map[string]Variable `json:"variables,omitempty"`

	// DataDir is the workspace-relative directory data steps write
	// into and snapshots record. Empty means DefaultDataDir.
	DataDir string `json:"data_dir,omitempty"`

	Runtime *Runtime `json:"runtime,omitempty"`
	Install *Install `json:"install,omitempty"`
	Steps   []Step   `json:"steps"`
	Publish Publish  `json:"publish"`
}

// Variable declares a workflow variable.
type Variable struct {
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Runtime is the interpreter the setup stage checks for.
type Runtime struct {
	// Interpreter is the executable, looked up on PATH.
	Interpreter string `json:"interpreter"`

	// Version, when set, must prefix the version the interpreter
	// reports ("3.9" accepts "Python 3.9.18").
	Version string `json:"version,omitempty"`
}

// Install describes the dependency install stage.
type Install struct {
	// Manifest is the workspace-relative dependency list. It must
	// exist.
	Manifest string `json:"manifest"`

	// Run overrides DefaultInstallCommand.
	Run string `json:"run,omitempty"`

	Timeout string `json:"timeout,omitempty"`
}

// Step is one data step. Exactly one of Run and Builtin is set.
type Step struct {
	Name string `json:"name"`

	// Run is a shell command executed with sh -c in the workspace.
	Run string `json:"run,omitempty"`

	// Builtin names a built-in step kind, configured by With.
	Builtin string            `json:"builtin,omitempty"`
	With    map[string]string `json:"with,omitempty"`

	// Env adds environment variables to run steps. Values may
	// reference workflow variables.
	Env map[string]string `json:"env,omitempty"`

	// Timeout bounds each attempt. Empty means DefaultStepTimeout.
	Timeout string `json:"timeout,omitempty"`

	// GracePeriod is how long a timed-out or cancelled run step gets
	// between SIGTERM and SIGKILL. Empty kills immediately.
	GracePeriod string `json:"grace_period,omitempty"`

	Retry *Retry `json:"retry,omitempty"`
}

// Retry is the JSON form of retry.Policy.
type Retry struct {
	MaxAttempts  int     `json:"max_attempts"`
	InitialDelay string  `json:"initial_delay,omitempty"`
	Multiplier   float64 `json:"multiplier,omitempty"`
	MaxDelay     string  `json:"max_delay,omitempty"`
}

// Publish describes what is committed after the data steps.
type Publish struct {
	// Paths are workspace-relative files or directories to stage.
	Paths []string `json:"paths"`

	// OnNoChanges is "skip" (default) or "fail".
	OnNoChanges string `json:"on_no_changes,omitempty"`

	// LockTimeout is how long to wait for another run's publish
	// lock. Empty or "0s" fails immediately.
	LockTimeout string `json:"lock_timeout,omitempty"`

	// Message overrides the configured commit message.
	Message string `json:"message,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data and
// decodes the workflow. Unknown fields are errors so typos surface at
// validation time instead of silently doing nothing.
func Parse(data []byte) (*Workflow, error) {
	decoder := json.NewDecoder(strings.NewReader(string(jsonc.ToJSON(data))))
	decoder.DisallowUnknownFields()

	var workflow Workflow
	if err := decoder.Decode(&workflow); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}
	return &workflow, nil
}

// ReadFile reads and parses a JSONC workflow file. A workflow without
// a name is named after the file.
func ReadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	workflow, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if workflow.Name == "" {
		workflow.Name = NameFromPath(path)
	}
	return workflow, nil
}

// NameFromPath strips the directory and extension:
// "workflows/bls-combined.jsonc" becomes "bls-combined".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// EffectiveSchedule returns Schedule or DefaultSchedule.
func (w *Workflow) EffectiveSchedule() string {
	if w.Schedule == "" {
		return DefaultSchedule
	}
	return w.Schedule
}

// EffectiveDataDir returns DataDir or DefaultDataDir.
func (w *Workflow) EffectiveDataDir() string {
	if w.DataDir == "" {
		return DefaultDataDir
	}
	return w.DataDir
}

// Interpreter returns the runtime interpreter or DefaultInterpreter.
func (w *Workflow) Interpreter() string {
	if w.Runtime == nil || w.Runtime.Interpreter == "" {
		return DefaultInterpreter
	}
	return w.Runtime.Interpreter
}

// Command returns the install command, before variable expansion.
func (i *Install) Command() string {
	if i.Run == "" {
		return DefaultInstallCommand
	}
	return i.Run
}

// TimeoutDuration returns the install timeout. Call Validate first.
func (i *Install) TimeoutDuration() time.Duration {
	return durationOr(i.Timeout, DefaultInstallTimeout)
}

// TimeoutDuration returns the per-attempt step timeout. Call Validate
// first.
func (s *Step) TimeoutDuration() time.Duration {
	return durationOr(s.Timeout, DefaultStepTimeout)
}

// GracePeriodDuration returns the SIGTERM grace period, zero when
// unset.
func (s *Step) GracePeriodDuration() time.Duration {
	return durationOr(s.GracePeriod, 0)
}

// Kind returns "run" or the builtin name.
func (s *Step) Kind() string {
	if s.Builtin != "" {
		return s.Builtin
	}
	return "run"
}

// RetryPolicy converts the step's retry block. No block means a single
// attempt.
func (s *Step) RetryPolicy() retry.Policy {
	if s.Retry == nil {
		return retry.Policy{MaxAttempts: 1}
	}
	return retry.Policy{
		MaxAttempts:  s.Retry.MaxAttempts,
		InitialDelay: durationOr(s.Retry.InitialDelay, 0),
		Multiplier:   s.Retry.Multiplier,
		MaxDelay:     durationOr(s.Retry.MaxDelay, 0),
	}
}

// NoChangesPolicy returns OnNoChanges or OnNoChangesSkip.
func (p *Publish) NoChangesPolicy() string {
	if p.OnNoChanges == "" {
		return OnNoChangesSkip
	}
	return p.OnNoChanges
}

// LockTimeoutDuration returns the publish lock wait, zero when unset.
func (p *Publish) LockTimeoutDuration() time.Duration {
	return durationOr(p.LockTimeout, 0)
}

// durationOr parses value, returning fallback when it is empty or
// invalid. Validate reports invalid values.
func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
