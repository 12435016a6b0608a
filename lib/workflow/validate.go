// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/statfeed/statfeed/lib/cron"
)

// identifierPattern matches variable names.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// namePattern matches workflow and step names: they appear in logs,
// run records and file names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks w for structural issues and returns them as
// human-readable descriptions. An empty result means w is valid.
//
// Checks include:
//   - name and step names are simple identifiers; step names are unique
//   - the schedule parses as a cron expression
//   - at least one step; each sets exactly one of run or builtin
//   - builtin names are known; with is only valid on builtin steps
//   - grace_period and env are only valid on run steps
//   - durations parse and retry settings are in range
//   - install names a manifest; runtime names an interpreter
//   - publish has at least one relative path inside the workspace
//   - on_no_changes is skip or fail
func Validate(w *Workflow) []string {
	var issues []string

	if w.Name != "" && !namePattern.MatchString(w.Name) {
		issues = append(issues, fmt.Sprintf("name %q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", w.Name))
	}

	if _, err := cron.Parse(w.EffectiveSchedule()); err != nil {
		issues = append(issues, fmt.Sprintf("schedule: %v", err))
	}

	for name := range w.Variables {
		if !identifierPattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("variables[%q]: name must be a valid identifier ([A-Za-z_][A-Za-z0-9_]*)", name))
		}
	}

	if w.DataDir != "" {
		if issue := checkRelative(w.DataDir); issue != "" {
			issues = append(issues, "data_dir: "+issue)
		}
	}

	if w.Runtime != nil && w.Runtime.Interpreter == "" {
		issues = append(issues, "runtime.interpreter is required when runtime is set")
	}

	if w.Install != nil {
		if w.Install.Manifest == "" {
			issues = append(issues, "install.manifest is required when install is set")
		} else if issue := checkRelative(w.Install.Manifest); issue != "" {
			issues = append(issues, "install.manifest: "+issue)
		}
		issues = append(issues, checkDuration("install.timeout", w.Install.Timeout)...)
	}

	if len(w.Steps) == 0 {
		issues = append(issues, "workflow has no steps (at least one data step is required)")
	}
	stepNames := make(map[string]int, len(w.Steps))
	for index, step := range w.Steps {
		if step.Name == "" {
			continue
		}
		if firstIndex, exists := stepNames[step.Name]; exists {
			issues = append(issues, fmt.Sprintf("steps[%d] %q: duplicate step name (first used at steps[%d])", index, step.Name, firstIndex))
		} else {
			stepNames[step.Name] = index
		}
	}
	for index, step := range w.Steps {
		issues = append(issues, validateStep(step, fmt.Sprintf("steps[%d]", index))...)
	}

	issues = append(issues, validatePublish(w.Publish)...)
	return issues
}

func validateStep(step Step, prefix string) []string {
	var issues []string

	if step.Name == "" {
		issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
	} else {
		if !namePattern.MatchString(step.Name) {
			issues = append(issues, fmt.Sprintf("%s: name %q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", prefix, step.Name))
		}
		prefix = fmt.Sprintf("%s %q", prefix, step.Name)
	}

	hasRun := step.Run != ""
	hasBuiltin := step.Builtin != ""
	switch {
	case hasRun && hasBuiltin:
		issues = append(issues, fmt.Sprintf("%s: run and builtin are mutually exclusive (set exactly one)", prefix))
	case !hasRun && !hasBuiltin:
		issues = append(issues, fmt.Sprintf("%s: must set either run or builtin", prefix))
	}

	if hasBuiltin && !slices.Contains(Builtins, step.Builtin) {
		issues = append(issues, fmt.Sprintf("%s: unknown builtin %q (known: %s)", prefix, step.Builtin, strings.Join(Builtins, ", ")))
	}
	if !hasBuiltin && len(step.With) > 0 {
		issues = append(issues, fmt.Sprintf("%s: with is only valid on builtin steps", prefix))
	}
	if !hasRun {
		if step.GracePeriod != "" {
			issues = append(issues, fmt.Sprintf("%s: grace_period is only valid on run steps", prefix))
		}
		if len(step.Env) > 0 {
			issues = append(issues, fmt.Sprintf("%s: env is only valid on run steps", prefix))
		}
	}

	issues = append(issues, checkDuration(prefix+": timeout", step.Timeout)...)
	issues = append(issues, checkDuration(prefix+": grace_period", step.GracePeriod)...)
	if step.Timeout != "" {
		if timeout, err := time.ParseDuration(step.Timeout); err == nil && timeout <= 0 {
			issues = append(issues, fmt.Sprintf("%s: timeout must be positive", prefix))
		}
	}

	if step.Retry != nil {
		if step.Retry.MaxAttempts < 1 {
			issues = append(issues, fmt.Sprintf("%s: retry.max_attempts must be at least 1", prefix))
		}
		if step.Retry.Multiplier != 0 && step.Retry.Multiplier < 1 {
			issues = append(issues, fmt.Sprintf("%s: retry.multiplier must be at least 1", prefix))
		}
		issues = append(issues, checkDuration(prefix+": retry.initial_delay", step.Retry.InitialDelay)...)
		issues = append(issues, checkDuration(prefix+": retry.max_delay", step.Retry.MaxDelay)...)
	}
	return issues
}

func validatePublish(publish Publish) []string {
	var issues []string
	if len(publish.Paths) == 0 {
		issues = append(issues, "publish.paths must list at least one path")
	}
	for index, publishPath := range publish.Paths {
		if issue := checkRelative(publishPath); issue != "" {
			issues = append(issues, fmt.Sprintf("publish.paths[%d]: %s", index, issue))
		}
	}
	switch publish.OnNoChanges {
	case "", OnNoChangesSkip, OnNoChangesFail:
	default:
		issues = append(issues, fmt.Sprintf("publish.on_no_changes must be %q or %q, got %q", OnNoChangesSkip, OnNoChangesFail, publish.OnNoChanges))
	}
	issues = append(issues, checkDuration("publish.lock_timeout", publish.LockTimeout)...)
	return issues
}

// checkRelative reports why value is not a workspace-relative path, or
// "" if it is one. Values containing variables are checked after
// expansion instead.
func checkRelative(value string) string {
	if strings.Contains(value, "${") {
		return ""
	}
	if value == "" {
		return "path is empty"
	}
	if path.IsAbs(value) {
		return fmt.Sprintf("%q must be relative to the workspace", value)
	}
	cleaned := path.Clean(value)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Sprintf("%q escapes the workspace", value)
	}
	if cleaned == ".git" || strings.HasPrefix(cleaned, ".git/") {
		return fmt.Sprintf("%q is inside .git", value)
	}
	return ""
}

func checkDuration(field, value string) []string {
	if value == "" {
		return nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return []string{fmt.Sprintf("%s: invalid duration %q: %v", field, value, err)}
	}
	if duration < 0 {
		return []string{fmt.Sprintf("%s: duration %q must not be negative", field, value)}
	}
	return nil
}
