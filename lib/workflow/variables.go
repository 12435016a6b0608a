// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"maps"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Variables every run defines in addition to the declared ones.
const (
	VariableInterpreter = "INTERPRETER"
	VariableManifest    = "MANIFEST"
	VariableDataDir     = "DATA_DIR"
	VariableWorkspace   = "WORKSPACE"
	VariableRunID       = "RUN_ID"
	VariableBranch      = "BRANCH"
)

// variablePattern matches ${NAME}. Bare $NAME is left for the shell.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables merges variable sources, lowest priority first:
//
//  1. Declared defaults
//  2. Overrides (config file variables, then --set flags)
//  3. The environment, consulted only for declared names
//
// It fails listing every required variable left empty.
// environ is os.Getenv in production and a stub in tests.
func ResolveVariables(declarations map[string]Variable, overrides map[string]string, environ func(string) string) (map[string]string, error) {
	resolved := make(map[string]string, len(declarations)+len(overrides))

	// Every declared variable is defined, possibly as "", so optional
	// variables can be referenced without a default.
	for name, declaration := range declarations {
		resolved[name] = declaration.Default
	}
	maps.Copy(resolved, overrides)
	if environ != nil {
		for name := range declarations {
			if value := environ(name); value != "" {
				resolved[name] = value
			}
		}
	}

	var missing []string
	for name, declaration := range declarations {
		if declaration.Required && resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("required workflow variables not set: %s", strings.Join(missing, ", "))
	}
	return resolved, nil
}

// Expand replaces ${NAME} references in input. It fails listing every
// referenced name without a value, so a broken command never runs.
func Expand(input string, variables map[string]string) (string, error) {
	var unresolved []string
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved workflow variables: %s", strings.Join(unresolved, ", "))
	}
	return result, nil
}

// ExpandStep returns a copy of step with its string fields expanded.
// Env values are expanded against variables first, then layered over
// them for expanding Run, so a command may reference its own env
// entries. The inputs are not modified.
func ExpandStep(step Step, variables map[string]string) (Step, error) {
	var expandedEnv map[string]string
	if len(step.Env) > 0 {
		expandedEnv = make(map[string]string, len(step.Env))
		for name, value := range step.Env {
			expanded, err := Expand(value, variables)
			if err != nil {
				return Step{}, fmt.Errorf("step %q env[%s]: %w", step.Name, name, err)
			}
			expandedEnv[name] = expanded
		}
	}

	merged := maps.Clone(variables)
	if merged == nil {
		merged = make(map[string]string)
	}
	maps.Copy(merged, expandedEnv)

	var err error
	if step.Run, err = Expand(step.Run, merged); err != nil {
		return Step{}, fmt.Errorf("step %q run: %w", step.Name, err)
	}
	if len(step.With) > 0 {
		expandedWith := make(map[string]string, len(step.With))
		for key, value := range step.With {
			if expandedWith[key], err = Expand(value, merged); err != nil {
				return Step{}, fmt.Errorf("step %q with[%s]: %w", step.Name, key, err)
			}
		}
		step.With = expandedWith
	}
	step.Env = expandedEnv
	return step, nil
}

// ExpandDataDir expands dataDir against variables and checks the
// result stays inside the workspace.
func ExpandDataDir(dataDir string, variables map[string]string) (string, error) {
	expanded, err := Expand(dataDir, variables)
	if err != nil {
		return "", fmt.Errorf("data_dir: %w", err)
	}
	if issue := checkRelative(expanded); issue != "" {
		return "", fmt.Errorf("data_dir: %s", issue)
	}
	return path.Clean(expanded), nil
}

// ExpandPublish returns publish with its paths and message expanded,
// and checks the expanded paths stay inside the workspace.
func ExpandPublish(publish Publish, variables map[string]string) (Publish, error) {
	paths := make([]string, len(publish.Paths))
	for index, publishPath := range publish.Paths {
		expanded, err := Expand(publishPath, variables)
		if err != nil {
			return Publish{}, fmt.Errorf("publish.paths[%d]: %w", index, err)
		}
		if issue := checkRelative(expanded); issue != "" {
			return Publish{}, fmt.Errorf("publish.paths[%d]: %s", index, issue)
		}
		paths[index] = expanded
	}
	publish.Paths = paths

	message, err := Expand(publish.Message, variables)
	if err != nil {
		return Publish{}, fmt.Errorf("publish.message: %w", err)
	}
	publish.Message = message
	return publish, nil
}
