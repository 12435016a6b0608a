// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"fmt"
)

// Stages in execution order.
const (
	StageSetup   = "setup"
	StageInstall = "install"
	StageData    = "data"
	StagePublish = "publish"
)

// ErrNothingToCommit is the publish failure when the publish paths are
// unchanged and the workflow sets on_no_changes to fail.
var ErrNothingToCommit = errors.New("nothing to commit")

// StageError reports the stage (and, for data steps, the step) at
// which a run failed.
type StageError struct {
	Stage string
	Step  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: step %q: %v", e.Stage, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage, step string, err error) *StageError {
	return &StageError{Stage: stage, Step: step, Err: err}
}
