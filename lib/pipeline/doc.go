// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline executes one run of a workflow. A run is strictly
// linear:
//
//	setup → install → data step(s) → publish
//
// Setup checks out the repository at the branch tip (a fresh clone or
// an existing working tree reset to the remote) and verifies the
// runtime. Install runs the dependency install command against the
// manifest. Data steps run shell commands or built-in BLS operations
// in order, each with its own timeout and retry policy. Publish takes
// the run lock, stages the publish paths, and commits and pushes them
// as the bot identity when anything changed.
//
// Any failure stops the run at that stage: a failed install means no
// data step runs, and a failed data step means nothing is committed.
// The failing stage is reported as a [*StageError].
//
// After a run that reached publish, the data directory is recorded in
// the snapshot store, and every run is recorded in the run store and
// in a JSONL result log.
package pipeline
