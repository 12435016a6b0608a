// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/statfeed/statfeed/lib/bls"
	"github.com/statfeed/statfeed/lib/clock"
	"github.com/statfeed/statfeed/lib/contenthash"
	"github.com/statfeed/statfeed/lib/git"
	"github.com/statfeed/statfeed/lib/retry"
	"github.com/statfeed/statfeed/lib/runlock"
	"github.com/statfeed/statfeed/lib/runstore"
	"github.com/statfeed/statfeed/lib/snapshot"
	"github.com/statfeed/statfeed/lib/workflow"
)

// Workspace modes.
const (
	ModeClone   = "clone"
	ModeInPlace = "in_place"
)

// Commit defaults.
const (
	DefaultIdentityName  = "github-actions[bot]"
	DefaultIdentityEmail = "github-actions[bot]@users.noreply.github.com"
	DefaultMessage       = "Automated data update"
)

const remoteName = "origin"

// Config configures an Executor.
type Config struct {
	// Workflow is the validated workflow to run.
	Workflow *workflow.Workflow

	// Overrides set workflow variables above their declared
	// defaults. Environ is consulted for declared names above both;
	// nil disables it.
	Overrides map[string]string
	Environ   func(string) string

	// Mode is ModeClone (default) or ModeInPlace.
	Mode string

	// Remote is cloned in clone mode. Path is the working tree used
	// in in-place mode. Branch defaults to main.
	Remote string
	Path   string
	Branch string

	// WorkspacesDir holds clone-mode checkouts, each removed after its
	// run unless KeepWorkspace is set.
	WorkspacesDir string
	KeepWorkspace bool

	// Token authenticates clone, fetch and push. Empty uses whatever
	// credentials git already has.
	Token string

	// Identity and Message are the commit author and default message.
	// Empty fields take the Default* values.
	Identity git.Identity
	Message  string

	// LockPath is the run lock taken around publish.
	LockPath string

	// Snapshots, when set, records the data directory after publish
	// and keeps the newest KeepSnapshots (zero keeps all).
	Snapshots     *snapshot.Store
	KeepSnapshots int

	// Runs, when set, records every run.
	Runs *runstore.Store

	// ResultDir, when set, receives a JSONL result log per run.
	ResultDir string

	// BLS serves the BLS builtin steps. Nil fails those steps.
	BLS *bls.Client

	// Output receives the output of commands. Nil means os.Stderr.
	Output io.Writer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Executor runs a workflow. Run may be called repeatedly but not
// concurrently; the scheduler serializes runs.
type Executor struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	output io.Writer
}

// New checks config and returns an Executor.
func New(config Config) (*Executor, error) {
	if config.Workflow == nil {
		return nil, errors.New("pipeline: workflow is required")
	}
	if issues := workflow.Validate(config.Workflow); len(issues) > 0 {
		return nil, fmt.Errorf("pipeline: workflow %q is invalid:\n  %s", config.Workflow.Name, strings.Join(issues, "\n  "))
	}

	if config.Mode == "" {
		config.Mode = ModeClone
	}
	switch config.Mode {
	case ModeClone:
		if config.Remote == "" {
			return nil, errors.New("pipeline: clone mode requires a remote")
		}
		if config.WorkspacesDir == "" {
			config.WorkspacesDir = os.TempDir()
		}
	case ModeInPlace:
		if config.Path == "" {
			return nil, errors.New("pipeline: in_place mode requires a working tree path")
		}
	default:
		return nil, fmt.Errorf("pipeline: unknown workspace mode %q", config.Mode)
	}
	if config.LockPath == "" {
		return nil, errors.New("pipeline: lock path is required")
	}
	if config.Branch == "" {
		config.Branch = "main"
	}
	if config.Identity.Name == "" {
		config.Identity.Name = DefaultIdentityName
	}
	if config.Identity.Email == "" {
		config.Identity.Email = DefaultIdentityEmail
	}
	if config.Message == "" {
		config.Message = DefaultMessage
	}

	executor := &Executor{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		output: config.Output,
	}
	if executor.clock == nil {
		executor.clock = clock.Real()
	}
	if executor.logger == nil {
		executor.logger = slog.New(slog.DiscardHandler)
	}
	if executor.output == nil {
		executor.output = os.Stderr
	}
	return executor, nil
}

// Workflow returns the workflow this executor runs.
func (e *Executor) Workflow() *workflow.Workflow {
	return e.config.Workflow
}

// runState carries one run through its stages.
type runState struct {
	run       *runstore.Run
	logger    *slog.Logger
	results   *resultLog
	repo      *git.Repository
	workspace string
	variables map[string]string
}

// Run executes the workflow once. The returned record is complete
// whether or not the run succeeded. A failed run returns a
// *StageError; a run that found nothing to publish under
// on_no_changes skip returns nil with status skipped.
func (e *Executor) Run(ctx context.Context, trigger string) (*runstore.Run, error) {
	started := e.clock.Now()
	run := &runstore.Run{
		ID:       newRunID(started),
		Workflow: e.config.Workflow.Name,
		Trigger:  trigger,
		Started:  started,
		Status:   runstore.StatusRunning,
	}
	logger := e.logger.With("run", run.ID, "workflow", run.Workflow)

	var results *resultLog
	if e.config.ResultDir != "" {
		var err error
		if results, err = newResultLog(e.config.ResultDir, run.ID, logger); err != nil {
			logger.Warn("result log unavailable", "error", err)
		}
	}
	defer results.Close()
	results.writeStart(run.ID, run.Workflow, trigger, started)
	e.record(ctx, run, logger)

	logger.Info("run started", "trigger", trigger)
	state := &runState{run: run, logger: logger, results: results}
	err := e.execute(ctx, state)

	run.Finished = e.clock.Now()
	duration := run.Finished.Sub(started)
	if err == nil {
		results.writeComplete(run.Status, duration, run.Commit, run.Digest, run.SnapshotID)
		logger.Info("run finished", "status", run.Status, "commit", run.Commit, "snapshot", run.SnapshotID, "duration", duration)
	} else {
		var failure *StageError
		if !errors.As(err, &failure) {
			failure = stageError(StageSetup, "", err)
			err = failure
		}
		run.Status = runstore.StatusFailed
		run.FailedStage = failure.Stage
		run.FailedStep = failure.Step
		run.Error = failure.Err.Error()
		results.writeFailed(failure.Stage, failure.Step, run.Error, duration)
		logger.Error("run failed", "stage", failure.Stage, "step", failure.Step, "error", failure.Err, "duration", duration)
	}
	e.record(context.WithoutCancel(ctx), run, logger)
	return run, err
}

func (e *Executor) execute(ctx context.Context, state *runState) error {
	cleanup, err := e.setup(ctx, state)
	defer cleanup()
	if err != nil {
		return err
	}
	if e.config.Workflow.Install != nil {
		if err := e.install(ctx, state); err != nil {
			return err
		}
	}
	if err := e.data(ctx, state); err != nil {
		return err
	}
	return e.publish(ctx, state)
}

// finishStep appends a step record and logs its outcome. A non-nil
// err overrides status with failed.
func (e *Executor) finishStep(state *runState, stage, name string, attempts int, started time.Time, status string, err error) {
	duration := e.clock.Now().Sub(started)
	step := runstore.Step{
		Index:    len(state.run.Steps),
		Name:     name,
		Stage:    stage,
		Status:   status,
		Attempts: attempts,
		Duration: duration,
	}
	if err != nil {
		step.Status = runstore.StatusFailed
		step.Error = err.Error()
	}
	state.run.Steps = append(state.run.Steps, step)
	state.results.writeStep(stage, step.Index, name, step.Status, attempts, duration, step.Error)
	state.logger.Info("step finished", "stage", stage, "step", name, "status", step.Status, "duration", duration)
}

// setup resolves variables, checks out the workspace and verifies the
// runtime. The returned cleanup removes a clone-mode workspace and is
// always non-nil.
func (e *Executor) setup(ctx context.Context, state *runState) (cleanup func(), err error) {
	cleanup = func() {}
	w := e.config.Workflow

	declared, err := workflow.ResolveVariables(w.Variables, e.config.Overrides, e.config.Environ)
	if err != nil {
		return cleanup, stageError(StageSetup, "", err)
	}
	dataDir, err := workflow.ExpandDataDir(w.EffectiveDataDir(), declared)
	if err != nil {
		return cleanup, stageError(StageSetup, "", err)
	}

	started := e.clock.Now()
	var repo *git.Repository
	switch e.config.Mode {
	case ModeClone:
		if err = os.MkdirAll(e.config.WorkspacesDir, 0o755); err != nil {
			break
		}
		var dir string
		if dir, err = os.MkdirTemp(e.config.WorkspacesDir, state.run.ID+"-"); err != nil {
			break
		}
		if !e.config.KeepWorkspace {
			cleanup = func() {
				if removeErr := os.RemoveAll(dir); removeErr != nil {
					state.logger.Warn("removing workspace failed", "dir", dir, "error", removeErr)
				}
			}
		}
		repo, err = git.Clone(ctx, e.config.Remote, e.config.Branch, dir, e.config.Token)
	case ModeInPlace:
		repo = git.NewRepository(e.config.Path).WithToken(e.config.Token)
		err = repo.SyncToRemote(ctx, remoteName, e.config.Branch)
	}
	e.finishStep(state, StageSetup, "checkout", 1, started, runstore.StatusOK, err)
	if err != nil {
		return cleanup, stageError(StageSetup, "", fmt.Errorf("checkout: %w", err))
	}
	state.repo = repo
	state.workspace = repo.Dir()

	state.variables = declared
	state.variables[workflow.VariableInterpreter] = w.Interpreter()
	state.variables[workflow.VariableDataDir] = dataDir
	state.variables[workflow.VariableWorkspace] = state.workspace
	state.variables[workflow.VariableRunID] = state.run.ID
	state.variables[workflow.VariableBranch] = e.config.Branch
	if w.Install != nil {
		state.variables[workflow.VariableManifest] = w.Install.Manifest
	}

	if w.Runtime != nil {
		started = e.clock.Now()
		version, err := checkRuntime(ctx, state.workspace, w.Runtime)
		e.finishStep(state, StageSetup, "runtime", 1, started, runstore.StatusOK, err)
		if err != nil {
			return cleanup, stageError(StageSetup, "", err)
		}
		state.logger.Info("runtime verified", "interpreter", w.Runtime.Interpreter, "version", version)
	}
	return cleanup, nil
}

// checkRuntime runs "<interpreter> --version" and checks the reported
// version against runtime.Version, matching whole components: "3.9"
// accepts 3.9.18 but not 3.90.
func checkRuntime(ctx context.Context, dir string, runtime *workflow.Runtime) (string, error) {
	command := exec.CommandContext(ctx, runtime.Interpreter, "--version")
	command.Dir = dir
	output, err := command.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("runtime: %s --version: %w", runtime.Interpreter, err)
	}
	reported := reportedVersion(string(output))
	if runtime.Version == "" {
		return reported, nil
	}
	if reported != runtime.Version && !strings.HasPrefix(reported, runtime.Version+".") {
		return reported, fmt.Errorf("runtime: %s reports version %q, want %s", runtime.Interpreter, reported, runtime.Version)
	}
	return reported, nil
}

// reportedVersion returns the first whitespace-separated field of a
// --version banner that starts with a digit.
func reportedVersion(output string) string {
	for _, field := range strings.Fields(output) {
		if field[0] >= '0' && field[0] <= '9' {
			return strings.TrimRight(field, ",;")
		}
	}
	return ""
}

func (e *Executor) install(ctx context.Context, state *runState) error {
	install := e.config.Workflow.Install
	started := e.clock.Now()
	err := e.runInstall(ctx, state, install)
	e.finishStep(state, StageInstall, "install", 1, started, runstore.StatusOK, err)
	if err != nil {
		return stageError(StageInstall, "", err)
	}
	return nil
}

func (e *Executor) runInstall(ctx context.Context, state *runState, install *workflow.Install) error {
	manifest, err := workflow.Expand(install.Manifest, state.variables)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if _, err := os.Stat(filepath.Join(state.workspace, manifest)); err != nil {
		return fmt.Errorf("dependency manifest %s: %w", manifest, err)
	}
	command, err := workflow.Expand(install.Command(), state.variables)
	if err != nil {
		return fmt.Errorf("install command: %w", err)
	}

	installCtx, cancel := context.WithTimeout(ctx, install.TimeoutDuration())
	defer cancel()
	state.logger.Info("installing dependencies", "manifest", manifest)
	return runShell(installCtx, shellCommand{
		Dir:     state.workspace,
		Command: command,
		Env:     environment(state.variables, nil),
		Output:  e.output,
	})
}

func (e *Executor) data(ctx context.Context, state *runState) error {
	dataDir := filepath.Join(state.workspace, state.variables[workflow.VariableDataDir])
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return stageError(StageData, "", fmt.Errorf("creating data directory: %w", err))
	}

	for _, step := range e.config.Workflow.Steps {
		started := e.clock.Now()
		expanded, err := workflow.ExpandStep(step, state.variables)
		if err != nil {
			e.finishStep(state, StageData, step.Name, 0, started, runstore.StatusOK, err)
			return stageError(StageData, step.Name, err)
		}

		stepLogger := state.logger.With("stage", StageData, "step", step.Name, "kind", step.Kind())
		attempts := 0
		err = retry.Do(ctx, e.clock, expanded.RetryPolicy(), func(ctx context.Context, attempt int) error {
			attempts = attempt
			return e.runStep(ctx, state, expanded, stepLogger)
		}, func(attempt int, err error, delay time.Duration) {
			stepLogger.Warn("step attempt failed, retrying", "attempt", attempt, "error", err, "delay", delay)
		})
		e.finishStep(state, StageData, step.Name, attempts, started, runstore.StatusOK, err)
		if err != nil {
			return stageError(StageData, step.Name, err)
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, state *runState, step workflow.Step, logger *slog.Logger) error {
	stepCtx, cancel := context.WithTimeout(ctx, step.TimeoutDuration())
	defer cancel()

	if step.Builtin == "" {
		return runShell(stepCtx, shellCommand{
			Dir:         state.workspace,
			Command:     step.Run,
			Env:         environment(state.variables, step.Env),
			Output:      e.output,
			GracePeriod: step.GracePeriodDuration(),
		})
	}

	builtin, exists := builtins[step.Builtin]
	if !exists {
		return retry.Permanent(fmt.Errorf("unknown builtin %q", step.Builtin))
	}
	err := builtin(stepCtx, builtinContext{
		workspace: state.workspace,
		with:      step.With,
		client:    e.config.BLS,
		now:       e.clock.Now(),
		logger:    logger,
	})
	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("timed out after %s: %w", step.TimeoutDuration(), err)
	}
	return err
}

func (e *Executor) publish(ctx context.Context, state *runState) error {
	w := e.config.Workflow
	started := e.clock.Now()
	publish, err := workflow.ExpandPublish(w.Publish, state.variables)
	if err != nil {
		e.finishStep(state, StagePublish, "publish", 1, started, runstore.StatusOK, err)
		return stageError(StagePublish, "", err)
	}

	lock, err := runlock.Acquire(ctx, e.clock, e.config.LockPath, state.run.ID, publish.LockTimeoutDuration())
	if err != nil {
		err = fmt.Errorf("acquiring run lock: %w", err)
		e.finishStep(state, StagePublish, "publish", 1, started, runstore.StatusOK, err)
		return stageError(StagePublish, "", err)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			state.logger.Warn("releasing run lock failed", "error", releaseErr)
		}
	}()

	status, err := e.commitAndPush(ctx, state, publish)
	e.finishStep(state, StagePublish, "publish", 1, started, status, err)
	if err != nil {
		return stageError(StagePublish, "", err)
	}
	state.run.Status = status

	// Still under the run lock, which serializes snapshot writers.
	e.snapshot(state)
	return nil
}

// commitAndPush stages the publish paths and, if anything changed,
// commits and pushes them. It returns the run status.
func (e *Executor) commitAndPush(ctx context.Context, state *runState, publish workflow.Publish) (string, error) {
	digest, _, err := contenthash.Tree(state.workspace, publish.Paths...)
	if err != nil {
		return "", err
	}
	state.run.Digest = digest.String()

	if err := state.repo.Add(ctx, publish.Paths...); err != nil {
		return "", fmt.Errorf("staging: %w", err)
	}
	staged, err := state.repo.StagedPaths(ctx, publish.Paths...)
	if err != nil {
		return "", err
	}
	if len(staged) == 0 {
		if publish.NoChangesPolicy() == workflow.OnNoChangesFail {
			return "", ErrNothingToCommit
		}
		state.logger.Info("publish paths unchanged, nothing to commit", "paths", publish.Paths)
		return runstore.StatusSkipped, nil
	}

	message := publish.Message
	if message == "" {
		message = e.config.Message
	}
	commit, err := state.repo.Commit(ctx, e.config.Identity, message, publish.Paths...)
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	if err := state.repo.Push(ctx, remoteName, e.config.Branch); err != nil {
		return "", fmt.Errorf("pushing: %w", err)
	}
	state.run.Commit = commit
	state.logger.Info("published", "commit", commit, "files", staged)
	return runstore.StatusOK, nil
}

// snapshot records the data directory unless it is identical to the
// latest snapshot, then prunes old ones. Failures are logged: the data
// is already published.
func (e *Executor) snapshot(state *runState) {
	store := e.config.Snapshots
	if store == nil {
		return
	}
	dataDir := state.variables[workflow.VariableDataDir]
	digest, _, err := contenthash.Tree(state.workspace, dataDir)
	if err != nil {
		state.logger.Warn("hashing data directory failed", "error", err)
		return
	}
	if latest, err := store.Latest(); err == nil && latest.Digest == digest.String() {
		state.run.SnapshotID = latest.ID
		return
	}

	manifest, err := store.Put(state.workspace, []string{dataDir}, state.run.ID, e.clock.Now())
	if err != nil {
		state.logger.Warn("recording snapshot failed", "error", err)
		return
	}
	state.run.SnapshotID = manifest.ID
	state.logger.Info("snapshot recorded", "snapshot", manifest.ID, "files", len(manifest.Files), "bytes", manifest.TotalSize())

	removed, err := store.Prune(e.config.KeepSnapshots)
	if err != nil {
		state.logger.Warn("pruning snapshots failed", "error", err)
	} else if removed > 0 {
		state.logger.Info("snapshots pruned", "removed", removed)
	}
}

func (e *Executor) record(ctx context.Context, run *runstore.Run, logger *slog.Logger) {
	if e.config.Runs == nil {
		return
	}
	if err := e.config.Runs.Record(ctx, run); err != nil {
		logger.Warn("recording run failed", "error", err)
	}
}

// environment exports the run variables and then the step's own env
// to commands, in sorted order.
func environment(variables, stepEnv map[string]string) []string {
	env := make([]string, 0, len(variables)+len(stepEnv))
	for _, source := range []map[string]string{variables, stepEnv} {
		names := make([]string, 0, len(source))
		for name := range source {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			env = append(env, name+"="+source[name])
		}
	}
	return env
}

// newRunID returns a sortable, unique run ID such as
// 20261101T000000Z-3fa9c2.
func newRunID(now time.Time) string {
	var suffix [3]byte
	_, _ = rand.Read(suffix[:])
	return now.UTC().Format("20060102T150405Z") + "-" + hex.EncodeToString(suffix[:])
}
