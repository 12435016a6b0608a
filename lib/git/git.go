// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for the operations
// a publish needs: clone at a branch tip, stage, commit as a fixed
// identity, and push with a token. Every command targets a specific
// repository directory via -C, which Repository injects.
//
// Credentials never touch the repository's config file. A token is
// carried as a one-shot "-c http.extraheader=..." argument (see
// [Repository.WithToken]) and is kept out of error messages.
package git

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Identity is the author and committer recorded on commits.
type Identity struct {
	Name  string
	Email string
}

// Repository is a git working tree (or bare repository) at a specific
// directory. There is no default directory; callers always name the
// repository they mean.
type Repository struct {
	dir string

	// configArgs are "-c key=value" pairs placed before the
	// subcommand. They may hold credentials and are never included
	// in errors.
	configArgs []string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// WithToken returns a copy of r that authenticates HTTPS remotes with
// token. An empty token returns r unchanged.
func (r *Repository) WithToken(token string) *Repository {
	if token == "" {
		return r
	}
	copied := *r
	copied.configArgs = append(append([]string(nil), r.configArgs...), "-c", AuthHeaderConfig(token))
	return &copied
}

// AuthHeaderConfig returns the http.extraheader config value that
// authenticates as token, in the form hosted git services accept for
// installation and personal access tokens.
func AuthHeaderConfig(token string) string {
	credentials := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return "http.extraheader=AUTHORIZATION: basic " + credentials
}

// Run executes a git command in this repository and returns stdout.
// Stderr is captured and included in the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, nil, args...)
}

func (r *Repository) run(ctx context.Context, env []string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.Env = append(command.Env, env...)

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The -C flag and any credential config are prepended, and terminal
// prompts are disabled so a bad token fails instead of hanging.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, r.configArgs...)
	fullArgs = append(fullArgs, args...)
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return command
}

// Clone clones branch of remote into dir (which must not exist or be
// empty) and returns the new working tree. Only the branch tip is
// fetched.
func Clone(ctx context.Context, remote, branch, dir, token string) (*Repository, error) {
	// -C needs an existing directory; clone from the parent.
	parent := NewRepository(".").WithToken(token)
	args := []string{"clone", "--single-branch", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, "--", remote, dir)
	if _, err := parent.Run(ctx, args...); err != nil {
		return nil, err
	}
	return NewRepository(dir).WithToken(token), nil
}

// SyncToRemote fetches branch from remote and hard-resets the working
// tree to it, discarding local changes. Used to start an in-place run
// at the branch tip.
func (r *Repository) SyncToRemote(ctx context.Context, remote, branch string) error {
	if _, err := r.Run(ctx, "fetch", "--prune", remote, branch); err != nil {
		return err
	}
	// -f discards tracked changes a failed run left behind, which would
	// otherwise block the switch when the remote touched the same files.
	if _, err := r.Run(ctx, "checkout", "-f", "-B", branch, "FETCH_HEAD"); err != nil {
		return err
	}
	if _, err := r.Run(ctx, "reset", "--hard", "FETCH_HEAD"); err != nil {
		return err
	}
	_, err := r.Run(ctx, "clean", "-fd")
	return err
}

// Add stages every change (including deletions) under paths.
func (r *Repository) Add(ctx context.Context, paths ...string) error {
	_, err := r.Run(ctx, append([]string{"add", "--all", "--"}, paths...)...)
	return err
}

// StagedPaths returns the staged paths under the given pathspecs,
// relative to the repository root. An empty result means a commit
// restricted to those paths would have nothing to record.
func (r *Repository) StagedPaths(ctx context.Context, paths ...string) ([]string, error) {
	output, err := r.Run(ctx, append([]string{"diff", "--cached", "--name-only", "--"}, paths...)...)
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// Commit records the staged changes under paths as identity with
// message, and returns the new commit SHA. Changes staged outside
// paths are left staged and not committed.
func (r *Repository) Commit(ctx context.Context, identity Identity, message string, paths ...string) (string, error) {
	env := []string{
		"GIT_AUTHOR_NAME=" + identity.Name,
		"GIT_AUTHOR_EMAIL=" + identity.Email,
		"GIT_COMMITTER_NAME=" + identity.Name,
		"GIT_COMMITTER_EMAIL=" + identity.Email,
	}
	args := []string{"commit", "--no-verify", "--message", message}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	if _, err := r.run(ctx, env, args...); err != nil {
		return "", err
	}
	return r.HeadCommit(ctx)
}

// Push pushes HEAD to branch on remote. A rejected (non-fast-forward)
// push is returned as an error; there is no retry or rebase.
func (r *Repository) Push(ctx context.Context, remote, branch string) error {
	_, err := r.Run(ctx, "push", remote, "HEAD:refs/heads/"+branch)
	return err
}

// HeadCommit returns the full SHA of HEAD.
func (r *Repository) HeadCommit(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

func splitLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
