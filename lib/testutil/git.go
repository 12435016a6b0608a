// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// seedEnv gives setup commits an identity so no global git config is
// needed.
var seedEnv = []string{
	"GIT_AUTHOR_NAME=Seed", "GIT_AUTHOR_EMAIL=seed@test.local",
	"GIT_COMMITTER_NAME=Seed", "GIT_COMMITTER_EMAIL=seed@test.local",
}

// RequireGit skips the test when git is not installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}
}

// Git runs git in dir and returns trimmed combined output, failing the
// test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	command.Env = append(os.Environ(), seedEnv...)
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// GitRemote creates a bare repository whose main branch holds one
// commit containing files (slash-separated path to content), and
// returns the bare repository path.
func GitRemote(t *testing.T, files map[string]string) string {
	t.Helper()
	RequireGit(t)

	root := t.TempDir()
	bare := filepath.Join(root, "remote.git")
	Git(t, root, "init", "--bare", bare)
	Git(t, bare, "symbolic-ref", "HEAD", "refs/heads/main")

	seed := filepath.Join(root, "seed")
	Git(t, root, "init", seed)
	Git(t, seed, "checkout", "-b", "main")
	if len(files) == 0 {
		files = map[string]string{"README": "seed\n"}
	}
	for relative, content := range files {
		path := filepath.Join(seed, filepath.FromSlash(relative))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	Git(t, seed, "add", "--all")
	Git(t, seed, "commit", "-m", "initial")
	Git(t, seed, "push", bare, "main")
	return bare
}

// CommitCount returns the number of commits on branch in repository.
func CommitCount(t *testing.T, repository, branch string) int {
	t.Helper()
	output := Git(t, repository, "rev-list", "--count", branch)
	count := 0
	for _, digit := range output {
		count = count*10 + int(digit-'0')
	}
	return count
}
