// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/statfeed/statfeed/lib/sealed"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statfeed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Identity.Name != "github-actions[bot]" || cfg.Identity.Email != "github-actions[bot]@users.noreply.github.com" {
		t.Errorf("default identity = %+v", cfg.Identity)
	}
	if cfg.Identity.Message != "Automated data update" {
		t.Errorf("default message = %q", cfg.Identity.Message)
	}
	if cfg.Repository.Mode != ModeClone || cfg.Repository.Branch != "main" {
		t.Errorf("default repository = %+v", cfg.Repository)
	}
	if cfg.Auth.TokenEnv != "GITHUB_TOKEN" {
		t.Errorf("default token_env = %q", cfg.Auth.TokenEnv)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when STATFEED_CONFIG not set")
	}
	if !strings.HasPrefix(err.Error(), "STATFEED_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFromEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, `
environment: staging
paths:
  root: /test/root
repository:
  remote: https://example.com/data.git
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Paths.State != "/test/root/state" {
		t.Errorf("expected state=/test/root/state, got %s", cfg.Paths.State)
	}
	if cfg.Paths.History != "/test/root/history.db" {
		t.Errorf("expected history=/test/root/history.db, got %s", cfg.Paths.History)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
paths:
  root: /custom/root
  snapshots: /var/lib/statfeed/snapshots
repository:
  mode: in_place
  path: /srv/data-repo
  branch: data
identity:
  name: data-bot
  email: data-bot@example.com
workflow:
  path: ${STATFEED_ROOT}/workflows/bls.jsonc
  schedule: "@monthly"
  variables:
    START_YEAR: "2020"
bls:
  requests_per_second: 0.5
  timeout: 1m
snapshots:
  compression: lz4
  keep: 6
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Snapshots != "/var/lib/statfeed/snapshots" {
		t.Errorf("snapshots = %s", cfg.Paths.Snapshots)
	}
	if cfg.Repository.Mode != ModeInPlace || cfg.Repository.Path != "/srv/data-repo" || cfg.Repository.Branch != "data" {
		t.Errorf("repository = %+v", cfg.Repository)
	}
	if cfg.Identity.Message != "Automated data update" {
		t.Errorf("message default lost: %q", cfg.Identity.Message)
	}
	if cfg.Workflow.Path != "/custom/root/workflows/bls.jsonc" {
		t.Errorf("workflow path = %s", cfg.Workflow.Path)
	}
	if cfg.Workflow.Variables["START_YEAR"] != "2020" {
		t.Errorf("variables = %v", cfg.Workflow.Variables)
	}
	if cfg.BLSTimeout() != time.Minute {
		t.Errorf("BLSTimeout = %v", cfg.BLSTimeout())
	}
	if cfg.BLS.Burst != 1 {
		t.Errorf("burst default lost: %d", cfg.BLS.Burst)
	}
	if cfg.Snapshots.Compression != "lz4" || cfg.Snapshots.Keep != 6 {
		t.Errorf("snapshots = %+v", cfg.Snapshots)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
environment: production
paths:
  root: /default/root
repository:
  remote: https://example.com/scratch.git
workflow:
  variables:
    START_YEAR: "2022"
    OUTPUT: data/out.csv
production:
  paths:
    root: /prod/root
  repository:
    remote: https://example.com/real.git
  workflow:
    variables:
      START_YEAR: "2015"
  log:
    level: warn
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Root != "/prod/root" || cfg.Paths.State != "/prod/root/state" {
		t.Errorf("paths = %+v", cfg.Paths)
	}
	if cfg.Repository.Remote != "https://example.com/real.git" {
		t.Errorf("remote = %s", cfg.Repository.Remote)
	}
	if cfg.Workflow.Variables["START_YEAR"] != "2015" || cfg.Workflow.Variables["OUTPUT"] != "data/out.csv" {
		t.Errorf("variables = %v", cfg.Workflow.Variables)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
	// An explicit production section replaces the built-in production
	// defaults, so the format stays at its base value.
	if cfg.Log.Format != "auto" {
		t.Errorf("log format = %s, want auto", cfg.Log.Format)
	}
}

func TestProductionDefaultsToJSONLogs(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
environment: production
repository:
  remote: https://example.com/real.git
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("production log format = %s, want json", cfg.Log.Format)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("STATFEED_ROOT", "/env/root")
	t.Setenv("STATFEED_ENVIRONMENT", "staging")

	cfg, err := LoadFile(writeConfig(t, `
environment: development
paths:
  root: /file/root
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Environment != Development {
		t.Errorf("environment = %s, env vars should not override", cfg.Environment)
	}
	if cfg.Paths.Root != "/file/root" || cfg.Paths.State != "/file/root/state" {
		t.Errorf("paths = %+v, env vars should not override", cfg.Paths)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("STATFEED_TEST_DIR", "/from/env")
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{"${HOME}/statfeed", map[string]string{"HOME": "/home/user"}, "/home/user/statfeed"},
		{"${STATFEED_TEST_DIR}/x", nil, "/from/env/x"},
		{"${STATFEED_UNSET_VAR:-/fallback}/x", nil, "/fallback/x"},
		{"/plain/path", nil, "/plain/path"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, test.vars); got != test.expected {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Repository.Mode = "sideways"
	cfg.Auth.SealedTokenFile = "/token.sealed"
	cfg.BLS.RequestsPerSecond = 0
	cfg.BLS.Timeout = "soon"
	cfg.Snapshots.Compression = "gzip"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, fragment := range []string{
		"repository.mode",
		"must be set together",
		"bls.requests_per_second",
		"bls.timeout",
		"snapshots.compression",
		"log.level",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate error lacks %q:\n%v", fragment, err)
		}
	}

	cloneWithoutRemote := Default()
	if err := cloneWithoutRemote.Validate(); err == nil || !strings.Contains(err.Error(), "repository.remote") {
		t.Errorf("clone mode without remote: %v", err)
	}
}

func TestTokenFromEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Auth.TokenEnv = "STATFEED_TEST_TOKEN"
	t.Setenv("STATFEED_TEST_TOKEN", "ghs_env")

	token, err := cfg.Token()
	if err != nil || token != "ghs_env" {
		t.Errorf("Token() = %q, %v; want ghs_env", token, err)
	}
}

func TestTokenFromSealedFile(t *testing.T) {
	dir := t.TempDir()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	identityPath := filepath.Join(dir, "identity.txt")
	if err := os.WriteFile(identityPath, []byte(keypair.PrivateKey+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	ciphertext, err := sealed.Encrypt([]byte("ghs_sealed"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatal(err)
	}
	sealedPath := filepath.Join(dir, "token.sealed")
	if err := os.WriteFile(sealedPath, []byte(ciphertext), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Auth.SealedTokenFile = sealedPath
	cfg.Auth.IdentityFile = identityPath
	t.Setenv("GITHUB_TOKEN", "ghs_env_ignored")

	token, err := cfg.Token()
	if err != nil || token != "ghs_sealed" {
		t.Errorf("Token() = %q, %v; want ghs_sealed", token, err)
	}
}
