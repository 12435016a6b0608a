// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/statfeed/statfeed/lib/sealed"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "STATFEED_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local runs.
	Development Environment = "development"
	// Staging is for a runner pointed at a scratch repository.
	Staging Environment = "staging"
	// Production is for the runner that commits to the real repository.
	Production Environment = "production"
)

// Workspace modes.
const (
	ModeClone   = "clone"
	ModeInPlace = "in_place"
)

// Config is the statfeed configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths      PathsConfig      `yaml:"paths"`
	Repository RepositoryConfig `yaml:"repository"`
	Auth       AuthConfig       `yaml:"auth"`
	Identity   IdentityConfig   `yaml:"identity"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	BLS        BLSConfig        `yaml:"bls"`
	Snapshots  SnapshotsConfig  `yaml:"snapshots"`
	Log        LogConfig        `yaml:"log"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections an environment block may override.
// Empty fields leave the base value alone.
type Overrides struct {
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Repository *RepositoryConfig `yaml:"repository,omitempty"`
	Auth       *AuthConfig       `yaml:"auth,omitempty"`
	Workflow   *WorkflowConfig   `yaml:"workflow,omitempty"`
	BLS        *BLSConfig        `yaml:"bls,omitempty"`
	Log        *LogConfig        `yaml:"log,omitempty"`
}

// PathsConfig configures where statfeed keeps its own state.
type PathsConfig struct {
	// Root is the base directory. Other paths default beneath it.
	Root string `yaml:"root"`

	// State holds the publish lock and run logs.
	State string `yaml:"state"`

	// Snapshots is the snapshot store directory.
	Snapshots string `yaml:"snapshots"`

	// History is the run history SQLite database.
	History string `yaml:"history"`

	// Workspaces is where clone-mode runs check out the repository.
	Workspaces string `yaml:"workspaces"`
}

// RepositoryConfig names the repository the data is committed to.
type RepositoryConfig struct {
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`

	// Mode is "clone" (fresh checkout per run) or "in_place".
	Mode string `yaml:"mode"`

	// Path is the existing working tree for in_place mode.
	Path string `yaml:"path"`
}

// AuthConfig locates the push token.
type AuthConfig struct {
	// TokenEnv names the environment variable holding the token.
	TokenEnv string `yaml:"token_env"`

	// SealedTokenFile and IdentityFile, when both set, take precedence
	// over TokenEnv: the token is decrypted from the sealed file.
	SealedTokenFile string `yaml:"sealed_token_file"`
	IdentityFile    string `yaml:"identity_file"`
}

// IdentityConfig is the commit author and committer.
type IdentityConfig struct {
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Message string `yaml:"message"`
}

// WorkflowConfig selects the workflow definition.
type WorkflowConfig struct {
	// Path is a JSONC workflow file. Empty selects the built-in
	// workflow.
	Path string `yaml:"path"`

	// Schedule overrides the workflow's cron expression when set.
	Schedule string `yaml:"schedule"`

	// Variables override workflow variable defaults.
	Variables map[string]string `yaml:"variables"`
}

// BLSConfig configures the built-in BLS client.
type BLSConfig struct {
	APIURL string `yaml:"api_url"`

	// KeyEnv names the environment variable holding the API
	// registration key. The key is optional; without it the API's
	// anonymous limits apply.
	KeyEnv string `yaml:"key_env"`

	// RequestsPerSecond paces requests. Burst is the limiter bucket.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// Timeout bounds one HTTP request, as a Go duration string.
	Timeout string `yaml:"timeout"`

	// MaxSeriesPerRequest splits large series lists across requests.
	MaxSeriesPerRequest int `yaml:"max_series_per_request"`

	// MaxYearsPerRequest splits long year ranges across requests.
	MaxYearsPerRequest int `yaml:"max_years_per_request"`
}

// SnapshotsConfig configures the snapshot store.
type SnapshotsConfig struct {
	// Compression is zstd, lz4 or none.
	Compression string `yaml:"compression"`

	// Keep is how many snapshots survive pruning. Zero keeps all.
	Keep int `yaml:"keep"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text or
	// json.
	Format string `yaml:"format"`
}

// Default returns the configuration every file is merged over.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "statfeed")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       defaultRoot,
			State:      "${STATFEED_ROOT}/state",
			Snapshots:  "${STATFEED_ROOT}/snapshots",
			History:    "${STATFEED_ROOT}/history.db",
			Workspaces: "${STATFEED_ROOT}/workspaces",
		},
		Repository: RepositoryConfig{
			Branch: "main",
			Mode:   ModeClone,
		},
		Auth: AuthConfig{
			TokenEnv: "GITHUB_TOKEN",
		},
		Identity: IdentityConfig{
			Name:    "github-actions[bot]",
			Email:   "github-actions[bot]@users.noreply.github.com",
			Message: "Automated data update",
		},
		BLS: BLSConfig{
			APIURL:              "https://api.bls.gov/publicAPI/v2/timeseries/data/",
			KeyEnv:              "BLS_API_KEY",
			RequestsPerSecond:   1,
			Burst:               1,
			Timeout:             "30s",
			MaxSeriesPerRequest: 50,
			MaxYearsPerRequest:  20,
		},
		Snapshots: SnapshotsConfig{
			Compression: "zstd",
			Keep:        24,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by STATFEED_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your statfeed.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default, applies the
// matching environment section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// Finalize applies environment overrides and expands variables on a
// Config built in code (Default plus edits) instead of loaded from a
// file.
func (c *Config) Finalize() {
	c.applyEnvironmentOverrides()
	c.expandVariables()
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Log: &LogConfig{Format: "json"}}
		}
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.State, paths.State)
		override(&c.Paths.Snapshots, paths.Snapshots)
		override(&c.Paths.History, paths.History)
		override(&c.Paths.Workspaces, paths.Workspaces)
	}
	if repository := overrides.Repository; repository != nil {
		override(&c.Repository.Remote, repository.Remote)
		override(&c.Repository.Branch, repository.Branch)
		override(&c.Repository.Mode, repository.Mode)
		override(&c.Repository.Path, repository.Path)
	}
	if auth := overrides.Auth; auth != nil {
		override(&c.Auth.TokenEnv, auth.TokenEnv)
		override(&c.Auth.SealedTokenFile, auth.SealedTokenFile)
		override(&c.Auth.IdentityFile, auth.IdentityFile)
	}
	if workflow := overrides.Workflow; workflow != nil {
		override(&c.Workflow.Path, workflow.Path)
		override(&c.Workflow.Schedule, workflow.Schedule)
		if len(workflow.Variables) > 0 {
			merged := make(map[string]string, len(c.Workflow.Variables)+len(workflow.Variables))
			for name, value := range c.Workflow.Variables {
				merged[name] = value
			}
			for name, value := range workflow.Variables {
				merged[name] = value
			}
			c.Workflow.Variables = merged
		}
	}
	if bls := overrides.BLS; bls != nil {
		override(&c.BLS.APIURL, bls.APIURL)
		override(&c.BLS.KeyEnv, bls.KeyEnv)
		override(&c.BLS.Timeout, bls.Timeout)
		override(&c.BLS.RequestsPerSecond, bls.RequestsPerSecond)
		override(&c.BLS.Burst, bls.Burst)
		override(&c.BLS.MaxSeriesPerRequest, bls.MaxSeriesPerRequest)
		override(&c.BLS.MaxYearsPerRequest, bls.MaxYearsPerRequest)
	}
	if log := overrides.Log; log != nil {
		override(&c.Log.Level, log.Level)
		override(&c.Log.Format, log.Format)
	}
}

// override replaces *target with value unless value is the zero value.
func override[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"STATFEED_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["STATFEED_ROOT"] = c.Paths.Root

	for _, field := range []*string{
		&c.Paths.State,
		&c.Paths.Snapshots,
		&c.Paths.History,
		&c.Paths.Workspaces,
		&c.Repository.Path,
		&c.Auth.SealedTokenFile,
		&c.Auth.IdentityFile,
		&c.Workflow.Path,
	} {
		*field = expandVars(*field, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}

	switch c.Repository.Mode {
	case ModeClone:
		if c.Repository.Remote == "" {
			errs = append(errs, errors.New("repository.remote is required in clone mode"))
		}
	case ModeInPlace:
		if c.Repository.Path == "" {
			errs = append(errs, errors.New("repository.path is required in in_place mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("repository.mode must be %q or %q, got %q", ModeClone, ModeInPlace, c.Repository.Mode))
	}
	if c.Repository.Branch == "" {
		errs = append(errs, errors.New("repository.branch is required"))
	}

	if (c.Auth.SealedTokenFile == "") != (c.Auth.IdentityFile == "") {
		errs = append(errs, errors.New("auth.sealed_token_file and auth.identity_file must be set together"))
	}
	if c.Identity.Name == "" || c.Identity.Email == "" {
		errs = append(errs, errors.New("identity.name and identity.email are required"))
	}
	if c.Identity.Message == "" {
		errs = append(errs, errors.New("identity.message is required"))
	}

	if c.BLS.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("bls.requests_per_second must be positive, got %v", c.BLS.RequestsPerSecond))
	}
	if c.BLS.Burst < 1 {
		errs = append(errs, fmt.Errorf("bls.burst must be at least 1, got %d", c.BLS.Burst))
	}
	if _, err := time.ParseDuration(c.BLS.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("bls.timeout: %w", err))
	}

	if !slices.Contains([]string{"zstd", "lz4", "none"}, c.Snapshots.Compression) {
		errs = append(errs, fmt.Errorf("snapshots.compression must be zstd, lz4 or none, got %q", c.Snapshots.Compression))
	}
	if c.Snapshots.Keep < 0 {
		errs = append(errs, fmt.Errorf("snapshots.keep must not be negative, got %d", c.Snapshots.Keep))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if !slices.Contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// BLSTimeout returns the parsed bls.timeout. Call Validate first.
func (c *Config) BLSTimeout() time.Duration {
	timeout, err := time.ParseDuration(c.BLS.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return timeout
}

// BLSKey returns the BLS registration key from the environment, or ""
// when unset.
func (c *Config) BLSKey() string {
	if c.BLS.KeyEnv == "" {
		return ""
	}
	return os.Getenv(c.BLS.KeyEnv)
}

// Token returns the push token: decrypted from the sealed file when
// one is configured, otherwise read from auth.token_env. An empty
// token is not an error; remotes that need none (local paths, SSH)
// work without it.
func (c *Config) Token() (string, error) {
	if c.Auth.SealedTokenFile != "" {
		return sealed.ReadToken(c.Auth.SealedTokenFile, c.Auth.IdentityFile)
	}
	if c.Auth.TokenEnv == "" {
		return "", nil
	}
	return os.Getenv(c.Auth.TokenEnv), nil
}

// LockPath returns the publish lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.State, "publish.lock")
}

// RunLogDir returns the directory for per-run JSONL result logs.
func (c *Config) RunLogDir() string {
	return filepath.Join(c.Paths.State, "runs")
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{
		c.Paths.Root,
		c.Paths.State,
		c.Paths.Snapshots,
		c.Paths.Workspaces,
		c.RunLogDir(),
		filepath.Dir(c.Paths.History),
	} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
