// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/bls"
	"github.com/statfeed/statfeed/lib/config"
	"github.com/statfeed/statfeed/lib/cron"
	"github.com/statfeed/statfeed/lib/git"
	"github.com/statfeed/statfeed/lib/pipeline"
	"github.com/statfeed/statfeed/lib/runstore"
	"github.com/statfeed/statfeed/lib/snapshot"
	"github.com/statfeed/statfeed/lib/workflow"
	"github.com/statfeed/statfeed/workflows"
)

// streams are the standard streams a command writes to. Tests replace
// them with buffers.
type streams struct {
	stdout io.Writer
	stdin  io.Reader
}

// configParams selects the configuration file.
type configParams struct {
	Config string `flag:"config,c" desc:"statfeed.yaml path (default: $STATFEED_CONFIG)"`
}

// load reads the configuration. Commands that publish pass required;
// the file must exist and validate. Other commands fall back to the
// defaults and skip validation, so they work without a repository
// configured.
func (p *configParams) load(required bool) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case p.Config != "":
		cfg, err = config.LoadFile(p.Config)
	case required || os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
		cfg.Finalize()
	}
	if err != nil {
		return nil, err
	}
	if required {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// workflowParams selects the workflow and its variable overrides.
type workflowParams struct {
	Workflow string   `flag:"workflow,w" desc:"workflow file or built-in name (default: workflow.path, else the built-in default)"`
	Set      []string `flag:"set" desc:"override a workflow variable (NAME=VALUE, repeatable)"`
}

// resolve loads the workflow named by --workflow, falling back to the
// configured path.
func (p *workflowParams) resolve(cfg *config.Config) (*workflow.Workflow, error) {
	source := p.Workflow
	if source == "" {
		source = cfg.Workflow.Path
	}
	return loadWorkflow(source)
}

// overrides merges the configured variables with --set values, which
// win.
func (p *workflowParams) overrides(cfg *config.Config) (map[string]string, error) {
	result := maps.Clone(cfg.Workflow.Variables)
	if result == nil {
		result = make(map[string]string)
	}
	for _, assignment := range p.Set {
		name, value, found := strings.Cut(assignment, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid --set %q (want NAME=VALUE)", assignment)
		}
		result[name] = value
	}
	return result, nil
}

// loadWorkflow parses and validates a workflow. An empty source selects
// the built-in default; a source that is not an existing file and
// looks like a bare name selects that built-in.
func loadWorkflow(source string) (*workflow.Workflow, error) {
	var (
		parsed *workflow.Workflow
		err    error
	)
	if isBuiltinName(source) {
		parsed, err = builtinWorkflow(source)
	} else {
		parsed, err = workflow.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	if issues := workflow.Validate(parsed); len(issues) > 0 {
		return nil, fmt.Errorf("workflow %q is invalid:\n  %s", parsed.Name, strings.Join(issues, "\n  "))
	}
	return parsed, nil
}

func isBuiltinName(source string) bool {
	if source == "" {
		return true
	}
	if strings.ContainsAny(source, "/.") {
		return false
	}
	_, err := os.Stat(source)
	return errors.Is(err, fs.ErrNotExist)
}

func builtinWorkflow(name string) (*workflow.Workflow, error) {
	if name == "" {
		name = workflows.DefaultName
	}
	data, err := workflows.Get(name)
	if err != nil {
		return nil, err
	}
	parsed, err := workflow.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("built-in workflow %s: %w", name, err)
	}
	if parsed.Name == "" {
		parsed.Name = name
	}
	return parsed, nil
}

// schedule returns the effective cron schedule: the config override
// when set, else the workflow's own.
func schedule(cfg *config.Config, w *workflow.Workflow) (cron.Schedule, error) {
	expression := cfg.Workflow.Schedule
	if expression == "" {
		expression = w.EffectiveSchedule()
	}
	parsed, err := cron.Parse(expression)
	if err != nil {
		return cron.Schedule{}, fmt.Errorf("schedule %q: %w", expression, err)
	}
	return parsed, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return cli.NewLogger(cfg.Log.Level, cfg.Log.Format)
}

func newBLSClient(cfg *config.Config, logger *slog.Logger) (*bls.Client, error) {
	return bls.NewClient(bls.Config{
		URL:                 cfg.BLS.APIURL,
		Key:                 cfg.BLSKey(),
		Timeout:             cfg.BLSTimeout(),
		RequestsPerSecond:   cfg.BLS.RequestsPerSecond,
		Burst:               cfg.BLS.Burst,
		MaxSeriesPerRequest: cfg.BLS.MaxSeriesPerRequest,
		MaxYearsPerRequest:  cfg.BLS.MaxYearsPerRequest,
		Logger:              logger,
	})
}

func openSnapshots(cfg *config.Config) (*snapshot.Store, error) {
	compression, err := snapshot.ParseCompression(cfg.Snapshots.Compression)
	if err != nil {
		return nil, err
	}
	return snapshot.Open(cfg.Paths.Snapshots, compression)
}

// runner holds everything a pipeline run needs. Close releases the
// run store.
type runner struct {
	executor *pipeline.Executor
	runs     *runstore.Store
	logger   *slog.Logger
}

func (r *runner) Close() error {
	return r.runs.Close()
}

// newRunner prepares the state directories, stores and BLS client and
// builds the executor for w.
func newRunner(cfg *config.Config, w *workflow.Workflow, overrides map[string]string, keepWorkspace bool, output io.Writer) (*runner, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger = logger.With("workflow", w.Name)

	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	token, err := cfg.Token()
	if err != nil {
		return nil, fmt.Errorf("reading push token: %w", err)
	}
	client, err := newBLSClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	snapshots, err := openSnapshots(cfg)
	if err != nil {
		return nil, err
	}
	runs, err := runstore.Open(cfg.Paths.History, logger)
	if err != nil {
		return nil, err
	}

	executor, err := pipeline.New(pipeline.Config{
		Workflow:      w,
		Overrides:     overrides,
		Environ:       os.Getenv,
		Mode:          cfg.Repository.Mode,
		Remote:        cfg.Repository.Remote,
		Path:          cfg.Repository.Path,
		Branch:        cfg.Repository.Branch,
		WorkspacesDir: cfg.Paths.Workspaces,
		KeepWorkspace: keepWorkspace,
		Token:         token,
		Identity:      git.Identity{Name: cfg.Identity.Name, Email: cfg.Identity.Email},
		Message:       cfg.Identity.Message,
		LockPath:      cfg.LockPath(),
		Snapshots:     snapshots,
		KeepSnapshots: cfg.Snapshots.Keep,
		Runs:          runs,
		ResultDir:     cfg.RunLogDir(),
		BLS:           client,
		Output:        output,
		Logger:        logger,
	})
	if err != nil {
		runs.Close()
		return nil, err
	}
	return &runner{executor: executor, runs: runs, logger: logger}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
