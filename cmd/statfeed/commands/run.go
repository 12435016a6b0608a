// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/runstore"
	"github.com/statfeed/statfeed/lib/scheduler"
)

type runParams struct {
	configParams
	workflowParams
	KeepWorkspace bool `flag:"keep-workspace" desc:"leave the clone-mode checkout in place after the run"`
}

func runCommand(std streams) *cli.Command {
	var params runParams
	return &cli.Command{
		Name:    "run",
		Summary: "Run the workflow once",
		Description: `Dispatch one run of the workflow: check out the repository, install
dependencies, run the data steps and publish the result.

The exit status is 0 when the run succeeded or was skipped because
nothing changed, and 1 when any stage failed.`,
		Usage: "statfeed run [flags]",
		Examples: []cli.Example{
			{Description: "Run the configured workflow", Command: "statfeed run"},
			{Description: "Backfill from an earlier year", Command: "statfeed run --set START_YEAR=2015"},
			{Description: "Run the two-step example", Command: "statfeed run --workflow bls-two-step"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("run", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := params.load(true)
			if err != nil {
				return err
			}
			w, err := params.resolve(cfg)
			if err != nil {
				return err
			}
			overrides, err := params.overrides(cfg)
			if err != nil {
				return err
			}
			r, err := newRunner(cfg, w, overrides, params.KeepWorkspace, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signalContext()
			defer stop()

			run, err := r.executor.Run(ctx, runstore.TriggerManual)
			if run != nil {
				fmt.Fprintln(std.stdout, describeRun(run))
			}
			return err
		},
	}
}

// describeRun is the one-line outcome printed after a run.
func describeRun(run *runstore.Run) string {
	switch run.Status {
	case runstore.StatusOK:
		if run.Commit != "" {
			return fmt.Sprintf("run %s: published %s", run.ID, shortCommit(run.Commit))
		}
		return fmt.Sprintf("run %s: ok", run.ID)
	case runstore.StatusFailed:
		if run.FailedStep != "" {
			return fmt.Sprintf("run %s: failed in %s step %q", run.ID, run.FailedStage, run.FailedStep)
		}
		return fmt.Sprintf("run %s: failed in %s", run.ID, run.FailedStage)
	default:
		return fmt.Sprintf("run %s: %s", run.ID, run.Status)
	}
}

func shortCommit(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

type daemonParams struct {
	configParams
	workflowParams
	RunNow bool `flag:"run-now" desc:"dispatch one run immediately on startup"`
}

func daemonCommand() *cli.Command {
	var params daemonParams
	return &cli.Command{
		Name:    "daemon",
		Summary: "Run the workflow on its cron schedule",
		Description: `Run the scheduler in the foreground until SIGINT or SIGTERM. Each
fire of the schedule (UTC) dispatches one run. SIGUSR1 requests a
manual run; requests arriving while a run is in progress collapse into
a single follow-up run. Fires missed while the daemon was down are not
replayed.`,
		Usage: "statfeed daemon [flags]",
		Examples: []cli.Example{
			{Description: "Start the scheduler", Command: "statfeed daemon --config /etc/statfeed.yaml"},
			{Description: "Trigger a manual run", Command: "kill -USR1 $(pidof statfeed)"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("daemon", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := params.load(true)
			if err != nil {
				return err
			}
			w, err := params.resolve(cfg)
			if err != nil {
				return err
			}
			cronSchedule, err := schedule(cfg, w)
			if err != nil {
				return err
			}
			overrides, err := params.overrides(cfg)
			if err != nil {
				return err
			}
			r, err := newRunner(cfg, w, overrides, false, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			logger := r.logger.With("command", "daemon")
			sched, err := scheduler.New(scheduler.Config{
				Schedule: cronSchedule,
				Logger:   logger,
				Run: func(ctx context.Context, trigger string) {
					// Failures are logged and recorded by the executor.
					_, _ = r.executor.Run(ctx, trigger)
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			manual := make(chan os.Signal, 1)
			signal.Notify(manual, syscall.SIGUSR1)
			defer signal.Stop(manual)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-manual:
						if sched.Trigger() {
							logger.Info("manual run requested")
						} else {
							logger.Info("manual run already pending")
						}
					}
				}
			}()

			if params.RunNow {
				sched.Trigger()
			}
			if next, err := sched.Next(); err == nil {
				logger.Info("daemon started", "schedule", cronSchedule.String(), "next", next)
			}
			return sched.Run(ctx)
		},
	}
}
