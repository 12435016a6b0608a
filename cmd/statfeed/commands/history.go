// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/runstore"
)

type historyParams struct {
	configParams
	cli.JSONOutput
	Limit int `flag:"limit" default:"20" desc:"number of runs to show (0 for all)"`
}

func historyCommand(std streams) *cli.Command {
	var params historyParams
	return &cli.Command{
		Name:    "history",
		Summary: "List recorded runs",
		Description: `List runs from the run history, newest first. With a run ID, show
that run's steps.`,
		Usage: "statfeed history [flags] [RUN_ID]",
		Examples: []cli.Example{
			{Description: "Show the last 20 runs", Command: "statfeed history"},
			{Description: "Show one run's steps", Command: "statfeed history 20261101T000000Z-a1b2c3"},
			{Description: "Export as JSON", Command: "statfeed history --limit 0 --json"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("history", &params)
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}
			if params.Limit < 0 {
				return fmt.Errorf("--limit must not be negative, got %d", params.Limit)
			}
			cfg, err := params.load(false)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Paths.History), 0o755); err != nil {
				return err
			}
			runs, err := runstore.Open(cfg.Paths.History, nil)
			if err != nil {
				return err
			}
			defer runs.Close()

			ctx := context.Background()
			if len(args) == 1 {
				run, err := runs.Get(ctx, args[0])
				if errors.Is(err, runstore.ErrNotFound) {
					return fmt.Errorf("no run %q in %s", args[0], cfg.Paths.History)
				}
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(std.stdout, run); done {
					return err
				}
				return writeRunDetail(std.stdout, run)
			}

			list, err := runs.List(ctx, params.Limit)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(std.stdout, list); done {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(std.stdout, "no runs recorded")
				return nil
			}
			if err := writeRunTable(std.stdout, list); err != nil {
				return err
			}
			last, err := runs.LastSuccess(ctx)
			if errors.Is(err, runstore.ErrNotFound) {
				fmt.Fprintln(std.stdout, "\nno successful run recorded")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(std.stdout, "\nlast success: %s (%s)\n", last.ID, humanize.Time(last.Started))
			return nil
		},
	}
}

func writeRunTable(w io.Writer, runs []*runstore.Run) error {
	rows := make([][]cell, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []cell{
			plain(run.ID),
			plain(run.Workflow),
			plain(run.Trigger),
			statusCell(run.Status),
			plain(humanize.Time(run.Started)),
			plain(formatDuration(run.Duration())),
			runOutcome(run),
		})
	}
	return writeTable(w, []string{"RUN", "WORKFLOW", "TRIGGER", "STATUS", "STARTED", "DURATION", "DETAIL"}, rows)
}

// detailWidth caps the detail column so one long error does not wrap
// every row.
const detailWidth = 72

// runOutcome is the detail column: the commit for published runs, the
// failure point for failed ones.
func runOutcome(run *runstore.Run) cell {
	switch {
	case run.Status == runstore.StatusFailed && run.FailedStep != "":
		return failureCell(fmt.Sprintf("%s/%s: %s", run.FailedStage, run.FailedStep, run.Error))
	case run.Status == runstore.StatusFailed:
		return failureCell(fmt.Sprintf("%s: %s", run.FailedStage, run.Error))
	case run.Commit != "":
		return plain(shortCommit(run.Commit))
	default:
		return plain("-")
	}
}

func failureCell(text string) cell {
	text = strings.Join(strings.Fields(text), " ")
	return cell{text: ansi.Truncate(text, detailWidth, "…"), style: faintStyle}
}

func writeRunDetail(w io.Writer, run *runstore.Run) error {
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "Workflow:  %s\n", run.Workflow)
	fmt.Fprintf(w, "Trigger:   %s\n", run.Trigger)
	fmt.Fprintf(w, "Status:    %s\n", statusCell(run.Status).style.Render(run.Status))
	fmt.Fprintf(w, "Started:   %s (%s)\n", run.Started.UTC().Format(time.RFC3339), humanize.Time(run.Started))
	if !run.Finished.IsZero() {
		fmt.Fprintf(w, "Duration:  %s\n", formatDuration(run.Duration()))
	}
	if run.Commit != "" {
		fmt.Fprintf(w, "Commit:    %s\n", run.Commit)
	}
	if run.SnapshotID != "" {
		fmt.Fprintf(w, "Snapshot:  %s\n", run.SnapshotID)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", run.Error)
	}
	if len(run.Steps) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	rows := make([][]cell, 0, len(run.Steps))
	for _, step := range run.Steps {
		rows = append(rows, []cell{
			plain(strconv.Itoa(step.Index)),
			plain(step.Stage),
			plain(step.Name),
			statusCell(step.Status),
			plain(strconv.Itoa(step.Attempts)),
			plain(formatDuration(step.Duration)),
			cell{text: step.Error, style: faintStyle},
		})
	}
	return writeTable(w, []string{"#", "STAGE", "STEP", "STATUS", "ATTEMPTS", "DURATION", "ERROR"}, rows)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
