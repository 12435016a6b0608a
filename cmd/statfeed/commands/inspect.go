// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/cron"
	"github.com/statfeed/statfeed/lib/workflow"
)

type nextParams struct {
	configParams
	cli.JSONOutput
	Workflow string `flag:"workflow,w" desc:"workflow file or built-in name"`
	Schedule string `flag:"schedule" desc:"cron expression to evaluate instead of the configured one"`
	Count    int    `flag:"count,n" default:"5" desc:"number of fire times to print"`
}

func nextCommand(std streams, now func() time.Time) *cli.Command {
	var params nextParams
	return &cli.Command{
		Name:    "next",
		Summary: "Print the next scheduled run times",
		Description: `Print the next fire times of the effective schedule in UTC. The
schedule is --schedule when given, else workflow.schedule from the
configuration, else the workflow's own schedule.`,
		Usage: "statfeed next [flags]",
		Examples: []cli.Example{
			{Description: "Show the next five runs", Command: "statfeed next"},
			{Description: "Check an expression", Command: "statfeed next --schedule '*/15 * * * *' -n 3"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("next", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if params.Count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", params.Count)
			}
			var (
				parsed cron.Schedule
				err    error
			)
			if params.Schedule != "" {
				parsed, err = cron.Parse(params.Schedule)
			} else {
				parsed, err = effectiveSchedule(&params.configParams, params.Workflow)
			}
			if err != nil {
				return err
			}

			times, err := parsed.NextN(now(), params.Count)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(std.stdout, times); done {
				return err
			}
			for _, fire := range times {
				fmt.Fprintln(std.stdout, fire.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func effectiveSchedule(params *configParams, source string) (cron.Schedule, error) {
	cfg, err := params.load(false)
	if err != nil {
		return cron.Schedule{}, err
	}
	if source == "" {
		source = cfg.Workflow.Path
	}
	w, err := loadWorkflow(source)
	if err != nil {
		return cron.Schedule{}, err
	}
	return schedule(cfg, w)
}

type validateParams struct {
	configParams
}

func validateCommand(std streams) *cli.Command {
	var params validateParams
	return &cli.Command{
		Name:    "validate",
		Summary: "Check a workflow definition",
		Description: `Parse and validate a workflow file or built-in workflow and print
every problem found. Without an argument the configured workflow is
checked. Exits 1 when the workflow has problems.`,
		Usage: "statfeed validate [flags] [FILE|NAME]",
		Examples: []cli.Example{
			{Description: "Validate a workflow file", Command: "statfeed validate workflows/bls-two-step.jsonc"},
			{Description: "Validate the configured workflow", Command: "statfeed validate --config statfeed.yaml"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("validate", &params)
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}
			cfg, err := params.load(false)
			if err != nil {
				return err
			}
			source := cfg.Workflow.Path
			if len(args) == 1 {
				source = args[0]
			}

			var parsed *workflow.Workflow
			if isBuiltinName(source) {
				parsed, err = builtinWorkflow(source)
			} else {
				parsed, err = workflow.ReadFile(source)
			}
			if err != nil {
				fmt.Fprintf(std.stdout, "invalid: %v\n", err)
				return &cli.ExitError{Code: 1}
			}

			issues := workflow.Validate(parsed)
			if len(args) == 0 && cfg.Workflow.Schedule != "" {
				if _, err := cron.Parse(cfg.Workflow.Schedule); err != nil {
					issues = append(issues, fmt.Sprintf("workflow.schedule in config: %v", err))
				}
			}
			if len(issues) > 0 {
				fmt.Fprintf(std.stdout, "workflow %q has %d problem(s):\n", parsed.Name, len(issues))
				for _, issue := range issues {
					fmt.Fprintf(std.stdout, "  - %s\n", issue)
				}
				return &cli.ExitError{Code: 1}
			}

			fmt.Fprintf(std.stdout, "workflow %q is valid: %d step(s), schedule %q\n",
				parsed.Name, len(parsed.Steps), parsed.EffectiveSchedule())
			return nil
		},
	}
}
