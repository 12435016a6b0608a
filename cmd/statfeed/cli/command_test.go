// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "statfeed",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "history",
				Run: func(args []string) error {
					called = "history"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"history"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "history" {
		t.Errorf("dispatched to %q, want %q", called, "history")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "statfeed",
		Subcommands: []*Command{
			{
				Name: "snapshots",
				Subcommands: []*Command{
					{
						Name: "restore",
						Run: func(args []string) error {
							called = "snapshots restore"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"snapshots", "restore", "latest", "/tmp/out"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "snapshots restore" {
		t.Errorf("dispatched to %q, want %q", called, "snapshots restore")
	}
	if len(receivedArgs) != 2 || receivedArgs[0] != "latest" {
		t.Errorf("args = %v, want [latest /tmp/out]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var limit int
	var target string

	command := &Command{
		Name: "history",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			flagSet.IntVar(&limit, "limit", 20, "runs to show")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--limit", "5", "extra"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if limit != 5 {
		t.Errorf("limit = %d, want 5", limit)
	}
	if target != "extra" {
		t.Errorf("target = %q, want %q", target, "extra")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.String("workflow", "", "workflow file")
			flagSet.String("config", "", "config file")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--workflw", "x.jsonc"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	message := err.Error()
	if !strings.Contains(message, "did you mean --workflow") {
		t.Errorf("error = %q, want suggestion for '--workflow'", message)
	}
	if !strings.Contains(message, "--help") {
		t.Errorf("error = %q, should point to --help", message)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "statfeed",
		Subcommands: []*Command{
			{Name: "run"},
			{Name: "daemon"},
			{Name: "snapshots"},
		},
	}

	err := root.Execute([]string{"deamon"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "daemon"`) {
		t.Errorf("error = %q, want suggestion for 'daemon'", err.Error())
	}

	err = root.Execute([]string{"zzzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for distant input", err)
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			var buffer bytes.Buffer
			root := &Command{
				Name:        "statfeed",
				Summary:     "Scheduled fetch-and-commit runner",
				HelpOutput:  &buffer,
				Subcommands: []*Command{{Name: "run", Summary: "Run the workflow once"}},
			}

			if err := root.Execute([]string{helpArg}); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
			if !strings.Contains(buffer.String(), "Run the workflow once") {
				t.Errorf("help output = %q", buffer.String())
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name:        "statfeed",
		HelpOutput:  io.Discard,
		Subcommands: []*Command{{Name: "run", Summary: "Run the workflow once"}},
	}

	err := root.Execute([]string{})
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %v, want 'subcommand required'", err)
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "statfeed",
		Description: "Scheduled fetch-and-commit runner.",
		Subcommands: []*Command{
			{Name: "run", Summary: "Run the workflow once"},
			{Name: "daemon", Summary: "Run on the schedule"},
		},
		Examples: []Example{
			{Description: "Dispatch a run now", Command: "statfeed run --config statfeed.yaml"},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Scheduled fetch-and-commit runner.",
		"Usage:",
		"statfeed <command> [flags]",
		"Commands:",
		"daemon",
		"Run on the schedule",
		"Examples:",
		"# Dispatch a run now",
		"statfeed run --config statfeed.yaml",
		"Run 'statfeed <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "statfeed"}
	snapshots := &Command{Name: "snapshots", parent: root}
	restore := &Command{Name: "restore", parent: snapshots}

	if got := restore.fullName(); got != "statfeed snapshots restore" {
		t.Errorf("restore.fullName() = %q, want %q", got, "statfeed snapshots restore")
	}
}

func TestExitError(t *testing.T) {
	var coder interface{ ExitCode() int } = &ExitError{Code: 2}
	if coder.ExitCode() != 2 {
		t.Errorf("ExitCode() = %d, want 2", coder.ExitCode())
	}
}
