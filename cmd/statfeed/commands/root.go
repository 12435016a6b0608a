// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the statfeed command tree.
package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/version"
)

// Root builds and returns the complete statfeed command tree.
func Root() *cli.Command {
	return newRoot(streams{stdout: os.Stdout, stdin: os.Stdin}, time.Now)
}

func newRoot(std streams, now func() time.Time) *cli.Command {
	return &cli.Command{
		Name: "statfeed",
		Description: `statfeed: scheduled fetch-and-commit runner.

Runs a data workflow on a cron schedule (or on demand): check out a
git repository, install dependencies, fetch and process data, and
commit the changed files back as a bot identity. The built-in workflow
refreshes BLS labor statistics once a month.

Configuration is read from --config or $STATFEED_CONFIG.`,
		Subcommands: []*cli.Command{
			runCommand(std),
			daemonCommand(),
			nextCommand(std, now),
			validateCommand(std),
			historyCommand(std),
			snapshotsCommand(std),
			fetchCommand(std, now),
			summaryCommand(std),
			tokenCommand(std, now),
			versionCommand(std.stdout),
		},
		HelpOutput: std.stdout,
	}
}

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			fmt.Fprintf(stdout, "statfeed %s\n", version.Full())
			return nil
		},
	}
}
