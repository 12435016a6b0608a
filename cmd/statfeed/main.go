// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// statfeed runs a fetch-and-commit data workflow on a schedule.
package main

import (
	"os"

	"github.com/statfeed/statfeed/cmd/statfeed/commands"
	"github.com/statfeed/statfeed/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like validate) return
		// an exit code only. Don't print a redundant "error:" line.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
