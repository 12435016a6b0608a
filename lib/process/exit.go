// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers for statfeed binaries:
// reporting an error before the structured logger exists, and mapping
// an error to the process exit status.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is implemented by errors that carry their own exit status,
// such as cli.ExitError.
type exitCoder interface {
	ExitCode() int
}

// ExitCode returns the exit status for err: 0 for nil, the error's own
// code when it has one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Report writes "error: err" to w unless err is nil or carries an
// exit code with no message to print.
func Report(w io.Writer, err error) {
	if err == nil || err.Error() == "" {
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// Use it in main() for errors from run() where the structured logger
// may not be initialized.
func Fatal(err error) {
	Report(os.Stderr, err)
	os.Exit(ExitCode(err))
}
