// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// outputTailSize bounds the command output quoted in step errors.
const outputTailSize = 2048

// shellCommand is one command run via sh -c.
type shellCommand struct {
	Dir     string
	Command string

	// Env is appended to the process environment.
	Env []string

	// Output receives stdout and stderr. Nil discards.
	Output io.Writer

	// GracePeriod is the wait between SIGTERM and SIGKILL when the
	// context ends. Zero kills immediately.
	GracePeriod time.Duration
}

// commandFailure describes a command that ran but did not succeed.
type commandFailure struct {
	ExitCode int
	Tail     string
}

func (f *commandFailure) Error() string {
	if f.Tail == "" {
		return fmt.Sprintf("exit code %d", f.ExitCode)
	}
	return fmt.Sprintf("exit code %d: %s", f.ExitCode, f.Tail)
}

// runShell runs command in its own process group so a timeout or
// cancellation kills the shell and every child it started. A non-zero
// exit is returned as a *commandFailure carrying the end of the
// output; a timeout is reported as such.
func runShell(ctx context.Context, command shellCommand) error {
	output := command.Output
	if output == nil {
		output = io.Discard
	}
	tail := &tailWriter{target: output, limit: outputTailSize}

	cmd := exec.CommandContext(ctx, "sh", "-c", command.Command)
	cmd.Dir = command.Dir
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	gracePeriod := command.GracePeriod
	if gracePeriod > 0 {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(gracePeriod)
				// ESRCH from an already-exited group is expected.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
		// Children holding the output pipe open must not block Wait
		// past the grace period.
		cmd.WaitDelay = gracePeriod + time.Second
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		cmd.WaitDelay = time.Second
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("timed out: %w", ctxErr)
		}
		return ctxErr
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return &commandFailure{ExitCode: exitError.ExitCode(), Tail: tail.String()}
	}
	return err
}

// tailWriter forwards writes and keeps the last limit bytes.
type tailWriter struct {
	target io.Writer
	limit  int

	mu     sync.Mutex
	buffer []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buffer = append(w.buffer, p...)
	if excess := len(w.buffer) - w.limit; excess > 0 {
		w.buffer = w.buffer[excess:]
	}
	w.mu.Unlock()
	return w.target.Write(p)
}

// String returns the retained output with whitespace collapsed at the
// ends.
func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buffer))
}
