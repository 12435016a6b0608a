// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

// Package runlock serializes publishes across processes with an
// exclusive flock(2) on a lock file. The holder writes its run ID, PID
// and acquisition time into the file (CBOR) so a blocked run can say
// who it is waiting on. The kernel drops the lock when the holder's
// descriptor closes, including on crash, so stale holder metadata
// never keeps the lock held.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/statfeed/statfeed/lib/clock"
	"github.com/statfeed/statfeed/lib/codec"
)

// ErrLocked is returned when another holder has the lock and the wait
// budget is exhausted.
var ErrLocked = errors.New("run lock is held by another run")

// pollInterval is how often Acquire retries a contended lock.
const pollInterval = 250 * time.Millisecond

// Holder describes the process holding a lock.
type Holder struct {
	RunID    string    `cbor:"run_id"`
	PID      int       `cbor:"pid"`
	Acquired time.Time `cbor:"acquired"`
}

func (h Holder) String() string {
	return fmt.Sprintf("run %s (pid %d, since %s)", h.RunID, h.PID, h.Acquired.Format(time.RFC3339))
}

// Lock is a held run lock. Release it exactly once.
type Lock struct {
	path   string
	file   *os.File
	holder Holder
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Holder returns the metadata written by this lock.
func (l *Lock) Holder() Holder { return l.holder }

// TryAcquire takes the lock at path without waiting. If another
// process holds it, the error wraps ErrLocked and names the holder
// when its metadata is readable.
func TryAcquire(path, runID string, now time.Time) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder, readErr := ReadHolder(path); readErr == nil {
				return nil, fmt.Errorf("%w: %s", ErrLocked, holder)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	lock := &Lock{
		path: path,
		file: file,
		holder: Holder{
			RunID:    runID,
			PID:      os.Getpid(),
			Acquired: codec.UTC(now),
		},
	}
	if err := lock.writeHolder(); err != nil {
		lock.Release()
		return nil, err
	}
	return lock, nil
}

// Acquire takes the lock at path, retrying on the clock until timeout
// elapses. A timeout of zero or less makes a single attempt.
func Acquire(ctx context.Context, clk clock.Clock, path, runID string, timeout time.Duration) (*Lock, error) {
	deadline := clk.Now().Add(timeout)
	for {
		lock, err := TryAcquire(path, runID, clk.Now())
		if err == nil || !errors.Is(err, ErrLocked) {
			return lock, err
		}
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for run lock: %w", ctx.Err())
		case <-clk.After(min(pollInterval, remaining)):
		}
	}
}

func (l *Lock) writeHolder() error {
	data, err := codec.Marshal(l.holder)
	if err != nil {
		return err
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("writing lock holder: %w", err)
	}
	return nil
}

// Release clears the holder metadata and drops the lock. Safe to call
// on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Clearing first keeps a crashed reader from seeing our holder after
	// someone else acquires. The truncate error is not actionable.
	l.file.Truncate(0)
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, unlockErr)
	}
	return closeErr
}

// ReadHolder reads the holder metadata from the lock file at path. It
// returns an error when the file is empty (no current holder).
func ReadHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	if len(data) == 0 {
		return Holder{}, fmt.Errorf("lock file %s has no holder", path)
	}
	var holder Holder
	if err := codec.Unmarshal(data, &holder); err != nil {
		return Holder{}, fmt.Errorf("lock file %s: %w", path, err)
	}
	return holder, nil
}
