// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry runs an operation a bounded number of times with
// exponential backoff between attempts. Delays are taken on an
// injected clock.Clock so tests advance a fake clock instead of
// sleeping.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statfeed/statfeed/lib/clock"
)

// Policy bounds an operation's attempts. The zero value makes a single
// attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the
	// first. Values below 1 mean 1.
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// Multiplier scales the delay after each further failure. Values
	// below 1 mean 2.
	Multiplier float64

	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay time.Duration
}

// Attempts returns the effective number of attempts.
func (p Policy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// Delay returns the wait before attempt number attempt+1, where
// attempt counts from 1.
func (p Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := float64(p.InitialDelay)
	for range attempt - 1 {
		delay *= multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Permanent marks an error as not worth retrying. Do returns it
// immediately, unwrapped when it is not itself wrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is or wraps a Permanent error.
func IsPermanent(err error) bool {
	var permanent *permanentError
	return errors.As(err, &permanent)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Do calls operation until it succeeds, returns a Permanent error, the
// context ends, or the policy's attempts are used up. The attempt
// number (from 1) is passed to operation. onRetry, if non-nil, is
// called before each wait with the failed attempt's error and the
// delay.
func Do(ctx context.Context, clk clock.Clock, policy Policy, operation func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error, delay time.Duration)) error {
	attempts := policy.Attempts()
	var err error
	for attempt := 1; ; attempt++ {
		err = operation(ctx, attempt)
		if err == nil {
			return nil
		}
		if permanent, ok := err.(*permanentError); ok { //nolint:errorlint // only the outermost marker is stripped
			return permanent.err
		}
		if IsPermanent(err) {
			return err
		}
		if attempt >= attempts {
			break
		}
		if ctx.Err() != nil {
			return err
		}

		delay := policy.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (retry abandoned: %w)", err, ctx.Err())
		case <-clk.After(delay):
		}
	}
	if attempts > 1 {
		return fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return err
}
