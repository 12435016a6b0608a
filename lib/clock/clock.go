// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source. The scheduler and
// the retry loop wait on a Clock instead of the time package so tests
// can drive them with Fake and never sleep.
//
//	scheduler := scheduler.New(scheduler.Config{Clock: clock.Real(), ...})
//
// In tests:
//
//	fake := clock.Fake(time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC))
//	// ... start the goroutine that waits ...
//	fake.WaitForTimers(1)
//	fake.Advance(time.Minute)
package clock

import "time"

// Clock abstracts the time operations statfeed needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
