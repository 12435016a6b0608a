// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler dispatches pipeline runs on a cron schedule and on
// manual request. Runs execute one at a time on the goroutine calling
// [Scheduler.Run].
//
// Fire times missed while the process was down or busy are not
// replayed: after every run the next fire time is computed from the
// current time, so a long outage costs at most the runs it spanned and
// never produces a burst on restart.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/statfeed/statfeed/lib/clock"
	"github.com/statfeed/statfeed/lib/cron"
	"github.com/statfeed/statfeed/lib/runstore"
)

// RunFunc executes one run with trigger runstore.TriggerSchedule or
// runstore.TriggerManual. It reports its own failures; the scheduler
// keeps going regardless.
type RunFunc func(ctx context.Context, trigger string)

// Config configures a Scheduler.
type Config struct {
	Schedule cron.Schedule
	Run      RunFunc

	// Clock defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Scheduler owns the run loop.
type Scheduler struct {
	schedule cron.Schedule
	run      RunFunc
	clock    clock.Clock
	logger   *slog.Logger

	// manual holds at most one pending manual request.
	manual chan struct{}
}

// New returns a Scheduler for config.
func New(config Config) (*Scheduler, error) {
	if config.Run == nil {
		return nil, errors.New("scheduler: Run is required")
	}
	if config.Schedule.String() == "" {
		return nil, errors.New("scheduler: schedule is required")
	}
	scheduler := &Scheduler{
		schedule: config.Schedule,
		run:      config.Run,
		clock:    config.Clock,
		logger:   config.Logger,
		manual:   make(chan struct{}, 1),
	}
	if scheduler.clock == nil {
		scheduler.clock = clock.Real()
	}
	if scheduler.logger == nil {
		scheduler.logger = slog.New(slog.DiscardHandler)
	}
	return scheduler, nil
}

// Trigger requests a manual run. It never blocks. If a manual request
// is already pending the new one is merged into it and Trigger returns
// false.
func (s *Scheduler) Trigger() bool {
	select {
	case s.manual <- struct{}{}:
		return true
	default:
		s.logger.Info("manual run already pending, request coalesced")
		return false
	}
}

// Next returns the next scheduled fire time after now.
func (s *Scheduler) Next() (time.Time, error) {
	return s.schedule.Next(s.clock.Now())
}

// Run loops until ctx is cancelled, dispatching scheduled and manual
// runs serially. It returns nil on cancellation and an error only if
// the schedule never fires again.
func (s *Scheduler) Run(ctx context.Context) error {
	var (
		wake   <-chan time.Time
		wakeAt time.Time
	)
	for {
		now := s.clock.Now()
		next, err := s.schedule.Next(now)
		if err != nil {
			return err
		}
		if !next.Equal(wakeAt) {
			wake = s.clock.After(next.Sub(now))
			wakeAt = next
			s.logger.Info("next run scheduled", "at", next, "in", next.Sub(now).Round(time.Second))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			wakeAt = time.Time{}
			s.dispatch(ctx, runstore.TriggerSchedule)
		case <-s.manual:
			s.dispatch(ctx, runstore.TriggerManual)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, trigger string) {
	started := s.clock.Now()
	s.logger.Info("dispatching run", "trigger", trigger)
	s.run(ctx, trigger)
	s.logger.Debug("run returned", "trigger", trigger, "duration", s.clock.Now().Sub(started))
}
