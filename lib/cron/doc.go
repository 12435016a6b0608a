// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses 5-field cron expressions and computes the next
// fire time of a schedule.
//
//	┌───────────── minute (0-59)
//	│ ┌───────────── hour (0-23)
//	│ │ ┌───────────── day of month (1-31)
//	│ │ │ ┌───────────── month (1-12)
//	│ │ │ │ ┌───────────── day of week (0-6, 0=Sunday)
//	│ │ │ │ │
//	0 0 1 * *
//
// Fields accept single values, ranges (1-5), lists (1,15), steps
// (*/15, 1-30/5) and the wildcard. The descriptors @yearly, @annually,
// @monthly, @weekly, @daily, @midnight and @hourly expand to their
// usual 5-field forms.
//
// When both the day-of-month and day-of-week fields are restricted, a
// day matches if either field matches, as in Vixie cron. "0 0 1 * 1"
// fires on the first of the month and on every Monday.
//
// All computation is in UTC.
package cron
