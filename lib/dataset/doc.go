// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset reads and writes the CSV files statfeed publishes.
//
// The observation format has the header seriesID,date,value with one
// row per series and month. Files written by this package are sorted
// by series then date and hold at most one row per (seriesID, date),
// so rewriting an unchanged dataset produces identical bytes and the
// publish stage sees no change.
//
// The raw format mirrors the BLS API response rows
// (year,period,periodName,value,footnotes,seriesID) and is converted
// to observations by [Clean].
package dataset
