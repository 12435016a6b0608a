// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the statfeed
// binary.
//
// The central type is [Command]: a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory, and a Run
// function. Commands are assembled into a tree by the commands package
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and help output with examples.
//
// Flags are usually declared as tagged struct fields and bound with
// [FlagsFromParams]. An unknown subcommand or flag gets a "did you
// mean" suggestion when one is within edit distance 3.
package cli
