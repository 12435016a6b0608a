// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the statfeed binary.
//
// Release builds inject [GitCommit], [GitDirty], [BuildTime] and
// [Version] with -ldflags -X:
//
//	go build -ldflags "-X github.com/statfeed/statfeed/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/statfeed
//
// When they are not injected, the VCS stamp the Go toolchain embeds in
// the binary (runtime/debug.ReadBuildInfo) fills in the commit, dirty
// flag and time.
package version
