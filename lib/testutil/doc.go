// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for statfeed packages.
//
// [RequireReceive] wraps the timeout safety valve (select with a
// time.After fallback) so tests driven by a fake clock still fail
// instead of hanging when a goroutine never reports back. It is the
// only place tests wait on the wall clock.
//
// [GitRemote] and [Git] build throwaway repositories for publish
// tests.
package testutil
