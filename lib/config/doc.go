// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the statfeed YAML configuration.
//
// The file is named by the STATFEED_CONFIG environment variable (via
// [Load]) or a --config flag (via [LoadFile]). There is no search path
// and no per-field environment override: the file is the single source
// of truth, except that secrets (the push token, the BLS API key) are
// read from the environment variables the file names.
//
// Environment sections (development, staging, production) override
// base values when [Config].Environment matches. Production defaults to
// JSON logs.
//
// After loading, ${HOME}, ${STATFEED_ROOT} and ${VAR:-default} are
// expanded in path fields.
package config
