// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow parses, validates and expands statfeed workflow
// definitions. A workflow describes one fixed run shape: an optional
// runtime check, an optional dependency install, one or more data
// steps, and a publish of the data paths back to the repository.
//
// Workflows are authored as JSONC files (JSON with // and /* */
// comments and trailing commas):
//
//	{
//	  "name": "bls-combined",
//	  "schedule": "0 0 1 * *",
//	  "runtime": {"interpreter": "python3", "version": "3.9"},
//	  "install": {"manifest": "requirements.txt"},
//	  "steps": [
//	    {"name": "fetch", "run": "${INTERPRETER} fetch_bls_data.py", "timeout": "10m"},
//	  ],
//	  "publish": {"paths": ["data/bls_cleaned_data.csv"]},
//	}
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes to *Workflow
//  2. Validate: structural checks, reported all at once
//  3. ResolveVariables: declared defaults < overrides < environment
//  4. ExpandStep: substitute ${NAME} references before execution
package workflow
