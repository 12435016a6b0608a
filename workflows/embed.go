// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflows embeds the example workflow definitions shipped
// with statfeed. The combined BLS workflow doubles as the built-in
// default when no workflow file is configured.
package workflows

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.jsonc
var files embed.FS

// DefaultName is the workflow used when none is configured.
const DefaultName = "bls-combined"

// Get returns the JSONC source of the named example.
func Get(name string) ([]byte, error) {
	data, err := files.ReadFile(name + ".jsonc")
	if err != nil {
		return nil, fmt.Errorf("no built-in workflow %q (have: %s)", name, strings.Join(Names(), ", "))
	}
	return data, nil
}

// Names lists the embedded workflows.
func Names() []string {
	entries, _ := fs.ReadDir(files, ".")
	var names []string
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".jsonc"))
	}
	sort.Strings(names)
	return names
}
