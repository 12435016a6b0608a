// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/snapshot"
)

func snapshotsCommand(std streams) *cli.Command {
	return &cli.Command{
		Name:    "snapshots",
		Summary: "Inspect and restore data snapshots",
		Description: `Every published run records the data directory in the snapshot
store. Snapshots are identified by ID; "latest" names the newest one.`,
		Subcommands: []*cli.Command{
			snapshotsListCommand(std),
			snapshotsRestoreCommand(std),
			snapshotsCatCommand(std),
		},
	}
}

// snapshotSummary is the JSON form of a manifest.
type snapshotSummary struct {
	ID      string    `json:"id"`
	RunID   string    `json:"run_id"`
	Created time.Time `json:"created"`
	Digest  string    `json:"digest"`
	Files   int       `json:"files"`
	Size    int64     `json:"size"`
}

type snapshotsListParams struct {
	configParams
	cli.JSONOutput
}

func snapshotsListCommand(std streams) *cli.Command {
	var params snapshotsListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List snapshots, oldest first",
		Usage:   "statfeed snapshots list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			store, err := openSnapshotStore(&params.configParams)
			if err != nil {
				return err
			}
			manifests, err := store.List()
			if err != nil {
				return err
			}

			summaries := make([]snapshotSummary, 0, len(manifests))
			for _, manifest := range manifests {
				summaries = append(summaries, snapshotSummary{
					ID:      manifest.ID,
					RunID:   manifest.RunID,
					Created: manifest.Created,
					Digest:  manifest.Digest,
					Files:   len(manifest.Files),
					Size:    manifest.TotalSize(),
				})
			}
			if done, err := params.EmitJSON(std.stdout, summaries); done {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(std.stdout, "no snapshots")
				return nil
			}

			rows := make([][]cell, 0, len(summaries))
			for _, summary := range summaries {
				rows = append(rows, []cell{
					plain(summary.ID),
					plain(summary.RunID),
					plain(humanize.Time(summary.Created)),
					plain(strconv.Itoa(summary.Files)),
					plain(humanize.Bytes(uint64(summary.Size))),
					cell{text: shortDigest(summary.Digest), style: faintStyle},
				})
			}
			return writeTable(std.stdout, []string{"SNAPSHOT", "RUN", "CREATED", "FILES", "SIZE", "DIGEST"}, rows)
		},
	}
}

func snapshotsRestoreCommand(std streams) *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "restore",
		Summary: "Write a snapshot's files into a directory",
		Description: `Write every file of the snapshot under DIR at its recorded path.
Existing files are overwritten; other files are left alone.`,
		Usage: "statfeed snapshots restore [flags] <ID|latest> <DIR>",
		Examples: []cli.Example{
			{Description: "Restore the newest data into a checkout", Command: "statfeed snapshots restore latest ./repo"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("restore", &params)
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: statfeed snapshots restore <ID|latest> <DIR>")
			}
			store, err := openSnapshotStore(&params)
			if err != nil {
				return err
			}
			manifest, err := findSnapshot(store, args[0])
			if err != nil {
				return err
			}
			if err := store.Restore(manifest, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(std.stdout, "restored %d file(s) from snapshot %s into %s\n", len(manifest.Files), manifest.ID, args[1])
			return nil
		},
	}
}

func snapshotsCatCommand(std streams) *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "cat",
		Summary: "Print one file from a snapshot",
		Usage:   "statfeed snapshots cat [flags] <ID|latest> <PATH>",
		Examples: []cli.Example{
			{Description: "Print the published dataset", Command: "statfeed snapshots cat latest data/bls_cleaned_data.csv"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cat", &params)
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: statfeed snapshots cat <ID|latest> <PATH>")
			}
			store, err := openSnapshotStore(&params)
			if err != nil {
				return err
			}
			manifest, err := findSnapshot(store, args[0])
			if err != nil {
				return err
			}
			content, err := store.ReadFile(manifest, args[1])
			if err != nil {
				return err
			}
			_, err = std.stdout.Write(content)
			return err
		},
	}
}

func openSnapshotStore(params *configParams) (*snapshot.Store, error) {
	cfg, err := params.load(false)
	if err != nil {
		return nil, err
	}
	return openSnapshots(cfg)
}

func findSnapshot(store *snapshot.Store, id string) (*snapshot.Manifest, error) {
	if id == "latest" {
		manifest, err := store.Latest()
		if err != nil {
			return nil, fmt.Errorf("latest snapshot: %w", err)
		}
		return manifest, nil
	}
	return store.Get(id)
}

func shortDigest(digest string) string {
	if len(digest) > 16 {
		return digest[:16]
	}
	return digest
}
