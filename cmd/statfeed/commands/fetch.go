// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/bls"
	"github.com/statfeed/statfeed/lib/dataset"
	"github.com/statfeed/statfeed/workflows"
)

type fetchParams struct {
	configParams
	cli.JSONOutput
	Series     string `flag:"series" desc:"comma-separated series IDs (default: the SERIES variable)"`
	Output     string `flag:"output,o" default:"data/bls_cleaned_data.csv" desc:"dataset file to update"`
	StartYear  int    `flag:"start-year" desc:"first year fetched when the dataset is empty (default 2022)"`
	Raw        bool   `flag:"raw" desc:"write every data point in the raw format instead of merging observations"`
	EndYear    int    `flag:"end-year" desc:"last year fetched with --raw (default: current year)"`
	OnConflict string `flag:"on-conflict" default:"keep" desc:"keep stored values or replace them with revised ones (keep, replace)"`
}

func fetchCommand(std streams, now func() time.Time) *cli.Command {
	var params fetchParams
	return &cli.Command{
		Name:    "fetch",
		Summary: "Fetch BLS series into a local dataset",
		Description: `Fetch monthly observations from the BLS time series API and merge
them into the dataset at --output, outside any pipeline and without
publishing. An existing dataset is extended from the year of its
latest observation. Months already stored keep their value unless
--on-conflict replace is given.

With --raw, the requested year range is written in the raw format
(year, period, periodName, value, footnotes, seriesID), replacing the
file.

The API key is read from the variable named by bls.key_env.`,
		Usage: "statfeed fetch [flags]",
		Examples: []cli.Example{
			{Description: "Update the default dataset", Command: "statfeed fetch"},
			{Description: "Fetch one series from 2015", Command: "statfeed fetch --series LNS14000000 --start-year 2015 -o unemployment.csv"},
			{Description: "Collect raw data points", Command: "statfeed fetch --raw -o data/raw_bls_data.csv"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("fetch", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := params.load(false)
			if err != nil {
				return err
			}
			seriesList := params.Series
			if seriesList == "" {
				seriesList = cfg.Workflow.Variables["SERIES"]
			}
			if seriesList == "" {
				seriesList, err = defaultSeries()
				if err != nil {
					return err
				}
			}
			seriesIDs := bls.ParseSeriesList(seriesList)
			if len(seriesIDs) == 0 {
				return fmt.Errorf("no series to fetch")
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			client, err := newBLSClient(cfg, logger.With("command", "fetch"))
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			if params.Raw {
				rows, err := bls.Collect(ctx, client, bls.CollectOptions{
					SeriesIDs: seriesIDs,
					Output:    params.Output,
					StartYear: params.StartYear,
					EndYear:   params.EndYear,
					Now:       now(),
				})
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(std.stdout, map[string]any{"output": params.Output, "rows": rows}); done {
					return err
				}
				fmt.Fprintf(std.stdout, "wrote %d raw row(s) for %d series to %s\n", rows, len(seriesIDs), params.Output)
				return nil
			}

			result, err := bls.Update(ctx, client, bls.UpdateOptions{
				SeriesIDs:  seriesIDs,
				Output:     params.Output,
				StartYear:  params.StartYear,
				Now:        now(),
				OnConflict: dataset.ConflictPolicy(params.OnConflict),
			})
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(std.stdout, result); done {
				return err
			}
			fmt.Fprintf(std.stdout, "fetched %d-%d: %d observation(s), %d added, %d revised, %d kept, %d total in %s\n",
				result.StartYear, result.EndYear, result.Fetched, result.Added, result.Revised, result.Conflicts, result.Total, params.Output)
			return nil
		},
	}
}

// defaultSeries returns the SERIES default of the built-in workflow.
func defaultSeries() (string, error) {
	w, err := builtinWorkflow(workflows.DefaultName)
	if err != nil {
		return "", err
	}
	variable, ok := w.Variables["SERIES"]
	if !ok || variable.Default == "" {
		return "", fmt.Errorf("built-in workflow %s declares no SERIES default", w.Name)
	}
	return variable.Default, nil
}
