// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/dataset"
)

type summaryParams struct {
	cli.JSONOutput
	Input  string `flag:"input,i" default:"data/bls_cleaned_data.csv" desc:"observation file to read"`
	Series string `flag:"series" desc:"comma-separated series IDs or names (default: every series in the file)"`
	From   string `flag:"from" desc:"first month included (YYYY-MM)"`
	To     string `flag:"to" desc:"last month included (YYYY-MM)"`
	Rows   bool   `flag:"rows" desc:"list the selected observations instead of summarizing them"`
}

// observationRow is the JSON form of one observation under --rows.
type observationRow struct {
	SeriesID string `json:"series_id"`
	Name     string `json:"name,omitempty"`
	Date     string `json:"date"`
	Value    string `json:"value"`
}

func summaryCommand(std streams) *cli.Command {
	var params summaryParams
	return &cli.Command{
		Name:    "summary",
		Summary: "Summarize a published dataset",
		Description: `Read an observation file and print, per series, the covered range,
the latest value, the change over the range and the minimum and
maximum. --series accepts IDs or the readable names of known series
(for example "Unemployment Rates"). --from and --to bound the range
by month, inclusive.

With --rows, the selected observations are listed instead.`,
		Usage: "statfeed summary [flags]",
		Examples: []cli.Example{
			{Description: "Summarize the default dataset", Command: "statfeed summary"},
			{Description: "Unemployment since 2023", Command: "statfeed summary --series LNS14000000 --from 2023-01"},
			{Description: "List one series by name", Command: `statfeed summary --series "Total Non-Farm Workers" --rows`},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("summary", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			filter, err := params.filter()
			if err != nil {
				return err
			}
			if _, err := os.Stat(params.Input); err != nil {
				return fmt.Errorf("reading dataset: %w", err)
			}
			observations, err := dataset.LoadObservations(params.Input)
			if err != nil {
				return err
			}
			selected := filter.Apply(observations)

			if params.Rows {
				return writeObservationRows(std, &params, selected)
			}
			summaries := dataset.Summarize(selected)
			if done, err := params.EmitJSON(std.stdout, summaries); done {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(std.stdout, "no observations match")
				return nil
			}
			rows := make([][]cell, 0, len(summaries))
			for _, summary := range summaries {
				rows = append(rows, []cell{
					plain(summary.SeriesID),
					plain(orDash(summary.Name)),
					plain(summary.First.Format("2006-01")),
					plain(summary.Latest.Format("2006-01")),
					plain(formatNumber(summary.LatestValue)),
					plain(formatChange(summary.Change)),
					plain(formatPercent(summary.ChangePercent)),
					plain(formatNumber(summary.Min)),
					plain(formatNumber(summary.Max)),
				})
			}
			return writeTable(std.stdout,
				[]string{"SERIES", "NAME", "FROM", "TO", "LATEST", "CHANGE", "CHANGE %", "MIN", "MAX"}, rows)
		},
	}
}

func (p *summaryParams) filter() (dataset.Filter, error) {
	var filter dataset.Filter
	if p.Series != "" {
		filter.SeriesIDs = dataset.ResolveSeries(strings.Split(p.Series, ","))
		if len(filter.SeriesIDs) == 0 {
			return filter, fmt.Errorf("--series selects nothing")
		}
	}
	var err error
	if p.From != "" {
		if filter.From, err = dataset.ParseMonth(p.From, false); err != nil {
			return filter, fmt.Errorf("--from: %w", err)
		}
	}
	if p.To != "" {
		if filter.To, err = dataset.ParseMonth(p.To, true); err != nil {
			return filter, fmt.Errorf("--to: %w", err)
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, fmt.Errorf("--to %s is before --from %s", p.To, p.From)
	}
	return filter, nil
}

func writeObservationRows(std streams, params *summaryParams, observations []dataset.Observation) error {
	rows := make([]observationRow, 0, len(observations))
	for _, observation := range observations {
		rows = append(rows, observationRow{
			SeriesID: observation.SeriesID,
			Name:     dataset.SeriesName(observation.SeriesID),
			Date:     observation.Date.Format(dataset.DateLayout),
			Value:    observation.Value,
		})
	}
	if done, err := params.EmitJSON(std.stdout, rows); done {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(std.stdout, "no observations match")
		return nil
	}
	cells := make([][]cell, 0, len(rows))
	for _, row := range rows {
		cells = append(cells, []cell{plain(row.SeriesID), plain(orDash(row.Name)), plain(row.Date), plain(row.Value)})
	}
	return writeTable(std.stdout, []string{"SERIES", "NAME", "DATE", "VALUE"}, cells)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

// formatNumber rounds to two decimals and groups thousands.
func formatNumber(value float64) string {
	return humanize.Commaf(math.Round(value*100) / 100)
}

func formatChange(value float64) string {
	if value > 0 {
		return "+" + formatNumber(value)
	}
	return formatNumber(value)
}

func formatPercent(percent *float64) string {
	if percent == nil {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", *percent)
}
