// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/statfeed/statfeed/lib/runstore"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	plainStyle  = lipgloss.NewStyle()
	faintStyle  = lipgloss.NewStyle().Faint(true)

	statusStyles = map[string]lipgloss.Style{
		runstore.StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		runstore.StatusSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		runstore.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		runstore.StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
)

// cell is one table value and the style it is rendered with.
type cell struct {
	text  string
	style lipgloss.Style
}

func plain(text string) cell { return cell{text: text, style: plainStyle} }

func statusCell(status string) cell {
	style, ok := statusStyles[status]
	if !ok {
		style = plainStyle
	}
	return cell{text: status, style: style}
}

// writeTable writes rows under headers in aligned columns. Widths are
// measured on the unstyled text, so colored output lines up the same
// as plain output. The last column is not padded.
func writeTable(w io.Writer, headers []string, rows [][]cell) error {
	widths := make([]int, len(headers))
	for column, header := range headers {
		widths[column] = lipgloss.Width(header)
	}
	for _, row := range rows {
		for column, value := range row {
			widths[column] = max(widths[column], lipgloss.Width(value.text))
		}
	}

	var builder strings.Builder
	writeRow := func(row []cell) {
		for column, value := range row {
			builder.WriteString(value.style.Render(value.text))
			if column < len(row)-1 {
				builder.WriteString(strings.Repeat(" ", widths[column]-lipgloss.Width(value.text)+2))
			}
		}
		builder.WriteByte('\n')
	}

	headerRow := make([]cell, len(headers))
	for column, header := range headers {
		headerRow[column] = cell{text: header, style: headerStyle}
	}
	writeRow(headerRow)
	for _, row := range rows {
		writeRow(row)
	}
	_, err := io.WriteString(w, builder.String())
	return err
}
