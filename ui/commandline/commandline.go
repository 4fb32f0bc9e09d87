// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools to report pruning on the command line:
// a progress bar for the traversal and lipgloss tables with the results.
package commandline

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/prunekit/prunekit/pkg/prune"
	"github.com/prunekit/prunekit/pkg/prune/report"
)

// FormatDuration pretty prints duration with at most 2 decimal places.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// SummaryTable returns a table with the totals of the pruning result.
func SummaryTable(name string, result *prune.Result, elapsed time.Duration) *Table {
	var numPruned, numRejected int
	for _, record := range result.Records {
		if record.Pruned() {
			numPruned++
		}
		if record.Rejected != nil {
			numRejected++
		}
	}
	table := NewTable(lipgloss.Right, lipgloss.Left)
	table.AddRow(false, "model", name)
	if result.Path != "" {
		table.AddRow(false, "checkpoint", result.Path)
	}
	table.AddRow(false, "# convolutions", fmt.Sprintf("%d visited, %d pruned", len(result.Records), numPruned))
	if numRejected > 0 {
		table.AddRow(true, "# rejected", humanize.Comma(int64(numRejected)))
	}
	table.AddRow(false, "# parameters", fmt.Sprintf("%s -> %s (%.1f%%)",
		humanize.Comma(int64(result.ParamsBefore)), humanize.Comma(int64(result.ParamsAfter)),
		percent(result.ParamsAfter, result.ParamsBefore)))
	if result.Network != nil {
		table.AddRow(false, "# bytes", humanize.Bytes(uint64(result.Network.Memory())))
	}
	if elapsed > 0 {
		table.AddRow(false, "elapsed", FormatDuration(elapsed))
	}
	return table
}

// LayersTable returns a table with one row per convolution visited. Rejected plans are highlighted.
func LayersTable(result *prune.Result) *Table {
	table := NewTable(lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	table.Headers("Layer", "Block", "Amount", "Channels", "Removed", "Status")
	for _, row := range report.Rows(result) {
		block := "-"
		if row.Block >= 0 {
			block = fmt.Sprintf("%d (#%d)", row.Block, row.ScheduleIndex)
		}
		status := row.Status
		if row.Reason != "" {
			status += ": " + row.Reason
		}
		table.AddRow(row.Status == report.StatusRejected,
			row.Layer, block, fmt.Sprintf("%g", row.Amount),
			fmt.Sprintf("%d -> %d", row.Before, row.After), humanize.Comma(int64(row.Removed)), status)
	}
	return table
}

// PrintResult prints the summary and, if withLayers is set, the per-layer tables.
func PrintResult(name string, result *prune.Result, elapsed time.Duration, withLayers bool) {
	fmt.Println(TitleStyle.Render("Summary"))
	fmt.Println(SummaryTable(name, result, elapsed).Render())
	if withLayers {
		fmt.Println(TitleStyle.Render("Convolutions"))
		fmt.Println(LayersTable(result).Render())
	}
}

func percent(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return 100 * float64(a) / float64(b)
}
