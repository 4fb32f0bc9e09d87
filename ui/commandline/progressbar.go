// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/prunekit/prunekit/pkg/prune"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// progressBar holds a progressbar being displayed.
type progressBar struct {
	bar *progressbar.ProgressBar

	termenv       *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool

	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	// Only accessed by the traversal goroutine (in onRecord).
	numRemoved int
}

type progressBarUpdate struct {
	record     prune.Record
	numRemoved int
}

// statsRows is the number of rows of the stats table.
const statsRows = 4

// AttachProgressBar sets the OnRecord callback of config to display a progress bar over the
// total convolutions (see prune.CountRecords) visited by the traversal, along with a table with
// the last convolution pruned.
//
// It returns a function that must be called when the traversal returns, to flush the display.
func AttachProgressBar(config *prune.Config, total int) (done func()) {
	pBar := &progressBar{
		isFirstOutput: true,
		termenv:       termenv.NewOutput(os.Stdout),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		updates:       make(chan progressBarUpdate, 100), // Large buffer so the traversal is not blocked.
	}
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("convs"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(os.Stdout),
	)
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.asyncUpdatesDone.Add(1)
	go pBar.draw()
	config.OnRecord(pBar.onRecord)
	return pBar.onEnd
}

func (pBar *progressBar) onRecord(record prune.Record) {
	if record.Pruned() {
		pBar.numRemoved += len(record.Removed)
	}
	pBar.updates <- progressBarUpdate{record: record, numRemoved: pBar.numRemoved}
}

// draw asynchronously prints the updates: the traversal may be faster than the terminal.
func (pBar *progressBar) draw() {
	defer pBar.asyncUpdatesDone.Done()
	for update := range pBar.updates {
		// Exhaust the updates in the buffer:
		amount := 1
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount++
				update = newUpdate
			default:
				break exhaust
			}
		}

		record := update.record
		status := "pruned"
		switch {
		case record.Rejected != nil:
			status = "rejected"
		case record.Skipped != "":
			status = "skipped: " + record.Skipped
		case !record.Pruned():
			status = "unchanged"
		}
		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Layer", record.Layer)
		pBar.statsTable.Row("Amount", fmt.Sprintf("%g (%s)", record.Amount, status))
		pBar.statsTable.Row("Channels", fmt.Sprintf("%d -> %d", record.Before, record.After))
		pBar.statsTable.Row("Channels removed", humanize.Comma(int64(update.numRemoved)))

		// Clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(statsRows + 2 + 2)
		}
		pBar.isFirstOutput = false

		fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		fmt.Println()
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

func (pBar *progressBar) onEnd() {
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	fmt.Println()
}
