// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package report converts the records of a pruning traversal into a table (a gota DataFrame),
// that can be saved as CSV or filtered.
package report

import (
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/prune"
)

// Column names of the report DataFrame.
const (
	LayerCol         = "layer"
	BlockCol         = "block"
	ScheduleIndexCol = "schedule_index"
	AmountCol        = "amount"
	BeforeCol        = "channels_before"
	AfterCol         = "channels_after"
	RemovedCol       = "removed"
	StatusCol        = "status"
)

// Status values of a row.
const (
	StatusPruned    = "pruned"
	StatusUnchanged = "unchanged"
	StatusSkipped   = "skipped"
	StatusRejected  = "rejected"
)

// Row of the report: one convolution visited by the traversal.
type Row struct {
	Layer                string
	Block, ScheduleIndex int
	Amount               float64
	Before, After        int
	Removed              int

	// Status is one of StatusPruned, StatusUnchanged, StatusSkipped or StatusRejected.
	Status string

	// Reason is the skip reason or the rejection error.
	Reason string
}

// RowOf converts a record.
func RowOf(record prune.Record) Row {
	row := Row{
		Layer:         record.Layer,
		Block:         record.Block,
		ScheduleIndex: record.ScheduleIndex,
		Amount:        record.Amount,
		Before:        record.Before,
		After:         record.After,
		Removed:       len(record.Removed),
		Status:        StatusUnchanged,
	}
	switch {
	case record.Rejected != nil:
		row.Status, row.Reason, row.Removed = StatusRejected, record.Rejected.Error(), 0
	case record.Skipped != "":
		row.Status, row.Reason = StatusSkipped, record.Skipped
	case record.Pruned():
		row.Status = StatusPruned
	}
	return row
}

// Rows returns one row per record of the result.
func Rows(result *prune.Result) []Row {
	rows := make([]Row, len(result.Records))
	for ii, record := range result.Records {
		rows[ii] = RowOf(record)
	}
	return rows
}

// DataFrame returns the rows of the result as a DataFrame with the columns LayerCol, BlockCol, ...
func DataFrame(result *prune.Result) dataframe.DataFrame {
	rows := Rows(result)
	n := len(rows)
	var (
		layers, statuses                 = make([]string, n), make([]string, n)
		blocks, indices, befores, afters = make([]int, n), make([]int, n), make([]int, n), make([]int, n)
		removed                          = make([]int, n)
		amounts                          = make([]float64, n)
	)
	for ii, row := range rows {
		layers[ii], statuses[ii] = row.Layer, row.Status
		blocks[ii], indices[ii] = row.Block, row.ScheduleIndex
		befores[ii], afters[ii], removed[ii] = row.Before, row.After, row.Removed
		amounts[ii] = row.Amount
	}
	return dataframe.New(
		series.New(layers, series.String, LayerCol),
		series.New(blocks, series.Int, BlockCol),
		series.New(indices, series.Int, ScheduleIndexCol),
		series.New(amounts, series.Float, AmountCol),
		series.New(befores, series.Int, BeforeCol),
		series.New(afters, series.Int, AfterCol),
		series.New(removed, series.Int, RemovedCol),
		series.New(statuses, series.String, StatusCol),
	)
}

// WriteCSV writes the DataFrame of the result, with a header line.
func WriteCSV(w io.Writer, result *prune.Result) error {
	df := DataFrame(result)
	if df.Err != nil {
		return errors.Wrap(df.Err, "building pruning report")
	}
	return errors.Wrap(df.WriteCSV(w), "writing pruning report")
}

// WithStatus returns the rows of df with the given status.
func WithStatus(df dataframe.DataFrame, status string) dataframe.DataFrame {
	return df.Filter(dataframe.F{Colname: StatusCol, Comparator: series.Eq, Comparando: status})
}

// ChannelTotals returns the sum of channels before and after pruning over the rows of df.
func ChannelTotals(df dataframe.DataFrame) (before, after int) {
	if df.Nrow() == 0 {
		return 0, 0
	}
	sum := func(col string) (total int) {
		for _, v := range df.Col(col).Float() {
			total += int(v)
		}
		return
	}
	return sum(BeforeCol), sum(AfterCol)
}
