// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/prune"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult() *prune.Result {
	return &prune.Result{Records: []prune.Record{
		{Layer: "conv1", Block: -1, ScheduleIndex: -1, Before: 64, After: 64, Skipped: "resnet stem"},
		{Layer: "layer1.0/conv1", Block: 0, ScheduleIndex: 0, Amount: 0.1, Before: 64, After: 57,
			Removed: []int{1, 2, 3, 4, 5, 6, 7}},
		{Layer: "layer1.0/conv2", Block: 0, ScheduleIndex: 0, Amount: 0.1, Before: 64, After: 64,
			Removed: []int{0, 1}, Rejected: errors.New("opaque")},
		{Layer: "layer1.1/conv1", Block: 1, ScheduleIndex: 1, Amount: 0.01, Before: 64, After: 64},
	}}
}

func TestRows(t *testing.T) {
	rows := Rows(testResult())
	require.Len(t, rows, 4)
	assert.Equal(t, StatusSkipped, rows[0].Status)
	assert.Equal(t, "resnet stem", rows[0].Reason)
	assert.Equal(t, StatusPruned, rows[1].Status)
	assert.Equal(t, 7, rows[1].Removed)
	assert.Equal(t, StatusRejected, rows[2].Status)
	assert.Equal(t, 0, rows[2].Removed)
	assert.Equal(t, StatusUnchanged, rows[3].Status)
}

func TestDataFrame(t *testing.T) {
	df := DataFrame(testResult())
	require.NoError(t, df.Err)
	assert.Equal(t, 4, df.Nrow())
	assert.Equal(t, []string{LayerCol, BlockCol, ScheduleIndexCol, AmountCol, BeforeCol, AfterCol, RemovedCol, StatusCol},
		df.Names())

	pruned := WithStatus(df, StatusPruned)
	assert.Equal(t, 1, pruned.Nrow())
	assert.Equal(t, []string{"layer1.0/conv1"}, pruned.Col(LayerCol).Records())

	before, after := ChannelTotals(df)
	assert.Equal(t, 256, before)
	assert.Equal(t, 249, after)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testResult()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "layer,block,schedule_index,amount,channels_before,channels_after,removed,status", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "layer1.0/conv1,0,0,"))
	assert.True(t, strings.HasSuffix(lines[2], ",64,57,7,pruned"))
}
