// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/prune"
	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50µs", FormatDuration(1500*time.Nanosecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "2.50s", FormatDuration(2500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(2*time.Minute+5*time.Second+300*time.Millisecond))
}

func testResult() *prune.Result {
	return &prune.Result{
		ParamsBefore: 12_000,
		ParamsAfter:  9_000,
		Path:         "/tmp/model_pruned.ckpt",
		Records: []prune.Record{
			{Layer: "conv1", Block: -1, ScheduleIndex: -1, Before: 64, After: 64, Skipped: "resnet stem"},
			{Layer: "layer1.0/conv1", Block: 0, ScheduleIndex: 0, Amount: 0.1, Before: 64, After: 57,
				Removed: []int{0, 1, 2, 3, 4, 5, 6}},
			{Layer: "layer1.0/conv2", Block: 0, ScheduleIndex: 0, Amount: 0.1, Before: 64, After: 64,
				Rejected: errors.New("opaque layer")},
		},
	}
}

func TestSummaryTable(t *testing.T) {
	table := SummaryTable("resnet18", testResult(), 1500*time.Millisecond)
	rendered := table.Render()
	assert.Contains(t, rendered, "resnet18")
	assert.Contains(t, rendered, "12,000 -> 9,000 (75.0%)")
	assert.Contains(t, rendered, "3 visited, 1 pruned")
	assert.Contains(t, rendered, "# rejected")
	assert.Contains(t, rendered, "1.50s")
}

func TestLayersTable(t *testing.T) {
	table := LayersTable(testResult())
	assert.Equal(t, 3, table.NumRows())
	assert.True(t, table.highlighted[2])
	assert.False(t, table.highlighted[1])
	rendered := table.Render()
	assert.Contains(t, rendered, "layer1.0/conv1")
	assert.Contains(t, rendered, "64 -> 57")
	assert.Contains(t, rendered, "skipped: resnet stem")
}
