// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package plots draws charts of pruning results with gonum.org/v1/plot.
package plots

import (
	"image/color"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/prune"
	"github.com/prunekit/prunekit/pkg/support/fsutil"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Bar is the number of output channels of one convolution before and after pruning.
type Bar struct {
	Layer         string
	Before, After int
}

// BarsFromResult returns one Bar per convolution visited by the traversal.
// If onlyChanged is set, convolutions that kept all their channels are left out.
func BarsFromResult(result *prune.Result, onlyChanged bool) []Bar {
	bars := make([]Bar, 0, len(result.Records))
	for _, record := range result.Records {
		if onlyChanged && record.Before == record.After {
			continue
		}
		bars = append(bars, Bar{Layer: record.Layer, Before: record.Before, After: record.After})
	}
	return bars
}

var (
	beforeColor = color.RGBA{R: 0x70, G: 0x50, B: 0x90, A: 0xff}
	afterColor  = color.RGBA{R: 0xe0, G: 0x90, B: 0x30, A: 0xff}
)

// ChannelsChart returns a grouped bar chart of the channels before and after pruning per convolution.
func ChannelsChart(title string, bars []Bar) (*plot.Plot, error) {
	if len(bars) == 0 {
		return nil, errors.New("no convolutions to plot")
	}
	before, after := make(plotter.Values, len(bars)), make(plotter.Values, len(bars))
	names := make([]string, len(bars))
	for ii, bar := range bars {
		before[ii], after[ii] = float64(bar.Before), float64(bar.After)
		names[ii] = bar.Layer
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "output channels"
	p.Y.Min = 0
	p.X.Tick.Label.Rotation = 1.2
	p.X.Tick.Label.XAlign = -1

	width := vg.Points(6)
	beforeBars, err := plotter.NewBarChart(before, width)
	if err != nil {
		return nil, errors.Wrap(err, "creating bar chart")
	}
	beforeBars.Color = beforeColor
	beforeBars.LineStyle.Width = 0
	beforeBars.Offset = -width / 2

	afterBars, err := plotter.NewBarChart(after, width)
	if err != nil {
		return nil, errors.Wrap(err, "creating bar chart")
	}
	afterBars.Color = afterColor
	afterBars.LineStyle.Width = 0
	afterBars.Offset = width / 2

	p.Add(beforeBars, afterBars)
	p.Legend.Add("before", beforeBars)
	p.Legend.Add("after", afterBars)
	p.Legend.Top = true
	p.NominalX(names...)
	return p, nil
}

// SaveChannelsChart draws the chart and saves it to path. The format is chosen by the file
// extension: ".png", ".svg", ".pdf", ".jpg", ...
func SaveChannelsChart(path, title string, bars []Bar) error {
	if filepath.Ext(path) == "" {
		return errors.Errorf("chart path %q has no extension to select the image format", path)
	}
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return err
	}
	p, err := ChannelsChart(title, bars)
	if err != nil {
		return err
	}
	// Wide enough for the rotated layer names.
	width := vg.Length(max(8, len(bars)/3)) * vg.Inch
	if err = p.Save(width, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving chart to %q", path)
	}
	klog.V(1).Infof("saved %s chart with %d convolutions to %s", strings.TrimPrefix(filepath.Ext(path), "."), len(bars), path)
	return nil
}
