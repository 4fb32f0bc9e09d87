// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/prunekit/prunekit/ui/commandline"
)

// summaryTable has one column per checkpoint.
func summaryTable(ckpts []loaded) *commandline.Table {
	table := commandline.NewTable(lipgloss.Right, lipgloss.Left)
	row := func(title string, fn func(ckpt loaded) string) []string {
		r := make([]string, 0, len(ckpts)+1)
		r = append(r, title)
		for _, ckpt := range ckpts {
			r = append(r, fn(ckpt))
		}
		return r
	}
	table.Headers(row("checkpoint", func(ckpt loaded) string { return ckpt.name })...)
	table.AddRow(false, row("model", func(ckpt loaded) string { return ckpt.net.Name })...)
	table.AddRow(false, row("run id", func(ckpt loaded) string { return ckpt.info.RunID })...)
	table.AddRow(false, row("saved at", func(ckpt loaded) string { return ckpt.info.SavedAt.Format(time.DateTime) })...)
	table.AddRow(false, row("input", func(ckpt loaded) string {
		return fmt.Sprintf("%d channels, %s", ckpt.net.InputChannels, ckpt.net.DType)
	})...)
	table.AddRow(false, row("# layers", func(ckpt loaded) string { return humanize.Comma(int64(len(ckpt.net.Nodes()))) })...)
	table.AddRow(false, row("# convolutions", func(ckpt loaded) string {
		return humanize.Comma(int64(len(ckpt.net.Convolutions())))
	})...)
	table.AddRow(false, row("# parameters", func(ckpt loaded) string { return humanize.Comma(int64(ckpt.net.NumParameters())) })...)
	table.AddRow(false, row("# bytes", func(ckpt loaded) string { return humanize.Bytes(uint64(ckpt.net.Memory())) })...)
	table.AddRow(false, row("file size", func(ckpt loaded) string {
		return fmt.Sprintf("%s (%s)", humanize.Bytes(uint64(ckpt.info.FileSize)), ckpt.info.BinFormat)
	})...)
	return table
}

// layersTable lists the channels "in -> out" of every convolution, in the order of the first checkpoint
// that has it.
func layersTable(ckpts []loaded) *commandline.Table {
	var paths []string
	channels := make(map[string][]string)
	for ii, ckpt := range ckpts {
		for _, conv := range ckpt.net.Convolutions() {
			values, found := channels[conv.Path]
			if !found {
				paths = append(paths, conv.Path)
				values = make([]string, len(ckpts))
				for jj := range values {
					values[jj] = "-"
				}
				channels[conv.Path] = values
			}
			values[ii] = fmt.Sprintf("%d -> %d", conv.Conv.InChannels, conv.Conv.OutChannels)
		}
	}

	table := commandline.NewTable(lipgloss.Left, lipgloss.Right)
	headers := []string{"convolution"}
	for _, ckpt := range ckpts {
		headers = append(headers, ckpt.name)
	}
	table.Headers(headers...)
	for _, path := range paths {
		values := channels[path]
		table.AddRow(!isAllEqual(values), append([]string{path}, values...)...)
	}
	return table
}

// tensorsTable lists every tensor of the network.
func tensorsTable(net *network.Network) *commandline.Table {
	table := commandline.NewTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Layer", "Param", "Shape", "Size", "Bytes")
	_ = net.Walk(func(path string, layer network.Layer) error {
		for _, param := range layer.Params() {
			t := *param.Value
			if t == nil {
				continue
			}
			table.AddRow(false, path, param.Name, t.Shape().String(),
				humanize.Comma(int64(t.Size())), humanize.Bytes(uint64(t.Memory())))
		}
		return nil
	})
	return table
}

func isAllEqual[E comparable](s []E) bool {
	for ii := 1; ii < len(s); ii++ {
		if s[ii] != s[0] {
			return false
		}
	}
	return true
}
