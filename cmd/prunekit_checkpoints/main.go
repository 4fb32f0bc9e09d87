// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// prunekit_checkpoints inspects one or more prunekit checkpoints, side by side:
//
//	prunekit_checkpoints -layers ~/models/resnet18.ckpt ~/models/resnet18_pruned.ckpt
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/janpfeifer/must"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/prunekit/prunekit/pkg/ml/network/checkpoints"
	"github.com/prunekit/prunekit/pkg/support/fsutil"
	"github.com/prunekit/prunekit/ui/commandline"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", true, "Display a summary of the checkpoints: layers, parameters and sizes.")
	flagLayers  = flag.Bool("layers", false, "Display the channels of every convolution. "+
		"Rows where the checkpoints differ are highlighted.")
	flagTensors = flag.Bool("tensors", false, "List the tensors of each checkpoint.")
)

// loaded checkpoint.
type loaded struct {
	name string
	net  *network.Network
	info *checkpoints.Info
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <checkpoint> [<checkpoint>...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		klog.Errorf("Missing checkpoint files to read from. See 'prunekit_checkpoints -help'")
		os.Exit(1)
	}
	names := columnNames(paths)
	ckpts := make([]loaded, len(paths))
	for ii, path := range paths {
		path = must.M1(fsutil.ReplaceTildeInDir(path))
		net, info, err := checkpoints.LoadWithInfo(path)
		if err != nil {
			klog.Errorf("Failed to load %q: %+v", path, err)
			os.Exit(1)
		}
		ckpts[ii] = loaded{name: names[ii], net: net, info: info}
	}

	if *flagSummary {
		fmt.Println(commandline.TitleStyle.Render("Summary"))
		fmt.Println(summaryTable(ckpts).Render())
	}
	if *flagLayers {
		fmt.Println(commandline.TitleStyle.Render("Convolutions"))
		fmt.Println(layersTable(ckpts).Render())
	}
	if *flagTensors {
		for _, ckpt := range ckpts {
			fmt.Println(commandline.TitleStyle.Render("Tensors of " + ckpt.name))
			fmt.Println(tensorsTable(ckpt.net).Render())
		}
	}
}
