// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// prunekit prunes the channels of a convolutional network and saves the pruned checkpoint.
//
// Either load a checkpoint with -model or create a freshly initialized model with -create:
//
//	prunekit -create resnet18 -out ~/models/ -plot ~/models/resnet18.png
//	prunekit -model ~/models/naber.ckpt -arch tail -schedule 0.1,0.2,0.3 -report /tmp/naber.csv
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	_ "github.com/prunekit/prunekit/backends/cpu"
	"github.com/prunekit/prunekit/pkg/ml/models/cifarnet"
	"github.com/prunekit/prunekit/pkg/ml/models/resnet"
	"github.com/prunekit/prunekit/pkg/ml/models/unet"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/prunekit/prunekit/pkg/ml/network/checkpoints"
	"github.com/prunekit/prunekit/pkg/prune"
	"github.com/prunekit/prunekit/pkg/prune/report"
	"github.com/prunekit/prunekit/pkg/prune/strategy"
	"github.com/prunekit/prunekit/pkg/support/fsutil"
	"github.com/prunekit/prunekit/ui/commandline"
	"github.com/prunekit/prunekit/ui/plots"
	"k8s.io/klog/v2"
)

var (
	flagCreate = flag.String("create", "", "Create a freshly initialized model instead of loading one: "+
		"resnet18, resnet34, cifarnet or unet. It is saved to -out before pruning.")
	flagModel = flag.String("model", "", "Checkpoint of the model to prune.")
	flagName  = flag.String("name", "", "Name of the model, used for the output file name. "+
		"Defaults to the -create value or the -model file name.")
	flagOut       = flag.String("out", ".", "Output directory for the checkpoints.")
	flagSuffix    = flag.String("suffix", prune.DefaultSuffix, "Suffix appended to the name of the pruned checkpoint.")
	flagInputSize = flag.Int("input_size", prune.DefaultInputSize, "Height and width of the dummy input used to trace the model.")

	flagSchedule    = flag.String("schedule", prune.DefaultSchedule.String(), "Comma-separated amounts for the residual blocks.")
	flagAmount      = flag.Float64("amount", prune.DefaultAmount, "Amount for standalone convolutions.")
	flagArch        = flag.String("arch", "auto", "How standalone convolutions are pruned: auto, generic, resnet or tail.")
	flagProtectTail = flag.Int("protect_tail", prune.DefaultProtectTail, "Number of convolutions before the first "+
		"linear layer left intact with -arch=tail.")
	flagStrategy     = flag.String("strategy", "l1", "Channel ranking: l1 or l2.")
	flagSkipRejected = flag.Bool("skip_rejected", false, "Skip convolutions whose pruning plan is rejected, instead of failing.")

	flagBackend    = flag.String("backend", "", fmt.Sprintf("Backend configuration, see %s.", backends.PRUNEKIT_BACKEND))
	flagSeed       = flag.Uint64("seed", 42, "Seed used to initialize the weights with -create.")
	flagNumClasses = flag.Int("num_classes", 10, "Number of classes of the models created with -create.")
	flagChannels   = flag.Int("in_channels", 3, "Number of input channels of the U-Net created with -create=unet.")
	flagFilters    = flag.Int("base_filters", 64, "Number of filters of the first level of the U-Net created with -create=unet.")

	flagProgress = flag.Bool("progress", true, "Display a progress bar.")
	flagSummary  = flag.Bool("summary", true, "Display a summary of the pruning.")
	flagLayers   = flag.Bool("layers", false, "Display the channels of every convolution visited.")
	flagPlot     = flag.String("plot", "", "Save a chart of the channels before/after pruning. "+
		"The format is given by the extension (.png, .svg, .pdf).")
	flagReport = flag.String("report", "", "Save a CSV report with one row per convolution visited.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := run(); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run() error {
	backend, err := newBackend(*flagBackend)
	if err != nil {
		return err
	}
	klog.V(1).Infof("Backend: %s", backend.Description())
	outDir, err := fsutil.ReplaceTildeInDir(*flagOut)
	if err != nil {
		return err
	}
	net, name, err := loadOrCreate(outDir)
	if err != nil {
		return err
	}

	config, err := configure(backend)
	if err != nil {
		return err
	}
	done := func() {}
	if *flagProgress {
		done = commandline.AttachProgressBar(config, prune.CountRecords(net))
	}
	pruner, err := config.Done()
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := prune.Prune(backend, prune.Request{
		Name:      name,
		Model:     net,
		OutputDir: outDir,
		Suffix:    *flagSuffix,
		InputSize: *flagInputSize,
		Pruner:    pruner,
	})
	done()
	if err != nil {
		return err
	}
	if *flagSummary || *flagLayers {
		commandline.PrintResult(name, result, time.Since(start), *flagLayers)
	}
	if *flagReport != "" {
		if err = writeReport(*flagReport, result); err != nil {
			return err
		}
	}
	if *flagPlot != "" {
		title := fmt.Sprintf("%s: output channels per convolution", name)
		if err = plots.SaveChannelsChart(*flagPlot, title, plots.BarsFromResult(result, false)); err != nil {
			return err
		}
	}
	return nil
}

// newBackend converts the panic of an invalid configuration to an error.
func newBackend(config string) (backend backends.Backend, err error) {
	err = exceptions.TryCatch[error](func() {
		if config == "" {
			backend = backends.New()
		} else {
			backend = backends.NewWithConfig(config)
		}
	})
	return
}

func configure(backend backends.Backend) (*prune.Config, error) {
	schedule, err := prune.ParseSchedule(*flagSchedule)
	if err != nil {
		return nil, err
	}
	arch, err := prune.ParseArchitecture(*flagArch)
	if err != nil {
		return nil, err
	}
	s, err := strategy.FromName(*flagStrategy)
	if err != nil {
		return nil, err
	}
	return prune.Build(backend).
		Schedule(schedule).
		DefaultAmount(*flagAmount).
		Architecture(arch).
		ProtectTail(*flagProtectTail).
		Strategy(s).
		SkipRejected(*flagSkipRejected), nil
}

// loadOrCreate returns the model to prune and its name.
func loadOrCreate(outDir string) (*network.Network, string, error) {
	if (*flagCreate == "") == (*flagModel == "") {
		return nil, "", errors.New("exactly one of -create or -model must be given, see prunekit -help")
	}
	if *flagModel != "" {
		path, err := fsutil.ReplaceTildeInDir(*flagModel)
		if err != nil {
			return nil, "", err
		}
		net, err := checkpoints.Load(path)
		if err != nil {
			return nil, "", err
		}
		name := *flagName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return net, name, nil
	}

	name := *flagName
	if name == "" {
		name = *flagCreate
	}
	var (
		net *network.Network
		err error
	)
	switch *flagCreate {
	case "resnet18":
		net, err = resnet.New(name, 18, *flagNumClasses)
	case "resnet34":
		net, err = resnet.New(name, 34, *flagNumClasses)
	case "cifarnet":
		net, err = cifarnet.New(name)
	case "unet":
		net, err = unet.New(name, *flagChannels, *flagNumClasses, *flagFilters)
	default:
		err = errors.Errorf("unknown model %q for -create, valid values are resnet18, resnet34, cifarnet or unet", *flagCreate)
	}
	if err != nil {
		return nil, "", err
	}
	network.Initialize(net, *flagSeed)
	path := checkpoints.Filename(outDir, name, "")
	if err = checkpoints.Save(path, net); err != nil {
		return nil, "", err
	}
	klog.Infof("created %s model %q with %d parameters, saved to %s", *flagCreate, name, net.NumParameters(), path)
	return net, name, nil
}

func writeReport(path string, result *prune.Result) error {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating report %q", path)
	}
	if err = report.WriteCSV(f, result); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "closing report %q", path)
}
