// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/backends/cpu"
	"github.com/prunekit/prunekit/pkg/ml/models/cifarnet"
	"github.com/prunekit/prunekit/pkg/ml/models/resnet"
	"github.com/prunekit/prunekit/pkg/ml/models/unet"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/prunekit/prunekit/pkg/prune/depgraph"
	"github.com/prunekit/prunekit/pkg/prune/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backend backends.Backend = cpu.New("")

func TestSchedule(t *testing.T) {
	s := Schedule{0.1, 0.2, 0.3}
	assert.Equal(t, 0.1, s.At(0))
	assert.Equal(t, 0.3, s.At(2))
	assert.Equal(t, 0.3, s.At(10))
	assert.Equal(t, "0.1,0.2,0.3", s.String())

	parsed, err := ParseSchedule(" 0.1, 0.2,0.3 ")
	require.NoError(t, err)
	assert.Equal(t, s, parsed)
	for _, text := range []string{"", "0.1,x", "0.5,1", "-0.1"} {
		_, err = ParseSchedule(text)
		assert.Error(t, err, "ParseSchedule(%q)", text)
	}
	assert.Panics(t, func() { Schedule{}.At(0) })
}

func TestCursorSaturates(t *testing.T) {
	c := newCursor(DefaultSchedule)
	var positions []int
	for range 10 {
		positions = append(positions, c.position)
		c.advance()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 6, 6, 6}, positions)

	// Schedules of one or two entries never advance.
	for _, s := range []Schedule{{0.5}, {0.1, 0.2}} {
		c = newCursor(s)
		c.advance()
		assert.Equal(t, 0, c.position)
	}
}

func TestArchitecture(t *testing.T) {
	assert.Equal(t, ResNet, ArchitectureFromName("resnet18"))
	assert.Equal(t, ResNet, ArchitectureFromName("ResNet34_pruned"))
	assert.Equal(t, TailProtected, ArchitectureFromName("naber_net"))
	assert.Equal(t, Generic, ArchitectureFromName("unet"))
	for _, a := range []Architecture{AutoArchitecture, Generic, ResNet, TailProtected} {
		assert.Equal(t, a, must.M1(ParseArchitecture(a.String())))
	}
	_, err := ParseArchitecture("vgg")
	require.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	_, err := Build(backend).Schedule(Schedule{}).Done()
	require.Error(t, err)
	_, err = Build(backend).DefaultAmount(1).Done()
	require.Error(t, err)
	_, err = Build(backend).ProtectTail(-1).Done()
	require.Error(t, err)
	_, err = Build(backend).Strategy(nil).Done()
	require.Error(t, err)
	_, err = Build(nil).Done()
	require.Error(t, err)
	// The first error is kept.
	_, err = Build(backend).DefaultAmount(2).Schedule(Schedule{}).Done()
	require.ErrorContains(t, err, "default pruning amount")
}

// blockNetwork returns a network with a stem followed by numBlocks residual blocks of the given channels.
// With downsample set, every block has its own shortcut convolution, so the cuts of its second
// convolution don't propagate to the other blocks.
func blockNetwork(t *testing.T, name string, numBlocks, channels int, downsample bool) *network.Network {
	layers := []network.Layer{
		network.NewConv2D("stem", 3, channels, 3).WithPadding(1),
		network.NewBatchNorm("stem_bn", channels),
		network.NewActivation("stem_relu", "relu"),
	}
	for ii := range numBlocks {
		block := network.NewResidual(fmt.Sprintf("block%d", ii), channels, channels, 1)
		if downsample {
			block.WithDownsample(1)
		}
		layers = append(layers, block)
	}
	layers = append(layers,
		network.NewGlobalAvgPool("pool"),
		network.NewFlatten("flatten"),
		network.NewLinear("fc", channels, 10))
	net, err := network.New(name, 3, layers...)
	require.NoError(t, err)
	network.Initialize(net, 7)
	return net
}

func TestTraverseBlockSaturation(t *testing.T) {
	net := blockNetwork(t, "saturation", 10, 16, false)
	var visited []Record
	pruner := must.M1(Build(backend).Architecture(ResNet).OnRecord(func(r Record) {
		visited = append(visited, r)
	}).Done())
	result, err := pruner.Traverse(net, 8)
	require.NoError(t, err)
	assert.Equal(t, result.Records, visited)
	require.Len(t, result.Records, CountRecords(net))

	maxIndex := -1
	for _, r := range result.Records {
		if r.Block < 0 {
			continue
		}
		maxIndex = max(maxIndex, r.ScheduleIndex)
		assert.Equal(t, min(r.Block, len(DefaultSchedule)-2), r.ScheduleIndex, "record %+v", r)
		assert.Equal(t, DefaultSchedule.At(r.ScheduleIndex), r.Amount)
	}
	assert.Equal(t, len(DefaultSchedule)-2, maxIndex)
	require.NoError(t, depgraph.CheckConsistency(backend, net, 8))
	assert.Less(t, result.ParamsAfter, result.ParamsBefore)
}

func TestTraverseThreeBlocks(t *testing.T) {
	net := blockNetwork(t, "three_blocks", 3, 20, true)
	pruner := must.M1(Build(backend).Schedule(Schedule{0.1, 0.2, 0.3}).Architecture(ResNet).Done())
	result, err := pruner.Traverse(net, 8)
	require.NoError(t, err)
	require.NoError(t, depgraph.CheckConsistency(backend, net, 8))

	require.Len(t, result.Records, 7)
	assert.Equal(t, "resnet stem", result.Records[0].Skipped)
	assert.Equal(t, 20, result.Records[0].After)

	byLayer := make(map[string]Record)
	for _, r := range result.Records {
		byLayer[r.Layer] = r
	}
	for _, conv := range []string{"conv1", "conv2"} {
		r0, r1, r2 := byLayer["block0/"+conv], byLayer["block1/"+conv], byLayer["block2/"+conv]
		assert.Equal(t, 0.1, r0.Amount)
		assert.Equal(t, 18, r0.After)
		assert.Equal(t, 0.2, r1.Amount)
		assert.Equal(t, 16, r1.After)

		// Block 2 saturates at len(schedule)-2: same amount and fraction as block 1.
		assert.Equal(t, 1, r2.ScheduleIndex)
		assert.Equal(t, 0.2, r2.Amount)
		assert.Equal(t, r1.Before-r1.After, r2.Before-r2.After)
		assert.Len(t, r2.Removed, 4)
	}
	assert.Equal(t, 16, must.M1(net.Lookup("fc")).(*network.Linear).InFeatures)
}

func TestTraverseStandaloneConvolutions(t *testing.T) {
	// Generic: both convolutions are pruned by the default amount.
	net := must.M1(cifarnet.New("cifarnet"))
	network.Initialize(net, 1)
	result := must.M1(must.M1(Build(backend).Done()).Traverse(net, cifarnet.InputSize))
	require.Len(t, result.Records, 2)
	assert.Equal(t, 4, must.M1(net.Lookup("conv1")).(*network.Conv2D).OutChannels)
	assert.Equal(t, 12, must.M1(net.Lookup("conv2")).(*network.Conv2D).OutChannels)
	assert.Equal(t, 12*5*5, must.M1(net.Lookup("fc1")).(*network.Linear).InFeatures)
	require.NoError(t, depgraph.CheckConsistency(backend, net, cifarnet.InputSize))

	// TailProtected: the last convolution before the classifier is kept.
	net = must.M1(cifarnet.New("naber"))
	network.Initialize(net, 1)
	result = must.M1(must.M1(Build(backend).Done()).Traverse(net, cifarnet.InputSize))
	require.Len(t, result.Records, 2)
	assert.True(t, result.Records[0].Pruned())
	assert.Equal(t, "protected tail", result.Records[1].Skipped)
	assert.Equal(t, 4, must.M1(net.Lookup("conv2")).(*network.Conv2D).InChannels)
	assert.Equal(t, 16, must.M1(net.Lookup("conv2")).(*network.Conv2D).OutChannels)

	// ProtectTail(0) prunes every convolution.
	net = must.M1(cifarnet.New("cifarnet"))
	network.Initialize(net, 1)
	result = must.M1(must.M1(Build(backend).Architecture(TailProtected).ProtectTail(0).Done()).
		Traverse(net, cifarnet.InputSize))
	assert.True(t, result.Records[1].Pruned())

	// L2 ranking gives the same channel counts.
	net = must.M1(cifarnet.New("cifarnet"))
	network.Initialize(net, 1)
	must.M1(must.M1(Build(backend).Strategy(strategy.L2).Done()).Traverse(net, cifarnet.InputSize))
	assert.Equal(t, 12, must.M1(net.Lookup("conv2")).(*network.Conv2D).OutChannels)
}

func TestTraverseResNet18(t *testing.T) {
	net := must.M1(resnet.New("resnet18", 18, 10))
	network.Initialize(net, 7)
	result, err := must.M1(Build(backend).Done()).Traverse(net, 64)
	require.NoError(t, err)
	require.Len(t, result.Records, CountRecords(net))
	require.NoError(t, depgraph.CheckConsistency(backend, net, 64))

	assert.Equal(t, "conv1", result.Records[0].Layer)
	assert.Equal(t, "resnet stem", result.Records[0].Skipped)
	maxIndex := len(DefaultSchedule) - 2
	for _, record := range result.Records[1:] {
		assert.LessOrEqualf(t, record.ScheduleIndex, maxIndex, "layer %q", record.Layer)
		assert.Equalf(t, DefaultSchedule.At(record.ScheduleIndex), record.Amount, "layer %q", record.Layer)
		numRemoved := must.M1(strategy.NumToPrune(record.Amount, record.Before))
		assert.Equalf(t, record.Before-numRemoved, record.After, "layer %q", record.Layer)
	}
	// The last two blocks share the saturated schedule position.
	last := result.Records[len(result.Records)-1]
	assert.Equal(t, maxIndex, last.ScheduleIndex)
	assert.Equal(t, maxIndex, result.Records[len(result.Records)-3].ScheduleIndex)
	assert.Equal(t, 57, must.M1(net.Lookup("layer1.0/conv1")).(*network.Conv2D).OutChannels)
	assert.Equal(t, 10, must.M1(net.Lookup("fc")).(*network.Linear).OutFeatures)
	assert.Less(t, result.ParamsAfter, result.ParamsBefore)
}

func TestTraverseUNet(t *testing.T) {
	net := must.M1(unet.New("unet", 3, 2, 8))
	network.Initialize(net, 5)
	result, err := must.M1(Build(backend).Done()).Traverse(net, 32)
	require.NoError(t, err)
	require.Len(t, result.Records, 23)
	require.NoError(t, depgraph.CheckConsistency(backend, net, 32))

	var numPruned int
	for _, record := range result.Records {
		if record.Pruned() {
			numPruned++
		}
	}
	assert.Equal(t, 22, numPruned)
	final := result.Records[len(result.Records)-1]
	assert.Equal(t, "final", final.Layer)
	assert.Equal(t, "network output", final.Skipped)
	assert.Equal(t, 2, must.M1(net.Lookup("final")).(*network.Conv2D).OutChannels)
	assert.Equal(t, 6, must.M1(net.Lookup("enc1.conv1")).(*network.Conv2D).OutChannels)
}

func TestTraverseRejected(t *testing.T) {
	newOpaqueNetwork := func() *network.Network {
		net := must.M1(network.New("opaque", 3,
			network.NewConv2D("a", 3, 10, 1),
			network.NewOpaque("attention", 10, "self-attention"),
			network.NewConv2D("b", 10, 4, 1),
		))
		network.Initialize(net, 3)
		return net
	}

	net := newOpaqueNetwork()
	_, err := must.M1(Build(backend).Done()).Traverse(net, 4)
	var rejected *depgraph.PlanRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "attention", rejected.Layer)
	assert.Equal(t, 10, must.M1(net.Lookup("a")).(*network.Conv2D).OutChannels)

	net = newOpaqueNetwork()
	result, err := must.M1(Build(backend).SkipRejected(true).Done()).Traverse(net, 4)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Error(t, result.Records[0].Rejected)
	assert.False(t, result.Records[0].Pruned())
	assert.Equal(t, "network output", result.Records[1].Skipped)
	assert.Equal(t, result.ParamsBefore, result.ParamsAfter)
}

func TestTraverseGraphError(t *testing.T) {
	net := must.M1(cifarnet.New("cifarnet"))
	network.Initialize(net, 1)
	_, err := must.M1(Build(backend).Done()).Traverse(net, 8)
	var graphErr *depgraph.GraphConstructionError
	require.True(t, errors.As(err, &graphErr))
}

func TestPruneRoundTrip(t *testing.T) {
	dir := t.TempDir()
	net := blockNetwork(t, "resnet_small", 3, 16, true)
	result, err := Prune(backend, Request{
		Name:      "resnet_small",
		Model:     net,
		OutputDir: dir,
		InputSize: 16,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "resnet_small_pruned.ckpt"), result.Path)
	assert.FileExists(t, result.Path)
	assert.NotSame(t, net, result.Network)

	// The reloaded network has the same channel counts and bit-exact weights.
	require.NoError(t, Compare(net, result.Network))
	assert.Equal(t, net.NumParameters(), result.Network.NumParameters())
	assert.Equal(t, result.ParamsAfter, result.Network.NumParameters())
	assert.Equal(t, 14, must.M1(result.Network.Lookup("block0/conv1")).(*network.Conv2D).OutChannels)
	require.NoError(t, depgraph.CheckConsistency(backend, result.Network, 16))
}

func TestPruneErrors(t *testing.T) {
	net := blockNetwork(t, "errors", 1, 8, true)
	_, err := Prune(backend, Request{Model: net, OutputDir: t.TempDir()})
	require.Error(t, err)
	_, err = Prune(backend, Request{Name: "errors", OutputDir: t.TempDir()})
	require.Error(t, err)

	// Output directory under a regular file can't be created.
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = Prune(backend, Request{Name: "errors", Model: net, OutputDir: filepath.Join(file, "sub"), InputSize: 8})
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	net := blockNetwork(t, "compare", 1, 8, false)
	other := net.Clone()
	require.NoError(t, Compare(net, other))

	stem := must.M1(other.Lookup("stem")).(*network.Conv2D)
	stem.Weights = stem.Weights.Clone()
	stem.Weights.MutableFlatData(func(flat any) { flat.([]float32)[0] += 1 })
	require.ErrorContains(t, Compare(net, other), "stem")

	// Hyperparameters without tensors are compared too.
	other = net.Clone()
	must.M1(other.Lookup("block0/conv1")).(*network.Conv2D).Stride = 2
	require.ErrorContains(t, Compare(net, other), "attributes differ")

	other = net.Clone()
	must.M1(other.Lookup("stem_bn")).(*network.BatchNorm).Epsilon = 1e-3
	require.ErrorContains(t, Compare(net, other), "stem_bn")

	other = net.Clone()
	other.Output = "flatten"
	require.ErrorContains(t, Compare(net, other), "output")
}
