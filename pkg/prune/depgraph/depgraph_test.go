// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package depgraph

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/backends/cpu"
	"github.com/prunekit/prunekit/pkg/core/tensors"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backend backends.Backend = cpu.New("")

func newNetwork(t *testing.T, inputChannels int, layers ...network.Layer) *network.Network {
	net, err := network.New(t.Name(), inputChannels, layers...)
	require.NoError(t, err)
	network.Initialize(net, 42)
	return net
}

// smallResNet has an identity block followed by a downsampling block.
func smallResNet(t *testing.T) *network.Network {
	return newNetwork(t, 3,
		network.NewConv2D("stem", 3, 8, 3).WithPadding(1),
		network.NewBatchNorm("stem_bn", 8),
		network.NewActivation("stem_relu", "relu"),
		network.NewResidual("block0", 8, 8, 1),
		network.NewResidual("block1", 8, 16, 2),
		network.NewGlobalAvgPool("pool"),
		network.NewFlatten("flatten"),
		network.NewLinear("fc", 16, 10),
	)
}

func opPaths(plan *Plan) []string {
	paths := make([]string, len(plan.Ops))
	for ii, op := range plan.Ops {
		paths[ii] = op.Layer + ":" + op.Side.String()
	}
	return paths
}

func TestBuild(t *testing.T) {
	net := smallResNet(t)
	g, err := Build(backend, net, 16)
	require.NoError(t, err)
	assert.Equal(t, "stem", g.Nodes()[0])
	assert.Equal(t, []string{network.InputName}, g.Producers("stem"))
	assert.Equal(t, []string{"block0/conv1", "block0/add"}, g.Consumers("stem_relu"))
	assert.Equal(t, []string{"block1/conv1", "block1/downsample.conv"}, g.Consumers("block0/relu2"))

	shape, found := g.Shape("block1/relu2")
	require.True(t, found)
	assert.Equal(t, []int{16, 8, 8}, shape.Dimensions)
	shape, _ = g.Shape("fc")
	assert.Equal(t, []int{10}, shape.Dimensions)

	// The identity shortcut couples the stem with the output of block0.
	group := g.Group("block0/conv2")
	for _, path := range []string{"stem", "stem_bn", "stem_relu", "block0/bn2", "block0/add", "block0/relu2"} {
		assert.Contains(t, group, path)
	}
	assert.NotContains(t, group, "block0/conv1")
	assert.NotContains(t, group, "block1/add")
	assert.Equal(t, "stem", group[0])
}

func TestBuildErrors(t *testing.T) {
	// Input too small for the 5x5 kernel.
	net := newNetwork(t, 3, network.NewConv2D("conv", 3, 4, 5))
	_, err := Build(backend, net, 3)
	var buildErr *GraphConstructionError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "conv", buildErr.Layer)

	// Declared channels disagree.
	net = newNetwork(t, 3, network.NewConv2D("a", 3, 4, 1), network.NewConv2D("b", 5, 2, 1))
	_, err = Build(backend, net, 4)
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "b", buildErr.Layer)

	// Uninitialized weights.
	net, err = network.New("uninitialized", 3, network.NewConv2D("a", 3, 4, 1))
	require.NoError(t, err)
	_, err = Build(backend, net, 4)
	require.True(t, errors.As(err, &buildErr))

	_, err = Build(backend, smallResNet(t), 0)
	require.Error(t, err)
}

func TestPlanInsideBlock(t *testing.T) {
	net := smallResNet(t)
	g := must.M1(Build(backend, net, 16))
	plan, err := g.Plan("block0/conv1", []int{0, 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"block0/conv1:out", "block0/bn1:out", "block0/conv2:in"}, opPaths(plan))
	assert.Equal(t, []string{"block0/conv1", "block0/bn1", "block0/relu1"}, plan.Affected)
	for _, op := range plan.Ops {
		assert.Equal(t, []int{0, 3}, op.Indices)
	}
	assert.Equal(t, 2, plan.NumRemoved())
}

func TestPlanAcrossShortcut(t *testing.T) {
	net := smallResNet(t)
	g := must.M1(Build(backend, net, 16))
	conv1 := must.M1(net.Lookup("block0/conv1")).(*network.Conv2D)
	oldWeights := tensors.CopyFlatData[float32](conv1.Weights)

	plan, err := g.Plan("block0/conv2", []int{1})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"stem:out", "stem_bn:out",
		"block0/conv1:in",
		"block0/conv2:out", "block0/bn2:out",
		"block1/conv1:in", "block1/downsample.conv:in",
	}, opPaths(plan))

	version := net.Version()
	_, err = Execute(backend, net, plan)
	require.NoError(t, err)
	assert.Equal(t, version+1, net.Version())
	require.NoError(t, CheckConsistency(backend, net, 16))

	assert.Equal(t, 7, must.M1(net.Lookup("stem")).(*network.Conv2D).OutChannels)
	assert.Equal(t, 7, must.M1(net.Lookup("stem_bn")).(*network.BatchNorm).Channels)
	assert.Equal(t, 7, conv1.InChannels)
	assert.Equal(t, 8, conv1.OutChannels)
	assert.Equal(t, 7, must.M1(net.Lookup("block1/downsample.conv")).(*network.Conv2D).InChannels)

	// Input channel 1 of block0/conv1 was removed: for output channel 0, the new input channel 1
	// holds the old input channel 2.
	newWeights := tensors.CopyFlatData[float32](conv1.Weights)
	const kernelSize = 9
	assert.Equal(t, oldWeights[0:kernelSize], newWeights[0:kernelSize])
	assert.Equal(t, oldWeights[2*kernelSize:3*kernelSize], newWeights[kernelSize:2*kernelSize])
}

func TestPlanRejections(t *testing.T) {
	net := smallResNet(t)
	g := must.M1(Build(backend, net, 16))
	var rejected *PlanRejectedError

	_, err := g.Plan("fc", []int{0})
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "fc", rejected.Layer)

	_, err = g.Plan("stem", []int{0, 1, 2, 3, 4, 5, 6, 7})
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "all its channels")

	opaque := newNetwork(t, 3,
		network.NewConv2D("a", 3, 4, 1),
		network.NewOpaque("custom", 4, "attention"),
		network.NewConv2D("b", 4, 2, 1),
	)
	g = must.M1(Build(backend, opaque, 4))
	_, err = g.Plan("a", []int{0})
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "custom", rejected.Layer)
	assert.Equal(t, "Opaque", rejected.Kind)

	// Not rejections, but invalid requests.
	g = must.M1(Build(backend, net, 16))
	_, err = g.Plan("stem_bn", []int{0})
	require.Error(t, err)
	_, err = g.Plan("stem", []int{3, 1})
	require.Error(t, err)
	_, err = g.Plan("stem", []int{8})
	require.Error(t, err)
	_, err = g.Plan("stem", nil)
	require.Error(t, err)
	_, err = g.Plan("missing", []int{0})
	require.Error(t, err)
}

func TestPlanThroughFlatten(t *testing.T) {
	// A [4, 2, 2] feature map flattened into 16 features, with an addition coupling the
	// flattened features with the output of a linear layer.
	net := newNetwork(t, 3,
		network.NewConv2D("a", 3, 4, 1),
		network.NewFlatten("flatten"),
		network.NewLinear("l1", 16, 16),
		network.NewAdd("sum", "flatten", "l1"),
		network.NewLinear("out", 16, 3),
	)
	g := must.M1(Build(backend, net, 2))

	plan, err := g.Plan("a", []int{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:out", "l1:out", "l1:in", "out:in"}, opPaths(plan))
	for _, op := range plan.Ops[1:] {
		assert.Equal(t, []int{4, 5, 6, 7}, op.Indices)
	}

	// Features of a partial channel can't be mapped back to the convolution.
	var rejected *PlanRejectedError
	_, err = g.Plan("l1", []int{0})
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "flatten", rejected.Layer)

	// Whole channels can.
	plan, err = g.Plan("l1", []int{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "a:out", opPaths(plan)[0])
	assert.Equal(t, []int{0}, plan.Ops[0].Indices)

	must.M1(Execute(backend, net, plan))
	require.NoError(t, CheckConsistency(backend, net, 2))
	assert.Equal(t, 12, must.M1(net.Lookup("out")).(*network.Linear).InFeatures)
}

func TestPlanThroughConcat(t *testing.T) {
	net := newNetwork(t, 3,
		network.NewConv2D("a", 3, 4, 1),
		network.NewConv2D("b", 3, 2, 1, network.InputName),
		network.NewConcat("cat", "a", "b"),
		network.NewConv2D("c", 6, 5, 1),
	)
	g := must.M1(Build(backend, net, 4))

	plan := must.M1(g.Plan("b", []int{1}))
	assert.Equal(t, []string{"b:out", "c:in"}, opPaths(plan))
	assert.Equal(t, []int{5}, plan.Ops[1].Indices)

	plan = must.M1(g.Plan("a", []int{0, 2}))
	assert.Equal(t, []int{0, 2}, plan.Ops[1].Indices)
	must.M1(Execute(backend, net, plan))

	// Offsets into the concatenation follow the live channel counts.
	plan = must.M1(g.Plan("b", []int{0}))
	assert.Equal(t, []int{2}, plan.Ops[1].Indices)
	must.M1(Execute(backend, net, plan))
	require.NoError(t, CheckConsistency(backend, net, 4))
	assert.Equal(t, 3, must.M1(net.Lookup("c")).(*network.Conv2D).InChannels)
}

func TestExecuteStaleAndBusy(t *testing.T) {
	net := smallResNet(t)
	g := must.M1(Build(backend, net, 16))
	first := must.M1(g.Plan("block0/conv1", []int{0}))
	second := must.M1(g.Plan("block1/conv1", []int{0}))

	// Plans are bound to their network.
	_, err := Execute(backend, net.Clone(), first)
	require.ErrorIs(t, err, ErrStalePlan)

	require.True(t, net.TryAcquire())
	_, err = Execute(backend, net, first)
	require.ErrorIs(t, err, ErrNetworkBusy)
	net.Release()

	must.M1(Execute(backend, net, first))
	_, err = Execute(backend, net, second)
	require.ErrorIs(t, err, ErrStalePlan)
	assert.Equal(t, 16, must.M1(net.Lookup("block1/conv1")).(*network.Conv2D).OutChannels)
}

func TestExecuteIsAtomic(t *testing.T) {
	net := smallResNet(t)
	g := must.M1(Build(backend, net, 16))
	plan := must.M1(g.Plan("block0/conv2", []int{1}))

	stem := must.M1(net.Lookup("stem")).(*network.Conv2D)
	stemWeights := stem.Weights
	// Break a tensor used by a later op of the plan.
	bn2 := must.M1(net.Lookup("block0/bn2")).(*network.BatchNorm)
	bn2.Variance = nil

	version := net.Version()
	_, err := Execute(backend, net, plan)
	require.Error(t, err)
	assert.Same(t, stemWeights, stem.Weights)
	assert.Equal(t, 8, stem.OutChannels)
	assert.Equal(t, version, net.Version())
	assert.True(t, net.TryAcquire(), "Execute must release the network on failure")
	net.Release()
}
