// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package network

import (
	"github.com/pkg/errors"
)

// Residual is a basic residual block: two 3x3 convolutions with batch normalization, plus a skip
// connection that is either the identity or a 1x1 convolution ("downsample") with its own batch norm.
//
// The block is wired as
//
//	conv1 -> bn1 -> relu1 -> conv2 -> bn2 -> add(bn2, shortcut) -> relu2
//
// and its output is relu2. Internal layers are addressed with paths like "layer1.0/conv1".
type Residual struct {
	Common
	Conv1 *Conv2D
	BN1   *BatchNorm
	Conv2 *Conv2D
	BN2   *BatchNorm

	// Downsample and DownsampleBN are either both nil (identity shortcut) or both set.
	Downsample   *Conv2D
	DownsampleBN *BatchNorm
}

// Names of the internal layers of a Residual block.
const (
	ResidualConv1          = "conv1"
	ResidualBN1            = "bn1"
	ResidualReLU1          = "relu1"
	ResidualConv2          = "conv2"
	ResidualBN2            = "bn2"
	ResidualDownsample     = "downsample.conv"
	ResidualDownsampleBN   = "downsample.bn"
	ResidualAdd            = "add"
	ResidualReLU2          = "relu2"
	residualOutputSubLayer = ResidualReLU2
)

// NewResidual returns a basic residual block from inChannels to outChannels. The first convolution uses
// the given stride. If stride != 1 or the number of channels changes, a downsample shortcut is created.
func NewResidual(name string, inChannels, outChannels, stride int, from ...string) *Residual {
	r := &Residual{
		Common: Common{LayerName: name, From: from},
		Conv1:  NewConv2D(ResidualConv1, inChannels, outChannels, 3).WithStride(stride).WithPadding(1),
		BN1:    NewBatchNorm(ResidualBN1, outChannels),
		Conv2:  NewConv2D(ResidualConv2, outChannels, outChannels, 3).WithPadding(1),
		BN2:    NewBatchNorm(ResidualBN2, outChannels),
	}
	if stride != 1 || inChannels != outChannels {
		r.WithDownsample(stride)
	}
	return r
}

// WithDownsample forces a 1x1 convolution shortcut with the given stride, even if the shapes would
// allow an identity shortcut.
func (r *Residual) WithDownsample(stride int) *Residual {
	r.Downsample = NewConv2D(ResidualDownsample, r.Conv1.InChannels, r.BN2.Channels, 1).WithStride(stride)
	r.DownsampleBN = NewBatchNorm(ResidualDownsampleBN, r.BN2.Channels)
	return r
}

// Kind implements Layer.
func (r *Residual) Kind() Kind { return KindResidualBlock }

// Params implements Layer. The parameters of a block are owned by its sub-layers, see SubLayers.
func (r *Residual) Params() []Param { return nil }

// SubLayers returns the parameterized layers of the block, in execution order.
func (r *Residual) SubLayers() []Layer {
	subLayers := []Layer{r.Conv1, r.BN1, r.Conv2, r.BN2}
	if r.Downsample != nil {
		subLayers = append(subLayers, r.Downsample, r.DownsampleBN)
	}
	return subLayers
}

// Validate implements Layer.
func (r *Residual) Validate() error {
	if r.Conv1 == nil || r.BN1 == nil || r.Conv2 == nil || r.BN2 == nil {
		return errors.Errorf("residual block %q: conv1, bn1, conv2 and bn2 must all be set", r.LayerName)
	}
	if (r.Downsample == nil) != (r.DownsampleBN == nil) {
		return errors.Errorf("residual block %q: downsample convolution and batch norm must be set together", r.LayerName)
	}
	if len(r.From) > 1 {
		return errors.Errorf("residual block %q: takes exactly one input, got %v", r.LayerName, r.From)
	}
	for _, sub := range r.SubLayers() {
		if err := sub.Validate(); err != nil {
			return errors.WithMessagef(err, "residual block %q", r.LayerName)
		}
	}
	return nil
}

// Lookup returns the internal layer with the given name (e.g. "conv1"), or nil.
func (r *Residual) Lookup(subName string) Layer {
	for _, sub := range r.SubLayers() {
		if sub.Name() == subName {
			return sub
		}
	}
	return nil
}

// expand returns the block as leaf nodes, with paths prefixed by the block name.
// input is the resolved path of the block's producer.
func (r *Residual) expand(input string) []Node {
	p := func(sub string) string { return r.LayerName + PathSeparator + sub }
	nodes := []Node{
		{Path: p(ResidualConv1), Layer: r.Conv1, Inputs: []string{input}, Block: r.LayerName},
		{Path: p(ResidualBN1), Layer: r.BN1, Inputs: []string{p(ResidualConv1)}, Block: r.LayerName},
		{Path: p(ResidualReLU1), Layer: NewActivation(ResidualReLU1, "relu"), Inputs: []string{p(ResidualBN1)}, Block: r.LayerName},
		{Path: p(ResidualConv2), Layer: r.Conv2, Inputs: []string{p(ResidualReLU1)}, Block: r.LayerName},
		{Path: p(ResidualBN2), Layer: r.BN2, Inputs: []string{p(ResidualConv2)}, Block: r.LayerName},
	}
	shortcut := input
	if r.Downsample != nil {
		nodes = append(nodes,
			Node{Path: p(ResidualDownsample), Layer: r.Downsample, Inputs: []string{input}, Block: r.LayerName},
			Node{Path: p(ResidualDownsampleBN), Layer: r.DownsampleBN, Inputs: []string{p(ResidualDownsample)}, Block: r.LayerName})
		shortcut = p(ResidualDownsampleBN)
	}
	nodes = append(nodes,
		Node{Path: p(ResidualAdd), Layer: NewAdd(ResidualAdd, p(ResidualBN2), shortcut), Inputs: []string{p(ResidualBN2), shortcut}, Block: r.LayerName},
		Node{Path: p(ResidualReLU2), Layer: NewActivation(ResidualReLU2, "relu"), Inputs: []string{p(ResidualAdd)}, Block: r.LayerName})
	return nodes
}

func (r *Residual) cloneLayer() Layer {
	r2 := &Residual{
		Common: r.Common.clone(),
		Conv1:  r.Conv1.cloneLayer().(*Conv2D),
		BN1:    r.BN1.cloneLayer().(*BatchNorm),
		Conv2:  r.Conv2.cloneLayer().(*Conv2D),
		BN2:    r.BN2.cloneLayer().(*BatchNorm),
	}
	if r.Downsample != nil {
		r2.Downsample = r.Downsample.cloneLayer().(*Conv2D)
		r2.DownsampleBN = r.DownsampleBN.cloneLayer().(*BatchNorm)
	}
	return r2
}

// residualOutputPath returns the path of the output layer of the residual block named blockName.
func residualOutputPath(blockName string) string {
	return blockName + PathSeparator + residualOutputSubLayer
}
