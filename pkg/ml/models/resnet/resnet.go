// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package resnet builds torchvision-style ResNet-18 and ResNet-34 networks made of basic residual blocks.
//
// The layout is: a 7x7/2 stem convolution with batch norm and relu, a 3x3/2 max pooling, four stages of
// residual blocks (64, 128, 256 and 512 channels; the first block of stages 2-4 downsamples with stride 2),
// a global average pooling, flatten and a fully connected classifier.
//
// Blocks are named like torchvision modules: "layer1.0", "layer1.1", ..., "layer4.1".
package resnet

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/ml/network"
)

// blocksPerStage for the supported depths.
var blocksPerStage = map[int][]int{
	18: {2, 2, 2, 2},
	34: {3, 4, 6, 3},
}

// stageChannels of the four stages.
var stageChannels = []int{64, 128, 256, 512}

// New returns an uninitialized ResNet of the given depth (18 or 34) for RGB inputs.
// Use network.Initialize to create its weights.
func New(name string, depth, numClasses int) (*network.Network, error) {
	blocks, found := blocksPerStage[depth]
	if !found {
		return nil, errors.Errorf("resnet.New(%q): unsupported depth %d, only 18 and 34 are available", name, depth)
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("resnet.New(%q): invalid number of classes %d", name, numClasses)
	}
	layers := []network.Layer{
		network.NewConv2D("conv1", 3, 64, 7).WithStride(2).WithPadding(3),
		network.NewBatchNorm("bn1", 64),
		network.NewActivation("relu", "relu"),
		network.NewMaxPool("maxpool", 3, 2, 1),
	}
	inChannels := 64
	for stage, numBlocks := range blocks {
		outChannels := stageChannels[stage]
		for block := range numBlocks {
			stride := 1
			if stage > 0 && block == 0 {
				stride = 2
			}
			layers = append(layers, network.NewResidual(fmt.Sprintf("layer%d.%d", stage+1, block), inChannels, outChannels, stride))
			inChannels = outChannels
		}
	}
	layers = append(layers,
		network.NewGlobalAvgPool("avgpool"),
		network.NewFlatten("flatten"),
		network.NewLinear("fc", inChannels, numClasses),
	)
	return network.New(name, 3, layers...)
}
