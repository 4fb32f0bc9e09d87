// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package unet builds a multiclass U-Net for image segmentation.
//
// The encoder has 5 levels of double convolutions (3x3 conv, batch norm, relu, twice) with
// baseFilters * [1, 2, 4, 8, 16] channels, separated by 2x2 max pooling. Each decoder level upsamples,
// applies a 3x3 convolution halving the channels, concatenates the result with the encoder output of the
// same resolution and applies a double convolution. A final 1x1 convolution outputs one channel per class.
//
// The input size must be divisible by 16.
package unet

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/ml/network"
)

// NumLevels of the encoder, including the bottleneck.
const NumLevels = 5

// doubleConv appends conv-bn-relu twice, named "<prefix>.conv1" ... "<prefix>.relu2".
// The first convolution reads from `from`, and the name of the last relu is returned.
func doubleConv(layers []network.Layer, prefix, from string, inChannels, outChannels int) ([]network.Layer, string) {
	layers = append(layers,
		network.NewConv2D(prefix+".conv1", inChannels, outChannels, 3, from).WithPadding(1),
		network.NewBatchNorm(prefix+".bn1", outChannels),
		network.NewActivation(prefix+".relu1", "relu"),
		network.NewConv2D(prefix+".conv2", outChannels, outChannels, 3).WithPadding(1),
		network.NewBatchNorm(prefix+".bn2", outChannels),
		network.NewActivation(prefix+".relu2", "relu"),
	)
	return layers, prefix + ".relu2"
}

// New returns an uninitialized U-Net. Use network.Initialize to create its weights.
func New(name string, inChannels, numClasses, baseFilters int) (*network.Network, error) {
	if inChannels <= 0 || numClasses <= 0 || baseFilters <= 0 {
		return nil, errors.Errorf("unet.New(%q): invalid configuration inChannels=%d, numClasses=%d, baseFilters=%d",
			name, inChannels, numClasses, baseFilters)
	}
	var layers []network.Layer
	skips := make([]string, NumLevels)
	channels := make([]int, NumLevels)
	previous, previousChannels := network.InputName, inChannels
	for level := range NumLevels {
		channels[level] = baseFilters << level
		if level > 0 {
			pool := fmt.Sprintf("pool%d", level)
			layers = append(layers, network.NewMaxPool(pool, 2, 2, 0, previous))
			previous = pool
		}
		layers, previous = doubleConv(layers, fmt.Sprintf("enc%d", level+1), previous, previousChannels, channels[level])
		skips[level] = previous
		previousChannels = channels[level]
	}
	for level := NumLevels - 2; level >= 0; level-- {
		up := fmt.Sprintf("up%d", level+1)
		layers = append(layers,
			network.NewUpsample(up, 2, previous),
			network.NewConv2D(up+".conv", previousChannels, channels[level], 3).WithPadding(1),
			network.NewBatchNorm(up+".bn", channels[level]),
			network.NewActivation(up+".relu", "relu"),
			network.NewConcat(fmt.Sprintf("cat%d", level+1), skips[level], up+".relu"),
		)
		layers, previous = doubleConv(layers, fmt.Sprintf("dec%d", level+1), fmt.Sprintf("cat%d", level+1),
			2*channels[level], channels[level])
		previousChannels = channels[level]
	}
	layers = append(layers, network.NewConv2D("final", previousChannels, numClasses, 1, previous).WithBias())
	return network.New(name, inChannels, layers...)
}
