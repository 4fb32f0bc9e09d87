// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package cifarnet builds the small CIFAR-10 convolutional classifier for 32x32 RGB images:
//
//	conv(3->6, 5x5) -> relu -> maxpool(2) -> conv(6->16, 5x5) -> relu -> maxpool(2) ->
//	flatten(400) -> fc(120) -> relu -> fc(84) -> relu -> fc(10)
package cifarnet

import (
	"github.com/prunekit/prunekit/pkg/ml/network"
)

// InputSize is the spatial size of the images the network expects.
const InputSize = 32

// NumClasses of CIFAR-10.
const NumClasses = 10

// New returns an uninitialized CIFAR-10 network. Use network.Initialize to create its weights.
func New(name string) (*network.Network, error) {
	return network.New(name, 3,
		network.NewConv2D("conv1", 3, 6, 5).WithBias(),
		network.NewActivation("relu1", "relu"),
		network.NewMaxPool("pool1", 2, 2, 0),
		network.NewConv2D("conv2", 6, 16, 5).WithBias(),
		network.NewActivation("relu2", "relu"),
		network.NewMaxPool("pool2", 2, 2, 0),
		network.NewFlatten("flatten"),
		network.NewLinear("fc1", 16*5*5, 120),
		network.NewActivation("relu3", "relu"),
		network.NewLinear("fc2", 120, 84),
		network.NewActivation("relu4", "relu"),
		network.NewLinear("fc3", 84, NumClasses),
	)
}
