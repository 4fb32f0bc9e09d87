// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package network

import (
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/prunekit/prunekit/pkg/ml/initializer"
)

// Initialize creates all the tensors of the network, replacing any existing ones.
//
// Convolution and linear weights are He-uniform initialized, biases are zero and batch norms start as the
// identity (scale 1, offset 0, mean 0, variance 1). The same seed always produces the same weights.
func Initialize(net *Network, seed uint64) {
	rng := initializer.NewRand(seed)
	dtype := net.DType
	_ = net.Walk(func(_ string, layer Layer) error {
		switch l := layer.(type) {
		case *Conv2D:
			l.Weights = initializer.HeUniform(rng, shapes.Make(dtype, l.OutChannels, l.InChannels, l.KernelH, l.KernelW))
			if l.UseBias {
				l.Bias = initializer.Zero(rng, shapes.Make(dtype, l.OutChannels))
			}
		case *Linear:
			l.Weights = initializer.HeUniform(rng, shapes.Make(dtype, l.OutFeatures, l.InFeatures))
			if l.UseBias {
				l.Bias = initializer.Zero(rng, shapes.Make(dtype, l.OutFeatures))
			}
		case *BatchNorm:
			shape := shapes.Make(dtype, l.Channels)
			l.Scale = initializer.One(rng, shape)
			l.Offset = initializer.Zero(rng, shape)
			l.Mean = initializer.Zero(rng, shape)
			l.Variance = initializer.One(rng, shape)
		}
		return nil
	})
}
