// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package network

// Kind enumerates the closed set of layer variants a Network is made of.
type Kind int

//go:generate go tool enumer -type=Kind -trimprefix=Kind -output=gen_kind_enumer.go kind.go

const (
	KindConvolution Kind = iota
	KindLinear
	KindNormalization
	KindActivation
	KindPooling
	KindFlatten
	KindAdd
	KindConcat
	KindResidualBlock
	KindOpaque
)

// PoolType selects the operation of a Pool layer. All of them preserve the number of channels.
type PoolType int

//go:generate go tool enumer -type=PoolType -trimprefix=Pool -output=gen_pooltype_enumer.go kind.go

const (
	// PoolMax is a max pooling over square windows.
	PoolMax PoolType = iota

	// PoolAvg is an average pooling over square windows.
	PoolAvg

	// PoolGlobalAvg averages each channel into a single value: the output is [C, 1, 1].
	PoolGlobalAvg

	// PoolUpsample is a nearest-neighbour upsampling by Pool.Factor.
	PoolUpsample
)
