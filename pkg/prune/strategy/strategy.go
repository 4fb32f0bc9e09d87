// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package strategy ranks the output channels of a layer by importance and selects which ones to prune.
//
// The importance of a channel is the norm of its slice of the weights (axis 0): for a convolution kernel
// shaped [out, in, kh, kw], the norm of the [in, kh, kw] filter producing that channel. Channels with the
// lowest norm are removed first.
package strategy

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/pkg/core/tensors"
)

// Strategy selects the channels (indices along axis 0 of weights) to remove, given the fraction amount.
type Strategy interface {
	// Name of the strategy, e.g. "l1".
	Name() string

	// Select returns the sorted indices of the channels to remove. It returns an empty (nil) selection
	// when amount × channels < 1.
	Select(backend backends.Backend, weights *tensors.Tensor, amount float64) ([]int, error)
}

// roundingTolerance absorbs floating point noise in amount × n, e.g. 0.1 × 30 = 3.0000000000000004.
const roundingTolerance = 1e-9

// NumToPrune returns how many of n channels to remove for the given amount in [0, 1):
// zero if amount × n < 1, ceil(amount × n) otherwise.
func NumToPrune(amount float64, n int) (int, error) {
	if math.IsNaN(amount) || amount < 0 || amount >= 1 {
		return 0, errors.Errorf("pruning amount must be in the range [0, 1), got %g", amount)
	}
	if n < 0 {
		return 0, errors.Errorf("invalid number of channels %d", n)
	}
	target := amount * float64(n)
	if target < 1 {
		return 0, nil
	}
	return int(math.Ceil(target - roundingTolerance)), nil
}

// normStrategy ranks channels by their L-p norm.
type normStrategy struct {
	name string
	p    int
}

// L1 ranks channels by the sum of the absolute values of their weights.
var L1 Strategy = normStrategy{name: "l1", p: 1}

// L2 ranks channels by the euclidean norm of their weights.
var L2 Strategy = normStrategy{name: "l2", p: 2}

// FromName returns the strategy with the given name ("l1" or "l2").
func FromName(name string) (Strategy, error) {
	for _, s := range []Strategy{L1, L2} {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, errors.Errorf("unknown pruning strategy %q, valid values are \"l1\" and \"l2\"", name)
}

// Name implements Strategy.
func (s normStrategy) Name() string { return s.name }

// Select implements Strategy.
//
// Ties are broken by the channel index, so the selection is deterministic.
func (s normStrategy) Select(backend backends.Backend, weights *tensors.Tensor, amount float64) ([]int, error) {
	if !weights.Ok() || weights.Rank() < 1 {
		return nil, errors.New("strategy.Select: invalid weights")
	}
	numChannels := weights.Shape().Dim(0)
	k, err := NumToPrune(amount, numChannels)
	if err != nil {
		return nil, err
	}
	if k == 0 {
		return nil, nil
	}
	norms, err := backend.ChannelNorms(weights, s.p)
	if err != nil {
		return nil, errors.WithMessagef(err, "strategy %s", s.name)
	}
	return Lowest(norms, k), nil
}

// Lowest returns the sorted indices of the k lowest values of norms, breaking ties by index.
func Lowest(norms []float64, k int) []int {
	order := make([]int, len(norms))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if norms[a] < norms[b] {
			return -1
		} else if norms[a] > norms[b] {
			return 1
		}
		return a - b
	})
	selected := slices.Clone(order[:min(k, len(order))])
	slices.Sort(selected)
	return selected
}
