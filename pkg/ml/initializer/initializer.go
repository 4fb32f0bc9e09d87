// Package initializer creates initialized weight tensors for freshly built networks.
//
// Weights follow the channels-first layout: a convolution kernel is `[out, in, kh, kw]` and a linear
// layer is `[out, in]`. The random source is a *rand.Rand from math/rand/v2, so a fixed seed always
// produces the same network.
package initializer

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/prunekit/prunekit/pkg/core/tensors"
	"github.com/x448/float16"
)

// Initializer creates a tensor of the given shape.
type Initializer func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor

var (
	// Zero initializes tensors with zero.
	Zero Initializer = func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return tensors.FromShape(shape)
	}

	// One initializes tensors with one.
	One Initializer = func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return 1 })
	}
)

// NewRand returns the deterministic random source used to initialize networks.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// fill creates a tensor of the given shape with values produced by next, in flat order.
func fill(shape shapes.Shape, next func() float64) *tensors.Tensor {
	t := tensors.FromShape(shape)
	t.MutableFlatData(func(flat any) {
		switch f := flat.(type) {
		case []float32:
			for ii := range f {
				f[ii] = float32(next())
			}
		case []float64:
			for ii := range f {
				f[ii] = next()
			}
		case []float16.Float16:
			for ii := range f {
				f[ii] = float16.Fromfloat32(float32(next()))
			}
		default:
			exceptions.Panicf("initializer: dtype %s not supported", shape.DType)
		}
	})
	return t
}

// ComputeFanIn of a weight tensor expected to be the parameters of a linear or convolution layer:
// it is the product of all axes but the first (output) one.
func ComputeFanIn(shape shapes.Shape) int {
	if shape.Rank() <= 1 {
		return 0
	}
	fanIn := 1
	for _, dim := range shape.Dimensions[1:] {
		fanIn *= dim
	}
	return fanIn
}

// Uniform returns an initializer that generates random uniform values from [minValue, maxValue).
func Uniform(minValue, maxValue float64) Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return minValue + rng.Float64()*(maxValue-minValue) })
	}
}

// HeUniform returns the initializer that tries to preserve the variance of 1, calculated for the Relu
// activation functions, drawing from a uniform distribution within `[-limit, limit)`,
// where `limit = sqrt(6 / fan_in)`.
//
// It initializes biases (anything with rank <= 1) to zeros.
//
// [1] https://arxiv.org/pdf/1502.01852
func HeUniform(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
	if shape.Rank() <= 1 {
		return tensors.FromShape(shape)
	}
	limit := math.Sqrt(6.0 / max(1.0, float64(ComputeFanIn(shape))))
	return Uniform(-limit, limit)(rng, shape)
}
