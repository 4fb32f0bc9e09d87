package initializer

import (
	"math"
	"testing"

	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/prunekit/prunekit/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeUniform(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 16, 8, 3, 3)
	assert.Equal(t, 72, ComputeFanIn(shape))
	limit := float32(math.Sqrt(6.0 / 72))

	x := HeUniform(NewRand(42), shape)
	require.True(t, x.Shape().Equal(shape))
	for _, v := range tensors.CopyFlatData[float32](x) {
		require.True(t, v >= -limit && v <= limit, "value %g out of [%g, %g]", v, -limit, limit)
	}

	// Deterministic for a fixed seed.
	assert.True(t, x.Equal(HeUniform(NewRand(42), shape)))
	assert.False(t, x.Equal(HeUniform(NewRand(43), shape)))

	// Biases are zeros.
	bias := HeUniform(NewRand(42), shapes.Make(dtypes.Float32, 16))
	assert.Equal(t, make([]float32, 16), tensors.CopyFlatData[float32](bias))
}

func TestConstants(t *testing.T) {
	shape := shapes.Make(dtypes.Float64, 3)
	assert.Equal(t, []float64{1, 1, 1}, tensors.CopyFlatData[float64](One(nil, shape)))
	assert.Equal(t, []float64{0, 0, 0}, tensors.CopyFlatData[float64](Zero(nil, shape)))
}
