// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"math"
	"testing"

	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor := FromFlatDataAndDimensions(data, 2, 3)
	data[0] = 100 // The tensor holds a copy.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))
	assert.Equal(t, []int{3, 1}, tensor.Strides())
	assert.Panics(t, func() { FromFlatDataAndDimensions(data, 4, 2) })
	assert.Panics(t, func() { CopyFlatData[float64](tensor) })
}

func TestFromAnyFlatData(t *testing.T) {
	tensor, err := FromAnyFlatData([]float64{1, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, tensor.DType())
	_, err = FromAnyFlatData([]int{1, 2}, 2)
	require.Error(t, err)
	_, err = FromAnyFlatData([]float64{1, 2}, 3)
	require.Error(t, err)
	_, err = FromAnyFlatData([]float64{1, 2}, 0)
	require.Error(t, err)
}

func TestCloneAndEqual(t *testing.T) {
	nan := float32(math.NaN())
	tensor := FromFlatDataAndDimensions([]float32{1, nan, -0.0, 3}, 4)
	clone := tensor.Clone()
	require.True(t, tensor.Equal(clone))
	MutableFlatData(clone, func(flat []float32) { flat[3] = 4 })
	assert.False(t, tensor.Equal(clone))
	assert.False(t, tensor.Equal(FromFlatDataAndDimensions([]float32{1, nan, -0.0, 3}, 2, 2)))

	zeroes := FromFlatDataAndDimensions([]float32{0}, 1)
	negZeroes := FromFlatDataAndDimensions([]float32{float32(math.Copysign(0, -1))}, 1)
	assert.False(t, zeroes.Equal(negZeroes), "equality must be bit-exact")
}

func TestWriteRead(t *testing.T) {
	for _, tensor := range []*Tensor{
		FromFlatDataAndDimensions([]float32{1.5, -2, 3.25, 7}, 2, 2),
		FromFlatDataAndDimensions([]float64{math.Pi, math.E, 1e-300}, 3),
		FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-1)}, 1, 2),
	} {
		var buf bytes.Buffer
		n, err := tensor.Write(&buf)
		require.NoError(t, err)
		require.Equal(t, int(tensor.Memory()), n)
		require.Equal(t, n, buf.Len())
		loaded, err := Read(&buf, tensor.Shape())
		require.NoError(t, err)
		assert.True(t, tensor.Equal(loaded), "tensor %s", tensor)
	}

	_, err := Read(bytes.NewReader([]byte{1, 2, 3}), shapes.Make(dtypes.Float32, 2))
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 5))
	assert.Equal(t, "(Float32)[2 5]{0, 0, 0, 0, 0, 0, ...}", tensor.String())
}
