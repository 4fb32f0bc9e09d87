// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Float64, FromGenericsType[float64]())
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
}

func TestFromAny(t *testing.T) {
	assert.Equal(t, Float32, FromAny([]float32{1}))
	assert.Equal(t, Float64, FromAny(2.0))
	assert.Equal(t, Float16, FromAny([]float16.Float16{float16.Fromfloat32(1)}))
	assert.Equal(t, InvalidDType, FromAny([]int{1}))
}

func TestSizes(t *testing.T) {
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Float64.Size())
	assert.Equal(t, 2, Float16.Size())
	assert.Equal(t, 0, InvalidDType.Size())
	assert.False(t, InvalidDType.IsFloat())
}

func TestDTypeString(t *testing.T) {
	for _, dtype := range DTypeValues() {
		parsed, err := DTypeString(dtype.String())
		require.NoError(t, err)
		assert.Equal(t, dtype, parsed)
	}
	parsed, err := DTypeString("float16")
	require.NoError(t, err)
	assert.Equal(t, Float16, parsed)
	_, err = DTypeString("int8")
	require.Error(t, err)
}

func TestMakeFlat(t *testing.T) {
	flat := Float16.MakeFlat(3)
	require.IsType(t, []float16.Float16{}, flat)
	assert.Len(t, flat.([]float16.Float16), 3)
	assert.Panics(t, func() { InvalidDType.MakeFlat(1) })
}
