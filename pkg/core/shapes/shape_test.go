// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 128, 64, 3, 3)
	require.True(t, s.Ok())
	assert.Equal(t, 4, s.Rank())
	assert.Equal(t, 128*64*9, s.Size())
	assert.Equal(t, uintptr(128*64*9*4), s.Memory())
	assert.Equal(t, 3, s.Dim(-1))
	assert.Equal(t, 64, s.Dim(1))
	assert.Equal(t, "(Float32)[128 64 3 3]", s.String())
	assert.Panics(t, func() { s.Dim(4) })
	assert.Panics(t, func() { Make(dtypes.Float32, 3, 0) })
	assert.False(t, Invalid().Ok())
}

func TestEqualAndClone(t *testing.T) {
	s := Make(dtypes.Float16, 10, 20)
	s2 := s.Clone()
	s2.Dimensions[0] = 11
	assert.Equal(t, 10, s.Dim(0))
	assert.False(t, s.Equal(s2))
	assert.True(t, s.Equal(Make(dtypes.Float16, 10, 20)))
	assert.False(t, s.Equal(Make(dtypes.Float32, 10, 20)))
	assert.True(t, s.EqualDimensions(Make(dtypes.Float32, 10, 20)))
}

func TestWithDim(t *testing.T) {
	s := Make(dtypes.Float32, 64, 3, 7, 7)
	s2 := s.WithDim(0, 51)
	assert.Equal(t, []int{51, 3, 7, 7}, s2.Dimensions)
	assert.Equal(t, 64, s.Dim(0))
	assert.Equal(t, []int{64, 3, 7, 5}, s.WithDim(-1, 5).Dimensions)
	assert.Panics(t, func() { s.WithDim(0, 0) })
}
