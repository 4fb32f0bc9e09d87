package shapeinference

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Aliases
var (
	F32 = dtypes.Float32
	MS  = shapes.Make
)

func TestConvOp(t *testing.T) {
	// ResNet stem: 7x7 stride 2 padding 3 on 224x224.
	output := must.M1(ConvOp(MS(F32, 3, 224, 224), MS(F32, 64, 3, 7, 7), 2, 3, 1))
	assert.Equal(t, []int{64, 112, 112}, output.Dimensions)

	// 3x3, padding 1, keeps spatial dimensions.
	output = must.M1(ConvOp(MS(F32, 64, 56, 56), MS(F32, 128, 64, 3, 3), 1, 1, 1))
	assert.Equal(t, []int{128, 56, 56}, output.Dimensions)

	// Dilation 2 without padding.
	output = must.M1(ConvOp(MS(F32, 1, 10, 10), MS(F32, 1, 1, 3, 3), 1, 0, 2))
	assert.Equal(t, []int{1, 6, 6}, output.Dimensions)

	var err error
	_, err = ConvOp(MS(F32, 32, 56, 56), MS(F32, 128, 64, 3, 3), 1, 1, 1)
	require.ErrorContains(t, err, "input channels")
	_, err = ConvOp(MS(F32, 64, 2, 2), MS(F32, 128, 64, 5, 5), 1, 0, 1)
	require.Error(t, err)
	_, err = ConvOp(MS(F32, 64), MS(F32, 128, 64, 3, 3), 1, 0, 1)
	require.Error(t, err)
	_, err = ConvOp(MS(F32, 64, 8, 8), MS(dtypes.Float64, 128, 64, 3, 3), 1, 0, 1)
	require.Error(t, err)
}

func TestPoolOps(t *testing.T) {
	output := must.M1(PoolOp(MS(F32, 64, 112, 112), 3, 2, 1))
	assert.Equal(t, []int{64, 56, 56}, output.Dimensions)
	output = must.M1(PoolOp(MS(F32, 6, 28, 28), 2, 0, 0))
	assert.Equal(t, []int{6, 14, 14}, output.Dimensions)
	output = must.M1(GlobalPoolOp(MS(F32, 512, 7, 7)))
	assert.Equal(t, []int{512, 1, 1}, output.Dimensions)
	output = must.M1(UpsampleOp(MS(F32, 16, 7, 7), 2))
	assert.Equal(t, []int{16, 14, 14}, output.Dimensions)

	_, err := PoolOp(MS(F32, 6, 1, 1), 2, 2, 0)
	require.Error(t, err)
	_, err = UpsampleOp(MS(F32, 16, 7, 7), 0)
	require.Error(t, err)
}

func TestConcatenateOp(t *testing.T) {
	output := must.M1(ConcatenateOp([]shapes.Shape{MS(F32, 32, 8, 8), MS(F32, 16, 8, 8)}, 0))
	assert.Equal(t, []int{48, 8, 8}, output.Dimensions)
	_, err := ConcatenateOp([]shapes.Shape{MS(F32, 32, 8, 8), MS(F32, 16, 4, 4)}, 0)
	require.Error(t, err)
	_, err = ConcatenateOp(nil, 0)
	require.Error(t, err)
	_, err = ConcatenateOp([]shapes.Shape{MS(F32, 32, 8, 8)}, 3)
	require.Error(t, err)
}

func TestElementwiseFlattenLinearNormalization(t *testing.T) {
	output := must.M1(ElementwiseOp(MS(F32, 64, 8, 8), MS(F32, 64, 8, 8)))
	assert.Equal(t, []int{64, 8, 8}, output.Dimensions)
	_, err := ElementwiseOp(MS(F32, 64, 8, 8), MS(F32, 60, 8, 8))
	require.Error(t, err)

	output = must.M1(FlattenOp(MS(F32, 16, 5, 5)))
	assert.Equal(t, []int{400}, output.Dimensions)

	output = must.M1(LinearOp(MS(F32, 400), MS(F32, 120, 400)))
	assert.Equal(t, []int{120}, output.Dimensions)
	_, err = LinearOp(MS(F32, 16, 5, 5), MS(F32, 120, 400))
	require.ErrorContains(t, err, "flatten")
	_, err = LinearOp(MS(F32, 399), MS(F32, 120, 400))
	require.Error(t, err)

	output = must.M1(NormalizationOp(MS(F32, 64, 8, 8), 64))
	assert.Equal(t, []int{64, 8, 8}, output.Dimensions)
	_, err = NormalizationOp(MS(F32, 64, 8, 8), 32)
	require.Error(t, err)
}
