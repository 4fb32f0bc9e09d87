// Package shapeinference calculates the shape resulting from the layers of a network and validates their inputs.
//
// Activations are traced without a batch axis: a feature map is shaped `[channels, height, width]` and the
// output of a flatten (or of a linear layer) is shaped `[features]`.
//
// It defines one function per kind of operation. Each returns the output shape, or an error describing why the
// inputs are inconsistent. None of them panic on bad input.
package shapeinference

import (
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/shapes"
)

// checkFeatureMap returns an error if the shape is not a valid `[C, H, W]` feature map.
func checkFeatureMap(opName string, input shapes.Shape) error {
	if !input.Ok() {
		return errors.Errorf("%s: invalid input shape %s", opName, input)
	}
	if input.Rank() != 3 {
		return errors.Errorf("%s: input must be a feature map shaped [channels, height, width], got %s", opName, input)
	}
	return nil
}

// windowOutputDim returns the output size of a window operation along one spatial axis.
// output_dim = floor((padded_input_size - effective_window_size) / stride) + 1
func windowOutputDim(inputDim, window, stride, padding, dilation int) (int, error) {
	if window < 1 || stride < 1 || dilation < 1 || padding < 0 {
		return 0, errors.Errorf("invalid window parameters window=%d, stride=%d, padding=%d, dilation=%d",
			window, stride, padding, dilation)
	}
	effectiveWindow := (window-1)*dilation + 1
	padded := inputDim + 2*padding
	if effectiveWindow > padded {
		return 0, errors.Errorf("effective window dimension %d is larger than padded input dimension %d "+
			"(input_dim: %d, window: %d, dilation: %d, padding: %d)", effectiveWindow, padded, inputDim, window, dilation, padding)
	}
	return (padded-effectiveWindow)/stride + 1, nil
}

// ConvOp returns the output shape of a 2D convolution of a `[C, H, W]` input with a kernel shaped
// `[outChannels, inChannels, kernelH, kernelW]`.
//
// The number of input channels of the kernel must match the input's channel axis.
func ConvOp(input, kernel shapes.Shape, stride, padding, dilation int) (shapes.Shape, error) {
	errorf := func(format string, args ...any) (shapes.Shape, error) {
		return shapes.Invalid(), errors.Errorf("ConvOp: "+format, args...)
	}
	if err := checkFeatureMap("ConvOp", input); err != nil {
		return shapes.Invalid(), err
	}
	if !kernel.Ok() || kernel.Rank() != 4 {
		return errorf("kernel must be shaped [out, in, kh, kw], got %s", kernel)
	}
	if kernel.DType != input.DType {
		return errorf("input dtype %s doesn't match kernel dtype %s", input.DType, kernel.DType)
	}
	if kernel.Dim(1) != input.Dim(0) {
		return errorf("kernel %s expects %d input channels, but input %s has %d",
			kernel, kernel.Dim(1), input, input.Dim(0))
	}
	outputDims := []int{kernel.Dim(0), 0, 0}
	for ii := range 2 {
		dim, err := windowOutputDim(input.Dim(1+ii), kernel.Dim(2+ii), stride, padding, dilation)
		if err != nil {
			return shapes.Invalid(), errors.WithMessagef(err, "ConvOp(input=%s, kernel=%s) spatial axis %d", input, kernel, ii)
		}
		outputDims[1+ii] = dim
	}
	return shapes.Make(input.DType, outputDims...), nil
}

// PoolOp returns the output shape of a max or average pooling over square windows.
// A stride of 0 defaults to the window size.
func PoolOp(input shapes.Shape, window, stride, padding int) (shapes.Shape, error) {
	if err := checkFeatureMap("PoolOp", input); err != nil {
		return shapes.Invalid(), err
	}
	if stride == 0 {
		stride = window
	}
	output := input.Clone()
	for ii := range 2 {
		dim, err := windowOutputDim(input.Dim(1+ii), window, stride, padding, 1)
		if err != nil {
			return shapes.Invalid(), errors.WithMessagef(err, "PoolOp(input=%s) spatial axis %d", input, ii)
		}
		output.Dimensions[1+ii] = dim
	}
	return output, nil
}

// GlobalPoolOp returns the output shape of a global average pooling: `[C, 1, 1]`.
func GlobalPoolOp(input shapes.Shape) (shapes.Shape, error) {
	if err := checkFeatureMap("GlobalPoolOp", input); err != nil {
		return shapes.Invalid(), err
	}
	return shapes.Make(input.DType, input.Dim(0), 1, 1), nil
}

// UpsampleOp returns the output shape of a nearest-neighbour upsampling by an integer factor.
func UpsampleOp(input shapes.Shape, factor int) (shapes.Shape, error) {
	if err := checkFeatureMap("UpsampleOp", input); err != nil {
		return shapes.Invalid(), err
	}
	if factor < 1 {
		return shapes.Invalid(), errors.Errorf("UpsampleOp: factor must be >= 1, got %d", factor)
	}
	return shapes.Make(input.DType, input.Dim(0), input.Dim(1)*factor, input.Dim(2)*factor), nil
}

// ConcatenateOp returns the output shape of the concatenation of the inputs along the given axis.
// All other axes must match.
func ConcatenateOp(inputs []shapes.Shape, axis int) (output shapes.Shape, err error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), errors.Errorf("ConcatenateOp requires at least one input shape")
	}

	firstShape := inputs[0]
	dtype := firstShape.DType
	rank := firstShape.Rank()
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for first input of ConcatenateOp", firstShape)
	}
	if axis < 0 || axis >= rank {
		return shapes.Invalid(), errors.Errorf("invalid concatenation axis %d for shapes with rank %d", axis, rank)
	}
	output = firstShape.Clone()
	for i := 1; i < len(inputs); i++ {
		currentShape := inputs[i]
		if currentShape.DType != dtype {
			return shapes.Invalid(), errors.Errorf("mismatched DTypes for ConcatenateOp: input #0 has %s, input #%d has %s",
				dtype, i, currentShape.DType)
		}
		if currentShape.Rank() != rank {
			return shapes.Invalid(), errors.Errorf("mismatched ranks for ConcatenateOp: input #0 has rank %d, input #%d has rank %d",
				rank, i, currentShape.Rank())
		}
		for d := range rank {
			if d == axis {
				output.Dimensions[d] += currentShape.Dimensions[d]
			} else if currentShape.Dimensions[d] != output.Dimensions[d] {
				return shapes.Invalid(), errors.Errorf("mismatched dimensions for ConcatenateOp at axis %d (non-concatenation axis): input #0 has %d, input #%d has %d",
					d, output.Dimensions[d], i, currentShape.Dimensions[d])
			}
		}
	}
	return output, nil
}

// ElementwiseOp returns the output shape of an element-wise operation (e.g. a residual addition) over the inputs,
// which must all have exactly the same shape. No broadcasting is done.
func ElementwiseOp(inputs ...shapes.Shape) (shapes.Shape, error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), errors.Errorf("ElementwiseOp requires at least one input shape")
	}
	for ii, input := range inputs {
		if !input.Ok() {
			return shapes.Invalid(), errors.Errorf("ElementwiseOp: invalid shape %s for input #%d", input, ii)
		}
		if !input.Equal(inputs[0]) {
			return shapes.Invalid(), errors.Errorf("ElementwiseOp: input #0 has shape %s, but input #%d has shape %s",
				inputs[0], ii, input)
		}
	}
	return inputs[0].Clone(), nil
}

// FlattenOp returns the output shape of flattening a `[C, H, W]` feature map into `[C*H*W]` features.
// Flattening an already flat input is a no-op.
func FlattenOp(input shapes.Shape) (shapes.Shape, error) {
	if !input.Ok() {
		return shapes.Invalid(), errors.Errorf("FlattenOp: invalid input shape %s", input)
	}
	return shapes.Make(input.DType, input.Size()), nil
}

// LinearOp returns the output shape of a fully connected layer with weights shaped `[out, in]` applied
// to a `[in]` input.
func LinearOp(input, weights shapes.Shape) (shapes.Shape, error) {
	if !input.Ok() || input.Rank() != 1 {
		return shapes.Invalid(), errors.Errorf("LinearOp: input must be flat ([features]), got %s -- is a flatten missing?", input)
	}
	if !weights.Ok() || weights.Rank() != 2 {
		return shapes.Invalid(), errors.Errorf("LinearOp: weights must be shaped [out, in], got %s", weights)
	}
	if weights.Dim(1) != input.Dim(0) {
		return shapes.Invalid(), errors.Errorf("LinearOp: weights %s expect %d input features, but input %s has %d",
			weights, weights.Dim(1), input, input.Dim(0))
	}
	return shapes.Make(input.DType, weights.Dim(0)), nil
}

// NormalizationOp returns the output shape of a per-channel normalization (batch norm) over the first axis.
// It is the input shape, provided the number of channels matches.
func NormalizationOp(input shapes.Shape, channels int) (shapes.Shape, error) {
	if !input.Ok() || input.Rank() < 1 {
		return shapes.Invalid(), errors.Errorf("NormalizationOp: invalid input shape %s", input)
	}
	if input.Dim(0) != channels {
		return shapes.Invalid(), errors.Errorf("NormalizationOp: normalizes %d channels, but input %s has %d",
			channels, input, input.Dim(0))
	}
	return input.Clone(), nil
}
