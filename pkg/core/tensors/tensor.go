// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a dense multidimensional array of weights stored in host memory.
//
// Tensors are defined by their shape (a data type and its axes' dimensions) and their content, always
// stored as a flat slice of the Go type corresponding to the DType, in row-major order.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and a copy of the flattened data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromAnyFlatData(flat any, dimensions ...int): same as above, but non-generic. The flat slice is taken
//     over by the tensor, not copied.
//
// Layers own their weight tensors. A pruning plan never edits a tensor in place: it creates new tensors with
// the selected slices removed and swaps them into the layer only when the whole plan succeeded.
package tensors

import (
	"math"
	"reflect"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/x448/float16"
)

// Tensor represents a multidimensional array of floating point weights.
//
// The shape is immutable. The content is protected by a mutex and accessed with
// ConstFlatData and MutableFlatData.
type Tensor struct {
	shape shapes.Shape

	mu   sync.Mutex
	flat any
}

// FromShape returns a zero-initialized tensor with the given shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.DType.IsFloat() {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported", shape)
	}
	return &Tensor{shape: shape.Clone(), flat: shape.DType.MakeFlat(shape.Size())}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with a copy of the flattened
// values given in `data`. The `DType` is inferred from the `data` type.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: slices.Clone(data)}
}

// FromAnyFlatData creates a tensor from a flat slice given as `any`: it must be a []float32, []float64
// or []float16.Float16. The slice is owned by the tensor afterwards.
func FromAnyFlatData(flat any, dimensions ...int) (*Tensor, error) {
	dtype := dtypes.FromAny(flat)
	if dtype == dtypes.InvalidDType || reflect.TypeOf(flat).Kind() != reflect.Slice {
		return nil, errors.Errorf("tensors.FromAnyFlatData: unsupported flat data type %T", flat)
	}
	var shape shapes.Shape
	err := exceptions.TryCatch[error](func() { shape = shapes.Make(dtype, dimensions...) })
	if err != nil {
		return nil, err
	}
	if n := reflect.ValueOf(flat).Len(); n != shape.Size() {
		return nil, errors.Errorf("tensors.FromAnyFlatData(%s): data size is %d, but dimensions size is %d",
			shape, n, shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}, nil
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the tensor is not nil and has a valid shape.
func (t *Tensor) Ok() bool { return t != nil && t.shape.Ok() && t.flat != nil }

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType.
// It locks the tensor until accessFn returns. accessFn must not change the data.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flattened data, which can be changed in place.
// It locks the tensor until accessFn returns.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// ConstFlatData is the generics version of Tensor.ConstFlatData.
// It panics if T doesn't match the tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	t.ConstFlatData(func(flat any) { accessFn(flat.([]T)) })
}

// MutableFlatData is the generics version of Tensor.MutableFlatData.
// It panics if T doesn't match the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	t.MutableFlatData(func(flat any) { accessFn(flat.([]T)) })
}

// CopyFlatData returns a copy of the flat data of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) (flatCopy []T) {
	ConstFlatData(t, func(flat []T) { flatCopy = slices.Clone(flat) })
	return
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	var flatCopy any
	t.ConstFlatData(func(flat any) {
		v := reflect.ValueOf(flat)
		c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(c, v)
		flatCopy = c.Interface()
	})
	return &Tensor{shape: t.shape.Clone(), flat: flatCopy}
}

// Equal checks whether t and otherTensor have the same shape and bit-identical contents.
// NaNs with the same bit pattern are considered equal.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if t == nil || otherTensor == nil || !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			switch f0 := flat0.(type) {
			case []float32:
				equal = slices.EqualFunc(f0, flat1.([]float32), func(a, b float32) bool {
					return math.Float32bits(a) == math.Float32bits(b)
				})
			case []float64:
				equal = slices.EqualFunc(f0, flat1.([]float64), func(a, b float64) bool {
					return math.Float64bits(a) == math.Float64bits(b)
				})
			case []float16.Float16:
				equal = slices.Equal(f0, flat1.([]float16.Float16))
			default:
				equal = false
			}
		})
	})
	return equal
}

// Strides returns the row-major strides of each axis, in number of elements.
func (t *Tensor) Strides() []int {
	return Strides(t.shape.Dimensions)
}

// Strides returns the row-major strides of each axis for the given dimensions.
func Strides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}
