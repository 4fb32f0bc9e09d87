// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types a weight tensor can hold.
//
// Only floating point types are supported: pruning ranks and slices learned weights, and
// checkpoints of quantized (integer) models are out of scope.
//
// Go float16 support uses the github.com/x448/float16 implementation.
package dtypes

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum with the data type of the elements of a tensor.
type DType int32

//go:generate go tool enumer -type=DType -output=gen_dtype_enumer.go dtypes.go

const (
	// InvalidDType is the zero value, and it is used to mark unset shapes.
	InvalidDType DType = iota

	// Float32 is the default type for weights.
	Float32

	// Float64 is mostly used for testing and for models exported from double precision pipelines.
	Float64

	// Float16 (IEEE 754 half-precision) weights, usually from models exported for low-resource devices.
	Float16
)

// Supported lists the Go types that can be used as elements of a tensor.
type Supported interface {
	float32 | float64 | float16.Float16
}

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case float16.Float16:
		return Float16
	}
	return InvalidDType
}

// FromAny introspects the underlying type of any and returns the corresponding DType.
// Unsupported types return InvalidDType.
func FromAny(value any) DType {
	switch value.(type) {
	case float32, []float32:
		return Float32
	case float64, []float64:
		return Float64
	case float16.Float16, []float16.Float16:
		return Float16
	}
	return InvalidDType
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	switch dtype {
	case Float32:
		return 4
	case Float64:
		return 8
	case Float16:
		return 2
	}
	return 0
}

// Memory returns the number of bytes for the given DType, converted to uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// IsFloat returns whether dtype is a supported float.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float64 || dtype == Float16
}

var (
	float32Type = reflect.TypeOf(float32(0))
	float64Type = reflect.TypeOf(float64(0))
	float16Type = reflect.TypeOf(float16.Float16(0))
)

// GoType returns the Go `reflect.Type` corresponding to the tensor DType.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Float32:
		return float32Type
	case Float64:
		return float64Type
	case Float16:
		return float16Type
	}
	panicf("unknown dtype %q (%d) in DType.GoType", dtype, dtype)
	return nil
}

// MakeFlat allocates a flat slice of the Go type corresponding to dtype, with the given number of elements.
// It returns the slice as `any`: it will be a []float32, []float64 or []float16.Float16.
func (dtype DType) MakeFlat(size int) any {
	switch dtype {
	case Float32:
		return make([]float32, size)
	case Float64:
		return make([]float64, size)
	case Float16:
		return make([]float16.Float16, size)
	}
	panicf("cannot allocate flat data for dtype %s", dtype)
	return nil
}
