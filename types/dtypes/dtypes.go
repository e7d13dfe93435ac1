// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes defines the DType enum of element types supported by goDNN
// primitives, with converters to and from Go native types and constraint
// interfaces to be used with generics.
//
// Float16 support uses the github.com/x448/float16 implementation, and
// bfloat16 a local trivial implementation.
package dtypes

import (
	"reflect"

	"github.com/x448/float16"

	"github.com/taoye9/godnn/types/dtypes/bfloat16"
)

// DType is an enum of the data type of a tensor's unit element.
type DType int32

const (
	// InvalidDType serves as the zero-value default.
	InvalidDType DType = iota

	Int8
	Int32
	Int64
	Uint8
	Float16
	BFloat16
	Float32
	Float64

	// MaxDType bounds the enum, for dispatch tables indexed by DType.
	MaxDType
)

var dtypeNames = [MaxDType]string{
	"InvalidDType", "Int8", "Int32", "Int64", "Uint8",
	"Float16", "BFloat16", "Float32", "Float64",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || dtype >= MaxDType {
		return "DType(?)"
	}
	return dtypeNames[dtype]
}

// Ok reports whether dtype is a valid, supported data type.
func (dtype DType) Ok() bool {
	return dtype > InvalidDType && dtype < MaxDType
}

// Supported enumerates the Go types that have a corresponding DType.
type Supported interface {
	int8 | int32 | int64 | uint8 |
		float16.Float16 | bfloat16.BFloat16 | float32 | float64
}

// Float enumerates the Go native float types, for generic float-only kernels.
// Float16 and BFloat16 are excluded: they are storage types and kernels
// convert them to float32 for arithmetic.
type Float interface {
	float32 | float64
}

// FromGenericsType returns the DType corresponding to the Go type parameter.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case int8:
		return Int8
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return InvalidDType
}

// Pre-generated reflect.Type values for the non-native types.
var (
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))
)

// GoType returns the Go reflect.Type corresponding to the DType.
// It returns nil for invalid dtypes.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Int8:
		return reflect.TypeOf(int8(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Float16:
		return float16Type
	case BFloat16:
		return bfloat16Type
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	default:
		return nil
	}
}

// FromGoType returns the DType for the given reflect.Type, or InvalidDType
// if the type is not supported.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	if t == bfloat16Type {
		return BFloat16
	}
	switch t.Kind() {
	case reflect.Int8:
		return Int8
	case reflect.Int32:
		return Int32
	case reflect.Int64:
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return InvalidDType
	}
}

// FromAny introspects the underlying type of value and returns the
// corresponding DType. Unsupported types return InvalidDType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// Size returns the number of bytes used by one element of the DType.
func (dtype DType) Size() int {
	switch dtype {
	case Int8, Uint8:
		return 1
	case Float16, BFloat16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Memory is an alias to Size, converted to uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// IsFloat reports whether the dtype is one of the floating-point types.
func (dtype DType) IsFloat() bool {
	switch dtype {
	case Float16, BFloat16, Float32, Float64:
		return true
	default:
		return false
	}
}
