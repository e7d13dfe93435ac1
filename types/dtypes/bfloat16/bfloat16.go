// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 is a trivial implementation of the bfloat16 type, the
// 16-bit truncation of IEEE 754 float32, complementing github.com/x448/float16.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) keeps the 8-bit exponent of float32 and
// truncates the mantissa to 7 bits. Conversion to and from float32 is a
// plain bit shift.
type BFloat16 uint16

// Float32 converts back to float32. The conversion is exact.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, truncating the mantissa.
func FromFloat32(x float32) BFloat16 {
	return BFloat16(math.Float32bits(x) >> 16)
}

// FromFloat64 converts a float64 to a BFloat16.
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// FromBits reinterprets an uint16 as a BFloat16.
func FromBits(bits uint16) BFloat16 {
	return BFloat16(bits)
}

// Bits returns the raw bit pattern.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// String implements fmt.Stringer, printing the float32 value.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}

// Inf returns positive infinity if sign >= 0, negative infinity otherwise.
func Inf(sign int) BFloat16 {
	return FromFloat32(float32(math.Inf(sign)))
}
