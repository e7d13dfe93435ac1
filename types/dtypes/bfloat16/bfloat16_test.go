// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package bfloat16

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversionRoundTrip(t *testing.T) {
	// Values exactly representable in 8 mantissa bits survive the round
	// trip unchanged.
	for _, v := range []float32{0, 1, -1, 0.5, 2, -3.5, 256} {
		assert.Equal(t, v, FromFloat32(v).Float32())
	}
	// Truncation drops low mantissa bits.
	got := FromFloat32(1.0001).Float32()
	assert.InDelta(t, 1.0001, got, 1.0/128)
}

func TestBits(t *testing.T) {
	one := FromFloat32(1)
	assert.Equal(t, uint16(0x3f80), one.Bits())
	assert.Equal(t, one, FromBits(0x3f80))
	assert.Equal(t, "1", one.String())
}

func TestInf(t *testing.T) {
	assert.True(t, math.IsInf(float64(Inf(1).Float32()), 1))
	assert.True(t, math.IsInf(float64(Inf(-1).Float32()), -1))
	assert.Equal(t, FromFloat64(2.5), FromFloat32(2.5))
}
