// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoye9/godnn/types/dtypes"
	"github.com/taoye9/godnn/types/memory"
)

func TestNewMemory(t *testing.T) {
	desc := memory.NewDesc(dtypes.Float32, []int{2, 3}, memory.AB)
	data := make([]float32, 6)

	m, err := NewMemory(desc, data)
	require.NoError(t, err)
	assert.True(t, m.Ok())

	_, err = NewMemory(desc, make([]float64, 6))
	require.ErrorContains(t, err, "descriptor wants")
	_, err = NewMemory(desc, make([]float32, 5))
	require.ErrorContains(t, err, "wants 6")
	_, err = NewMemory(desc, 42)
	require.ErrorContains(t, err, "must be a slice")
	_, err = NewMemory(memory.NewAny(dtypes.Float32, 2, 3), data)
	require.ErrorContains(t, err, "no concrete layout")
	_, err = NewMemory(memory.Desc{}, data)
	require.Error(t, err)
}

func TestMemoryWithDesc(t *testing.T) {
	desc := memory.NewDesc(dtypes.Float32, []int{2, 3, 4}, memory.NCW)
	data := make([]float32, desc.Size())
	m, err := NewMemory(desc, data)
	require.NoError(t, err)

	// Rebinding reinterprets the same flat slice: writes through the view
	// land in the original.
	view, err := m.WithDesc(memory.NewDesc(dtypes.Float32, []int{2, 12}, memory.AB))
	require.NoError(t, err)
	view.Flat.([]float32)[5] = 42
	assert.Equal(t, float32(42), data[5])

	_, err = m.WithDesc(memory.NewDesc(dtypes.Float32, []int{5, 5}, memory.AB))
	require.ErrorContains(t, err, "view holds only")
}

func TestMemoryFromBytes(t *testing.T) {
	desc := memory.NewDesc(dtypes.Float64, []int{2, 2}, memory.AB)
	b := make([]byte, desc.Memory())

	m, err := MemoryFromBytes(desc, b)
	require.NoError(t, err)
	flat := m.Flat.([]float64)
	require.Len(t, flat, 4)
	flat[0] = 3.5
	assert.NotZero(t, b[0]|b[1]|b[2]|b[3]|b[4]|b[5]|b[6]|b[7])

	_, err = MemoryFromBytes(desc, make([]byte, 8))
	require.ErrorContains(t, err, "needing")
}

func TestArgs(t *testing.T) {
	desc := memory.NewDesc(dtypes.Float32, []int{2}, memory.A)
	m, err := NewMemory(desc, make([]float32, 2))
	require.NoError(t, err)

	args := Args{ArgSrc: m}
	assert.True(t, args.Has(ArgSrc))
	assert.False(t, args.Has(ArgDst))
	assert.Equal(t, m.Desc, args.Get(ArgSrc).Desc)
	require.Panics(t, func() { args.Get(ArgDst) })
}

func TestAttrs(t *testing.T) {
	var none *Attrs
	assert.True(t, none.HasDefaults())
	assert.False(t, none.HasSum())

	sum := &Attrs{PostOps: []PostOp{{Kind: PostOpSum}}}
	assert.False(t, sum.HasDefaults())
	scale, ok := sum.SumScale()
	assert.True(t, ok)
	assert.Equal(t, 1.0, scale) // zero scale defaults to 1

	scaled := &Attrs{PostOps: []PostOp{{Kind: PostOpSum, Scale: 0.5}, {Kind: PostOpReLU}}}
	scale, ok = scaled.SumScale()
	assert.True(t, ok)
	assert.Equal(t, 0.5, scale)
	assert.True(t, scaled.HasSum())

	relu := &Attrs{PostOps: []PostOp{{Kind: PostOpReLU}}}
	assert.False(t, relu.HasSum())
}

func TestDTypeMap(t *testing.T) {
	m := NewDTypeMap("Test")
	m.Register(dtypes.Float32, func() int { return 32 })
	m.Register(dtypes.Float64, func() int { return 64 })

	assert.True(t, m.Supports(dtypes.Float32))
	assert.False(t, m.Supports(dtypes.Int8))
	assert.Equal(t, 32, m.Get(dtypes.Float32).(func() int)())
	require.Panics(t, func() { m.Get(dtypes.Int8) })
}

func TestWorkersPoolParallelFor(t *testing.T) {
	engine := NewEngine()
	workers := engine.Workers()
	assert.Greater(t, workers.MaxParallelism(), 0)

	const n = 10_000
	var sum atomic.Int64
	workers.ParallelFor(n, func(i int) {
		sum.Add(int64(i))
	})
	assert.Equal(t, int64(n*(n-1)/2), sum.Load())

	// Sequential when parallelism is disabled.
	workers.SetMaxParallelism(0)
	assert.False(t, workers.IsEnabled())
	total := 0
	workers.ParallelFor(100, func(i int) { total += i })
	assert.Equal(t, 100*99/2, total)
	workers.ParallelFor(0, func(i int) { t.Fatal("must not be called") })
}
