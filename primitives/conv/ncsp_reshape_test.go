// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/types/dtypes"
	"github.com/taoye9/godnn/types/memory"
)

func TestActivationsToMatmul(t *testing.T) {
	testCases := []struct {
		name     string
		in       memory.Desc
		groups   int
		wantDims []int
	}{
		{"1d", memory.NewDesc(dtypes.Float32, []int{2, 6, 5}, memory.NCW), 1, []int{2, 6, 5}},
		{"2d", memory.NewDesc(dtypes.Float32, []int{2, 6, 4, 5}, memory.NCHW), 1, []int{2, 6, 20}},
		{"3d", memory.NewDesc(dtypes.Float32, []int{2, 6, 3, 4, 5}, memory.NCDHW), 1, []int{2, 6, 60}},
		{"2d grouped", memory.NewDesc(dtypes.Float32, []int{2, 6, 4, 5}, memory.NCHW), 3, []int{2, 3, 2, 20}},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			out, err := activationsToMatmul(test.in, test.groups)
			require.NoError(t, err)
			assert.Equal(t, test.wantDims, out.Dims)
			assert.Equal(t, memory.RowMajor(len(test.wantDims)), out.Layout)
			// Same flat buffer, same element order: a view, not a copy.
			assert.Equal(t, test.in.Size(), out.Size())

			back, err := activationsFromMatmul(out, test.in)
			require.NoError(t, err)
			assert.True(t, test.in.Equal(back), "round trip: %s vs %s", test.in, back)
		})
	}
}

func TestActivationsToMatmulAny(t *testing.T) {
	in := memory.NewAny(dtypes.Float32, 2, 6, 4, 5)
	out, err := activationsToMatmul(in, 2)
	require.NoError(t, err)
	assert.True(t, out.IsAny())
	assert.Equal(t, []int{2, 2, 3, 20}, out.Dims)

	back, err := activationsFromMatmul(out, in)
	require.NoError(t, err)
	assert.True(t, back.IsAny())
	assert.Equal(t, in.Dims, back.Dims)
}

func TestActivationsToMatmulErrors(t *testing.T) {
	_, err := activationsToMatmul(memory.NewDesc(dtypes.Float32, []int{2, 6}, memory.AB), 1)
	require.ErrorIs(t, err, primitives.ErrShape)

	_, err = activationsToMatmul(memory.NewDesc(dtypes.Float32, []int{2, 5, 4, 4}, memory.NCHW), 3)
	require.ErrorIs(t, err, primitives.ErrShape)

	// Channel-last is not contiguous in logical order: no zero-copy view.
	_, err = activationsToMatmul(memory.NewDesc(dtypes.Float32, []int{2, 6, 4, 5}, memory.NHWC), 1)
	require.ErrorContains(t, err, "not contiguous")
}

func TestWeightsToMatmul(t *testing.T) {
	plain := memory.NewDesc(dtypes.Float32, []int{4, 3, 1, 1}, memory.ABCD)
	out, err := weightsToMatmul(plain, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 3}, out.Dims)
	assert.Equal(t, memory.ABC, out.Layout)

	back, err := weightsFromMatmul(out, plain)
	require.NoError(t, err)
	assert.True(t, plain.Equal(back), "round trip: %s vs %s", plain, back)

	grouped := memory.NewDesc(dtypes.Float32, []int{2, 2, 3, 1, 1}, memory.ABCDE)
	out, err = weightsToMatmul(grouped, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 3}, out.Dims)

	back, err = weightsFromMatmul(out, grouped)
	require.NoError(t, err)
	assert.True(t, grouped.Equal(back))
}

func TestWeightsToMatmulErrors(t *testing.T) {
	// A kernel wider than one point reads neighboring spatial positions:
	// no reinterpretation can express that.
	wide := memory.NewDesc(dtypes.Float32, []int{4, 3, 3, 3}, memory.ABCD)
	_, err := weightsToMatmul(wide, false)
	require.ErrorIs(t, err, primitives.ErrShape)

	_, err = weightsToMatmul(memory.NewDesc(dtypes.Float32, []int{4, 3}, memory.AB), false)
	require.ErrorIs(t, err, primitives.ErrShape)
}

func TestWeightsToMatmulAny(t *testing.T) {
	in := memory.NewAny(dtypes.Float32, 4, 3, 1, 1)
	out, err := weightsToMatmul(in, false)
	require.NoError(t, err)
	assert.True(t, out.IsAny())
	assert.Equal(t, []int{1, 4, 3}, out.Dims)
}
