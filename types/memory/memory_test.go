// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoye9/godnn/types/dtypes"
)

func TestLayoutRank(t *testing.T) {
	assert.Equal(t, 0, LayoutAny.Rank())
	assert.Equal(t, 1, A.Rank())
	assert.Equal(t, 2, AB.Rank())
	assert.Equal(t, 3, NCW.Rank())
	assert.Equal(t, 4, NHWC.Rank())
	assert.Equal(t, 5, NCDHW.Rank())
	assert.Equal(t, 5, ABCDE.Rank())

	for rank := 3; rank <= 5; rank++ {
		assert.Equal(t, rank, ChannelsFirst(rank).Rank())
		assert.Equal(t, rank, ChannelsLast(rank).Rank())
		assert.True(t, ChannelsLast(rank).IsChannelsLast())
		assert.False(t, ChannelsFirst(rank).IsChannelsLast())
	}
	for rank := 1; rank <= 5; rank++ {
		assert.Equal(t, rank, RowMajor(rank).Rank())
	}
	require.Panics(t, func() { ChannelsFirst(2) })
	require.Panics(t, func() { RowMajor(6) })
}

func TestNewDescStrides(t *testing.T) {
	testCases := []struct {
		layout      Layout
		dims        []int
		wantStrides []int
	}{
		{NCW, []int{2, 3, 5}, []int{15, 5, 1}},
		{NCHW, []int{2, 3, 4, 5}, []int{60, 20, 5, 1}},
		{NCDHW, []int{2, 3, 2, 4, 5}, []int{120, 40, 20, 5, 1}},
		{NWC, []int{2, 3, 5}, []int{15, 1, 3}},
		{NHWC, []int{2, 3, 4, 5}, []int{60, 1, 15, 3}},
		{NDHWC, []int{2, 3, 2, 4, 5}, []int{120, 1, 60, 15, 3}},
		{A, []int{7}, []int{1}},
		{AB, []int{4, 7}, []int{7, 1}},
		{ABCD, []int{2, 3, 4, 5}, []int{60, 20, 5, 1}},

		// Zero dims are representable; strides treat them as extent 1.
		{NCHW, []int{2, 3, 0, 5}, []int{15, 5, 5, 1}},
	}
	for _, test := range testCases {
		d := NewDesc(dtypes.Float32, test.dims, test.layout)
		assert.Equalf(t, test.wantStrides, d.Strides, "strides of %s", d)
		assert.Equal(t, test.dims, d.Dims)
	}
}

func TestNewDescPanics(t *testing.T) {
	require.Panics(t, func() { NewDesc(dtypes.InvalidDType, []int{2, 3, 4}, NCW) })
	require.Panics(t, func() { NewDesc(dtypes.Float32, []int{2, -3, 4}, NCW) })
	require.Panics(t, func() { NewDesc(dtypes.Float32, []int{2, 3, 4}, LayoutAny) })
	require.Panics(t, func() { NewDesc(dtypes.Float32, []int{2, 3, 4, 5}, NCW) })
	require.Panics(t, func() { NewAny(dtypes.Float32, 2, -1) })
}

func TestDescAnyAndBackFill(t *testing.T) {
	d := NewAny(dtypes.Float32, 2, 3, 4, 5)
	assert.True(t, d.IsAny())
	assert.True(t, d.Ok())
	assert.Nil(t, d.Strides)
	assert.False(t, d.MatchesLayout(NCHW))
	assert.False(t, d.IsDenseRowMajor())

	filled := d.WithLayout(NHWC)
	assert.False(t, filled.IsAny())
	assert.Equal(t, []int{60, 1, 15, 3}, filled.Strides)
	// The original is unchanged: Desc is a value type.
	assert.True(t, d.IsAny())
}

func TestDescAccessors(t *testing.T) {
	d := NewDesc(dtypes.Float64, []int{2, 3, 4, 5}, NCHW)
	assert.Equal(t, 4, d.Rank())
	assert.Equal(t, 120, d.Size())
	assert.Equal(t, uintptr(120*8), d.Memory())
	assert.Equal(t, 3, d.Dim(1))
	assert.Equal(t, 5, d.Dim(-1))
	require.Panics(t, func() { d.Dim(4) })
	assert.False(t, d.HasZeroDim())
	assert.True(t, NewDesc(dtypes.Float32, []int{2, 0, 4}, NCW).HasZeroDim())
	assert.Equal(t, "(float64)[2 3 4 5]@nchw", d.String())

	var zero Desc
	assert.False(t, zero.Ok())
}

func TestDescOffset(t *testing.T) {
	nchw := NewDesc(dtypes.Float32, []int{2, 3, 4, 5}, NCHW)
	assert.Equal(t, 0, nchw.Offset(0, 0, 0, 0))
	assert.Equal(t, 1*60+2*20+3*5+4, nchw.Offset(1, 2, 3, 4))

	nhwc := nchw.WithLayout(NHWC)
	assert.Equal(t, 1*60+2*1+3*15+4*3, nhwc.Offset(1, 2, 3, 4))
	require.Panics(t, func() { nchw.Offset(1, 2, 3) })
}

func TestMatchesLayout(t *testing.T) {
	// Channel-first strides are plain row-major, so both tags match.
	ncw := NewDesc(dtypes.Float32, []int{2, 3, 5}, NCW)
	assert.True(t, ncw.MatchesLayout(NCW))
	assert.True(t, ncw.MatchesLayout(ABC))
	assert.False(t, ncw.MatchesLayout(NWC))
	assert.False(t, ncw.MatchesLayout(NCHW)) // rank mismatch
	assert.False(t, ncw.MatchesLayout(LayoutAny))

	nwc := ncw.WithLayout(NWC)
	assert.True(t, nwc.MatchesLayout(NWC))
	assert.False(t, nwc.MatchesLayout(NCW))

	// With a single channel and a single spatial position the two layouts
	// collapse to the same strides.
	point := NewDesc(dtypes.Float32, []int{4, 1, 1}, NCW)
	assert.True(t, point.MatchesLayout(NWC))
	assert.True(t, point.MatchesLayout(NCW))
}

func TestIsDenseRowMajor(t *testing.T) {
	assert.True(t, NewDesc(dtypes.Float32, []int{2, 3, 4, 5}, NCHW).IsDenseRowMajor())
	assert.True(t, NewDesc(dtypes.Float32, []int{4, 7}, AB).IsDenseRowMajor())
	assert.False(t, NewDesc(dtypes.Float32, []int{2, 3, 4, 5}, NHWC).IsDenseRowMajor())
	// Stride comparison is exact, including on unit axes: channel-last with
	// one channel keeps stride 1 there where row-major wants the plane size.
	assert.False(t, NewDesc(dtypes.Float32, []int{2, 1, 4, 5}, NHWC).IsDenseRowMajor())
}

func TestDescEqualAndClone(t *testing.T) {
	a := NewDesc(dtypes.Float32, []int{2, 3, 5}, NCW)
	b := NewDesc(dtypes.Float32, []int{2, 3, 5}, NCW)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(a.WithLayout(ABC))) // same strides, different tag
	assert.False(t, a.Equal(NewDesc(dtypes.Float64, []int{2, 3, 5}, NCW)))

	c := a.Clone()
	assert.True(t, a.Equal(c))
	c.Dims[0] = 7
	assert.Equal(t, 2, a.Dims[0])
}

func TestReshape(t *testing.T) {
	src := NewDesc(dtypes.Float32, []int{2, 3, 4, 5}, NCHW)

	out, err := Reshape(src, 2, 3, 20)
	require.NoError(t, err)
	assert.Equal(t, ABC, out.Layout)
	assert.Equal(t, []int{2, 3, 20}, out.Dims)
	assert.Equal(t, []int{60, 20, 1}, out.Strides)

	// Round trip back to the original grouping.
	back, err := Reshape(out, 2, 3, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, src.Dims, back.Dims)
	assert.Equal(t, src.Strides, back.Strides)
	assert.True(t, src.Equal(back.WithLayout(NCHW)))

	_, err = Reshape(src, 2, 3, 21)
	require.ErrorContains(t, err, "element count")
	_, err = Reshape(src, 120)
	require.ErrorContains(t, err, "no dense layout")
	_, err = Reshape(src.WithLayout(NHWC), 2, 3, 20)
	require.ErrorContains(t, err, "not contiguous")
	_, err = Reshape(Desc{}, 1)
	require.Error(t, err)
}
