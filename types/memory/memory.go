// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package memory defines Desc, the logical+physical descriptor of a tensor:
// its dimensions, element type, and memory layout (as a tag plus per-axis
// element strides).
//
// A Desc carries no data. Primitives receive a Desc paired with a flat data
// slice (see the primitives package) and use the strides to address elements.
//
// ## Glossary
//
//   - Rank: number of axes of the tensor.
//   - Channel-first ("ncsp"): logical order {batch, channels, spatial...} laid
//     out row-major, i.e. spatial innermost. Tags NCW, NCHW, NCDHW.
//   - Channel-last ("nspc"): same logical order, but channels innermost in
//     memory. Tags NWC, NHWC, NDHWC.
//   - Row-major: dense layout following the logical axis order. Tags AB..ABCD
//     for matrix-shaped operands.
//   - LayoutAny: the caller lets the implementation pick the layout; strides
//     are unset until a concrete layout is back-filled.
package memory

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/taoye9/godnn/types/dtypes"
)

// Layout tags the memory format of a Desc.
type Layout int

const (
	// LayoutAny lets the implementation choose; see Desc.WithLayout.
	LayoutAny Layout = iota

	// Channel-first tags, rank 3 to 5.
	NCW
	NCHW
	NCDHW

	// Channel-last tags, rank 3 to 5.
	NWC
	NHWC
	NDHWC

	// Row-major dense tags, rank 1 to 5, used for bias vectors, matrix
	// operands and (possibly grouped) convolution weights.
	A
	AB
	ABC
	ABCD
	ABCDE
)

var layoutNames = map[Layout]string{
	LayoutAny: "any",
	NCW:       "ncw", NCHW: "nchw", NCDHW: "ncdhw",
	NWC: "nwc", NHWC: "nhwc", NDHWC: "ndhwc",
	A: "a", AB: "ab", ABC: "abc", ABCD: "abcd", ABCDE: "abcde",
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	if name, found := layoutNames[l]; found {
		return name
	}
	return "Layout(?)"
}

// Rank returns the tensor rank a layout tag applies to, or 0 for LayoutAny.
func (l Layout) Rank() int {
	switch l {
	case NCW, NWC, ABC:
		return 3
	case NCHW, NHWC, ABCD:
		return 4
	case NCDHW, NDHWC, ABCDE:
		return 5
	case A:
		return 1
	case AB:
		return 2
	default:
		return 0
	}
}

// IsChannelsLast reports whether the tag is one of the channel-last layouts.
func (l Layout) IsChannelsLast() bool {
	return l == NWC || l == NHWC || l == NDHWC
}

// ChannelsFirst returns the channel-first tag for the given rank.
// It panics for ranks without a channel-first tag.
func ChannelsFirst(rank int) Layout {
	switch rank {
	case 3:
		return NCW
	case 4:
		return NCHW
	case 5:
		return NCDHW
	}
	exceptions.Panicf("memory.ChannelsFirst: no channel-first layout for rank %d", rank)
	return LayoutAny
}

// ChannelsLast returns the channel-last tag for the given rank.
// It panics for ranks without a channel-last tag.
func ChannelsLast(rank int) Layout {
	switch rank {
	case 3:
		return NWC
	case 4:
		return NHWC
	case 5:
		return NDHWC
	}
	exceptions.Panicf("memory.ChannelsLast: no channel-last layout for rank %d", rank)
	return LayoutAny
}

// RowMajor returns the dense row-major tag for the given rank.
// It panics for ranks without one.
func RowMajor(rank int) Layout {
	switch rank {
	case 1:
		return A
	case 2:
		return AB
	case 3:
		return ABC
	case 4:
		return ABCD
	case 5:
		return ABCDE
	}
	exceptions.Panicf("memory.RowMajor: no row-major layout for rank %d", rank)
	return LayoutAny
}

// Desc describes a tensor: dimensions, element type and memory layout.
//
// Desc is a value type: primitives and plans keep their own copies, there is
// no shared mutable descriptor state. Use NewDesc (or NewAny) to create one.
type Desc struct {
	DType  dtypes.DType
	Dims   []int
	Layout Layout

	// Strides are per-axis element strides (not bytes). nil iff Layout is
	// LayoutAny.
	Strides []int
}

// NewDesc returns a Desc with the given dtype, dimensions and layout tag,
// with strides computed from the tag. It panics on invalid combinations:
// negative dimensions, unsupported dtype, or a tag whose rank does not match
// len(dims). Zero dimensions are representable (a degenerate tensor) and are
// rejected later by the primitives that cannot handle them.
func NewDesc(dtype dtypes.DType, dims []int, layout Layout) Desc {
	d := Desc{DType: dtype, Dims: slices.Clone(dims), Layout: layout}
	if !dtype.Ok() {
		exceptions.Panicf("memory.NewDesc(%s): invalid dtype", d)
	}
	for _, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("memory.NewDesc(%s): negative dimension", d)
		}
	}
	if layout == LayoutAny {
		exceptions.Panicf("memory.NewDesc(%s): use NewAny for layout-any descriptors", d)
	}
	if layout.Rank() != len(dims) {
		exceptions.Panicf("memory.NewDesc(%s): layout %s wants rank %d, got %d dims",
			d, layout, layout.Rank(), len(dims))
	}
	d.Strides = stridesForLayout(layout, d.Dims)
	return d
}

// NewAny returns a Desc whose layout is left for the implementation to
// choose. Strides stay nil until WithLayout back-fills a concrete layout.
func NewAny(dtype dtypes.DType, dims ...int) Desc {
	d := Desc{DType: dtype, Dims: slices.Clone(dims), Layout: LayoutAny}
	if !dtype.Ok() {
		exceptions.Panicf("memory.NewAny(%s): invalid dtype", d)
	}
	for _, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("memory.NewAny(%s): negative dimension", d)
		}
	}
	return d
}

// stridesForLayout computes element strides for a concrete layout tag.
func stridesForLayout(layout Layout, dims []int) []int {
	rank := len(dims)
	strides := make([]int, rank)
	if layout.IsChannelsLast() {
		// Memory order {batch, spatial..., channels}: channels innermost.
		strides[1] = 1
		stride := max(dims[1], 1)
		for axis := rank - 1; axis >= 2; axis-- {
			strides[axis] = stride
			stride *= max(dims[axis], 1)
		}
		strides[0] = stride
		return strides
	}
	// Every other concrete tag is dense row-major in logical order.
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= max(dims[axis], 1)
	}
	return strides
}

// WithLayout returns a copy of the Desc with the given concrete layout tag
// and freshly computed strides. Used to back-fill LayoutAny descriptors.
func (d Desc) WithLayout(layout Layout) Desc {
	return NewDesc(d.DType, d.Dims, layout)
}

// Ok reports whether this is a valid (non-zero-value) Desc.
func (d Desc) Ok() bool { return d.DType.Ok() && len(d.Dims) > 0 }

// IsAny reports whether the layout was left for the implementation to choose.
func (d Desc) IsAny() bool { return d.Layout == LayoutAny }

// Rank of the descriptor, that is, the number of axes.
func (d Desc) Rank() int { return len(d.Dims) }

// Dim returns the dimension of the given axis. Negative axis counts from the
// end. It panics for an out-of-bounds axis.
func (d Desc) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += d.Rank()
	}
	if adjusted < 0 || adjusted >= d.Rank() {
		exceptions.Panicf("Desc.Dim(%d) out-of-bounds for rank %d (desc=%s)", axis, d.Rank(), d)
	}
	return d.Dims[adjusted]
}

// Size returns the number of elements, the product of all dimensions.
func (d Desc) Size() (size int) {
	size = 1
	for _, dim := range d.Dims {
		size *= dim
	}
	return
}

// HasZeroDim reports whether any axis has dimension zero.
func (d Desc) HasZeroDim() bool {
	return slices.Contains(d.Dims, 0)
}

// Memory returns the bytes needed to store a dense tensor of this Desc.
func (d Desc) Memory() uintptr {
	return d.DType.Memory() * uintptr(d.Size())
}

// Offset returns the flat element offset of the given indices, the dot
// product with the strides. The number of indices must match the rank.
func (d Desc) Offset(indices ...int) int {
	if len(indices) != d.Rank() {
		exceptions.Panicf("Desc.Offset: got %d indices for rank %d (desc=%s)",
			len(indices), d.Rank(), d)
	}
	offset := 0
	for axis, idx := range indices {
		offset += idx * d.Strides[axis]
	}
	return offset
}

// MatchesLayout reports whether the Desc's strides are exactly those the
// given tag would produce for its dimensions. A Desc constructed under a
// different tag may still match (e.g. any dense rank-4 row-major Desc
// matches NCHW).
func (d Desc) MatchesLayout(layout Layout) bool {
	if d.IsAny() || layout == LayoutAny || layout.Rank() != d.Rank() {
		return false
	}
	return slices.Equal(d.Strides, stridesForLayout(layout, d.Dims))
}

// IsDenseRowMajor reports whether the Desc is contiguous in logical axis
// order, the precondition for Reshape.
func (d Desc) IsDenseRowMajor() bool {
	if d.IsAny() {
		return false
	}
	stride := 1
	for axis := d.Rank() - 1; axis >= 0; axis-- {
		if d.Strides[axis] != stride {
			return false
		}
		stride *= max(d.Dims[axis], 1)
	}
	return true
}

// Equal compares dtype, dimensions, layout tag and strides.
func (d Desc) Equal(other Desc) bool {
	return d.DType == other.DType &&
		d.Layout == other.Layout &&
		slices.Equal(d.Dims, other.Dims) &&
		slices.Equal(d.Strides, other.Strides)
}

// Clone returns a deep copy of the Desc.
func (d Desc) Clone() Desc {
	d2 := d
	d2.Dims = slices.Clone(d.Dims)
	d2.Strides = slices.Clone(d.Strides)
	return d2
}

// String implements fmt.Stringer, pretty-printing the descriptor.
func (d Desc) String() string {
	return fmt.Sprintf("(%s)%v@%s", d.DType, d.Dims, d.Layout)
}

// Reshape regroups the axes of a dense row-major descriptor into newDims,
// preserving element count, element order and memory layout. Only the axis
// grouping changes: no data movement is implied.
//
// It fails if the input is not contiguous in logical order, if the element
// counts differ, or if newDims has no row-major tag for its rank.
func Reshape(in Desc, newDims ...int) (Desc, error) {
	if !in.Ok() {
		return Desc{}, errors.Errorf("memory.Reshape: invalid input descriptor %s", in)
	}
	if !in.IsDenseRowMajor() {
		return Desc{}, errors.Errorf(
			"memory.Reshape: %s is not contiguous in logical order, axes cannot be regrouped without a copy", in)
	}
	newSize := 1
	for _, dim := range newDims {
		if dim < 0 {
			return Desc{}, errors.Errorf("memory.Reshape: negative dimension in %v", newDims)
		}
		newSize *= dim
	}
	if newSize != in.Size() {
		return Desc{}, errors.Errorf("memory.Reshape: element count changed, %s cannot reshape to %v",
			in, newDims)
	}
	rank := len(newDims)
	if rank < 2 || rank > 5 {
		return Desc{}, errors.Errorf("memory.Reshape: no dense layout for rank %d", rank)
	}
	return NewDesc(in.DType, newDims, RowMajor(rank)), nil
}
