// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package reorder implements the layout-conversion copy primitive: it moves
// a tensor between two descriptors with identical dimensions and dtype but
// different memory layouts (e.g. channel-first to channel-last).
package reorder

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/primitives/scratchpad"
	"github.com/taoye9/godnn/types/dtypes"
	"github.com/taoye9/godnn/types/dtypes/bfloat16"
	"github.com/taoye9/godnn/types/memory"
)

var execDTypeMap = primitives.NewDTypeMap("Reorder")

func init() {
	execDTypeMap.Register(dtypes.Int8, execReorder[int8])
	execDTypeMap.Register(dtypes.Int32, execReorder[int32])
	execDTypeMap.Register(dtypes.Int64, execReorder[int64])
	execDTypeMap.Register(dtypes.Uint8, execReorder[uint8])
	execDTypeMap.Register(dtypes.Float16, execReorder[float16.Float16])
	execDTypeMap.Register(dtypes.BFloat16, execReorder[bfloat16.BFloat16])
	execDTypeMap.Register(dtypes.Float32, execReorder[float32])
	execDTypeMap.Register(dtypes.Float64, execReorder[float64])
}

// Desc is the planned form of a reorder. Immutable; create with NewDesc.
type Desc struct {
	src, dst memory.Desc
	scratch  *scratchpad.Registry
}

var _ primitives.Desc = (*Desc)(nil)

// NewDesc validates that src is convertible into dst: same dimensions, same
// dtype, both with concrete layouts. Anything else fails with
// ErrUnsupportedConfig.
func NewDesc(engine *primitives.Engine, src, dst memory.Desc) (*Desc, error) {
	_ = engine
	if !src.Ok() || !dst.Ok() || src.IsAny() || dst.IsAny() {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
			"reorder: operands need concrete layouts, src=%s dst=%s", src, dst)
	}
	if src.Rank() != dst.Rank() || src.Rank() > 5 {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
			"reorder: rank mismatch, src=%s dst=%s", src, dst)
	}
	for axis := range src.Dims {
		if src.Dims[axis] != dst.Dims[axis] {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
				"reorder: dimensions differ, src=%s dst=%s", src, dst)
		}
	}
	if src.DType != dst.DType {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
			"reorder: dtype conversion %s to %s is not supported", src.DType, dst.DType)
	}
	if !execDTypeMap.Supports(src.DType) {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "reorder: dtype %s not supported", src.DType)
	}
	return &Desc{src: src, dst: dst, scratch: scratchpad.NewRegistry()}, nil
}

// Kind implements primitives.Desc.
func (pd *Desc) Kind() primitives.Kind { return primitives.KindReorder }

// Name implements primitives.Desc.
func (pd *Desc) Name() string {
	return fmt.Sprintf("reorder:%s->%s", pd.src.Layout, pd.dst.Layout)
}

// Scratchpad implements primitives.Desc. A reorder needs no scratch of its
// own; the registry is empty.
func (pd *Desc) Scratchpad() *scratchpad.Registry { return pd.scratch }

// SrcDesc returns the source descriptor.
func (pd *Desc) SrcDesc() memory.Desc { return pd.src }

// DstDesc returns the destination descriptor.
func (pd *Desc) DstDesc() memory.Desc { return pd.dst }

// CreatePrimitive implements primitives.Desc.
func (pd *Desc) CreatePrimitive(engine *primitives.Engine) (primitives.Primitive, error) {
	if engine == nil {
		return nil, errors.Wrap(primitives.ErrResource, "reorder: nil engine")
	}
	return &reorderPrim{pd: pd}, nil
}

type reorderPrim struct {
	pd *Desc
}

var _ primitives.Primitive = (*reorderPrim)(nil)

// Execute implements primitives.Primitive.
func (p *reorderPrim) Execute(ctx *primitives.ExecContext) error {
	kernel := execDTypeMap.Get(p.pd.src.DType).(func(*Desc, *primitives.ExecContext) error)
	return kernel(p.pd, ctx)
}

// execReorder copies element-wise between the two layouts, walking the
// logical index space with incrementally maintained flat offsets, parallel
// over the outermost axis.
func execReorder[T dtypes.Supported](pd *Desc, ctx *primitives.ExecContext) error {
	srcFlat := ctx.Args.Get(primitives.ArgSrc).Flat.([]T)
	dstFlat := ctx.Args.Get(primitives.ArgDst).Flat.([]T)
	dims := pd.src.Dims
	rank := len(dims)
	if pd.src.HasZeroDim() {
		return nil
	}

	innerSize := 1
	for _, dim := range dims[1:] {
		innerSize *= dim
	}

	ctx.Engine.Workers().ParallelFor(dims[0], func(outer int) {
		coords := make([]int, rank)
		coords[0] = outer
		srcOff := outer * pd.src.Strides[0]
		dstOff := outer * pd.dst.Strides[0]
		for iter := 0; iter < innerSize; iter++ {
			dstFlat[dstOff] = srcFlat[srcOff]
			// Odometer increment over axes [1, rank), offsets updated in
			// place.
			for axis := rank - 1; axis >= 1; axis-- {
				coords[axis]++
				srcOff += pd.src.Strides[axis]
				dstOff += pd.dst.Strides[axis]
				if coords[axis] < dims[axis] {
					break
				}
				coords[axis] = 0
				srcOff -= dims[axis] * pd.src.Strides[axis]
				dstOff -= dims[axis] * pd.dst.Strides[axis]
			}
		}
	})
	return nil
}
