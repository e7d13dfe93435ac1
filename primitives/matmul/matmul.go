// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package matmul implements the batched matrix-multiply primitive:
// dst[batch..., m, n] = src[batch..., m, k] x weights[batch..., k, n],
// with optional bias[n] and size-1 batch-axis broadcasting on either
// operand.
//
// All operands are dense row-major. The kernel packs the right-hand side
// into a transposed scratch buffer once per batch, so the contraction loop
// is contiguous on both sides; the packing buffer is the primitive's only
// scratch requirement.
package matmul

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/primitives/gemm"
	"github.com/taoye9/godnn/primitives/scratchpad"
	"github.com/taoye9/godnn/types/dtypes"
	"github.com/taoye9/godnn/types/memory"
)

// keyPackRHS is the scratch region holding the per-batch transposed RHS.
const keyPackRHS scratchpad.Key = "matmul_pack_rhs"

var execDTypeMap = primitives.NewDTypeMap("Matmul")

func init() {
	execDTypeMap.Register(dtypes.Float32, execMatmul[float32])
	execDTypeMap.Register(dtypes.Float64, execMatmul[float64])
}

// Desc is the planned form of a matmul. Immutable; create with NewDesc.
type Desc struct {
	src, wei, bia, dst memory.Desc

	m, k, n int

	// batchDims are the dst leading axes; batch is their product.
	batchDims []int
	batch     int

	// Per-batch-axis element strides into src/wei flat data, zero on
	// broadcast (size-1) axes.
	srcBatchStrides, weiBatchStrides []int

	scratch *scratchpad.Registry
}

var _ primitives.Desc = (*Desc)(nil)

// NewDesc validates the operands and plans a matmul. bias may be the zero
// Desc when absent. Operands with LayoutAny are back-filled with the dense
// row-major layout. Incompatible operands fail with ErrUnsupportedConfig.
func NewDesc(engine *primitives.Engine, src, wei, bia, dst memory.Desc, attr *primitives.Attrs) (*Desc, error) {
	_ = engine
	if !attr.HasDefaults() {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "matmul: post-ops are not supported (%s)", attr)
	}

	rank := dst.Rank()
	if rank < 2 || rank > 5 {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "matmul: dst rank %d outside [2, 5]", rank)
	}
	if src.Rank() != rank || wei.Rank() != rank {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
			"matmul: rank mismatch, src=%s wei=%s dst=%s", src, wei, dst)
	}
	if src.DType != dst.DType || wei.DType != dst.DType {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
			"matmul: mixed dtypes, src=%s wei=%s dst=%s", src.DType, wei.DType, dst.DType)
	}
	if !execDTypeMap.Supports(dst.DType) {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "matmul: dtype %s not supported", dst.DType)
	}

	// Back-fill layout-any operands, then require dense row-major.
	for _, d := range []*memory.Desc{&src, &wei, &bia, &dst} {
		if d.Ok() && d.IsAny() {
			*d = d.WithLayout(memory.RowMajor(d.Rank()))
		}
	}
	for _, d := range []memory.Desc{src, wei, dst} {
		if !d.IsDenseRowMajor() {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "matmul: %s is not dense row-major", d)
		}
	}

	pd := &Desc{
		src: src, wei: wei, bia: bia, dst: dst,
		m: src.Dim(-2), k: src.Dim(-1), n: wei.Dim(-1),
	}
	if wei.Dim(-2) != pd.k {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
			"matmul: contraction mismatch, src=%s wei=%s", src, wei)
	}
	if dst.Dim(-2) != pd.m || dst.Dim(-1) != pd.n {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
			"matmul: dst %s does not match src=%s x wei=%s", dst, src, wei)
	}

	// Batch axes: equal, or broadcast from size 1.
	numBatchAxes := rank - 2
	pd.batchDims = make([]int, numBatchAxes)
	pd.srcBatchStrides = make([]int, numBatchAxes)
	pd.weiBatchStrides = make([]int, numBatchAxes)
	pd.batch = 1
	for axis := 0; axis < numBatchAxes; axis++ {
		srcDim, weiDim, dstDim := src.Dims[axis], wei.Dims[axis], dst.Dims[axis]
		if dstDim != max(srcDim, weiDim) || (srcDim != weiDim && srcDim != 1 && weiDim != 1) {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
				"matmul: batch axis %d not broadcastable, src=%s wei=%s dst=%s", axis, src, wei, dst)
		}
		pd.batchDims[axis] = dstDim
		pd.batch *= dstDim
		if srcDim > 1 {
			pd.srcBatchStrides[axis] = src.Strides[axis]
		}
		if weiDim > 1 {
			pd.weiBatchStrides[axis] = wei.Strides[axis]
		}
	}

	if bia.Ok() {
		if bia.Rank() != 1 || bia.Dim(0) != pd.n {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
				"matmul: bias %s does not match n=%d", bia, pd.n)
		}
		if bia.DType != dst.DType {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "matmul: bias dtype %s", bia.DType)
		}
	}

	pd.scratch = scratchpad.NewRegistry()
	pd.scratch.Book(keyPackRHS, pd.k*pd.n, dst.DType.Size())

	if klog.V(2).Enabled() {
		klog.Infof("matmul: planned %s, batch=%d m=%d k=%d n=%d", pd.Name(), pd.batch, pd.m, pd.k, pd.n)
	}
	return pd, nil
}

// Kind implements primitives.Desc.
func (pd *Desc) Kind() primitives.Kind { return primitives.KindMatmul }

// Name implements primitives.Desc.
func (pd *Desc) Name() string {
	return fmt.Sprintf("gemm:%s", pd.dst.DType)
}

// Scratchpad implements primitives.Desc.
func (pd *Desc) Scratchpad() *scratchpad.Registry { return pd.scratch }

// SrcDesc returns the (back-filled) left operand descriptor.
func (pd *Desc) SrcDesc() memory.Desc { return pd.src }

// WeightsDesc returns the (back-filled) right operand descriptor.
func (pd *Desc) WeightsDesc() memory.Desc { return pd.wei }

// BiasDesc returns the bias descriptor, zero Desc when absent.
func (pd *Desc) BiasDesc() memory.Desc { return pd.bia }

// DstDesc returns the destination descriptor.
func (pd *Desc) DstDesc() memory.Desc { return pd.dst }

// CreatePrimitive implements primitives.Desc.
func (pd *Desc) CreatePrimitive(engine *primitives.Engine) (primitives.Primitive, error) {
	if engine == nil {
		return nil, errors.Wrap(primitives.ErrResource, "matmul: nil engine")
	}
	return &matmulPrim{pd: pd}, nil
}

type matmulPrim struct {
	pd *Desc
}

var _ primitives.Primitive = (*matmulPrim)(nil)

// Execute implements primitives.Primitive.
func (p *matmulPrim) Execute(ctx *primitives.ExecContext) error {
	kernel := execDTypeMap.Get(p.pd.dst.DType).(func(*Desc, *primitives.ExecContext) error)
	return kernel(p.pd, ctx)
}

// batchOffset flattens the dst batch index into an element offset of one
// operand, honoring broadcast axes (stride zero).
func batchOffset(batchIdx int, batchDims, strides []int) int {
	offset := 0
	for axis := len(batchDims) - 1; axis >= 0; axis-- {
		coord := batchIdx % batchDims[axis]
		batchIdx /= batchDims[axis]
		offset += coord * strides[axis]
	}
	return offset
}

func execMatmul[T dtypes.Float](pd *Desc, ctx *primitives.ExecContext) error {
	srcFlat := ctx.Args.Get(primitives.ArgSrc).Flat.([]T)
	weiFlat := ctx.Args.Get(primitives.ArgWeights).Flat.([]T)
	dstFlat := ctx.Args.Get(primitives.ArgDst).Flat.([]T)
	var biaFlat []T
	if pd.bia.Ok() {
		biaFlat = ctx.Args.Get(primitives.ArgBias).Flat.([]T)
	}

	packedMem, err := primitives.MemoryFromBytes(
		memory.NewDesc(pd.dst.DType, []int{pd.n, pd.k}, memory.AB),
		ctx.Scratch.Region(keyPackRHS))
	if err != nil {
		return errors.WithMessage(err, "matmul: resolving packing scratch")
	}
	packed := packedMem.Flat.([]T)

	workers := ctx.Engine.Workers()
	m, k, n := pd.m, pd.k, pd.n
	for batchIdx := 0; batchIdx < pd.batch; batchIdx++ {
		lhs := srcFlat[batchOffset(batchIdx, pd.batchDims, pd.srcBatchStrides):]
		rhs := weiFlat[batchOffset(batchIdx, pd.batchDims, pd.weiBatchStrides):]
		out := dstFlat[batchIdx*m*n:]

		gemm.PackRHS(rhs, k, n, packed)
		workers.ParallelFor(m, func(row int) {
			gemm.RowMajorPacked(lhs, packed, k, n, row, row+1, out)
		})
		if biaFlat != nil {
			gemm.AddBiasRow(biaFlat, n, 0, m, out)
		}
	}
	return nil
}
