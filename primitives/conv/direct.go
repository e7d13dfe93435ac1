// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/primitives/scratchpad"
	"github.com/taoye9/godnn/types/dtypes"
	"github.com/taoye9/godnn/types/memory"
)

// keyPaddedSrc is the direct kernel's scratch region holding the
// zero-padded channel-last source, booked only when padding is present.
const keyPaddedSrc scratchpad.Key = "conv_padded_src"

var directDTypeMap = primitives.NewDTypeMap("DirectConv")

func init() {
	directDTypeMap.Register(dtypes.Float32, execDirect[float32])
	directDTypeMap.Register(dtypes.Float64, execDirect[float64])
}

// directDesc plans the channel-last direct convolution.
type directDesc struct {
	cfg                Config // normalized
	attr               *primitives.Attrs
	src, wei, bia, dst memory.Desc

	// paddedSrc is set when any padding is present; the kernel then runs
	// over a zero-padded copy of the source and needs no bounds checks.
	paddedSrc memory.Desc

	scratch *scratchpad.Registry
}

var _ Desc = (*directDesc)(nil)

func newDirectDesc(engine *primitives.Engine, cfg Config, attr *primitives.Attrs,
	src, wei, bia, dst memory.Desc) (Desc, error) {
	_ = engine
	if !cfg.Prop.IsForward() {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "direct conv: %s propagation", cfg.Prop)
	}
	if cfg.Alg != AlgAuto && cfg.Alg != AlgDirect {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "direct conv: %s algorithm", cfg.Alg)
	}
	for _, po := range attrPostOps(attr) {
		if po.Kind != primitives.PostOpSum && po.Kind != primitives.PostOpReLU {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "direct conv: %s post-op", po.Kind)
		}
	}

	rank := src.Rank()
	if rank < 3 || rank > 5 || dst.Rank() != rank {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape,
			"direct conv: src=%s dst=%s", src, dst)
	}
	normalized, err := cfg.normalized(rank - 2)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if src.HasZeroDim() || wei.HasZeroDim() || dst.HasZeroDim() {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape,
			"direct conv: degenerate tensor, src=%s wei=%s dst=%s", src, wei, dst)
	}

	// Back-fill layout-any operands with the layouts this kernel wants.
	nspc := memory.ChannelsLast(rank)
	if src.IsAny() {
		src = src.WithLayout(nspc)
	}
	if dst.IsAny() {
		dst = dst.WithLayout(nspc)
	}
	if wei.IsAny() {
		wei = wei.WithLayout(memory.RowMajor(wei.Rank()))
	}
	if bia.Ok() && bia.IsAny() {
		bia = bia.WithLayout(memory.A)
	}
	if !src.MatchesLayout(nspc) || !dst.MatchesLayout(nspc) {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape,
			"direct conv: activations must be channel-last, src=%s dst=%s", src, dst)
	}
	if !wei.IsDenseRowMajor() {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape, "direct conv: weights %s not dense", wei)
	}
	if err := checkShapes(&cfg, src, wei, bia, dst); err != nil {
		return nil, err
	}
	if !directDTypeMap.Supports(dst.DType) {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "direct conv: dtype %s", dst.DType)
	}

	pd := &directDesc{cfg: cfg, attr: attr, src: src, wei: wei, bia: bia, dst: dst,
		scratch: scratchpad.NewRegistry()}
	needsPadding := false
	for axis := range cfg.PaddingL {
		if cfg.PaddingL[axis] > 0 || cfg.PaddingR[axis] > 0 {
			needsPadding = true
		}
	}
	if needsPadding {
		paddedDims := append([]int{src.Dim(0), src.Dim(1)}, make([]int, rank-2)...)
		for axis := 0; axis < rank - 2; axis++ {
			paddedDims[2+axis] = src.Dim(2+axis) + cfg.PaddingL[axis] + cfg.PaddingR[axis]
		}
		pd.paddedSrc = memory.NewDesc(src.DType, paddedDims, nspc)
		pd.scratch.Book(keyPaddedSrc, pd.paddedSrc.Size(), src.DType.Size())
	}
	return pd, nil
}

func attrPostOps(attr *primitives.Attrs) []primitives.PostOp {
	if attr == nil {
		return nil
	}
	return attr.PostOps
}

// Kind implements primitives.Desc.
func (pd *directDesc) Kind() primitives.Kind { return primitives.KindConvolution }

// Name implements primitives.Desc.
func (pd *directDesc) Name() string {
	return fmt.Sprintf("direct_convolution:%s", pd.src.Layout)
}

// Scratchpad implements primitives.Desc.
func (pd *directDesc) Scratchpad() *scratchpad.Registry { return pd.scratch }

func (pd *directDesc) SrcDesc() memory.Desc     { return pd.src }
func (pd *directDesc) WeightsDesc() memory.Desc { return pd.wei }
func (pd *directDesc) BiasDesc() memory.Desc    { return pd.bia }
func (pd *directDesc) DstDesc() memory.Desc     { return pd.dst }

// CreatePrimitive implements primitives.Desc.
func (pd *directDesc) CreatePrimitive(engine *primitives.Engine) (primitives.Primitive, error) {
	if engine == nil {
		return nil, errors.Wrap(primitives.ErrResource, "direct conv: nil engine")
	}
	return &directConv{pd: pd}, nil
}

type directConv struct {
	pd *directDesc
}

var _ primitives.Primitive = (*directConv)(nil)

// Execute implements primitives.Primitive.
func (p *directConv) Execute(ctx *primitives.ExecContext) error {
	kernel := directDTypeMap.Get(p.pd.dst.DType).(func(*directDesc, *primitives.ExecContext) error)
	return kernel(p.pd, ctx)
}

// advance is an odometer increment over the logical index space dims,
// returning false on wrap-around.
func advance(coords, dims []int) bool {
	for axis := len(dims) - 1; axis >= 0; axis-- {
		coords[axis]++
		if coords[axis] < dims[axis] {
			return true
		}
		coords[axis] = 0
	}
	return false
}

// padSource zero-fills padded and copies src into it, shifted by the left
// padding on every spatial axis. Both are channel-last.
func padSource[T dtypes.Float](pd *directDesc, srcFlat, padded []T, workers *primitives.WorkersPool) {
	for i := range padded[:pd.paddedSrc.Size()] {
		padded[i] = 0
	}
	src, dst := pd.src, pd.paddedSrc
	spatialRank := src.Rank() - 2
	channels := src.Dim(1)
	workers.ParallelFor(src.Dim(0), func(n int) {
		coords := make([]int, spatialRank)
		for {
			srcOff := n * src.Strides[0]
			dstOff := n * dst.Strides[0]
			for axis, c := range coords {
				srcOff += c * src.Strides[2+axis]
				dstOff += (c + pd.cfg.PaddingL[axis]) * dst.Strides[2+axis]
			}
			// Channels are contiguous (stride 1) in both layouts.
			copy(padded[dstOff:dstOff+channels], srcFlat[srcOff:srcOff+channels])
			if !advance(coords, src.Dims[2:]) {
				break
			}
		}
	})
}

func execDirect[T dtypes.Float](pd *directDesc, ctx *primitives.ExecContext) error {
	srcFlat := ctx.Args.Get(primitives.ArgSrc).Flat.([]T)
	weiFlat := ctx.Args.Get(primitives.ArgWeights).Flat.([]T)
	dstFlat := ctx.Args.Get(primitives.ArgDst).Flat.([]T)
	var biaFlat []T
	if pd.bia.Ok() {
		biaFlat = ctx.Args.Get(primitives.ArgBias).Flat.([]T)
	}
	workers := ctx.Engine.Workers()

	// With padding, run over a zero-padded copy so the kernel loops need no
	// bounds checks: shape inference guarantees every tap stays inside.
	srcDesc := pd.src
	if pd.paddedSrc.Ok() {
		paddedMem, err := primitives.MemoryFromBytes(pd.paddedSrc, ctx.Scratch.Region(keyPaddedSrc))
		if err != nil {
			return errors.WithMessage(err, "direct conv: resolving padded-source scratch")
		}
		padded := paddedMem.Flat.([]T)
		padSource(pd, srcFlat, padded, workers)
		srcFlat, srcDesc = padded, pd.paddedSrc
	}

	cfg := &pd.cfg
	dst, wei := pd.dst, pd.wei
	spatialRank := dst.Rank() - 2
	groups := cfg.Groups
	ocPerGroup := dst.Dim(1) / groups
	icPerGroup := srcDesc.Dim(1) / groups

	// Weight axes: {g?, oc/g, ic/g, kernel...}.
	weiAxis := 0
	if cfg.WithGroups() {
		weiAxis = 1
	}
	weiOCStride := wei.Strides[weiAxis]
	weiICStride := wei.Strides[weiAxis+1]
	weiKernelStrides := wei.Strides[weiAxis+2:]
	kernelDims := wei.Dims[weiAxis+2:]

	sumScale, withSum := pd.attr.SumScale()
	withReLU := false
	for _, po := range attrPostOps(pd.attr) {
		withReLU = withReLU || po.Kind == primitives.PostOpReLU
	}

	// One task per (batch, outermost output spatial position): outputs are
	// disjoint across tasks, inner loops walk the remaining axes.
	outSpatial := dst.Dims[2:]
	workers.ParallelFor(dst.Dim(0)*outSpatial[0], func(task int) {
		n, os0 := task/outSpatial[0], task%outSpatial[0]
		osp := make([]int, spatialRank)
		osp[0] = os0
		kc := make([]int, spatialRank)
		for {
			srcSpatialBase := n * srcDesc.Strides[0]
			dstSpatialBase := n * dst.Strides[0]
			for axis, c := range osp {
				dstSpatialBase += c * dst.Strides[2+axis]
			}
			for group := 0; group < groups; group++ {
				for oci := 0; oci < ocPerGroup; oci++ {
					oc := group*ocPerGroup + oci
					weiBase := oci * weiOCStride
					if cfg.WithGroups() {
						weiBase += group * wei.Strides[0]
					}
					var acc T
					clear(kc)
					for {
						srcBase := srcSpatialBase
						weiOff := weiBase
						for axis := 0; axis < spatialRank; axis++ {
							in := osp[axis]*cfg.Strides[axis] + kc[axis]*cfg.Dilations[axis]
							srcBase += in * srcDesc.Strides[2+axis]
							weiOff += kc[axis] * weiKernelStrides[axis]
						}
						srcBase += group * icPerGroup * srcDesc.Strides[1]
						for ici := 0; ici < icPerGroup; ici++ {
							acc += srcFlat[srcBase+ici*srcDesc.Strides[1]] * weiFlat[weiOff+ici*weiICStride]
						}
						if !advance(kc, kernelDims) {
							break
						}
					}
					value := acc
					if biaFlat != nil {
						value += biaFlat[oc]
					}
					dstOff := dstSpatialBase + oc*dst.Strides[1]
					if withSum {
						value += T(sumScale) * dstFlat[dstOff]
					}
					if withReLU && value < 0 {
						value = 0
					}
					dstFlat[dstOff] = value
				}
			}
			// Advance the non-outermost output spatial axes.
			if spatialRank == 1 || !advance(osp[1:], outSpatial[1:]) {
				break
			}
		}
	})
	return nil
}
