// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/primitives/matmul"
	"github.com/taoye9/godnn/primitives/reorder"
	"github.com/taoye9/godnn/primitives/scratchpad"
	"github.com/taoye9/godnn/types/memory"
)

// Scratch regions of the ncsp planner. The two buffer regions hold the full
// channel-last activations on the reorder strategy; the nested keys forward
// scratch to the sub-primitives of whichever strategy was resolved.
const (
	keyNCSPSrc scratchpad.Key = "ncsp_conv_src"
	keyNCSPDst scratchpad.Key = "ncsp_conv_dst"

	keyNestedMatmul         scratchpad.Key = "nested_matmul"
	keyNestedConv           scratchpad.Key = "nested_conv"
	keyNestedSrcReorder     scratchpad.Key = "nested_src_reorder"
	keyNestedDstPreReorder  scratchpad.Key = "nested_dst_pre_reorder"
	keyNestedDstPostReorder scratchpad.Key = "nested_dst_post_reorder"
)

// ncspDesc plans a convolution over channel-first activations by delegating
// to primitives that prefer other layouts. Exactly one strategy is resolved
// at plan time:
//
//   - matmul: a convolution whose kernel covers a single point with no
//     padding and unit strides touches every spatial position independently,
//     so the activations can be reinterpreted in place as matrices and the
//     whole convolution becomes one batched matmul. No data moves.
//
//   - reorder: otherwise the source is reordered into a channel-last scratch
//     buffer, a nested channel-last convolution runs there, and the result
//     is reordered back into the caller's destination.
type ncspDesc struct {
	cfg                Config // normalized
	attr               *primitives.Attrs
	src, wei, bia, dst memory.Desc

	isMatmul bool

	// Matmul strategy. The operand roles swap: the convolution weights
	// become the matmul's left operand and the activations its right one,
	// so m spans output channels and n the flattened spatial positions.
	mmSrc, mmWei, mmDst memory.Desc
	matmulPD            *matmul.Desc

	// Reorder strategy.
	nspcSrc, nspcDst                  memory.Desc
	nspcConvPD                        Desc
	srcReorderPD, dstPrePD, dstPostPD *reorder.Desc

	scratch *scratchpad.Registry
}

var _ Desc = (*ncspDesc)(nil)

func newNCSPDesc(engine *primitives.Engine, cfg Config, attr *primitives.Attrs,
	src, wei, bia, dst memory.Desc) (Desc, error) {
	if !cfg.Prop.IsForward() {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "ncsp conv: %s propagation", cfg.Prop)
	}
	if cfg.Alg != AlgAuto && cfg.Alg != AlgDirect {
		return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "ncsp conv: %s algorithm", cfg.Alg)
	}
	for _, po := range attrPostOps(attr) {
		if po.Kind != primitives.PostOpSum && po.Kind != primitives.PostOpReLU {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig, "ncsp conv: %s post-op", po.Kind)
		}
	}
	rank := src.Rank()
	if rank < 3 || rank > 5 || dst.Rank() != rank {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape, "ncsp conv: src=%s dst=%s", src, dst)
	}
	normalized, err := cfg.normalized(rank - 2)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if src.HasZeroDim() || wei.HasZeroDim() || dst.HasZeroDim() {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape,
			"ncsp conv: degenerate tensor, src=%s wei=%s dst=%s", src, wei, dst)
	}

	// This planner only serves channel-first activations. Layout-any
	// activations are left to implementations that pick their own layout.
	ncsp := memory.ChannelsFirst(rank)
	if !src.MatchesLayout(ncsp) || !dst.MatchesLayout(ncsp) {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape,
			"ncsp conv: activations must be channel-first, src=%s dst=%s", src, dst)
	}
	// When the strides also read as channel-last (single channel or point
	// spatial) no layout adaptation is needed; defer to a direct kernel.
	// This also keeps the nested channel-last plan from resolving back here.
	nspc := memory.ChannelsLast(rank)
	if src.MatchesLayout(nspc) && dst.MatchesLayout(nspc) {
		return nil, errors.Wrapf(primitives.ErrUnsupportedShape,
			"ncsp conv: activations already channel-last, src=%s dst=%s", src, dst)
	}
	if err := checkShapes(&cfg, src, wei, bia, dst); err != nil {
		return nil, err
	}

	pd := &ncspDesc{cfg: cfg, attr: attr, src: src, wei: wei, bia: bia, dst: dst,
		scratch: scratchpad.NewRegistry()}
	pd.isMatmul = pd.matmulApplies()
	if pd.isMatmul {
		err = pd.initMatmul(engine)
	} else {
		err = pd.initConvolution(engine)
	}
	if err != nil {
		return nil, err
	}
	pd.initScratchpad()
	if klog.V(2).Enabled() {
		klog.Infof("%s: planned for src=%s wei=%s dst=%s", pd.Name(), pd.src, pd.wei, pd.dst)
	}
	return pd, nil
}

// matmulApplies reports whether the convolution degenerates to a matmul:
// every kernel tap reads exactly the output's own spatial position, and
// nothing besides the plain product contributes to the result.
func (pd *ncspDesc) matmulApplies() bool {
	if !pd.attr.HasDefaults() || pd.bia.Ok() {
		return false
	}
	weiAxis := 2
	if pd.cfg.WithGroups() {
		weiAxis = 3
	}
	for _, k := range pd.wei.Dims[weiAxis:] {
		if k != 1 {
			return false
		}
	}
	for axis := range pd.cfg.Strides {
		if pd.cfg.Strides[axis] != 1 || pd.cfg.PaddingL[axis] != 0 || pd.cfg.PaddingR[axis] != 0 {
			return false
		}
	}
	return true
}

func (pd *ncspDesc) initMatmul(engine *primitives.Engine) error {
	var err error
	// Role swap: conv weights feed the matmul's src slot, conv activations
	// its weights slot. Both activation views alias the caller's buffers.
	if pd.mmSrc, err = weightsToMatmul(pd.wei, pd.cfg.WithGroups()); err != nil {
		return err
	}
	if pd.mmWei, err = activationsToMatmul(pd.src, pd.cfg.Groups); err != nil {
		return err
	}
	if pd.mmDst, err = activationsToMatmul(pd.dst, pd.cfg.Groups); err != nil {
		return err
	}
	pd.matmulPD, err = matmul.NewDesc(engine, pd.mmSrc, pd.mmWei, memory.Desc{}, pd.mmDst, nil)
	if err != nil {
		return err
	}
	if pd.wei.IsAny() {
		// The nested matmul chose a layout for its left operand; restore
		// it to the convolution weights shape.
		pd.mmSrc = pd.matmulPD.SrcDesc()
		if pd.wei, err = weightsFromMatmul(pd.mmSrc, pd.wei); err != nil {
			return err
		}
	}
	return nil
}

func (pd *ncspDesc) initConvolution(engine *primitives.Engine) error {
	nspc := memory.ChannelsLast(pd.src.Rank())
	pd.nspcSrc = pd.src.WithLayout(nspc)
	pd.nspcDst = pd.dst.WithLayout(nspc)

	// The channel-last activations rule this planner out, so the iterator
	// resolves to an implementation that computes directly.
	it := NewIterator(engine, pd.cfg, pd.attr, pd.nspcSrc, pd.wei, pd.bia, pd.nspcDst)
	sub, err := it.Next()
	if err != nil {
		return err
	}
	pd.nspcConvPD = sub
	if pd.wei.IsAny() {
		pd.wei = sub.WeightsDesc()
	}
	if pd.bia.Ok() && pd.bia.IsAny() {
		pd.bia = sub.BiasDesc()
	}

	if pd.srcReorderPD, err = reorder.NewDesc(engine, pd.src, pd.nspcSrc); err != nil {
		return err
	}
	if pd.attr.HasSum() {
		// Accumulation reads the prior destination content, which must be
		// staged into the scratch buffer before the nested convolution.
		if pd.dstPrePD, err = reorder.NewDesc(engine, pd.dst, pd.nspcDst); err != nil {
			return err
		}
	}
	pd.dstPostPD, err = reorder.NewDesc(engine, pd.nspcDst, pd.dst)
	return err
}

func (pd *ncspDesc) initScratchpad() {
	if pd.isMatmul {
		pd.scratch.BookNested(keyNestedMatmul, pd.matmulPD.Scratchpad())
		return
	}
	pd.scratch.Book(keyNCSPDst, pd.nspcDst.Size(), pd.nspcDst.DType.Size())
	pd.scratch.Book(keyNCSPSrc, pd.nspcSrc.Size(), pd.nspcSrc.DType.Size())
	pd.scratch.BookNested(keyNestedConv, pd.nspcConvPD.Scratchpad())
	pd.scratch.BookNested(keyNestedSrcReorder, pd.srcReorderPD.Scratchpad())
	if pd.dstPrePD != nil {
		pd.scratch.BookNested(keyNestedDstPreReorder, pd.dstPrePD.Scratchpad())
	}
	pd.scratch.BookNested(keyNestedDstPostReorder, pd.dstPostPD.Scratchpad())
}

// Kind implements primitives.Desc.
func (pd *ncspDesc) Kind() primitives.Kind { return primitives.KindConvolution }

// Name implements primitives.Desc.
func (pd *ncspDesc) Name() string {
	if pd.isMatmul {
		return "ncsp_convolution:matmul"
	}
	return fmt.Sprintf("ncsp_convolution:reorder+%s", pd.nspcConvPD.Name())
}

// Scratchpad implements primitives.Desc.
func (pd *ncspDesc) Scratchpad() *scratchpad.Registry { return pd.scratch }

func (pd *ncspDesc) SrcDesc() memory.Desc     { return pd.src }
func (pd *ncspDesc) WeightsDesc() memory.Desc { return pd.wei }
func (pd *ncspDesc) BiasDesc() memory.Desc    { return pd.bia }
func (pd *ncspDesc) DstDesc() memory.Desc     { return pd.dst }
