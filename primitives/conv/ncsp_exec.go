// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"github.com/pkg/errors"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/primitives/scratchpad"
)

// ncspConv executes the strategy resolved by its plan: either a single
// nested matmul over reinterpreted buffers, or the reorder / nested
// convolution / reorder pipeline over scratch buffers.
type ncspConv struct {
	pd *ncspDesc

	matmulPrim primitives.Primitive

	convPrim   primitives.Primitive
	srcReorder primitives.Primitive
	dstPre     primitives.Primitive
	dstPost    primitives.Primitive
}

var _ primitives.Primitive = (*ncspConv)(nil)

// CreatePrimitive implements primitives.Desc.
func (pd *ncspDesc) CreatePrimitive(engine *primitives.Engine) (primitives.Primitive, error) {
	if engine == nil {
		return nil, errors.Wrap(primitives.ErrResource, "ncsp conv: nil engine")
	}
	p := &ncspConv{pd: pd}
	var err error
	if pd.isMatmul {
		if p.matmulPrim, err = pd.matmulPD.CreatePrimitive(engine); err != nil {
			return nil, errors.WithMessage(err, "ncsp conv: creating nested matmul")
		}
		return p, nil
	}
	if p.convPrim, err = pd.nspcConvPD.CreatePrimitive(engine); err != nil {
		return nil, errors.WithMessage(err, "ncsp conv: creating nested convolution")
	}
	if p.srcReorder, err = pd.srcReorderPD.CreatePrimitive(engine); err != nil {
		return nil, errors.WithMessage(err, "ncsp conv: creating source reorder")
	}
	if pd.dstPrePD != nil {
		if p.dstPre, err = pd.dstPrePD.CreatePrimitive(engine); err != nil {
			return nil, errors.WithMessage(err, "ncsp conv: creating destination pre-reorder")
		}
	}
	if p.dstPost, err = pd.dstPostPD.CreatePrimitive(engine); err != nil {
		return nil, errors.WithMessage(err, "ncsp conv: creating destination post-reorder")
	}
	return p, nil
}

// Execute implements primitives.Primitive.
func (p *ncspConv) Execute(ctx *primitives.ExecContext) error {
	if p.pd.isMatmul {
		return p.executeMatmul(ctx)
	}
	return p.executeConvolution(ctx)
}

// executeMatmul runs the nested matmul over the caller's buffers under the
// matrix views resolved at plan time. The operand roles swap: the
// convolution weights are the matmul's left operand and the source
// activations its right one.
func (p *ncspConv) executeMatmul(ctx *primitives.ExecContext) error {
	pd := p.pd
	mmSrc, err := ctx.Args.Get(primitives.ArgWeights).WithDesc(pd.mmSrc)
	if err != nil {
		return err
	}
	mmWei, err := ctx.Args.Get(primitives.ArgSrc).WithDesc(pd.mmWei)
	if err != nil {
		return err
	}
	mmDst, err := ctx.Args.Get(primitives.ArgDst).WithDesc(pd.mmDst)
	if err != nil {
		return err
	}
	return p.matmulPrim.Execute(ctx.Nested(keyNestedMatmul, primitives.Args{
		primitives.ArgSrc:     mmSrc,
		primitives.ArgWeights: mmWei,
		primitives.ArgDst:     mmDst,
	}))
}

func (p *ncspConv) executeConvolution(ctx *primitives.ExecContext) error {
	pd := p.pd
	nspcSrc, err := primitives.MemoryFromBytes(pd.nspcSrc, ctx.Scratch.Region(keyNCSPSrc))
	if err != nil {
		return errors.WithMessage(err, "ncsp conv: resolving source scratch")
	}
	nspcDst, err := primitives.MemoryFromBytes(pd.nspcDst, ctx.Scratch.Region(keyNCSPDst))
	if err != nil {
		return errors.WithMessage(err, "ncsp conv: resolving destination scratch")
	}

	err = p.reorder(ctx, p.srcReorder, keyNestedSrcReorder,
		ctx.Args.Get(primitives.ArgSrc), nspcSrc)
	if err != nil {
		return err
	}
	if p.dstPre != nil {
		// Accumulation: stage the prior destination content so the nested
		// convolution's sum post-op reads it in its own layout.
		err = p.reorder(ctx, p.dstPre, keyNestedDstPreReorder,
			ctx.Args.Get(primitives.ArgDst), nspcDst)
		if err != nil {
			return err
		}
	}

	convArgs := primitives.Args{
		primitives.ArgSrc:     nspcSrc,
		primitives.ArgWeights: ctx.Args.Get(primitives.ArgWeights),
		primitives.ArgDst:     nspcDst,
	}
	if pd.bia.Ok() {
		convArgs[primitives.ArgBias] = ctx.Args.Get(primitives.ArgBias)
	}
	if err = p.convPrim.Execute(ctx.Nested(keyNestedConv, convArgs)); err != nil {
		return err
	}

	return p.reorder(ctx, p.dstPost, keyNestedDstPostReorder,
		nspcDst, ctx.Args.Get(primitives.ArgDst))
}

func (p *ncspConv) reorder(ctx *primitives.ExecContext, prim primitives.Primitive,
	key scratchpad.Key, src, dst primitives.Memory) error {
	return prim.Execute(ctx.Nested(key, primitives.Args{
		primitives.ArgSrc: src,
		primitives.ArgDst: dst,
	}))
}
