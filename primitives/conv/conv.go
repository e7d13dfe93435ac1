// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package conv implements the forward convolution primitive, for tensors of
// rank 3 to 5 (1 to 3 spatial axes), with strides, dilation, asymmetric
// padding, channel groups, bias, and sum/relu post-ops.
//
// Two implementations are registered, tried in priority order by Iterator:
//
//   - ncsp: the channel-first adaptation layer. It does no convolution
//     arithmetic itself; it either reinterprets the operation as a single
//     matmul (1x1 kernel, no padding, unit strides) with zero data movement,
//     or reorders activations to channel-last, runs a nested channel-last
//     convolution, and reorders the result back.
//   - direct: the channel-last direct kernel.
package conv

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/types/memory"
)

// Alg selects the convolution algorithm.
type Alg int

const (
	// AlgAuto lets the implementation pick; resolves to AlgDirect.
	AlgAuto Alg = iota
	AlgDirect
	AlgWinograd
)

// String implements fmt.Stringer.
func (a Alg) String() string {
	switch a {
	case AlgAuto:
		return "auto"
	case AlgDirect:
		return "direct"
	case AlgWinograd:
		return "winograd"
	default:
		return "alg(?)"
	}
}

// Config carries the convolution hyper-parameters. Per-axis slices have one
// entry per spatial axis; nil means the default (unit strides and
// dilations, zero padding). Fixed for the lifetime of a Desc.
type Config struct {
	Prop primitives.PropKind
	Alg  Alg

	// Strides per spatial axis.
	Strides []int

	// Dilations per spatial axis; 1 (or 0) means no dilation.
	Dilations []int

	// PaddingL and PaddingR are the front and back padding per spatial
	// axis.
	PaddingL, PaddingR []int

	// Groups is the channel group count; <= 0 means 1.
	Groups int
}

// WithGroups reports whether the configuration uses more than one channel
// group.
func (cfg *Config) WithGroups() bool { return cfg.Groups > 1 }

// normalized returns a copy with defaults filled in for the given spatial
// rank. Mis-sized per-axis slices fail with ErrUnsupportedConfig.
func (cfg Config) normalized(spatialRank int) (Config, error) {
	out := cfg
	if out.Groups <= 0 {
		out.Groups = 1
	}
	fill := func(name string, values []int, def int) ([]int, error) {
		if values == nil {
			filled := make([]int, spatialRank)
			for i := range filled {
				filled[i] = def
			}
			return filled, nil
		}
		if len(values) != spatialRank {
			return nil, errors.Wrapf(primitives.ErrUnsupportedConfig,
				"conv: %s has %d entries for %d spatial axes", name, len(values), spatialRank)
		}
		return slices.Clone(values), nil
	}
	var err error
	if out.Strides, err = fill("strides", out.Strides, 1); err != nil {
		return out, err
	}
	if out.Dilations, err = fill("dilations", out.Dilations, 1); err != nil {
		return out, err
	}
	for i, dilation := range out.Dilations {
		if dilation <= 0 {
			out.Dilations[i] = 1
		}
	}
	if out.PaddingL, err = fill("padding", out.PaddingL, 0); err != nil {
		return out, err
	}
	if out.PaddingR, err = fill("padding", out.PaddingR, 0); err != nil {
		return out, err
	}
	for i, stride := range out.Strides {
		if stride <= 0 {
			return out, errors.Wrapf(primitives.ErrUnsupportedConfig, "conv: stride %d on axis %d", stride, i)
		}
	}
	return out, nil
}

// Desc is the planned form of a convolution, extending primitives.Desc with
// the operand descriptors (back-filled where the caller left them
// LayoutAny).
type Desc interface {
	primitives.Desc
	SrcDesc() memory.Desc
	WeightsDesc() memory.Desc
	BiasDesc() memory.Desc // zero Desc when there is no bias
	DstDesc() memory.Desc
}

// checkShapes validates the operand set against a normalized config:
// ranks, channel/group consistency, bias extent, dtype uniformity and
// spatial shape inference. Violations fail with ErrUnsupportedShape.
//
// Weight dims are {oc, ic, kernel...}, or {g, oc/g, ic/g, kernel...} with
// groups. Weights and bias may be LayoutAny; src and dst may not.
func checkShapes(cfg *Config, src, wei, bia, dst memory.Desc) error {
	fail := func(format string, args ...any) error {
		return errors.Wrapf(primitives.ErrUnsupportedShape, "conv: "+format, args...)
	}
	rank := src.Rank()
	if rank < 3 || rank > 5 {
		return fail("src rank %d outside [3, 5]", rank)
	}
	spatialRank := rank - 2
	groups := cfg.Groups
	weiRank := rank
	if cfg.WithGroups() {
		weiRank++
	}
	if dst.Rank() != rank || wei.Rank() != weiRank {
		return fail("rank mismatch, src=%s wei=%s dst=%s (groups=%d)", src, wei, dst, groups)
	}
	if src.DType != dst.DType || wei.DType != dst.DType || (bia.Ok() && bia.DType != dst.DType) {
		return fail("mixed dtypes, src=%s wei=%s dst=%s", src.DType, wei.DType, dst.DType)
	}
	if src.Dim(0) != dst.Dim(0) {
		return fail("batch mismatch, src=%s dst=%s", src, dst)
	}

	ocTotal, icTotal := wei.Dim(0), wei.Dim(1)*groups
	kernelDims := wei.Dims[2:]
	if cfg.WithGroups() {
		ocTotal, icTotal = wei.Dim(0)*wei.Dim(1), wei.Dim(0)*wei.Dim(2)
		kernelDims = wei.Dims[3:]
	}
	if src.Dim(1) != icTotal || dst.Dim(1) != ocTotal {
		return fail("channel mismatch, src=%s wei=%s dst=%s (groups=%d)", src, wei, dst, groups)
	}
	if src.Dim(1)%groups != 0 || dst.Dim(1)%groups != 0 {
		return fail("channels not divisible by %d groups, src=%s dst=%s", groups, src, dst)
	}
	if bia.Ok() && (bia.Rank() != 1 || bia.Dim(0) != ocTotal) {
		return fail("bias %s does not match %d output channels", bia, ocTotal)
	}

	for axis := 0; axis < spatialRank; axis++ {
		in, kernel := src.Dim(2+axis), kernelDims[axis]
		effKernel := (kernel-1)*cfg.Dilations[axis] + 1
		padded := in + cfg.PaddingL[axis] + cfg.PaddingR[axis]
		if kernel <= 0 || padded < effKernel {
			return fail("kernel %d (dilation %d) does not fit input %d+%d+%d on spatial axis %d",
				kernel, cfg.Dilations[axis], in, cfg.PaddingL[axis], cfg.PaddingR[axis], axis)
		}
		out := (padded-effKernel)/cfg.Strides[axis] + 1
		if dst.Dim(2+axis) != out {
			return fail("dst spatial axis %d is %d, inference gives %d", axis, dst.Dim(2+axis), out)
		}
	}
	return nil
}

// implFactory plans one candidate implementation, or reports why it does
// not apply.
type implFactory struct {
	name   string
	create func(engine *primitives.Engine, cfg Config, attr *primitives.Attrs,
		src, wei, bia, dst memory.Desc) (Desc, error)
}

// implList holds the candidate implementations in priority order: the
// adaptation layers first, the generic kernel last.
var implList []implFactory

func init() {
	implList = []implFactory{
		{"ncsp_convolution", newNCSPDesc},
		{"direct_convolution", newDirectDesc},
	}
}

// Iterator walks the candidate implementations for one operand set, in
// priority order, lazily planning each. Candidates that report
// inapplicability (ErrUnsupportedShape, ErrUnsupportedConfig,
// ErrNoImplementation) are skipped; hard failures abort.
type Iterator struct {
	engine             *primitives.Engine
	cfg                Config
	attr               *primitives.Attrs
	src, wei, bia, dst memory.Desc

	next int
}

// NewIterator returns a fresh iterator over the candidate implementations.
func NewIterator(engine *primitives.Engine, cfg Config, attr *primitives.Attrs,
	src, wei, bia, dst memory.Desc) *Iterator {
	return &Iterator{engine: engine, cfg: cfg, attr: attr, src: src, wei: wei, bia: bia, dst: dst}
}

// Next plans and returns the next applicable candidate. Once the list is
// exhausted it fails with ErrNoImplementation.
func (it *Iterator) Next() (Desc, error) {
	for it.next < len(implList) {
		factory := implList[it.next]
		it.next++
		pd, err := factory.create(it.engine, it.cfg, it.attr, it.src, it.wei, it.bia, it.dst)
		if err == nil {
			return pd, nil
		}
		if primitives.IsInapplicable(err) {
			continue
		}
		return nil, errors.WithMessagef(err, "planning %s", factory.name)
	}
	return nil, errors.Wrapf(primitives.ErrNoImplementation,
		"conv: no implementation accepted src=%s wei=%s dst=%s", it.src, it.wei, it.dst)
}

// Reset restarts the iteration from the highest-priority candidate.
func (it *Iterator) Reset() { it.next = 0 }

// NewDesc plans the highest-priority applicable convolution implementation
// for the operands. bias may be the zero Desc. It fails with
// ErrNoImplementation if no candidate accepts the operands.
func NewDesc(engine *primitives.Engine, cfg Config, attr *primitives.Attrs,
	src, wei, bia, dst memory.Desc) (Desc, error) {
	return NewIterator(engine, cfg, attr, src, wei, bia, dst).Next()
}
