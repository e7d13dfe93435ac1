// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"github.com/pkg/errors"

	"github.com/taoye9/godnn/primitives"
	"github.com/taoye9/godnn/types/memory"
)

// activationsToMatmul reinterprets a channel-first activation tensor
// {n, c, spatial...} as a matmul operand, collapsing all spatial axes into
// one and splitting the channel axis per group:
//
//	groups == 1: {n, c, prod(spatial)}
//	groups  > 1: {n, g, c/g, prod(spatial)}
//
// Both views address the same flat buffer, so no data moves. Layout-any
// descriptors are reshaped symbolically and stay layout-any.
func activationsToMatmul(in memory.Desc, groups int) (memory.Desc, error) {
	rank := in.Rank()
	if rank < 3 || rank > 5 {
		return memory.Desc{}, errors.Wrapf(primitives.ErrShape, "activations %s: rank must be 3 to 5", in)
	}
	channels := in.Dim(1)
	if groups > 1 && channels%groups != 0 {
		return memory.Desc{}, errors.Wrapf(primitives.ErrShape,
			"activations %s: channels not divisible by %d groups", in, groups)
	}
	spatial := 1
	for _, dim := range in.Dims[2:] {
		spatial *= dim
	}
	var outDims []int
	if groups > 1 {
		outDims = []int{in.Dim(0), groups, channels / groups, spatial}
	} else {
		outDims = []int{in.Dim(0), channels, spatial}
	}
	if in.IsAny() {
		return memory.NewAny(in.DType, outDims...), nil
	}
	out, err := memory.Reshape(in, outDims...)
	if err != nil {
		return memory.Desc{}, errors.WithMessagef(err, "activations %s to matmul view", in)
	}
	return out, nil
}

// activationsFromMatmul is the inverse of activationsToMatmul: it restores
// the matmul view to the channel-first convolution shape given by original.
func activationsFromMatmul(in, original memory.Desc) (memory.Desc, error) {
	if in.IsAny() {
		return memory.NewAny(in.DType, original.Dims...), nil
	}
	out, err := memory.Reshape(in, original.Dims...)
	if err != nil {
		return memory.Desc{}, errors.WithMessagef(err, "matmul view %s to activations %v", in, original.Dims)
	}
	return out.WithLayout(memory.ChannelsFirst(original.Rank())), nil
}

// weightsToMatmul reinterprets convolution weights whose kernel spatial
// extents are all 1 as a matmul operand with a broadcast batch axis:
//
//	grouped == false: {oc, ic, 1...}        -> {1, oc, ic}
//	grouped == true:  {g, oc/g, ic/g, 1...} -> {1, g, oc/g, ic/g}
func weightsToMatmul(in memory.Desc, grouped bool) (memory.Desc, error) {
	dense := 2
	if grouped {
		dense = 3
	}
	if in.Rank() < dense+1 {
		return memory.Desc{}, errors.Wrapf(primitives.ErrShape, "weights %s: missing kernel axes", in)
	}
	for _, k := range in.Dims[dense:] {
		if k != 1 {
			return memory.Desc{}, errors.Wrapf(primitives.ErrShape,
				"weights %s: kernel spatial extents must all be 1", in)
		}
	}
	outDims := append([]int{1}, in.Dims[:dense]...)
	if in.IsAny() {
		return memory.NewAny(in.DType, outDims...), nil
	}
	out, err := memory.Reshape(in, outDims...)
	if err != nil {
		return memory.Desc{}, errors.WithMessagef(err, "weights %s to matmul view", in)
	}
	return out, nil
}

// weightsFromMatmul restores a matmul-shaped weights descriptor to the
// convolution weights shape given by original.
func weightsFromMatmul(in, original memory.Desc) (memory.Desc, error) {
	if in.IsAny() {
		return memory.NewAny(in.DType, original.Dims...), nil
	}
	out, err := memory.Reshape(in, original.Dims...)
	if err != nil {
		return memory.Desc{}, errors.WithMessagef(err, "matmul view %s to weights %v", in, original.Dims)
	}
	return out, nil
}
