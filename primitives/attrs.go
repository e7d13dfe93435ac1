// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import "fmt"

// PostOpKind enumerates the supported post-operations.
type PostOpKind int

const (
	// PostOpSum accumulates into the existing destination content:
	// dst = conv(src) + Scale*dst_prev.
	PostOpSum PostOpKind = iota + 1

	// PostOpReLU applies max(0, x) to the result.
	PostOpReLU
)

// String implements fmt.Stringer.
func (k PostOpKind) String() string {
	switch k {
	case PostOpSum:
		return "sum"
	case PostOpReLU:
		return "relu"
	default:
		return "undef"
	}
}

// PostOp is one entry of an attribute's post-op chain.
type PostOp struct {
	Kind PostOpKind

	// Scale applies to PostOpSum. Zero means 1.
	Scale float64
}

// Attrs carries the execution attributes of a primitive, applied in order
// after the primitive's own computation. The zero value (or nil) means
// default attributes.
//
// Attrs are fixed for the lifetime of a Desc.
type Attrs struct {
	PostOps []PostOp
}

// HasDefaults reports whether the attributes are all defaults: no post-ops.
func (a *Attrs) HasDefaults() bool {
	return a == nil || len(a.PostOps) == 0
}

// SumScale returns the scale of the sum post-op and whether one is present.
func (a *Attrs) SumScale() (float64, bool) {
	if a == nil {
		return 0, false
	}
	for _, po := range a.PostOps {
		if po.Kind == PostOpSum {
			scale := po.Scale
			if scale == 0 {
				scale = 1
			}
			return scale, true
		}
	}
	return 0, false
}

// HasSum reports whether the post-op chain accumulates into the existing
// destination.
func (a *Attrs) HasSum() bool {
	_, ok := a.SumScale()
	return ok
}

// String implements fmt.Stringer.
func (a *Attrs) String() string {
	if a.HasDefaults() {
		return "attrs{}"
	}
	return fmt.Sprintf("attrs{post-ops: %v}", a.PostOps)
}
