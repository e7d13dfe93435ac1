// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"github.com/gomlx/exceptions"

	"github.com/taoye9/godnn/types/dtypes"
)

// DTypeMap maps a DType to an implementation of some kernel, usually an
// instantiation of a generic function. Each kernel family creates one map at
// package init time and registers the dtypes it supports.
type DTypeMap struct {
	// Name of the kernel family, for error messages.
	Name string

	fns [dtypes.MaxDType]any
}

// NewDTypeMap creates a named, empty dispatch map.
func NewDTypeMap(name string) *DTypeMap {
	return &DTypeMap{Name: name}
}

// Register the implementation for a dtype, overwriting any previous one.
func (m *DTypeMap) Register(dtype dtypes.DType, fn any) {
	if !dtype.Ok() {
		exceptions.Panicf("DTypeMap(%s).Register: invalid dtype %s", m.Name, dtype)
	}
	m.fns[dtype] = fn
}

// Supports reports whether an implementation is registered for dtype.
func (m *DTypeMap) Supports(dtype dtypes.DType) bool {
	return dtype.Ok() && m.fns[dtype] != nil
}

// Get returns the implementation registered for dtype. It panics if none
// is: descriptors check Supports at plan time, so a miss here is a bug.
func (m *DTypeMap) Get(dtype dtypes.DType) any {
	if !m.Supports(dtype) {
		exceptions.Panicf("dtype %s not supported by %s", dtype, m.Name)
	}
	return m.fns[dtype]
}
