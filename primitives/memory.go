// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"reflect"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/taoye9/godnn/primitives/scratchpad"
	"github.com/taoye9/godnn/types/dtypes"
	"github.com/taoye9/godnn/types/dtypes/bfloat16"
	"github.com/taoye9/godnn/types/memory"
)

// Memory pairs a descriptor with a flat data slice. It is a view, not an
// owner: rebinding the same flat slice under a different (compatible)
// descriptor reinterprets the data with zero copy.
type Memory struct {
	Desc memory.Desc

	// Flat is always a slice of the descriptor's Go element type
	// (Desc.DType.GoType()), of at least Desc.Size() elements.
	Flat any
}

// NewMemory returns a Memory view of flat under desc, validating the
// element type and length.
func NewMemory(desc memory.Desc, flat any) (Memory, error) {
	if !desc.Ok() {
		return Memory{}, errors.Errorf("primitives.NewMemory: invalid descriptor %s", desc)
	}
	if desc.IsAny() {
		return Memory{}, errors.Errorf("primitives.NewMemory: descriptor %s has no concrete layout", desc)
	}
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice {
		return Memory{}, errors.Errorf("primitives.NewMemory: flat data must be a slice, got %T", flat)
	}
	if dtypes.FromGoType(v.Type().Elem()) != desc.DType {
		return Memory{}, errors.Errorf("primitives.NewMemory: flat data is %T, descriptor wants %s",
			flat, desc.DType)
	}
	if v.Len() < desc.Size() {
		return Memory{}, errors.Errorf("primitives.NewMemory: flat data has %d elements, descriptor %s wants %d",
			v.Len(), desc, desc.Size())
	}
	return Memory{Desc: desc, Flat: flat}, nil
}

// WithDesc rebinds the same flat data under another descriptor, zero copy.
// The new descriptor must describe no more elements than the current one.
func (m Memory) WithDesc(desc memory.Desc) (Memory, error) {
	if desc.Size() > m.Desc.Size() {
		return Memory{}, errors.Errorf(
			"primitives.Memory.WithDesc: %s describes %d elements, view holds only %d",
			desc, desc.Size(), m.Desc.Size())
	}
	return NewMemory(desc, m.Flat)
}

// Ok reports whether the Memory holds a valid view.
func (m Memory) Ok() bool { return m.Desc.Ok() && m.Flat != nil }

// flatFromBytes reinterprets a byte region as a typed flat slice.
func flatFromBytes[T dtypes.Supported](b []byte, n int) any {
	if n == 0 {
		return []T(nil)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// MemoryFromBytes builds a Memory view of desc over a raw byte region,
// typically a scratchpad region. The region must hold at least
// desc.Memory() bytes.
func MemoryFromBytes(desc memory.Desc, b []byte) (Memory, error) {
	if uintptr(len(b)) < desc.Memory() {
		return Memory{}, errors.Errorf("primitives.MemoryFromBytes: %d bytes for descriptor %s needing %d",
			len(b), desc, desc.Memory())
	}
	n := desc.Size()
	var flat any
	switch desc.DType {
	case dtypes.Int8:
		flat = flatFromBytes[int8](b, n)
	case dtypes.Int32:
		flat = flatFromBytes[int32](b, n)
	case dtypes.Int64:
		flat = flatFromBytes[int64](b, n)
	case dtypes.Uint8:
		flat = flatFromBytes[uint8](b, n)
	case dtypes.Float16:
		flat = flatFromBytes[float16.Float16](b, n)
	case dtypes.BFloat16:
		flat = flatFromBytes[bfloat16.BFloat16](b, n)
	case dtypes.Float32:
		flat = flatFromBytes[float32](b, n)
	case dtypes.Float64:
		flat = flatFromBytes[float64](b, n)
	default:
		return Memory{}, errors.Errorf("primitives.MemoryFromBytes: unsupported dtype in %s", desc)
	}
	return Memory{Desc: desc, Flat: flat}, nil
}

// Arg identifies the role of a Memory in an Execute call.
type Arg int

const (
	ArgSrc Arg = iota + 1
	ArgWeights
	ArgBias
	ArgDst
)

// String implements fmt.Stringer.
func (a Arg) String() string {
	switch a {
	case ArgSrc:
		return "src"
	case ArgWeights:
		return "weights"
	case ArgBias:
		return "bias"
	case ArgDst:
		return "dst"
	default:
		return "arg(?)"
	}
}

// Args maps argument roles to live Memory views for one Execute call.
type Args map[Arg]Memory

// Get returns the Memory for the given role. It panics if absent: by the
// time Execute runs, the Desc has already validated which arguments exist.
func (args Args) Get(arg Arg) Memory {
	m, found := args[arg]
	if !found || !m.Ok() {
		exceptions.Panicf("primitives.Args: missing or invalid %s argument", arg)
	}
	return m
}

// Has reports whether a valid Memory is bound to the given role.
func (args Args) Has(arg Arg) bool {
	m, found := args[arg]
	return found && m.Ok()
}

// ExecContext carries the per-invocation state of an Execute call: the
// engine, the live argument views, and the scratch grantor resolved over
// the caller's scratch allocation.
type ExecContext struct {
	Engine  *Engine
	Args    Args
	Scratch scratchpad.Grantor
}

// Nested derives the context for a nested sub-primitive: new args, and the
// scratch sub-view booked under key in the parent's registry.
func (ctx *ExecContext) Nested(key scratchpad.Key, args Args) *ExecContext {
	return &ExecContext{
		Engine:  ctx.Engine,
		Args:    args,
		Scratch: ctx.Scratch.Nested(key),
	}
}
