// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package primitives defines the execution model shared by all goDNN
// compute primitives: the Engine, the plan-time Desc and run-time Primitive
// contracts, zero-copy Memory views over caller-owned flat slices, and
// execution attributes (post-ops).
//
// The lifecycle mirrors the three entry points every primitive package
// exposes:
//
//  1. Plan: a NewDesc constructor validates shapes/attributes and returns an
//     immutable Desc, including its scratchpad requirement.
//  2. Build: Desc.CreatePrimitive realizes the Desc into an executable
//     Primitive, once per Engine.
//  3. Execute: Primitive.Execute runs once per invocation, given live
//     buffers (Args) and a caller-provided scratch allocation sized by the
//     Desc's scratchpad registry.
//
// Descs and Primitives are immutable after creation and safe for concurrent
// Execute calls, provided each invocation supplies its own scratch.
package primitives

import (
	"k8s.io/klog/v2"

	"github.com/taoye9/godnn/primitives/scratchpad"
)

// Kind enumerates the primitive kinds implemented by goDNN.
type Kind int

const (
	KindUndef Kind = iota
	KindConvolution
	KindMatmul
	KindReorder
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindConvolution:
		return "convolution"
	case KindMatmul:
		return "matmul"
	case KindReorder:
		return "reorder"
	default:
		return "undef"
	}
}

// PropKind is the propagation kind of a compute primitive.
type PropKind int

const (
	PropUndef PropKind = iota

	// PropForwardInference is the inference-direction forward pass.
	PropForwardInference

	// PropForwardTraining is the forward pass keeping training-side extras.
	PropForwardTraining

	// PropBackwardData is the data-gradient pass. Not implemented by the
	// convolution adaptation layer; listed so descriptors can express it
	// and implementations can reject it.
	PropBackwardData
)

// IsForward reports whether the propagation kind is one of the forward ones.
func (p PropKind) IsForward() bool {
	return p == PropForwardInference || p == PropForwardTraining
}

// String implements fmt.Stringer.
func (p PropKind) String() string {
	switch p {
	case PropForwardInference:
		return "forward_inference"
	case PropForwardTraining:
		return "forward_training"
	case PropBackwardData:
		return "backward_data"
	default:
		return "undef"
	}
}

// Desc is the plan-time form of a primitive: an immutable, validated
// description holding everything needed to build the executable form,
// including the composite scratchpad requirement.
type Desc interface {
	// Kind of the primitive this Desc plans.
	Kind() Kind

	// Name is the implementation name, for logs and error messages
	// (e.g. "ncsp_convolution:matmul").
	Name() string

	// Scratchpad returns the registry of scratch regions an Execute call
	// needs. It may be empty, never nil. The caller allocates
	// Scratchpad().TotalBytes() and passes a Grantor over it at execution.
	Scratchpad() *scratchpad.Registry

	// CreatePrimitive realizes the Desc into an executable Primitive on the
	// given engine.
	CreatePrimitive(engine *Engine) (Primitive, error)
}

// Primitive is the executable form of a Desc. Read-only during execution:
// all per-call state lives in the ExecContext.
type Primitive interface {
	Execute(ctx *ExecContext) error
}

// Engine owns the execution resources shared by primitives: the workers
// pool. One Engine is typically created per process; Descs are planned
// against it and Primitives built on it.
type Engine struct {
	workers WorkersPool
}

// NewEngine returns an Engine with the default workers-pool parallelism
// (one worker per CPU).
func NewEngine() *Engine {
	e := &Engine{}
	e.workers.Initialize()
	if klog.V(2).Enabled() {
		klog.Infof("godnn: new engine, max parallelism %d", e.workers.MaxParallelism())
	}
	return e
}

// Workers returns the engine's workers pool.
func (e *Engine) Workers() *WorkersPool { return &e.workers }

// String implements fmt.Stringer.
func (e *Engine) String() string { return "cpu" }
