// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import "github.com/pkg/errors"

// Error taxonomy shared by all primitive packages. Constructors and
// executors wrap these sentinels (github.com/pkg/errors) with context;
// callers classify with errors.Is.
//
// ErrUnsupportedShape, ErrNoImplementation and ErrUnsupportedConfig are
// ordinary inapplicability signals during implementation selection: the
// caller should try another implementation. Anything else is a hard failure
// of that specific call.
var (
	// ErrShape signals a reshape rank or layout mismatch. It is a
	// precondition violation, never expected in correct usage.
	ErrShape = errors.New("descriptor shape mismatch")

	// ErrUnsupportedShape signals that the caller's tensors do not match a
	// layout the implementation recognizes, or are degenerate.
	ErrUnsupportedShape = errors.New("unsupported tensor shape or layout")

	// ErrNoImplementation signals that no candidate implementation accepted
	// the descriptor.
	ErrNoImplementation = errors.New("no implementation available")

	// ErrUnsupportedConfig signals that a primitive rejected the requested
	// configuration or attributes.
	ErrUnsupportedConfig = errors.New("unsupported configuration")

	// ErrResource signals an engine-level construction failure.
	ErrResource = errors.New("resource construction failed")
)

// IsInapplicable reports whether err is one of the implementation-selection
// signals, as opposed to a hard failure.
func IsInapplicable(err error) bool {
	return errors.Is(err, ErrUnsupportedShape) ||
		errors.Is(err, ErrNoImplementation) ||
		errors.Is(err, ErrUnsupportedConfig)
}
