// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package scratchpad tracks the scratch-memory requirements of a primitive
// as a tree of named regions.
//
// At plan time a primitive books flat regions (key, element count, element
// size) and, for each nested sub-primitive, books that sub-primitive's own
// registry under a key without interpreting it: a parent only reserves
// total bytes for a child and forwards a sub-view at run time.
//
// No allocation happens here. The caller allocates one flat byte slice of
// TotalBytes and wraps it in a Grantor; Region and Nested resolve keys to
// byte views over that same allocation, walking the same tree that was
// booked.
package scratchpad

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Key names a booked region or nested registry within one Registry.
// Keys are scoped to their registry: nested registries have their own
// key space.
type Key string

// Alignment of every region's start offset, in bytes.
const Alignment = 64

type region struct {
	key   Key
	bytes int

	// nested is set for sub-registry bookings; bytes then caches the
	// nested TotalBytes.
	nested *Registry
}

// Registry records the scratch regions of one primitive. The zero value is
// unusable; use NewRegistry. Booking happens at plan time only; a Registry
// is immutable once its primitive's Desc is returned to the caller.
type Registry struct {
	regions []region
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) find(key Key) *region {
	for i := range r.regions {
		if r.regions[i].key == key {
			return &r.regions[i]
		}
	}
	return nil
}

// Book reserves a flat region of count elements of elemSize bytes each.
// Booking the same key twice, or after a Grantor was created, is a
// programming error.
func (r *Registry) Book(key Key, count int, elemSize int) {
	if count < 0 || elemSize <= 0 {
		exceptions.Panicf("scratchpad.Book(%q): invalid count %d or element size %d", key, count, elemSize)
	}
	if r.find(key) != nil {
		exceptions.Panicf("scratchpad.Book(%q): key already booked", key)
	}
	r.regions = append(r.regions, region{key: key, bytes: count * elemSize})
}

// BookNested reserves room for a sub-primitive's own registry under key.
// A nil or empty sub-registry books an empty region, so callers can book
// unconditionally for every sub-primitive they hold.
func (r *Registry) BookNested(key Key, sub *Registry) {
	if r.find(key) != nil {
		exceptions.Panicf("scratchpad.BookNested(%q): key already booked", key)
	}
	var bytes int
	if sub != nil {
		bytes = sub.TotalBytes()
	}
	r.regions = append(r.regions, region{key: key, bytes: bytes, nested: sub})
}

// RegionBytes returns the exact byte size booked under key, zero for
// unknown keys.
func (r *Registry) RegionBytes(key Key) int {
	if reg := r.find(key); reg != nil {
		return reg.bytes
	}
	return 0
}

// NumRegions returns the number of booked regions, nested ones included.
func (r *Registry) NumRegions() int { return len(r.regions) }

// TotalBytes returns the size of the flat allocation needed to serve every
// booked region, each starting at an Alignment boundary.
func (r *Registry) TotalBytes() int {
	total := 0
	for _, reg := range r.regions {
		total = alignUp(total) + reg.bytes
	}
	return total
}

func alignUp(offset int) int {
	return (offset + Alignment - 1) &^ (Alignment - 1)
}

// offsetOf returns the start offset of key's region within the flat
// allocation, or -1 if the key is unknown.
func (r *Registry) offsetOf(key Key) int {
	offset := 0
	for _, reg := range r.regions {
		offset = alignUp(offset)
		if reg.key == key {
			return offset
		}
		offset += reg.bytes
	}
	return -1
}

// Grantor resolves keys of a Registry to byte views over one caller-owned
// scratch allocation. The zero Grantor serves only empty registries.
type Grantor struct {
	registry *Registry
	buf      []byte
}

// NewGrantor wraps a caller allocation for the given registry. The buffer
// must hold at least TotalBytes.
func NewGrantor(registry *Registry, buf []byte) (Grantor, error) {
	need := registry.TotalBytes()
	if len(buf) < need {
		return Grantor{}, errors.Errorf("scratchpad: allocation of %s is smaller than the %s layout needs",
			humanize.IBytes(uint64(len(buf))), humanize.IBytes(uint64(need)))
	}
	if klog.V(2).Enabled() && need > 0 {
		klog.Infof("scratchpad: granting %s over %d regions",
			humanize.IBytes(uint64(need)), registry.NumRegions())
	}
	return Grantor{registry: registry, buf: buf}, nil
}

// Region returns the byte view of the flat region booked under key, exactly
// the booked size. Unknown keys panic: keys are fixed at plan time, so a
// miss is a bug.
func (g Grantor) Region(key Key) []byte {
	if g.registry == nil {
		exceptions.Panicf("scratchpad.Region(%q): empty grantor", key)
	}
	offset := g.registry.offsetOf(key)
	if offset < 0 {
		exceptions.Panicf("scratchpad.Region(%q): key was never booked", key)
	}
	return g.buf[offset : offset+g.registry.RegionBytes(key)]
}

// Nested returns the Grantor over the sub-registry booked under key, for
// forwarding to a nested sub-primitive. A key booked with a nil or empty
// sub-registry yields an empty Grantor.
func (g Grantor) Nested(key Key) Grantor {
	if g.registry == nil {
		exceptions.Panicf("scratchpad.Nested(%q): empty grantor", key)
	}
	reg := g.registry.find(key)
	if reg == nil {
		exceptions.Panicf("scratchpad.Nested(%q): key was never booked", key)
	}
	if reg.nested == nil || reg.nested.TotalBytes() == 0 {
		return Grantor{registry: NewRegistry()}
	}
	offset := g.registry.offsetOf(key)
	return Grantor{registry: reg.nested, buf: g.buf[offset : offset+reg.bytes]}
}
