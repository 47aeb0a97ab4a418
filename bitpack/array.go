// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitpack

import (
	"fmt"
	"iter"
)

// Array is a read-only view of n packed values.  It never copies data, so
// it is safe to build over an mmap'd region as long as the mapping
// outlives the Array.
type Array struct {
	data  []byte
	width uint
	n     int
}

// NewArray validates that data holds n values of the given width and
// returns a view over exactly PackedLen(n, width) bytes of it.
func NewArray(data []byte, width uint, n int) (Array, error) {
	if width > MaxWidth {
		return Array{}, fmt.Errorf("%w: %d", ErrWidth, width)
	}
	if n < 0 {
		return Array{}, fmt.Errorf("%w: negative length %d", ErrOutOfRange, n)
	}
	size := PackedLen(n, width)
	if len(data) < size {
		return Array{}, fmt.Errorf("%w: %d values at width %d need %d bytes, have %d", ErrOutOfRange, n, width, size, len(data))
	}
	return Array{
		data:  data[:size:size],
		width: width,
		n:     n,
	}, nil
}

// Len returns the number of values in the array.
func (a Array) Len() int {
	return a.n
}

// Width returns the bit width of each value.
func (a Array) Width() uint {
	return a.width
}

// Bytes returns the packed representation; it must not be modified.
func (a Array) Bytes() []byte {
	return a.data
}

// Get returns the value at index i.  Like a slice index, it panics if i is
// out of range.
func (a Array) Get(i int) uint64 {
	if uint(i) >= uint(a.n) {
		panic(fmt.Sprintf("bitpack: index %d out of range [0:%d]", i, a.n))
	}
	if a.width == 0 {
		return 0
	}
	return extract(a.data, uint64(i)*uint64(a.width), a.width)
}

// All returns a sequence over every value in index order.
func (a Array) All() iter.Seq[uint64] {
	return rangeSeq(a.data, a.width, 0, a.n)
}

// Range returns a sequence over the values in [start, start+n).  It panics
// if that range isn't within the array.
func (a Array) Range(start, n int) iter.Seq[uint64] {
	if start < 0 || n < 0 || start+n > a.n {
		panic(fmt.Sprintf("bitpack: range [%d:%d] out of range [0:%d]", start, start+n, a.n))
	}
	return rangeSeq(a.data, a.width, start, n)
}
