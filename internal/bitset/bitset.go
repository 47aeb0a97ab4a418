// Copyright 2024 The packedmap Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitset tracks which level-1 positions of the perfect hash are
// taken while buckets are being placed.
package bitset

import "math/bits"

// Bitset is a fixed-size set of uint32 positions.  Positions at or past
// the length are never members.
type Bitset struct {
	words  []uint64
	length uint32
}

// New returns an empty set over positions [0, length).
func New(length uint32) *Bitset {
	return &Bitset{
		words:  make([]uint64, (uint64(length)+63)/64),
		length: length,
	}
}

func (b *Bitset) Len() uint32 {
	return b.length
}

func (b *Bitset) IsSet(pos uint32) bool {
	if pos >= b.length {
		return false
	}
	return b.words[pos/64]&(1<<(pos%64)) != 0
}

func (b *Bitset) Set(pos uint32) {
	if pos >= b.length {
		return
	}
	b.words[pos/64] |= 1 << (pos % 64)
}

func (b *Bitset) Clear(pos uint32) {
	if pos >= b.length {
		return
	}
	b.words[pos/64] &^= 1 << (pos % 64)
}

// TrySet sets pos and reports whether it was previously clear.  It
// returns false for positions out of range.
func (b *Bitset) TrySet(pos uint32) bool {
	if pos >= b.length {
		return false
	}
	w := &b.words[pos/64]
	mask := uint64(1) << (pos % 64)
	if *w&mask != 0 {
		return false
	}
	*w |= mask
	return true
}

// ClearAll clears every position in positions, undoing a failed
// placement.
func (b *Bitset) ClearAll(positions []uint32) {
	for _, pos := range positions {
		b.Clear(pos)
	}
}

// Count returns the number of positions set.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}
