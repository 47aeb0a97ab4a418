// Copyright 2024 The packedmap Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"fmt"

	"github.com/bpowers/packedmap/bitpack"
	"github.com/bpowers/packedmap/internal/unsafestring"
)

// Table is a read-only view of a serialized table, usually backed by an
// mmap'd file.  It is safe for concurrent use.
type Table struct {
	hash      HashFunc
	seeds     bitpack.Array
	seedsMask uint64
	slots     bitpack.Array
	slotsMask uint64
	size      int
	// bytes touched by one lookup, for I/O accounting
	lookupBytes int
}

// NewTable returns a view over blob, which must hold a table built over n
// keys with the given hash function.  The blob isn't copied.
func NewTable(blob []byte, hash HashFunc, n uint64) (*Table, error) {
	if !hash.Valid() {
		return nil, fmt.Errorf("%w: unknown hash function %s", ErrCorrupt, hash)
	}
	h, err := parseBlobHeader(blob)
	if err != nil {
		return nil, err
	}
	if uint64(h.level1Len) < n {
		return nil, fmt.Errorf("%w: level1Len %d can't hold %d keys", ErrCorrupt, h.level1Len, n)
	}
	if size := h.size(); len(blob) != size {
		return nil, fmt.Errorf("%w: table is %d bytes, header describes %d", ErrCorrupt, len(blob), size)
	}

	rest := blob[blobHeaderSize:]
	seeds, err := bitpack.NewArray(rest, uint(h.seedWidth), int(h.level0Len))
	if err != nil {
		return nil, fmt.Errorf("%w: seeds: %w", ErrCorrupt, err)
	}
	rest = rest[len(seeds.Bytes()):]
	slots, err := bitpack.NewArray(rest, uint(h.slotWidth), int(h.level1Len))
	if err != nil {
		return nil, fmt.Errorf("%w: slots: %w", ErrCorrupt, err)
	}

	return &Table{
		hash:      hash,
		seeds:     seeds,
		seedsMask: uint64(h.level0Len - 1),
		slots:     slots,
		slotsMask: uint64(h.level1Len - 1),
		size:      len(blob),

		lookupBytes: int(h.seedWidth+7)/8 + int(h.slotWidth+7)/8,
	}, nil
}

// MaybeLookupString searches for s in t and returns its potential slot.
func (t *Table) MaybeLookupString(s string) uint64 {
	return t.MaybeLookup(unsafestring.ToBytes(s))
}

// MaybeLookup searches for b in t and returns its potential slot.  Every
// input maps to some slot; callers must confirm membership themselves.
func (t *Table) MaybeLookup(b []byte) uint64 {
	// first we hash the key with a fixed seed, giving us the offset
	// of a seed that perfectly hashes into our second-level table
	seed := t.seeds.Get(int(t.hash.Sum64(b, 0) & t.seedsMask))
	// next, we use that more-specific seed to re-hash the key, giving
	// us the slot the key was assigned at build time.
	return t.slots.Get(int(t.hash.Sum64(b, seed) & t.slotsMask))
}

// Size returns the serialized size of the table in bytes.
func (t *Table) Size() int {
	return t.size
}

// LookupBytes returns the number of table bytes a lookup reads.
func (t *Table) LookupBytes() int {
	return t.lookupBytes
}

// Hash returns the hash function the table was built with.
func (t *Table) Hash() HashFunc {
	return t.hash
}
