// Copyright 2024 The packedmap Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index implements a "hash, displace, and compress" (CHD) minimal
// perfect hash over a fixed set of keys.  The table maps each key to the
// position it was handed to Build in, and is serialized as a compact blob of
// bit-packed seeds and slot numbers that can be queried in place.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/dgryski/go-farm"
	"github.com/spaolacci/murmur3"

	"github.com/bpowers/packedmap/bitpack"
)

const (
	// MaxKeys is the most keys a table can hold.
	MaxKeys = maxIndexEntries

	maxIndexEntries = (1 << 31) - 1
	maxUint32       = ^uint32(0)

	// blobHeaderSize is the size of the sub-header at the start of a
	// serialized table:
	//
	//	0   4  level0 length
	//	4   4  level1 length
	//	8   1  seed bit width
	//	9   1  slot bit width
	//	10  6  reserved
	blobHeaderSize = 16

	maxSeedWidth = 32
	maxSlotWidth = 32
)

var (
	ErrDuplicateKey = errors.New("packedmap: duplicate key")
	ErrTooManyKeys  = errors.New("packedmap: too many keys")
	ErrCorrupt      = errors.New("packedmap: corrupt index")
)

// HashFunc identifies the keyed hash used at both levels of the table.  Its
// numeric value is persisted, so existing values must never change.
type HashFunc uint8

const (
	HashFarm HashFunc = iota
	HashMurmur3
)

func (h HashFunc) Valid() bool {
	return h == HashFarm || h == HashMurmur3
}

func (h HashFunc) String() string {
	switch h {
	case HashFarm:
		return "farm"
	case HashMurmur3:
		return "murmur3"
	default:
		return fmt.Sprintf("HashFunc(%d)", uint8(h))
	}
}

// Sum64 hashes b with the given seed.  Seeds are always below 2^32, which
// is all murmur3 accepts.
func (h HashFunc) Sum64(b []byte, seed uint64) uint64 {
	if h == HashMurmur3 {
		return murmur3.Sum64WithSeed(b, uint32(seed))
	}
	return farm.Hash64WithSeed(b, seed)
}

// nextPow2 returns the next highest power of two above a given number.
func nextPow2(n int64) int64 {
	return 1 << (64 - bits.LeadingZeros64(uint64(n)))
}

func isPow2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

type blobHeader struct {
	level0Len uint32
	level1Len uint32
	seedWidth uint8
	slotWidth uint8
}

// size returns the total serialized size of a table with this header.
func (h blobHeader) size() int {
	return blobHeaderSize +
		bitpack.PackedLen(int(h.level0Len), uint(h.seedWidth)) +
		bitpack.PackedLen(int(h.level1Len), uint(h.slotWidth))
}

func (h blobHeader) put(buf []byte) {
	_ = buf[blobHeaderSize-1]
	clear(buf[:blobHeaderSize])
	binary.LittleEndian.PutUint32(buf[0:4], h.level0Len)
	binary.LittleEndian.PutUint32(buf[4:8], h.level1Len)
	buf[8] = h.seedWidth
	buf[9] = h.slotWidth
}

func parseBlobHeader(blob []byte) (blobHeader, error) {
	if len(blob) < blobHeaderSize {
		return blobHeader{}, fmt.Errorf("%w: %d byte table is shorter than its header", ErrCorrupt, len(blob))
	}
	h := blobHeader{
		level0Len: binary.LittleEndian.Uint32(blob[0:4]),
		level1Len: binary.LittleEndian.Uint32(blob[4:8]),
		seedWidth: blob[8],
		slotWidth: blob[9],
	}
	switch {
	case !isPow2(h.level0Len) || !isPow2(h.level1Len):
		return blobHeader{}, fmt.Errorf("%w: table lengths %d/%d aren't powers of two", ErrCorrupt, h.level0Len, h.level1Len)
	case h.seedWidth > maxSeedWidth || h.slotWidth > maxSlotWidth:
		return blobHeader{}, fmt.Errorf("%w: bad widths seed=%d slot=%d", ErrCorrupt, h.seedWidth, h.slotWidth)
	}
	return h, nil
}
