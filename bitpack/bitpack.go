// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"math/bits"
)

// MaxWidth is the widest field we can store: one machine word.
const MaxWidth = 64

var (
	ErrEncoding   = errors.New("bitpack: value exceeds bit width")
	ErrWidth      = errors.New("bitpack: bit width exceeds 64")
	ErrOutOfRange = errors.New("bitpack: index out of range")
)

// MinimumBits returns the smallest width such that every value fits.  An
// empty or all-zero input needs 0 bits.
func MinimumBits(values []uint64) uint {
	var acc uint64
	for _, v := range values {
		acc |= v
	}
	// the OR of all values has the same highest set bit as the max value
	return uint(bits.Len64(acc))
}

// BitsFor returns the width needed to store v.
func BitsFor(v uint64) uint {
	return uint(bits.Len64(v))
}

// PackedLen returns the number of bytes n values of the given width occupy.
// It saturates at math.MaxInt when the size isn't representable.
func PackedLen(n int, width uint) int {
	hi, nbits := bits.Mul64(uint64(n), uint64(width))
	if hi != 0 || nbits > math.MaxUint64-7 {
		return math.MaxInt
	}
	size := (nbits + 7) / 8
	if size > math.MaxInt {
		return math.MaxInt
	}
	return int(size)
}

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

func fits(v uint64, width uint) bool {
	return width >= 64 || v>>width == 0
}

// Pack encodes values as width-bit fields.  It fails with ErrEncoding if
// any value needs more than width bits.
func Pack(values []uint64, width uint) ([]byte, error) {
	if width > MaxWidth {
		return nil, fmt.Errorf("%w: %d", ErrWidth, width)
	}
	out := make([]byte, PackedLen(len(values), width))
	if width == 0 {
		for i, v := range values {
			if v != 0 {
				return nil, fmt.Errorf("%w: value %d at index %d needs %d bits (width 0)", ErrEncoding, v, i, BitsFor(v))
			}
		}
		return out, nil
	}
	for i, v := range values {
		if !fits(v, width) {
			return nil, fmt.Errorf("%w: value %d at index %d needs %d bits (width %d)", ErrEncoding, v, i, BitsFor(v), width)
		}
		deposit(out, uint64(i)*uint64(width), width, v)
	}
	return out, nil
}

// deposit ORs v into out at bitOff.  out must be zeroed in the field's
// span, and v must already fit in width.
func deposit(out []byte, bitOff uint64, width uint, v uint64) {
	i := bitOff >> 3
	shift := uint(bitOff & 7)
	out[i] |= byte(v << shift)
	for done := 8 - shift; done < width; done += 8 {
		i++
		out[i] |= byte(v >> done)
	}
}

// extract decodes the width-bit field starting at bitOff.  The caller
// guarantees the field lies entirely within data.
func extract(data []byte, bitOff uint64, width uint) uint64 {
	rest := data[bitOff>>3:]
	shift := uint(bitOff & 7)

	var v uint64
	if len(rest) >= 8 {
		v = binary.LittleEndian.Uint64(rest)
	} else {
		for i, b := range rest {
			v |= uint64(b) << (8 * uint(i))
		}
	}
	v >>= shift
	if shift+width > 64 {
		// the field straddles into a 9th byte
		v |= uint64(rest[8]) << (64 - shift)
	}
	return v & mask(width)
}

func checkRange(dataLen int, width uint, start, n int) error {
	if width > MaxWidth {
		return fmt.Errorf("%w: %d", ErrWidth, width)
	}
	if start < 0 || n < 0 {
		return fmt.Errorf("%w: start %d, len %d", ErrOutOfRange, start, n)
	}
	if width == 0 {
		return nil
	}
	// compare field counts rather than bit offsets so huge indexes can't wrap
	end := uint64(start) + uint64(n)
	if capacity := uint64(dataLen) * 8 / uint64(width); end > capacity {
		return fmt.Errorf("%w: fields [%d, %d) at width %d, have room for %d", ErrOutOfRange, start, end, width, capacity)
	}
	return nil
}

// UnpackOne decodes the value at index without decoding the rest of the
// array.  It never reads past len(data).
func UnpackOne(data []byte, width uint, index int) (uint64, error) {
	if err := checkRange(len(data), width, index, 1); err != nil {
		return 0, err
	}
	if width == 0 {
		return 0, nil
	}
	return extract(data, uint64(index)*uint64(width), width), nil
}

// UnpackRange returns a lazy sequence of the n values starting at start.
// The sequence may be ranged over any number of times.
func UnpackRange(data []byte, width uint, start, n int) (iter.Seq[uint64], error) {
	if err := checkRange(len(data), width, start, n); err != nil {
		return nil, err
	}
	return rangeSeq(data, width, start, n), nil
}

func rangeSeq(data []byte, width uint, start, n int) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if width == 0 {
			for range n {
				if !yield(0) {
					return
				}
			}
			return
		}
		bitOff := uint64(start) * uint64(width)
		for range n {
			if !yield(extract(data, bitOff, width)) {
				return
			}
			bitOff += uint64(width)
		}
	}
}

// Unpack decodes the whole array into dst, growing it as needed.
func Unpack(dst []uint64, data []byte, width uint, n int) ([]uint64, error) {
	seq, err := UnpackRange(data, width, 0, n)
	if err != nil {
		return dst, err
	}
	for v := range seq {
		dst = append(dst, v)
	}
	return dst, nil
}
