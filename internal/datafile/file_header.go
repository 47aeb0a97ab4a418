// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/bpowers/packedmap/bitpack"
)

const (
	magicDataHeader   = uint32(0xC0FFEEB1)
	fileFormatVersion = uint32(1)

	// HeaderSize is the size of the fixed file header; sections start
	// immediately after it.
	HeaderSize = 128

	MaxFingerprintWidth = 32
)

var (
	ErrCorrupt          = errors.New("packedmap: corrupt file")
	ErrVersion          = errors.New("packedmap: unsupported file version")
	ErrChecksumMismatch = errors.New("packedmap: checksum mismatch")
)

// versionError reports a file written in a format this package can't
// read.  It matches both ErrVersion and ErrCorrupt.
type versionError struct {
	found uint32
}

func (e *versionError) Error() string {
	return fmt.Sprintf("%s: this version of packedmap can only read v%d files; found v%d", ErrVersion, fileFormatVersion, e.found)
}

func (e *versionError) Is(target error) bool {
	return target == ErrVersion || target == ErrCorrupt
}

// Header describes the layout of a data file:
//
//	0   4  magic
//	4   4  format version
//	8   8  key count
//	16  1  value bit width
//	17  1  fingerprint bit width
//	18  1  hash function id
//	19  5  reserved
//	24  8  index size in bytes
//	32  8  xxhash64 of everything after the header
//	40  88 reserved
type Header struct {
	KeyCount         uint64
	ValueWidth       uint8
	FingerprintWidth uint8
	HashID           uint8
	IndexSize        uint64
	Checksum         uint64
}

// ValuesSize returns the size of the packed values section.
func (h *Header) ValuesSize() uint64 {
	return packedSize(h.KeyCount, h.ValueWidth)
}

// FingerprintsSize returns the size of the packed fingerprints section.
func (h *Header) FingerprintsSize() uint64 {
	return packedSize(h.KeyCount, h.FingerprintWidth)
}

func packedSize(n uint64, width uint8) uint64 {
	hi, lo := bits.Mul64(n, uint64(width))
	if hi != 0 || lo > math.MaxUint64-7 {
		return math.MaxUint64
	}
	return (lo + 7) / 8
}

// FileSize returns the exact size a file with this header must have, or
// an error if the declared sections can't fit in a file at all.
func (h *Header) FileSize() (uint64, error) {
	total := uint64(HeaderSize)
	for _, size := range []uint64{h.IndexSize, h.ValuesSize(), h.FingerprintsSize()} {
		if size > math.MaxInt64-total {
			return 0, fmt.Errorf("%w: declared sections overflow (%d keys)", ErrCorrupt, h.KeyCount)
		}
		total += size
	}
	return total, nil
}

func (h *Header) validate() error {
	switch {
	case h.ValueWidth > bitpack.MaxWidth:
		return fmt.Errorf("%w: value width %d", ErrCorrupt, h.ValueWidth)
	case h.FingerprintWidth > MaxFingerprintWidth:
		return fmt.Errorf("%w: fingerprint width %d", ErrCorrupt, h.FingerprintWidth)
	}
	return nil
}

// MarshalTo encodes the header into the first HeaderSize bytes of buf.
func (h *Header) MarshalTo(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), HeaderSize)
	}
	buf = buf[:HeaderSize]
	clear(buf)

	binary.LittleEndian.PutUint32(buf[0:4], magicDataHeader)
	binary.LittleEndian.PutUint32(buf[4:8], fileFormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.KeyCount)
	buf[16] = h.ValueWidth
	buf[17] = h.FingerprintWidth
	buf[18] = h.HashID
	binary.LittleEndian.PutUint64(buf[24:32], h.IndexSize)
	binary.LittleEndian.PutUint64(buf[32:40], h.Checksum)
	return nil
}

func (h *Header) WriteTo(w io.Writer) (n int64, err error) {
	// make the header the minimum cache-width we expect to see
	var headerBuf [HeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return 0, err
	}
	if _, err = w.Write(headerBuf[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return int64(HeaderSize), nil
}

// Rewrite overwrites the header at the start of w.
func (h *Header) Rewrite(w io.WriterAt) error {
	var headerBuf [HeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return err
	}
	if _, err := w.WriteAt(headerBuf[:], 0); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}
	return nil
}

func (h *Header) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < HeaderSize {
		return fmt.Errorf("%w: header too short: %d < %d", ErrCorrupt, len(headerBytes), HeaderSize)
	}

	headerBytes = headerBytes[:HeaderSize]

	magic := binary.LittleEndian.Uint32(headerBytes[:4])
	if magic != magicDataHeader {
		return fmt.Errorf("%w: bad magic number (%x) -- not a packedmap file or corrupted", ErrCorrupt, magic)
	}

	formatVersion := binary.LittleEndian.Uint32(headerBytes[4:8])
	if formatVersion != fileFormatVersion {
		return &versionError{found: formatVersion}
	}

	*h = Header{
		KeyCount:         binary.LittleEndian.Uint64(headerBytes[8:16]),
		ValueWidth:       headerBytes[16],
		FingerprintWidth: headerBytes[17],
		HashID:           headerBytes[18],
		IndexSize:        binary.LittleEndian.Uint64(headerBytes[24:32]),
		Checksum:         binary.LittleEndian.Uint64(headerBytes[32:40]),
	}
	return h.validate()
}
