// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
)

// MmapReader is a validated, read-only mapping of a data file.  Section
// slices point directly into the mapping and are invalid after Close.
type MmapReader struct {
	h            Header
	mmap         mmap.MMap
	index        []byte
	values       []byte
	fingerprints []byte
	closed       atomic.Bool
}

// NewMMapReaderWithPath maps the file at path and checks that its header
// describes exactly the bytes present.
func NewMMapReaderWithPath(path string) (*MmapReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	// the mapping outlives the descriptor
	defer func() { _ = f.Close() }()

	stats, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	if !stats.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s isn't a regular file", ErrCorrupt, path)
	}
	if stats.Size() < HeaderSize {
		return nil, fmt.Errorf("%w: data file too short: %d < %d", ErrCorrupt, stats.Size(), HeaderSize)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap.Map(%s): %w", path, err)
	}

	r, err := newMmapReader(m)
	if err != nil {
		return nil, errors.Join(err, m.Unmap())
	}
	if err := adviseRandom(m); err != nil {
		return nil, errors.Join(fmt.Errorf("madvise: %w", err), m.Unmap())
	}
	return r, nil
}

func newMmapReader(m mmap.MMap) (*MmapReader, error) {
	var header Header
	if err := header.UnmarshalBytes(m); err != nil {
		return nil, err
	}
	size, err := header.FileSize()
	if err != nil {
		return nil, err
	}
	if size != uint64(len(m)) {
		return nil, fmt.Errorf("%w: file is %d bytes, header describes %d", ErrCorrupt, len(m), size)
	}

	off := uint64(HeaderSize)
	next := func(n uint64) []byte {
		s := m[off : off+n : off+n]
		off += n
		return s
	}

	return &MmapReader{
		h:            header,
		mmap:         m,
		index:        next(header.IndexSize),
		values:       next(header.ValuesSize()),
		fingerprints: next(header.FingerprintsSize()),
	}, nil
}

// Header returns the decoded file header.
func (r *MmapReader) Header() Header {
	return r.h
}

func (r *MmapReader) Index() []byte {
	return r.index
}

func (r *MmapReader) Values() []byte {
	return r.values
}

func (r *MmapReader) Fingerprints() []byte {
	return r.fingerprints
}

// Len returns the size of the mapping, which is the size of the file.
func (r *MmapReader) Len() int64 {
	return int64(len(r.mmap))
}

// VerifyChecksum hashes everything after the header and compares it with
// the checksum recorded when the file was written.
func (r *MmapReader) VerifyChecksum() error {
	sum := xxhash.Sum64(r.mmap[HeaderSize:])
	if sum != r.h.Checksum {
		return fmt.Errorf("%w: computed %016x, header has %016x", ErrChecksumMismatch, sum, r.h.Checksum)
	}
	return nil
}

// Populate asks the kernel to read the whole file into the page cache.
func (r *MmapReader) Populate() error {
	return adviseWillNeed(r.mmap)
}

// ClearCache tells the kernel the mapped pages can be dropped.  Later
// reads fault them back in from the file.
func (r *MmapReader) ClearCache() error {
	return adviseDontNeed(r.mmap)
}

// LockIndex mlocks the index section so lookups never fault on it.
func (r *MmapReader) LockIndex() error {
	return lockMemory(r.index)
}

// Close unmaps the file.  It is safe to call more than once.
func (r *MmapReader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.mmap.Unmap()
}
