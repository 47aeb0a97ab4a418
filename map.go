// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package packedmap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/bpowers/packedmap/bitpack"
	"github.com/bpowers/packedmap/budget"
	"github.com/bpowers/packedmap/internal/datafile"
	"github.com/bpowers/packedmap/internal/index"
	"github.com/bpowers/packedmap/internal/unsafestring"
)

const (
	// LookupCost is charged per key looked up: one unit each to hash,
	// verify the fingerprint and decode the value.
	LookupCost = 3
	// ScanItemCost is charged per value a Scanner yields.
	ScanItemCost = 1

	// checkInterval is how many items batch operations process between
	// samples of the budget's meter.
	checkInterval = 64
)

// Map is an immutable map from byte-string keys to uint64 values, backed
// by a memory-mapped file.  Lookups and scans are safe for concurrent use;
// Close must not race with them.
type Map struct {
	path   string
	r      *datafile.MmapReader
	idx    *index.Table
	values bitpack.Array
	fps    bitpack.Array
	fpBits uint
	n      uint64
	logger *slog.Logger
	closed atomic.Bool

	lookupBytes uint64
	valueBytes  uint64
}

// Lookup is the result for one key of GetMany.
type Lookup struct {
	Value uint64
	Found bool
}

// Open maps the file at path and validates its structure.  Errors wrap
// ErrCorruptFile (or ErrVersionMismatch, which also matches
// ErrCorruptFile) when the file isn't a valid map, and ErrIO when it can't
// be read.
func Open(path string, opts ...OpenOption) (*Map, error) {
	var options openOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = discardLogger()
	}
	logger := options.logger.With("path", path)

	r, err := datafile.NewMMapReaderWithPath(path)
	if err != nil {
		if errors.Is(err, ErrCorruptFile) {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}

	m, err := newMap(path, r, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open %s: %w", path, err), r.Close())
	}

	if options.verify {
		if err := r.VerifyChecksum(); err != nil {
			return nil, errors.Join(fmt.Errorf("open %s: %w", path, err), r.Close())
		}
	}
	if options.mlock {
		logger.Info("mlocking the index into memory")
		if err := r.LockIndex(); err != nil {
			logger.Warn("failed to mlock the index, continuing anyway", "err", err)
		} else {
			logger.Info("finished mlocking the index into memory")
		}
	}
	if options.populate {
		if err := r.Populate(); err != nil {
			logger.Warn("failed to populate the page cache, continuing anyway", "err", err)
		}
	}

	logger.Debug("opened map", "keys", m.n, "value_width", m.values.Width(), "fingerprint_bits", m.fpBits, "hash", m.idx.Hash())
	return m, nil
}

func newMap(path string, r *datafile.MmapReader, logger *slog.Logger) (*Map, error) {
	h := r.Header()
	if h.KeyCount > index.MaxKeys {
		return nil, fmt.Errorf("%w: %d keys", ErrCorruptFile, h.KeyCount)
	}
	n := int(h.KeyCount)

	idx, err := index.NewTable(r.Index(), index.HashFunc(h.HashID), h.KeyCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	values, err := bitpack.NewArray(r.Values(), uint(h.ValueWidth), n)
	if err != nil {
		return nil, fmt.Errorf("%w: values: %v", ErrCorruptFile, err)
	}
	fps, err := bitpack.NewArray(r.Fingerprints(), uint(h.FingerprintWidth), n)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprints: %v", ErrCorruptFile, err)
	}

	valueBytes := uint64(h.ValueWidth+7) / 8
	return &Map{
		path:        path,
		r:           r,
		idx:         idx,
		values:      values,
		fps:         fps,
		fpBits:      uint(h.FingerprintWidth),
		n:           h.KeyCount,
		logger:      logger,
		lookupBytes: uint64(idx.LookupBytes()) + uint64(h.FingerprintWidth+7)/8 + valueBytes,
		valueBytes:  valueBytes,
	}, nil
}

// lookup returns the value for key, if key was one of the map's keys.  An
// absent key is reported present with probability 2^-fpBits.
func (m *Map) lookup(key []byte) (uint64, bool) {
	if m.n == 0 {
		return 0, false
	}
	slot := m.idx.MaybeLookup(key)
	if slot >= m.n {
		return 0, false
	}
	if m.fpBits > 0 && m.fps.Get(int(slot)) != uint64(fingerprint(key, m.fpBits)) {
		return 0, false
	}
	return m.values.Get(int(slot)), true
}

// Get returns the value stored for key.  It samples b's meter and charges
// LookupCost before doing any work, and returns ErrBudgetExceeded if that
// exhausts it.  A nil b is unlimited.
func (m *Map) Get(key []byte, b *budget.Budget) (value uint64, ok bool, err error) {
	if m.closed.Load() {
		return 0, false, ErrClosed
	}
	if err := b.Check(); err != nil {
		return 0, false, err
	}
	if err := b.Consume(LookupCost); err != nil {
		return 0, false, err
	}
	b.AddBytesRead(m.lookupBytes)
	value, ok = m.lookup(key)
	return value, ok, nil
}

// GetString is like Get with a string key, without copying it.
func (m *Map) GetString(key string, b *budget.Budget) (value uint64, ok bool, err error) {
	return m.Get(unsafestring.ToBytes(key), b)
}

// GetMany looks up each key in order.  If b runs out partway, the results
// for the keys processed so far are returned along with
// ErrBudgetExceeded.
func (m *Map) GetMany(keys [][]byte, b *budget.Budget) ([]Lookup, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	out := make([]Lookup, 0, len(keys))
	for i, key := range keys {
		if i%checkInterval == 0 {
			if err := b.Check(); err != nil {
				return out, err
			}
		}
		if err := b.Consume(LookupCost); err != nil {
			return out, err
		}
		b.AddBytesRead(m.lookupBytes)
		v, ok := m.lookup(key)
		out = append(out, Lookup{Value: v, Found: ok})
	}
	return out, nil
}

// Len returns the number of keys in the map.
func (m *Map) Len() uint64 {
	return m.n
}

// ValueWidth returns the number of bits each value is stored in.
func (m *Map) ValueWidth() uint {
	return m.values.Width()
}

// FingerprintBits returns the number of fingerprint bits stored per key.
func (m *Map) FingerprintBits() uint {
	return m.fpBits
}

// HashFunction returns the hash function the map was built with.
func (m *Map) HashFunction() HashFunction {
	return m.idx.Hash()
}

// Path returns the path the map was opened from.
func (m *Map) Path() string {
	return m.path
}

// Files returns the files backing the map.
func (m *Map) Files() []string {
	return []string{m.path}
}

// Stats describes the space a map uses.
type Stats struct {
	Keys             uint64
	ValueWidth       uint
	FingerprintBits  uint
	Hash             HashFunction
	IndexBytes       int64
	ValueBytes       int64
	FingerprintBytes int64
	FileBytes        int64
	// BitsPerKey is the file size in bits divided by the key count.
	BitsPerKey float64
}

func (m *Map) Stats() Stats {
	s := Stats{
		Keys:             m.n,
		ValueWidth:       m.values.Width(),
		FingerprintBits:  m.fpBits,
		Hash:             m.idx.Hash(),
		IndexBytes:       int64(m.idx.Size()),
		ValueBytes:       int64(len(m.values.Bytes())),
		FingerprintBytes: int64(len(m.fps.Bytes())),
		FileBytes:        m.r.Len(),
	}
	if m.n > 0 {
		s.BitsPerKey = float64(s.FileBytes*8) / float64(m.n)
	}
	return s
}

// Verify reads the whole file and compares it against the checksum
// recorded when it was built.
func (m *Map) Verify() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.r.VerifyChecksum()
}

// Populate asks the kernel to read the whole file into the page cache.
func (m *Map) Populate() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.r.Populate(); err != nil {
		return fmt.Errorf("%w: madvise: %w", ErrIO, err)
	}
	return nil
}

// ClearCache lets the kernel drop the map's pages from memory.  The map
// stays usable; later lookups read pages back in.
func (m *Map) ClearCache() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.r.ClearCache(); err != nil {
		return fmt.Errorf("%w: madvise: %w", ErrIO, err)
	}
	return nil
}

// Close unmaps the file.  It is safe to call more than once.
func (m *Map) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.r.Close()
}

// Wipe closes the map and deletes its file.
func (m *Map) Wipe() error {
	if err := m.Close(); err != nil {
		return err
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	m.logger.Debug("wiped map")
	return nil
}
