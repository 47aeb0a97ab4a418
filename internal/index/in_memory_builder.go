// Copyright 2024 The packedmap Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/bpowers/packedmap/bitpack"
	"github.com/bpowers/packedmap/internal/bitset"
	"github.com/bpowers/packedmap/internal/parallel"
)

// cancelCheckInterval is how many buckets are placed between checks of ctx.
const cancelCheckInterval = 1 << 12

// Options configures Build.
type Options struct {
	Hash HashFunc
	// Workers bounds the goroutines used to hash keys; 0 means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Build builds a table mapping keys[i] to i using the "Hash, displace, and
// compress" algorithm described in http://cmph.sourceforge.net/papers/esa09.pdf,
// and returns its serialized form.  Keys must be distinct; a repeated key
// fails with ErrDuplicateKey.
func Build(ctx context.Context, keys [][]byte, opts Options) ([]byte, error) {
	if len(keys) > maxIndexEntries {
		return nil, fmt.Errorf("%w: we only support %d items in an index (%d asked for)", ErrTooManyKeys, maxIndexEntries, len(keys))
	}
	if !opts.Hash.Valid() {
		return nil, fmt.Errorf("unknown hash function %s", opts.Hash)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t, err := newInMemoryBuilder(ctx, keys, opts)
	if err != nil {
		return nil, err
	}
	return t.Bytes()
}

type bucket struct {
	n    uint32
	keys []uint32
}

// bySize is used to sort our buckets from most full to least full
type bySize []bucket

func (s bySize) Len() int           { return len(s) }
func (s bySize) Less(i, j int) bool { return len(s[i].keys) > len(s[j].keys) }
func (s bySize) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// inMemoryBuilder holds both levels of a table while it is constructed.
type inMemoryBuilder struct {
	level0 []uint32 // seeds, power of 2 size
	level1 []uint32 // slot numbers, power of 2 size > len(keys)
}

func newInMemoryBuilder(ctx context.Context, keys [][]byte, opts Options) (*inMemoryBuilder, error) {
	var (
		entryLen  = int64(len(keys))
		level0Len = nextPow2(entryLen / 4)
		level1Len = nextPow2(entryLen)
	)

	if level1Len > int64(maxUint32) {
		return nil, fmt.Errorf("%w: level1Len too big %d", ErrTooManyKeys, level1Len)
	}

	var (
		level0Mask = uint64(level0Len - 1)
		level1Mask = uint64(level1Len - 1)
		hash       = opts.Hash
		logger     = opts.Logger
	)

	logger.Debug("hashing keys", "keys", entryLen, "hash", hash)
	hashes, err := hashKeys(ctx, keys, hash, opts.Workers)
	if err != nil {
		return nil, err
	}

	logger.Debug("building sparse buckets")
	sparseBuckets := make([][]uint32, level0Len)
	for i, h := range hashes {
		n := h & level0Mask
		sparseBuckets[n] = append(sparseBuckets[n], uint32(i))
	}

	logger.Debug("collating sparse buckets")
	var buckets []bucket
	for n, vals := range sparseBuckets {
		if len(vals) > 0 {
			buckets = append(buckets, bucket{n: uint32(n), keys: vals})
		}
	}
	if err := checkDuplicates(keys, hashes, buckets); err != nil {
		return nil, err
	}

	logger.Debug("sorting sparse buckets")
	sort.Stable(bySize(buckets))

	logger.Debug("iterating over buckets", "buckets", len(buckets))
	var (
		level0 = make([]uint32, level0Len)
		level1 = make([]uint32, level1Len)
		occ    = bitset.New(uint32(level1Len))
		tmpOcc []uint32
	)
	for j, bucket := range buckets {
		if j%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if j%1000000 == 0 {
				logger.Debug("placing buckets", "at", j)
			}
		}
		seed := uint64(1)
	trySeed:
		if seed >= uint64(maxUint32) {
			return nil, errors.New("couldn't find 32-bit seed")
		}
		tmpOcc = tmpOcc[:0]
		for _, i := range bucket.keys {
			n := uint32(hash.Sum64(keys[i], seed) & level1Mask)
			if !occ.TrySet(n) {
				occ.ClearAll(tmpOcc)
				for _, n := range tmpOcc {
					level1[n] = 0
				}
				seed++
				goto trySeed
			}
			tmpOcc = append(tmpOcc, n)
			level1[n] = i
		}
		level0[bucket.n] = uint32(seed)
	}
	logger.Debug("placed all buckets", "buckets", len(buckets), "occupied", occ.Count())

	return &inMemoryBuilder{
		level0: level0,
		level1: level1,
	}, nil
}

func hashKeys(ctx context.Context, keys [][]byte, hash HashFunc, workers int) ([]uint64, error) {
	hashes := make([]uint64, len(keys))
	err := parallel.Chunks(ctx, len(keys), workers, func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			hashes[i] = hash.Sum64(keys[i], 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// checkDuplicates finds repeated keys, which would otherwise collide under
// every seed.  Equal keys share a level-0 hash, so only keys within a bucket
// need comparing.
func checkDuplicates(keys [][]byte, hashes []uint64, buckets []bucket) error {
	for _, b := range buckets {
		for x, i := range b.keys {
			for _, j := range b.keys[x+1:] {
				if hashes[i] == hashes[j] && bytes.Equal(keys[i], keys[j]) {
					return fmt.Errorf("%w: %q", ErrDuplicateKey, keys[j])
				}
			}
		}
	}
	return nil
}

func maxOf(s []uint32) uint64 {
	var m uint32
	for _, v := range s {
		m = max(m, v)
	}
	return uint64(m)
}

// Bytes serializes the table: the blob header followed by the bit-packed
// level-0 seeds and level-1 slot numbers.
func (t *inMemoryBuilder) Bytes() ([]byte, error) {
	h := blobHeader{
		level0Len: uint32(len(t.level0)),
		level1Len: uint32(len(t.level1)),
		seedWidth: uint8(bitpack.BitsFor(maxOf(t.level0))),
		slotWidth: uint8(bitpack.BitsFor(maxOf(t.level1))),
	}

	var buf bytes.Buffer
	buf.Grow(h.size())
	var hdr [blobHeaderSize]byte
	h.put(hdr[:])
	buf.Write(hdr[:])

	for _, level := range []struct {
		vals  []uint32
		width uint8
	}{
		{t.level0, h.seedWidth},
		{t.level1, h.slotWidth},
	} {
		w, err := bitpack.NewWriter(&buf, uint(level.width))
		if err != nil {
			return nil, err
		}
		for _, v := range level.vals {
			if err := w.Write(uint64(v)); err != nil {
				return nil, err
			}
		}
		if err := w.Flush(); err != nil {
			return nil, err
		}
	}

	if buf.Len() != h.size() {
		return nil, fmt.Errorf("serialized table is %d bytes, expected %d", buf.Len(), h.size())
	}
	return buf.Bytes(), nil
}
