// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package packedmap

import (
	"context"

	"github.com/zeebo/xxh3"

	"github.com/bpowers/packedmap/internal/parallel"
)

// fingerprint returns the top bits of key's xxh3 hash.  The perfect hash
// uses a different function, so the two are independent.
func fingerprint(key []byte, bits uint) uint32 {
	if bits == 0 {
		return 0
	}
	return uint32(xxh3.Hash(key) >> (64 - bits))
}

func fingerprints(ctx context.Context, keys [][]byte, bits uint, workers int) ([]uint32, error) {
	fps := make([]uint32, len(keys))
	if bits == 0 {
		return fps, ctx.Err()
	}
	err := parallel.Chunks(ctx, len(keys), workers, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			fps[i] = fingerprint(keys[i], bits)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fps, nil
}
