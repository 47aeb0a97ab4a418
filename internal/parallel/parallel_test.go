// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package parallel

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks_CoversRange(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, minChunk - 1, minChunk, 5*minChunk + 3} {
		for _, workers := range []int{0, 1, 3, 16} {
			seen := make([]int32, n)
			err := Chunks(context.Background(), n, workers, func(_ context.Context, lo, hi int) error {
				for i := lo; i < hi; i++ {
					atomic.AddInt32(&seen[i], 1)
				}
				return nil
			})
			require.NoError(t, err)
			for i, c := range seen {
				if c != 1 {
					t.Fatalf("n=%d workers=%d: index %d visited %d times", n, workers, i, c)
				}
			}
		}
	}
}

func TestChunks_Error(t *testing.T) {
	t.Parallel()

	err := Chunks(context.Background(), 8*minChunk, 4, func(_ context.Context, lo, _ int) error {
		if lo > 0 {
			return assert.AnError
		}
		return nil
	})
	require.ErrorIs(t, err, assert.AnError)
}

func TestChunks_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Chunks(ctx, 10, 1, func(context.Context, int, int) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestWorkers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, Workers(3))
	assert.Positive(t, Workers(0))
	assert.Positive(t, Workers(-1))
}
