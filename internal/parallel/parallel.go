// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package parallel splits index ranges across a bounded set of goroutines.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest range worth handing to its own goroutine.
const minChunk = 1 << 14

// Workers returns n if positive, and GOMAXPROCS otherwise.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// Chunks calls fn over disjoint [lo, hi) ranges covering [0, n), using at
// most workers goroutines.  The first error cancels the context passed to
// the remaining calls and is returned.
func Chunks(ctx context.Context, n, workers int, fn func(ctx context.Context, lo, hi int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	workers = Workers(workers)
	chunk := max((n+workers-1)/workers, minChunk)
	if chunk >= n {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, 0, n)
	}

	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, lo, hi)
		})
	}
	return g.Wait()
}
