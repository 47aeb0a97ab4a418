// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package packedmap

import (
	"io"
	"log/slog"

	"github.com/bpowers/packedmap/internal/datafile"
	"github.com/bpowers/packedmap/internal/index"
)

// HashFunction selects the keyed hash the perfect hash is built on.  It's
// recorded in the file, so readers always use the builder's choice.
type HashFunction = index.HashFunc

const (
	HashFarm    = index.HashFarm
	HashMurmur3 = index.HashMurmur3
)

const (
	// DefaultFingerprintBits gives an absent key a 1 in 65536 chance of
	// being reported present.
	DefaultFingerprintBits = 16
	MaxFingerprintBits     = datafile.MaxFingerprintWidth
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// BuilderOption configures the Builder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	logger          *slog.Logger
	workers         int
	fingerprintBits uint
	hash            HashFunction
}

func defaultBuilderOptions() builderOptions {
	return builderOptions{
		logger:          discardLogger(),
		fingerprintBits: DefaultFingerprintBits,
		hash:            HashFarm,
	}
}

// WithBuilderLogger sets an optional logger for the builder to use for progress updates.
// If not provided, no logging output will be produced.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(opts *builderOptions) {
		opts.logger = logger
	}
}

// WithWorkers bounds the goroutines used while finalizing.  The default
// of 0 uses GOMAXPROCS.
func WithWorkers(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.workers = n
	}
}

// WithFingerprintBits sets how many bits of each key's fingerprint are
// stored, from 0 to MaxFingerprintBits.  With 0 bits a lookup of a key
// that was never added returns an arbitrary value, so only use it when
// callers only ever ask for keys they know are present.
func WithFingerprintBits(bits uint) BuilderOption {
	return func(opts *builderOptions) {
		opts.fingerprintBits = bits
	}
}

// WithHashFunction selects the hash function.
func WithHashFunction(h HashFunction) BuilderOption {
	return func(opts *builderOptions) {
		opts.hash = h
	}
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

type openOptions struct {
	logger   *slog.Logger
	verify   bool
	mlock    bool
	populate bool
}

// WithLogger sets a logger for Open and the returned Map.
func WithLogger(logger *slog.Logger) OpenOption {
	return func(opts *openOptions) {
		opts.logger = logger
	}
}

// WithVerifyChecksum makes Open read the whole file and check it against
// the checksum recorded at build time.
func WithVerifyChecksum() OpenOption {
	return func(opts *openOptions) {
		opts.verify = true
	}
}

// WithMlockIndex locks the perfect hash tables into memory.  Failure to
// lock is logged and otherwise ignored.
func WithMlockIndex() OpenOption {
	return func(opts *openOptions) {
		opts.mlock = true
	}
}

// WithPopulate asks the kernel to read the whole file in at open.
func WithPopulate() OpenOption {
	return func(opts *openOptions) {
		opts.populate = true
	}
}
