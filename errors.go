// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package packedmap

import (
	"errors"

	"github.com/bpowers/packedmap/bitpack"
	"github.com/bpowers/packedmap/budget"
	"github.com/bpowers/packedmap/internal/datafile"
	"github.com/bpowers/packedmap/internal/index"
)

// Build errors
var (
	ErrDuplicateKey    = index.ErrDuplicateKey
	ErrTooManyKeys     = index.ErrTooManyKeys
	ErrEncoding        = bitpack.ErrEncoding
	ErrIO              = errors.New("packedmap: i/o error")
	ErrBuilderFinished = errors.New("packedmap: builder already finalized or aborted")
	ErrInvalidOption   = errors.New("packedmap: invalid option")
)

// Open errors.  A version mismatch is also reported as ErrCorruptFile.
var (
	ErrCorruptFile      = datafile.ErrCorrupt
	ErrVersionMismatch  = datafile.ErrVersion
	ErrChecksumMismatch = datafile.ErrChecksumMismatch
)

// Query errors
var (
	ErrClosed       = errors.New("packedmap: map is closed")
	ErrInvalidRange = errors.New("packedmap: invalid scan range")
	// ErrBudgetExceeded is an expected outcome of a bounded query, not a
	// failure of the map.
	ErrBudgetExceeded = budget.ErrExceeded
)
