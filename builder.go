// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package packedmap

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bpowers/packedmap/bitpack"
	"github.com/bpowers/packedmap/internal/datafile"
	"github.com/bpowers/packedmap/internal/index"
	"github.com/bpowers/packedmap/internal/unsafestring"
)

// Builder is used to construct a map file from key/value pairs.  Pairs are
// held in memory until Finalize, which writes the file and publishes it
// with an atomic rename.  A Builder isn't safe for concurrent use.
type Builder struct {
	resultPath string
	dataFile   *os.File
	keys       [][]byte
	values     []uint64
	opts       builderOptions
	logger     *slog.Logger
	finished   bool
}

// NewBuilder creates a Builder that will publish its map at dataFilePath.
// Nothing appears at that path until Finalize succeeds.
func NewBuilder(dataFilePath string, opts ...BuilderOption) (*Builder, error) {
	options := defaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = discardLogger()
	}
	if options.fingerprintBits > MaxFingerprintBits {
		return nil, fmt.Errorf("%w: %d fingerprint bits (max %d)", ErrInvalidOption, options.fingerprintBits, MaxFingerprintBits)
	}
	if !options.hash.Valid() {
		return nil, fmt.Errorf("%w: hash function %s", ErrInvalidOption, options.hash)
	}

	// we want to write to a new file and do an atomic rename when we're done on disk
	dataFilePath, err := filepath.Abs(dataFilePath)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	dir := filepath.Dir(dataFilePath)
	dataFile, err := os.CreateTemp(dir, "packedmap-builder.*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: CreateTemp failed (may need permissions for dir %q containing dataFile): %w", ErrIO, dir, err)
	}
	return &Builder{
		resultPath: dataFilePath,
		dataFile:   dataFile,
		opts:       options,
		logger:     options.logger,
	}, nil
}

// Put adds a key/value pair to the map.  The key is copied.  Duplicate
// keys result in an error at Finalize time.
func (b *Builder) Put(k []byte, v uint64) error {
	if b.finished {
		return ErrBuilderFinished
	}
	if len(b.keys) >= index.MaxKeys {
		return fmt.Errorf("%w: at most %d keys are supported", ErrTooManyKeys, index.MaxKeys)
	}
	// copy the key, because it could point into e.g. a bufio buffer
	b.keys = append(b.keys, append(make([]byte, 0, len(k)), k...))
	b.values = append(b.values, v)
	return nil
}

// PutString is like Put with a string key.
func (b *Builder) PutString(k string, v uint64) error {
	return b.Put(unsafestring.ToBytes(k), v)
}

// Len returns the number of pairs added so far.
func (b *Builder) Len() int {
	return len(b.keys)
}

// Finalize writes the map and atomically publishes it at the Builder's
// path.  On failure the temporary file is removed and whatever was at the
// path before is left untouched.  The Builder can't be used afterwards.
func (b *Builder) Finalize(ctx context.Context) error {
	if b.finished {
		return ErrBuilderFinished
	}
	b.finished = true
	defer b.release()

	if err := b.finalize(ctx); err != nil {
		b.removeTemp()
		return err
	}
	return nil
}

// Abort discards everything added so far.
func (b *Builder) Abort() error {
	if b.finished {
		return ErrBuilderFinished
	}
	b.finished = true
	b.release()
	b.removeTemp()
	return nil
}

func (b *Builder) release() {
	// drop references so the keys can be GC'd even if the Builder is retained
	clear(b.keys)
	b.keys = nil
	b.values = nil
}

func (b *Builder) removeTemp() {
	if b.dataFile == nil {
		return
	}
	_ = b.dataFile.Close()
	_ = os.Remove(b.dataFile.Name())
	b.dataFile = nil
}

func (b *Builder) finalize(ctx context.Context) error {
	logger := b.logger.With("path", b.resultPath)
	logger.Debug("building index", "keys", len(b.keys))
	blob, err := index.Build(ctx, b.keys, index.Options{
		Hash:    b.opts.hash,
		Workers: b.opts.workers,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("index.Build: %w", err)
	}

	logger.Debug("computing fingerprints", "bits", b.opts.fingerprintBits)
	fps, err := fingerprints(ctx, b.keys, b.opts.fingerprintBits, b.opts.workers)
	if err != nil {
		return err
	}

	h := datafile.Header{
		KeyCount:         uint64(len(b.keys)),
		ValueWidth:       uint8(bitpack.MinimumBits(b.values)),
		FingerprintWidth: uint8(b.opts.fingerprintBits),
		HashID:           uint8(b.opts.hash),
		IndexSize:        uint64(len(blob)),
	}
	logger.Debug("writing data file", "value_width", h.ValueWidth, "index_bytes", h.IndexSize)
	if err := writeDataFile(b.dataFile, h, blob, b.values, fps); err != nil {
		return err
	}

	if err := b.publish(); err != nil {
		return err
	}
	logger.Debug("published map", "keys", h.KeyCount)
	return nil
}

func writeDataFile(f datafile.FileWriter, h datafile.Header, blob []byte, values []uint64, fps []uint32) error {
	w, err := datafile.NewWriter(f, h)
	if err != nil {
		return ioError("datafile.NewWriter", err)
	}
	if err := w.WriteIndex(blob); err != nil {
		return ioError("WriteIndex", err)
	}
	if err := w.WriteValues(values); err != nil {
		return ioError("WriteValues", err)
	}
	if err := w.WriteFingerprints(fps); err != nil {
		return ioError("WriteFingerprints", err)
	}
	if err := w.Finish(); err != nil {
		return ioError("Finish", err)
	}
	return nil
}

// ioError tags err as an I/O failure, unless it's an encoding error.
func ioError(op string, err error) error {
	if errors.Is(err, ErrEncoding) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// publish syncs the temporary file and renames it into place.
func (b *Builder) publish() error {
	f := b.dataFile
	if err := f.Sync(); err != nil {
		return ioError("f.Sync", err)
	}
	// make the file read-only
	if err := f.Chmod(0444); err != nil {
		return ioError("f.Chmod(0444)", err)
	}
	if err := f.Close(); err != nil {
		return ioError("f.Close", err)
	}
	if err := os.Rename(f.Name(), b.resultPath); err != nil {
		return ioError("os.Rename", err)
	}
	b.dataFile = nil

	// the rename is visible now; a failed directory sync only weakens durability
	if err := syncDir(filepath.Dir(b.resultPath)); err != nil {
		b.logger.Warn("failed to sync directory after rename", "path", b.resultPath, "err", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// Build writes pairs to a new map at path in one step.  Pairs are consumed
// in order, and each key's slot is its position in the sequence.
func Build(ctx context.Context, path string, pairs iter.Seq2[[]byte, uint64], opts ...BuilderOption) error {
	b, err := NewBuilder(path, opts...)
	if err != nil {
		return err
	}
	n := 0
	for k, v := range pairs {
		if n%(1<<16) == 0 {
			if err := ctx.Err(); err != nil {
				_ = b.Abort()
				return err
			}
		}
		if err := b.Put(k, v); err != nil {
			_ = b.Abort()
			return err
		}
		n++
	}
	return b.Finalize(ctx)
}
