// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var errWriterFlushed = errors.New("bitpack: write after Flush")

// Writer streams values to an underlying io.Writer as a packed array,
// producing exactly the bytes Pack would for the same input.  Callers
// should wrap unbuffered writers in a bufio.Writer.
type Writer struct {
	w       io.Writer
	width   uint
	cur     uint64 // pending bits, LSB first
	nbits   uint   // number of valid bits in cur, always < 64
	count   int
	written int64
	flushed bool
	err     error
}

// NewWriter returns a Writer that packs values at the given width.
func NewWriter(w io.Writer, width uint) (*Writer, error) {
	if width > MaxWidth {
		return nil, fmt.Errorf("%w: %d", ErrWidth, width)
	}
	return &Writer{w: w, width: width}, nil
}

func (w *Writer) flushWord() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], w.cur)
	n, err := w.w.Write(buf[:])
	w.written += int64(n)
	if err != nil {
		w.err = err
	}
}

// Write appends v to the stream.  Once the underlying writer returns an
// error, every later call returns it too.
func (w *Writer) Write(v uint64) error {
	if w.err != nil {
		return w.err
	}
	if w.flushed {
		return errWriterFlushed
	}
	if !fits(v, w.width) {
		return fmt.Errorf("%w: value %d at index %d needs %d bits (width %d)", ErrEncoding, v, w.count, BitsFor(v), w.width)
	}
	w.count++
	if w.width == 0 {
		return nil
	}

	w.cur |= v << w.nbits
	if w.nbits+w.width < 64 {
		w.nbits += w.width
		return nil
	}

	w.flushWord()
	used := 64 - w.nbits
	if used < w.width {
		w.cur = v >> used
	} else {
		w.cur = 0
	}
	w.nbits = w.nbits + w.width - 64
	return w.err
}

// Flush writes out any partially filled trailing bytes.  The Writer can't
// be used after Flush.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.flushed {
		return nil
	}
	w.flushed = true
	if w.nbits == 0 {
		return nil
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], w.cur)
	n, err := w.w.Write(buf[:(w.nbits+7)/8])
	w.written += int64(n)
	if err != nil {
		w.err = err
	}
	w.cur, w.nbits = 0, 0
	return w.err
}

// Count returns the number of values written so far.
func (w *Writer) Count() int {
	return w.count
}

// BytesWritten returns the number of bytes handed to the underlying writer.
func (w *Writer) BytesWritten() int64 {
	return w.written
}
