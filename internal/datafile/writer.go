// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/bpowers/packedmap/bitpack"
)

const defaultBufferSize = 4 * 1024 * 1024

var errWriterFinished = errors.New("datafile: writer already finished")

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// FileWriter is usually an *os.File, but specified as an interface for easier testing.
type FileWriter interface {
	io.Writer
	io.WriterAt
}

type section int

const (
	sectionIndex section = iota
	sectionValues
	sectionFingerprints
	sectionDone
)

func (s section) String() string {
	switch s {
	case sectionIndex:
		return "index"
	case sectionValues:
		return "values"
	case sectionFingerprints:
		return "fingerprints"
	default:
		return "done"
	}
}

// Writer streams a data file: a placeholder header, then the index,
// values and fingerprints sections in that order.  Finish fills in the
// checksum and rewrites the header in place.
type Writer struct {
	f        FileWriter
	h        Header
	w        *bufio.Writer
	digest   *xxhash.Digest
	body     io.Writer
	off      uint64
	next     section
	finished atomic.Bool
}

// NewWriter writes a placeholder for h to f.  h's Checksum is ignored and
// computed from the sections as they are written.
func NewWriter(f FileWriter, h Header) (*Writer, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	h.Checksum = 0
	w := &Writer{
		f:      f,
		h:      h,
		w:      bufio.NewWriterSize(f, defaultBufferSize),
		digest: xxhash.New(),
	}
	w.body = io.MultiWriter(w.w, w.digest)

	if headerLen, err := w.h.WriteTo(w.w); err != nil {
		return nil, fmt.Errorf("fileHeader.WriteTo: %w", err)
	} else {
		w.off = uint64(headerLen)
	}

	// try to expose errors when writing to the backing file early
	if err := w.w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	return w, nil
}

func (w *Writer) begin(s section) error {
	if w.finished.Load() {
		return errWriterFinished
	}
	if w.next != s {
		return fmt.Errorf("datafile: writing %s section, expected %s", s, w.next)
	}
	return nil
}

func (w *Writer) end(s section, written uint64, expected uint64) error {
	w.off += written
	if written != expected {
		return fmt.Errorf("datafile: %s section is %d bytes, header declares %d", s, written, expected)
	}
	w.next = s + 1
	return nil
}

// WriteIndex writes the serialized index, which must be exactly
// Header.IndexSize bytes.
func (w *Writer) WriteIndex(blob []byte) error {
	if err := w.begin(sectionIndex); err != nil {
		return err
	}
	n, err := w.body.Write(blob)
	if err != nil {
		return fmt.Errorf("bufio.Write: %w", err)
	}
	return w.end(sectionIndex, uint64(n), w.h.IndexSize)
}

// WriteValues packs one value per key at Header.ValueWidth.
func (w *Writer) WriteValues(values []uint64) error {
	if err := w.begin(sectionValues); err != nil {
		return err
	}
	n, err := writePacked(w.body, values, w.h.ValueWidth, w.h.KeyCount)
	if err != nil {
		return fmt.Errorf("values: %w", err)
	}
	return w.end(sectionValues, n, w.h.ValuesSize())
}

// WriteFingerprints packs one fingerprint per key at
// Header.FingerprintWidth.
func (w *Writer) WriteFingerprints(fps []uint32) error {
	if err := w.begin(sectionFingerprints); err != nil {
		return err
	}
	n, err := writePacked(w.body, fps, w.h.FingerprintWidth, w.h.KeyCount)
	if err != nil {
		return fmt.Errorf("fingerprints: %w", err)
	}
	return w.end(sectionFingerprints, n, w.h.FingerprintsSize())
}

func writePacked[T uint32 | uint64](w io.Writer, vals []T, width uint8, count uint64) (uint64, error) {
	if uint64(len(vals)) != count {
		return 0, fmt.Errorf("got %d entries for %d keys", len(vals), count)
	}
	pw, err := bitpack.NewWriter(w, uint(width))
	if err != nil {
		return 0, err
	}
	for _, v := range vals {
		if err := pw.Write(uint64(v)); err != nil {
			return uint64(pw.BytesWritten()), err
		}
	}
	err = pw.Flush()
	return uint64(pw.BytesWritten()), err
}

// Finish flushes buffered sections and rewrites the header with the final
// checksum.  It doesn't sync or close f.
func (w *Writer) Finish() error {
	if w.next != sectionDone {
		return fmt.Errorf("datafile: finishing before the %s section was written", w.next)
	}
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		// nothing to do - already cleaned up
		return nil
	}

	defer func() {
		w.w.Reset(nopWriter{})
		w.w = nil
	}()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}

	w.h.Checksum = w.digest.Sum64()
	return w.h.Rewrite(w.f)
}

// Header returns the header as it will be (or was) written by Finish.
func (w *Writer) Header() Header {
	h := w.h
	h.Checksum = w.digest.Sum64()
	return h
}

// Size returns the number of bytes written so far, including the header.
func (w *Writer) Size() uint64 {
	return w.off
}
