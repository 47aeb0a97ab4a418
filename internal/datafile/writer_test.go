// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/packedmap/bitpack"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return string(s.buf)
}

func (s *safeBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *safeBuffer) WriteAt(p []byte, off int64) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(off)+len(p) > len(s.buf) {
		return 0, errors.New("writeAt out of bounds")
	}

	return copy(s.buf[off:int(off)+len(p)], p), nil
}

var _ FileWriter = &safeBuffer{}

type testWriter struct {
	inner            FileWriter
	writeShouldError bool
}

func (c *testWriter) Write(p []byte) (n int, err error) {
	if c.writeShouldError {
		return 0, errors.New("write failed")
	}
	return c.inner.Write(p)
}

func (c *testWriter) WriteAt(p []byte, off int64) (n int, err error) {
	if c.writeShouldError {
		return 0, errors.New("write failed")
	}
	return c.inner.WriteAt(p, off)
}

var _ FileWriter = &testWriter{}

type testFile struct {
	header       Header
	index        []byte
	values       []uint64
	fingerprints []uint32
}

func newTestFile(n int) testFile {
	tf := testFile{
		index: []byte("not really an index, but opaque here"),
	}
	for i := 0; i < n; i++ {
		tf.values = append(tf.values, uint64(i*i)%1000)
		tf.fingerprints = append(tf.fingerprints, uint32(i*2654435761)&0xfff)
	}
	tf.header = Header{
		KeyCount:         uint64(n),
		ValueWidth:       uint8(bitpack.MinimumBits(tf.values)),
		FingerprintWidth: 12,
		IndexSize:        uint64(len(tf.index)),
	}
	return tf
}

func (tf testFile) write(f FileWriter) (*Writer, error) {
	w, err := NewWriter(f, tf.header)
	if err != nil {
		return nil, err
	}
	if err := w.WriteIndex(tf.index); err != nil {
		return w, err
	}
	if err := w.WriteValues(tf.values); err != nil {
		return w, err
	}
	if err := w.WriteFingerprints(tf.fingerprints); err != nil {
		return w, err
	}
	return w, w.Finish()
}

func writeTempFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pm")
	require.NoError(t, os.WriteFile(path, contents, 0o644))
	return path
}

func TestNewWriter_Errors(t *testing.T) {
	t.Parallel()

	var fileBytes safeBuffer
	writer := &testWriter{
		inner:            &fileBytes,
		writeShouldError: true,
	}

	_, err := NewWriter(writer, Header{})
	assert.Error(t, err)

	_, err = NewWriter(&fileBytes, Header{FingerprintWidth: 40})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestWriter_SectionOrder(t *testing.T) {
	t.Parallel()

	tf := newTestFile(10)
	var fileBytes safeBuffer
	w, err := NewWriter(&fileBytes, tf.header)
	require.NoError(t, err)

	// out of order
	assert.Error(t, w.WriteValues(tf.values))
	assert.Error(t, w.Finish())

	// wrong size
	assert.Error(t, w.WriteIndex(tf.index[:3]))

	var fileBytes2 safeBuffer
	w, err = NewWriter(&fileBytes2, tf.header)
	require.NoError(t, err)
	require.NoError(t, w.WriteIndex(tf.index))
	// wrong count
	assert.Error(t, w.WriteValues(tf.values[:9]))

	var fileBytes3 safeBuffer
	w, err = NewWriter(&fileBytes3, tf.header)
	require.NoError(t, err)
	require.NoError(t, w.WriteIndex(tf.index))
	// a value wider than the declared width
	bad := append([]uint64(nil), tf.values...)
	bad[4] = 1 << 20
	require.ErrorIs(t, w.WriteValues(bad), bitpack.ErrEncoding)
}

func TestWriter_Finish(t *testing.T) {
	t.Parallel()

	tf := newTestFile(1000)
	var fileBytes safeBuffer
	w, err := tf.write(&fileBytes)
	require.NoError(t, err)
	// multiple finishes should be fine
	require.NoError(t, w.Finish())
	assert.Error(t, w.WriteIndex(tf.index))

	contents := []byte(fileBytes.String())
	size, err := tf.header.FileSize()
	require.NoError(t, err)
	assert.Equal(t, size, uint64(len(contents)))
	assert.Equal(t, size, w.Size())

	var h Header
	require.NoError(t, h.UnmarshalBytes(contents))
	assert.Equal(t, uint64(1000), h.KeyCount)
	assert.Equal(t, xxhash.Sum64(contents[HeaderSize:]), h.Checksum)
	assert.Equal(t, h, w.Header())
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	tf := newTestFile(1000)
	var fileBytes safeBuffer
	_, err := tf.write(&fileBytes)
	require.NoError(t, err)

	r, err := NewMMapReaderWithPath(writeTempFile(t, []byte(fileBytes.String())))
	require.NoError(t, err)
	require.NotNil(t, r)
	defer func() { _ = r.Close() }()

	assert.Equal(t, tf.header.KeyCount, r.Header().KeyCount)
	assert.Equal(t, tf.index, r.Index())
	require.NoError(t, r.VerifyChecksum())
	require.NoError(t, r.Populate())
	require.NoError(t, r.ClearCache())
	// mlock may be disallowed by RLIMIT_MEMLOCK; it just can't corrupt anything
	_ = r.LockIndex()

	values, err := bitpack.Unpack(nil, r.Values(), uint(r.Header().ValueWidth), len(tf.values))
	require.NoError(t, err)
	assert.Equal(t, tf.values, values)

	fps, err := bitpack.NewArray(r.Fingerprints(), uint(r.Header().FingerprintWidth), len(tf.fingerprints))
	require.NoError(t, err)
	for i, fp := range tf.fingerprints {
		require.Equal(t, uint64(fp), fps.Get(i))
	}

	// should be safe for multiple closes
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestWriter_Empty(t *testing.T) {
	t.Parallel()

	tf := newTestFile(0)
	tf.index = nil
	tf.header.IndexSize = 0
	var fileBytes safeBuffer
	_, err := tf.write(&fileBytes)
	require.NoError(t, err)
	assert.Len(t, fileBytes.String(), HeaderSize)

	r, err := NewMMapReaderWithPath(writeTempFile(t, []byte(fileBytes.String())))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	assert.Empty(t, r.Values())
	require.NoError(t, r.VerifyChecksum())
}

func TestReader_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewMMapReaderWithPath("/doesnt/exist")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewMMapReaderWithPath(t.TempDir())
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = NewMMapReaderWithPath(writeTempFile(t, nil))
	require.ErrorIs(t, err, ErrCorrupt)

	tf := newTestFile(100)
	var fileBytes safeBuffer
	_, err = tf.write(&fileBytes)
	require.NoError(t, err)
	good := []byte(fileBytes.String())

	// truncated
	_, err = NewMMapReaderWithPath(writeTempFile(t, good[:len(good)-1]))
	require.ErrorIs(t, err, ErrCorrupt)

	// trailing garbage
	_, err = NewMMapReaderWithPath(writeTempFile(t, append(append([]byte(nil), good...), 0)))
	require.ErrorIs(t, err, ErrCorrupt)

	// bad magic
	bad := append([]byte(nil), good...)
	bad[0] ^= 0xff
	_, err = NewMMapReaderWithPath(writeTempFile(t, bad))
	require.ErrorIs(t, err, ErrCorrupt)

	// future version
	bad = append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(bad[4:8], 2)
	_, err = NewMMapReaderWithPath(writeTempFile(t, bad))
	require.ErrorIs(t, err, ErrVersion)

	// a flipped body bit only shows up on verification
	bad = append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0x01
	r, err := NewMMapReaderWithPath(writeTempFile(t, bad))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	require.ErrorIs(t, r.VerifyChecksum(), ErrChecksumMismatch)
}
