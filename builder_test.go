// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package packedmap

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestBuilder_Publish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.pm")

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b, err := NewBuilder(path, WithBuilderLogger(logger), WithWorkers(2))
	require.NoError(t, err)
	require.NoError(t, b.PutString("a", 1))
	require.NoError(t, b.Put([]byte("b"), 2))
	assert.Equal(t, 2, b.Len())

	// nothing is visible at the destination until Finalize
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, b.Finalize(context.Background()))
	assert.Equal(t, []string{"out.pm"}, dirEntries(t, dir))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())
	assert.Contains(t, logs.String(), "published map")

	require.ErrorIs(t, b.Put([]byte("c"), 3), ErrBuilderFinished)
	require.ErrorIs(t, b.Finalize(context.Background()), ErrBuilderFinished)
	require.ErrorIs(t, b.Abort(), ErrBuilderFinished)
}

func TestBuilder_KeysAreCopied(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.pm")
	b, err := NewBuilder(path)
	require.NoError(t, err)
	buf := []byte("first")
	require.NoError(t, b.Put(buf, 1))
	copy(buf, "xxxxx")
	require.NoError(t, b.Put(buf, 2))
	require.NoError(t, b.Finalize(context.Background()))

	m := openMap(t, path)
	v, ok, err := m.GetString("first", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
}

func TestBuilder_DuplicateKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.pm")
	err := Build(context.Background(), path, pairsSeq([]pair{{"a", 1}, {"b", 2}, {"c", 3}, {"c", 4}}))
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Contains(t, err.Error(), `duplicate key: "c"`)
	// the temporary file is cleaned up
	assert.Empty(t, dirEntries(t, dir))
}

func TestBuilder_FailureKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.pm")
	require.NoError(t, Build(context.Background(), path, pairsSeq([]pair{{"old", 7}})))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = Build(context.Background(), path, pairsSeq([]pair{{"x", 1}, {"x", 2}}))
	require.ErrorIs(t, err, ErrDuplicateKey)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"out.pm"}, dirEntries(t, dir))

	// and a successful rebuild replaces it atomically
	require.NoError(t, Build(context.Background(), path, pairsSeq([]pair{{"new", 8}})))
	m := openMap(t, path)
	_, ok, err := m.GetString("old", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	v, ok, err := m.GetString("new", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(8), v)
}

func TestBuilder_ReplaceWhileOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.pm")
	require.NoError(t, Build(context.Background(), path, pairsSeq(numberedPairs(1000))))
	old := openMap(t, path)

	require.NoError(t, Build(context.Background(), path, pairsSeq([]pair{{"only", 1}})))

	// the old mapping still sees the old file
	v, ok, err := old.GetString("key-999", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, numberedPairs(1000)[999].value, v)

	fresh := openMap(t, path)
	assert.Equal(t, uint64(1), fresh.Len())
}

func TestBuilder_Abort(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.pm")
	b, err := NewBuilder(path)
	require.NoError(t, err)
	require.NoError(t, b.PutString("a", 1))
	require.Len(t, dirEntries(t, dir), 1)
	assert.True(t, strings.HasPrefix(dirEntries(t, dir)[0], "packedmap-builder."))

	require.NoError(t, b.Abort())
	assert.Empty(t, dirEntries(t, dir))
	require.ErrorIs(t, b.Abort(), ErrBuilderFinished)
	require.ErrorIs(t, b.PutString("b", 2), ErrBuilderFinished)
}

func TestBuilder_Canceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.pm")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Build(ctx, path, pairsSeq(numberedPairs(10)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, dir))
}

func TestBuilder_InvalidOptions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := NewBuilder(filepath.Join(dir, "out.pm"), WithFingerprintBits(MaxFingerprintBits+1))
	require.ErrorIs(t, err, ErrInvalidOption)
	_, err = NewBuilder(filepath.Join(dir, "out.pm"), WithHashFunction(HashFunction(42)))
	require.ErrorIs(t, err, ErrInvalidOption)
	assert.Empty(t, dirEntries(t, dir))

	_, err = NewBuilder(filepath.Join(dir, "missing", "out.pm"))
	require.ErrorIs(t, err, ErrIO)
}

func TestBuilder_Deterministic(t *testing.T) {
	t.Parallel()

	pairs := numberedPairs(40000)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pm")
	b := filepath.Join(dir, "b.pm")
	require.NoError(t, Build(context.Background(), a, pairsSeq(pairs), WithWorkers(1)))
	require.NoError(t, Build(context.Background(), b, pairsSeq(pairs), WithWorkers(8)))

	aBytes, err := os.ReadFile(a)
	require.NoError(t, err)
	bBytes, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, aBytes, bBytes)
}
