// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package datafile

import "golang.org/x/sys/unix"

func adviseRandom(b []byte) error {
	return unix.Madvise(b, unix.MADV_RANDOM)
}

func adviseWillNeed(b []byte) error {
	return unix.Madvise(b, unix.MADV_WILLNEED)
}

func adviseDontNeed(b []byte) error {
	return unix.Madvise(b, unix.MADV_DONTNEED)
}

func lockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}
