// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package datafile

import "errors"

func adviseRandom([]byte) error { return nil }

func adviseWillNeed([]byte) error { return nil }

func adviseDontNeed([]byte) error { return nil }

func lockMemory([]byte) error {
	return errors.New("mlock not supported on this platform")
}
