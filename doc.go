// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package packedmap implements an immutable, memory-mapped map from byte
// string keys to uint64 values, sized for hundreds of millions of keys.
//
// A Builder collects key/value pairs and writes a single file holding a
// minimal perfect hash over the keys (CHD), the values bit-packed at the
// width of the largest one, and a short per-key fingerprint.  The file is
// written to a temporary name and renamed into place, so readers see
// either the previous file or the complete new one.
//
// Keys themselves are not stored.  A lookup hashes the key to a slot,
// compares the slot's fingerprint, and decodes the value:
//
//	m, err := packedmap.Open("scores.pm")
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//	v, ok, err := m.GetString("alice", nil)
//
// A key that was never added is reported present with probability
// 2^-FingerprintBits; with zero fingerprint bits every lookup hits.
//
// Slot i holds the value of the i-th pair given to the Builder, so Scan
// walks values in insertion order.  Both lookups and scans draw from an
// optional budget.Budget, which bounds the CPU work a single request may
// spend; see package budget.
package packedmap
