// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitpack stores arrays of unsigned integers at the minimum bit
// width that covers their largest value.
//
// Values are laid down as a dense little-endian bitstream: bit 0 of value
// i lives at absolute bit offset i*width, and bits fill each byte from the
// least significant bit up.  For width 3:
//
//	byte 0                byte 1
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|v2|v2|v1|v1|v1|v0|v0|v0|v5|v4|v4|v4|v3|v3|v3|v2|
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	 7  6  5  4  3  2  1  0  7  6  5  4  3  2  1  0
//
// The width is chosen once per array and never stored per value; callers
// record it (along with the element count) next to the packed bytes.  An
// array of n values at width w occupies PackedLen(n, w) bytes.  A width of
// 0 is valid and means every value is zero: no bytes are stored and every
// decode returns 0.
package bitpack
