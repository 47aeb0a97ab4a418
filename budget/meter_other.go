// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build !linux

package budget

import "fmt"

func openMeter(kind MeterKind) (Meter, error) {
	return nil, fmt.Errorf("%s meter not supported on this platform", kind)
}
