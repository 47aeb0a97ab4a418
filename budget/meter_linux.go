// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build linux

package budget

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Both meters measure the calling OS thread, so they pin the goroutine to
// its thread until Close.

func openMeter(kind MeterKind) (Meter, error) {
	switch kind {
	case MeterThreadCPU:
		return openThreadCPUMeter()
	case MeterInstructions:
		return openInstructionMeter()
	default:
		return nil, fmt.Errorf("no meter for %s", kind)
	}
}

type threadCPUMeter struct{}

func openThreadCPUMeter() (Meter, error) {
	runtime.LockOSThread()
	m := threadCPUMeter{}
	if _, err := m.Read(); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return m, nil
}

func (threadCPUMeter) Read() (uint64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0, fmt.Errorf("clock_gettime(CLOCK_THREAD_CPUTIME_ID): %w", err)
	}
	return uint64(ts.Nano()), nil
}

func (threadCPUMeter) Close() error {
	runtime.UnlockOSThread()
	return nil
}

type instructionMeter struct {
	fd int
}

func openInstructionMeter() (Meter, error) {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: unix.PERF_COUNT_HW_INSTRUCTIONS,
		Bits:   unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	runtime.LockOSThread()
	// pid 0, cpu -1: this thread, on whichever CPU it runs
	fd, err := unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("perf_event_open: %w", err)
	}
	return &instructionMeter{fd: fd}, nil
}

func (m *instructionMeter) Read() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(m.fd, buf[:])
	if err != nil {
		return 0, fmt.Errorf("read perf counter: %w", err)
	} else if n != len(buf) {
		return 0, fmt.Errorf("short read of perf counter: %d bytes", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

func (m *instructionMeter) Close() error {
	defer runtime.UnlockOSThread()
	return unix.Close(m.fd)
}
