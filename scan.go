// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package packedmap

import (
	"iter"

	"github.com/bpowers/packedmap/budget"
)

// Scanner iterates over a range of slots in order.  Slot i holds the value
// of the i-th pair given to the Builder.  Like bufio.Scanner, call Next
// until it returns false, then check Err.
type Scanner struct {
	m     *Map
	b     *budget.Budget
	next  uint64
	end   uint64
	count uint64
	slot  uint64
	value uint64
	err   error
}

// Scan returns a Scanner over the slots in [start, min(end, Len())).  Each
// value yielded charges ScanItemCost to b.  If b runs out, the values
// already yielded are valid and Err returns ErrBudgetExceeded.
func (m *Map) Scan(start, end uint64, b *budget.Budget) *Scanner {
	s := &Scanner{
		m:    m,
		b:    b,
		next: start,
		end:  min(end, m.n),
	}
	switch {
	case start > end:
		s.err = ErrInvalidRange
	case m.closed.Load():
		s.err = ErrClosed
	}
	return s
}

// Next advances to the next slot, returning false at the end of the range
// or on error.
func (s *Scanner) Next() bool {
	if s.err != nil || s.next >= s.end {
		return false
	}
	if s.m.closed.Load() {
		s.err = ErrClosed
		return false
	}
	if s.count%checkInterval == 0 {
		if err := s.b.Check(); err != nil {
			s.err = err
			return false
		}
	}
	if err := s.b.Consume(ScanItemCost); err != nil {
		s.err = err
		return false
	}
	s.b.AddBytesRead(s.m.valueBytes)

	s.slot = s.next
	s.value = s.m.values.Get(int(s.next))
	s.next++
	s.count++
	return true
}

// Slot returns the slot of the current value.
func (s *Scanner) Slot() uint64 {
	return s.slot
}

// Value returns the current value.
func (s *Scanner) Value() uint64 {
	return s.value
}

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}

// All returns the remaining (slot, value) pairs as a sequence.  Check Err
// once the sequence ends.
func (s *Scanner) All() iter.Seq2[uint64, uint64] {
	return func(yield func(uint64, uint64) bool) {
		for s.Next() {
			if !yield(s.slot, s.value) {
				return
			}
		}
	}
}
