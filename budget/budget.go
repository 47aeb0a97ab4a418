// Copyright 2024 The packedmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package budget provides a cooperative cost ceiling for long-running
// operations.  An operation creates a Budget, charges it as it works, and
// checks it at bounded intervals; once the ceiling is crossed every later
// call fails with ErrExceeded and the operation is expected to stop.
//
// A Budget is scoped to a single operation: it isn't safe for concurrent
// use and holds no process-wide state.  Costs are measured either purely
// by explicit charges (MeterCount), or by explicit charges plus a sampled
// per-thread signal such as CPU time or retired instructions.  Time spent
// blocked on page faults or other I/O isn't CPU work and isn't counted.
package budget

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
)

// ErrExceeded is returned once an operation has spent more than its budget.
// It's an expected outcome, not a defect: callers decide whether to keep a
// partial result, retry with a larger budget, or fail.
var ErrExceeded = errors.New("budget: cost budget exceeded")

// MeterKind selects how work is measured.
type MeterKind int

const (
	// MeterCount counts only explicit charges.  It's deterministic: the same
	// sequence of charges always fails at the same point.
	MeterCount MeterKind = iota
	// MeterThreadCPU adds the calling thread's CPU time in nanoseconds.
	MeterThreadCPU
	// MeterInstructions adds user-space instructions retired by the calling
	// thread, read from a hardware performance counter.
	MeterInstructions
)

func (k MeterKind) String() string {
	switch k {
	case MeterCount:
		return "count"
	case MeterThreadCPU:
		return "thread-cpu"
	case MeterInstructions:
		return "instructions"
	default:
		return fmt.Sprintf("MeterKind(%d)", int(k))
	}
}

// ParseMeterKind parses the String form of a MeterKind, for callers that
// load budget settings from configuration files or flags.
func ParseMeterKind(s string) (MeterKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "count":
		return MeterCount, nil
	case "thread-cpu", "cpu":
		return MeterThreadCPU, nil
	case "instructions", "hw":
		return MeterInstructions, nil
	default:
		return MeterCount, fmt.Errorf("unknown meter kind %q", s)
	}
}

// Meter is a monotonic, cheap-to-sample measure of work done by the thread
// that opened it.
type Meter interface {
	Read() (uint64, error)
	Close() error
}

// Config is the plain-data form of a budget's settings.
type Config struct {
	Max   uint64
	Meter MeterKind
}

// Option configures a Budget.
type Option func(*options)

type options struct {
	kind   MeterKind
	logger *slog.Logger
}

// WithMeter selects how work is measured.  If the requested meter can't be
// opened on this host, the budget falls back to MeterCount.
func WithMeter(kind MeterKind) Option {
	return func(opts *options) {
		opts.kind = kind
	}
}

// WithLogger sets a logger used to report meter fallbacks.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// Budget tracks the cost consumed by one operation against a ceiling.  A nil
// *Budget is valid and never runs out.
type Budget struct {
	max       uint64
	charged   uint64
	measured  uint64 // meter delta as of the last Check
	base      uint64
	meter     Meter
	kind      MeterKind
	exceeded  bool
	bytesRead uint64
	logger    *slog.Logger
}

// New returns a budget that allows up to maxCost units of work.  If a
// non-count meter is selected, the caller must Close the budget from the
// same goroutine that created it.
func New(maxCost uint64, opts ...Option) *Budget {
	var options options
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}

	b := &Budget{
		max:    maxCost,
		kind:   MeterCount,
		logger: options.logger,
	}
	if options.kind != MeterCount {
		m, err := openMeter(options.kind)
		if err == nil {
			b.base, err = m.Read()
			if err != nil {
				_ = m.Close()
			}
		}
		if err != nil {
			b.logger.Debug("cost meter unavailable, falling back to counting", "meter", options.kind, "err", err)
		} else {
			b.meter = m
			b.kind = options.kind
		}
	}
	return b
}

// NewFromConfig returns a budget built from cfg.
func NewFromConfig(cfg Config, opts ...Option) *Budget {
	return New(cfg.Max, append([]Option{WithMeter(cfg.Meter)}, opts...)...)
}

// Unlimited returns a budget that can't be exhausted in practice.
func Unlimited() *Budget {
	return New(math.MaxUint64)
}

func addSat(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return math.MaxUint64
}

func (b *Budget) settle() error {
	if addSat(b.charged, b.measured) > b.max {
		b.exceeded = true
		return ErrExceeded
	}
	return nil
}

// Consume charges amount to the budget.  It fails with ErrExceeded once the
// running total is above the ceiling, and keeps failing after that.
// Consume doesn't sample the meter, so it's cheap enough to call per item.
func (b *Budget) Consume(amount uint64) error {
	if b == nil {
		return nil
	}
	if b.exceeded {
		return ErrExceeded
	}
	b.charged = addSat(b.charged, amount)
	return b.settle()
}

// Check reports whether the budget has been exceeded without charging
// anything.  When a meter is in use this is where it's sampled, so loops
// should call Check at a fixed interval to bound overshoot.
func (b *Budget) Check() error {
	if b == nil {
		return nil
	}
	if b.exceeded {
		return ErrExceeded
	}
	if b.meter != nil {
		now, err := b.meter.Read()
		if err != nil {
			b.logger.Debug("cost meter read failed, falling back to counting", "meter", b.kind, "err", err)
			_ = b.meter.Close()
			b.meter = nil
			b.kind = MeterCount
		} else if now >= b.base {
			b.measured = now - b.base
		}
	}
	return b.settle()
}

// Exceeded reports whether the budget has run out.
func (b *Budget) Exceeded() bool {
	return b != nil && b.exceeded
}

// Used returns the cost consumed as of the last Consume or Check.
func (b *Budget) Used() uint64 {
	if b == nil {
		return 0
	}
	return addSat(b.charged, b.measured)
}

// Remaining returns how much cost is left before the ceiling.
func (b *Budget) Remaining() uint64 {
	if b == nil {
		return math.MaxUint64
	}
	used := b.Used()
	if used >= b.max {
		return 0
	}
	return b.max - used
}

// Max returns the ceiling.
func (b *Budget) Max() uint64 {
	if b == nil {
		return math.MaxUint64
	}
	return b.max
}

// Meter returns the kind of meter actually in use, which may be MeterCount
// if the requested meter was unavailable.
func (b *Budget) Meter() MeterKind {
	if b == nil {
		return MeterCount
	}
	return b.kind
}

// AddBytesRead records n bytes read from storage by the operation.  Reads
// are accounted separately and never count against the ceiling.
func (b *Budget) AddBytesRead(n uint64) {
	if b == nil {
		return
	}
	b.bytesRead = addSat(b.bytesRead, n)
}

// BytesRead returns the bytes recorded by AddBytesRead.
func (b *Budget) BytesRead() uint64 {
	if b == nil {
		return 0
	}
	return b.bytesRead
}

// Close releases the budget's meter, if any.  The budget still reports its
// last state after Close, but no longer samples.
func (b *Budget) Close() error {
	if b == nil || b.meter == nil {
		return nil
	}
	err := b.meter.Close()
	b.meter = nil
	return err
}
