package callstack

import (
	"errors"

	"tracefold/internal/attr"
)

// ErrStoreDisposed is returned by a Sink whose backing store went away.
// The reconstructor logs it and drops the interval.
var ErrStoreDisposed = errors.New("interval store disposed")

// Interval is one finished call-stack entry, half-open [Start, End).
type Interval struct {
	Quark attr.Quark `msgpack:"q"` // slot attribute
	Start int64      `msgpack:"s"`
	End   int64      `msgpack:"e"`
	Label string     `msgpack:"l"`
}

// Duration returns End-Start.
func (iv Interval) Duration() int64 { return iv.End - iv.Start }

// Overlaps reports whether iv intersects the half-open window [start, end).
func (iv Interval) Overlaps(start, end int64) bool {
	return iv.Start < end && iv.End > start
}

// Sink receives finished intervals.
type Sink interface {
	Write(iv Interval) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(iv Interval) error

func (f SinkFunc) Write(iv Interval) error { return f(iv) }

// Stats summarizes a reconstruction pass.
type Stats struct {
	Events        int64
	Intervals     int64
	Dropped       int64 // empty or negative intervals
	Disposed      int64 // writes skipped because the store was gone
	UnmatchedEnds int64
	Unclosed      int64 // begins still open at end of stream
	Threads       int
	MaxSlots      int
}
