package event

import "strconv"

const (
	// UnknownName names a process or thread whose identity is absent.
	UnknownName = "UNKNOWN"
	// Unset marks an absent numeric pid or tid.
	Unset int64 = -1
)

// Optional holds a value that may be absent.
type Optional[T any] struct {
	v  T
	ok bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{v: v, ok: true} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.v, o.ok }

// Valid reports whether the value is present.
func (o Optional[T]) Valid() bool { return o.ok }

// Or returns the value, or def when absent.
func (o Optional[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// TraceEvent is one parsed record. Timestamps and durations are nanoseconds.
type TraceEvent struct {
	Name       string
	Categories []string
	// Process is the symbolic pid when the record carried a string pid.
	Process string
	PID     int64
	TID     int64
	// Thread is the symbolic tid when the record carried a non-numeric one.
	Thread    string
	Phase     Phase
	Timestamp int64
	Duration  Optional[int64]
	ID        Optional[int32]
}

// ProcessName prefers the symbolic pid, then the numeric one.
func (e *TraceEvent) ProcessName() string {
	if e.Process != "" {
		return e.Process
	}
	if e.PID != Unset {
		return strconv.FormatInt(e.PID, 10)
	}
	return UnknownName
}

// ThreadName prefers the symbolic tid, then the numeric one.
func (e *TraceEvent) ThreadName() string {
	if e.Thread != "" {
		return e.Thread
	}
	if e.TID != Unset {
		return strconv.FormatInt(e.TID, 10)
	}
	return UnknownName
}

// End returns Timestamp+Duration for events that carry a duration.
func (e *TraceEvent) End() (int64, bool) {
	d, ok := e.Duration.Get()
	if !ok {
		return 0, false
	}
	return e.Timestamp + d, true
}
