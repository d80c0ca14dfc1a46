package event

import (
	"errors"
	"fmt"
)

var (
	ErrMissingPhase     = errors.New("missing ph")
	ErrMissingTimestamp = errors.New("missing ts")
	ErrUnknownField     = errors.New("unknown field")
	ErrBadPhase         = errors.New("unrecognized phase")
	ErrBadTimestamp     = errors.New("malformed timestamp")
	ErrBadValue         = errors.New("malformed value")
)

// ParseError reports a record that could not be turned into a TraceEvent.
type ParseError struct {
	Offset int64 // byte offset of the record, -1 when unknown
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Offset >= 0 && e.Field != "":
		return fmt.Sprintf("record at offset %d: field %q: %v", e.Offset, e.Field, e.Err)
	case e.Offset >= 0:
		return fmt.Sprintf("record at offset %d: %v", e.Offset, e.Err)
	case e.Field != "":
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ParseError) Unwrap() error { return e.Err }
