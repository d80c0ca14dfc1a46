package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const wrapperKey = `"traceEvents"`

var errNotObject = errors.New("expected an object key")

// Record is one raw JSON object and the byte offset where it starts.
type Record struct {
	Offset int64
	Raw    []byte
}

// Scanner splits a trace into records. It accepts newline-delimited objects,
// a bare JSON array of objects, and the {"traceEvents":[...]} wrapper. Keys
// of the wrapper other than traceEvents are skipped.
type Scanner struct {
	r       *bufio.Reader
	off     int64
	rec     Record
	buf     []byte
	err     error
	started bool
	wrapped bool
	done    bool
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64<<10)}
}

// Record returns the most recent record. Raw is only valid until the next
// call to Scan.
func (s *Scanner) Record() Record { return s.rec }

// Err returns the first non-EOF error.
func (s *Scanner) Err() error { return s.err }

// Offset returns the number of bytes consumed so far.
func (s *Scanner) Offset() int64 { return s.off }

// Scan advances to the next record.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.done {
		return false
	}
	for {
		c, err := s.readByte()
		if err != nil {
			if err != io.EOF {
				s.err = err
			}
			return false
		}
		switch {
		case isSpace(c) || c == ',':
			continue
		case c == '[':
			s.started = true
			continue
		case c == ']':
			if s.wrapped {
				// rest of the wrapper object carries no events
				s.done = true
				return false
			}
			continue
		case c == '{':
			if !s.started {
				s.started = true
				record, err := s.readFirstObject()
				if err != nil {
					s.err = err
					return false
				}
				if !record {
					continue
				}
				return true
			}
			if err := s.readObject(); err != nil {
				s.err = err
				return false
			}
			return true
		default:
			s.err = &ParseError{Offset: s.off - 1, Err: fmt.Errorf("unexpected %q between records", c)}
			return false
		}
	}
}

func (s *Scanner) readByte() (byte, error) {
	c, err := s.r.ReadByte()
	if err == nil {
		s.off++
	}
	return c, err
}

func (s *Scanner) unreadByte() {
	_ = s.r.UnreadByte()
	s.off--
	s.buf = s.buf[:len(s.buf)-1]
}

// next appends the next byte to buf and returns it.
func (s *Scanner) next(start int64) (byte, error) {
	c, err := s.readByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, &ParseError{Offset: start, Err: fmt.Errorf("truncated record: %w", err)}
	}
	s.buf = append(s.buf, c)
	return c, nil
}

func (s *Scanner) nextNonSpace(start int64) (byte, error) {
	for {
		c, err := s.next(start)
		if err != nil || !isSpace(c) {
			return c, err
		}
	}
}

// readFirstObject walks the top-level keys of the first object, whose '{'
// was already consumed. On reaching a traceEvents array it stops inside
// the array and reports false. Otherwise the object is an ordinary record
// and is left in rec.
func (s *Scanner) readFirstObject() (bool, error) {
	start := s.off - 1
	s.buf = append(s.buf[:0], '{')
	for {
		c, err := s.nextNonSpace(start)
		if err != nil {
			return false, err
		}
		switch c {
		case '}':
			s.rec = Record{Offset: start, Raw: s.buf}
			return true, nil
		case ',':
			continue
		case '"':
		default:
			return false, &ParseError{Offset: s.off - 1, Err: errNotObject}
		}

		keyStart := len(s.buf) - 1
		if err := s.readString(start); err != nil {
			return false, err
		}
		isWrapper := bytes.Equal(s.buf[keyStart:], []byte(wrapperKey))
		if c, err = s.nextNonSpace(start); err != nil {
			return false, err
		}
		if c != ':' {
			return false, &ParseError{Offset: s.off - 1, Err: errNotObject}
		}
		if isWrapper {
			if c, err = s.nextNonSpace(start); err != nil {
				return false, err
			}
			if c != '[' {
				return false, &ParseError{Offset: start, Field: "traceEvents", Err: ErrBadValue}
			}
			s.wrapped = true
			return false, nil
		}
		if err := s.skipValue(start); err != nil {
			return false, err
		}
	}
}

// readString consumes a string whose opening quote is already in buf.
func (s *Scanner) readString(start int64) error {
	escaped := false
	for {
		c, err := s.next(start)
		if err != nil {
			return err
		}
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			return nil
		}
	}
}

// skipValue consumes one JSON value into buf.
func (s *Scanner) skipValue(start int64) error {
	c, err := s.nextNonSpace(start)
	if err != nil {
		return err
	}
	switch c {
	case '"':
		return s.readString(start)
	case '{', '[':
		return s.readNested(start)
	}
	for {
		c, err := s.next(start)
		if err != nil {
			return err
		}
		if c == ',' || c == '}' || c == ']' || isSpace(c) {
			s.unreadByte()
			return nil
		}
	}
}

// readNested consumes bytes until the bracket already in buf is balanced.
func (s *Scanner) readNested(start int64) error {
	depth := 1
	inString := false
	escaped := false
	for depth > 0 {
		c, err := s.next(start)
		if err != nil {
			return err
		}
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
		}
	}
	return nil
}

// readObject reads one balanced object whose '{' was already consumed.
func (s *Scanner) readObject() error {
	start := s.off - 1
	s.buf = append(s.buf[:0], '{')
	if err := s.readNested(start); err != nil {
		return err
	}
	s.rec = Record{Offset: start, Raw: s.buf}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// CompactRecord returns raw on a single line, appended to dst.
func CompactRecord(dst, raw []byte) ([]byte, error) {
	if bytes.IndexAny(raw, "\r\n\t") < 0 {
		return append(dst, raw...), nil
	}
	buf := bytes.NewBuffer(dst)
	if err := json.Compact(buf, raw); err != nil {
		return dst, fmt.Errorf("compact record: %w", err)
	}
	return buf.Bytes(), nil
}
