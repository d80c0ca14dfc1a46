package event

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// maxMicros keeps us*1000 plus a three digit fraction inside int64.
const maxMicros = (math.MaxInt64 - 999) / 1000

// Parser turns raw JSON records into TraceEvents. The zero value is strict:
// any field outside name, cat, pid, tid, ph, ts, dur and id fails the parse.
type Parser struct {
	Lenient bool
}

// schemaFields is the field set the strict parser accepts.
var schemaFields = map[string]bool{
	"name": true, "cat": true, "pid": true, "tid": true,
	"ph": true, "ts": true, "dur": true, "id": true,
}

// StripRecord appends raw to dst on a single line, keeping only the fields
// the strict schema accepts. Records written this way parse with either
// parser.
func StripRecord(dst, raw []byte) ([]byte, error) {
	dst = append(dst, '{')
	first := true
	err := jsonparser.ObjectEach(raw, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
		if !schemaFields[string(key)] {
			return nil
		}
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = append(dst, '"')
		dst = append(dst, key...)
		dst = append(dst, '"', ':')
		if dt == jsonparser.String {
			dst = append(dst, '"')
			dst = append(dst, value...)
			dst = append(dst, '"')
			return nil
		}
		var err error
		dst, err = CompactRecord(dst, value)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("strip record: %w", err)
	}
	return append(dst, '}'), nil
}

// ParseEvent parses one record with the strict schema.
func ParseEvent(raw []byte) (TraceEvent, error) {
	return Parser{}.ParseAt(raw, -1)
}

// Parse parses one record.
func (p Parser) Parse(raw []byte) (TraceEvent, error) {
	return p.ParseAt(raw, -1)
}

// ParseAt parses one record located at offset in its source; the offset is
// only used for error reporting.
func (p Parser) ParseAt(raw []byte, offset int64) (TraceEvent, error) {
	ev := TraceEvent{PID: Unset, TID: Unset}
	var hasPhase, hasTS bool

	fail := func(field string, err error) error {
		return &ParseError{Offset: offset, Field: field, Err: err}
	}

	err := jsonparser.ObjectEach(raw, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
		field := string(key)
		switch field {
		case "name":
			s, err := stringValue(value, dt)
			if err != nil {
				return fail(field, err)
			}
			ev.Name = s
		case "cat":
			s, err := stringValue(value, dt)
			if err != nil {
				return fail(field, err)
			}
			ev.Categories = splitCategories(s)
		case "pid":
			switch dt {
			case jsonparser.Number:
				n, err := jsonparser.ParseInt(value)
				if err != nil {
					return fail(field, ErrBadValue)
				}
				ev.PID = n
			case jsonparser.String:
				s, err := jsonparser.ParseString(value)
				if err != nil {
					return fail(field, ErrBadValue)
				}
				ev.Process = s
			case jsonparser.Null:
			default:
				return fail(field, ErrBadValue)
			}
		case "tid":
			switch dt {
			case jsonparser.Number:
				n, err := jsonparser.ParseInt(value)
				if err != nil {
					return fail(field, ErrBadValue)
				}
				ev.TID = n
			case jsonparser.String:
				s, err := jsonparser.ParseString(value)
				if err != nil {
					return fail(field, ErrBadValue)
				}
				if n, err := strconv.ParseInt(s, 10, 64); err == nil {
					ev.TID = n
				} else {
					ev.Thread = s
				}
			case jsonparser.Null:
			default:
				return fail(field, ErrBadValue)
			}
		case "ph":
			s, err := stringValue(value, dt)
			if err != nil {
				return fail(field, err)
			}
			ph, ok := ParsePhase(s)
			if !ok {
				return fail(field, ErrBadPhase)
			}
			ev.Phase = ph
			hasPhase = true
		case "ts":
			s, err := numberText(value, dt)
			if err != nil {
				return fail(field, err)
			}
			ts, err := ParseTimestamp(s)
			if err != nil {
				return fail(field, err)
			}
			ev.Timestamp = ts
			hasTS = true
		case "dur":
			if dt == jsonparser.Null {
				return nil
			}
			s, err := numberText(value, dt)
			if err != nil {
				return fail(field, err)
			}
			magnitude, negative := strings.CutPrefix(s, "-")
			d, err := ParseTimestamp(magnitude)
			if err != nil {
				return fail(field, err)
			}
			// negative durations are the "not applicable" sentinel
			if !negative {
				ev.Duration = Some(d)
			}
		case "id":
			id, err := parseID(value, dt)
			if err != nil {
				return fail(field, err)
			}
			ev.ID = id
		default:
			if p.Lenient {
				// args, tts, bind_id and friends
				return nil
			}
			return fail(field, ErrUnknownField)
		}
		return nil
	})
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			return TraceEvent{}, perr
		}
		return TraceEvent{}, &ParseError{Offset: offset, Err: err}
	}

	if !hasPhase {
		return TraceEvent{}, &ParseError{Offset: offset, Field: "ph", Err: ErrMissingPhase}
	}
	if !hasTS && ev.Phase != PhaseMetadata {
		return TraceEvent{}, &ParseError{Offset: offset, Field: "ts", Err: ErrMissingTimestamp}
	}
	return ev, nil
}

func stringValue(value []byte, dt jsonparser.ValueType) (string, error) {
	switch dt {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return "", ErrBadValue
		}
		return s, nil
	case jsonparser.Null:
		return "", nil
	default:
		return "", ErrBadValue
	}
}

// numberText returns the literal text of a numeric field, which may be
// written either as a JSON number or as a string.
func numberText(value []byte, dt jsonparser.ValueType) (string, error) {
	switch dt {
	case jsonparser.Number:
		return string(value), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return "", ErrBadValue
		}
		return strings.TrimSpace(s), nil
	default:
		return "", ErrBadTimestamp
	}
}

func parseID(value []byte, dt jsonparser.ValueType) (Optional[int32], error) {
	var text string
	switch dt {
	case jsonparser.Null:
		return Optional[int32]{}, nil
	case jsonparser.Number:
		text = string(value)
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return Optional[int32]{}, ErrBadValue
		}
		text = s
	default:
		return Optional[int32]{}, ErrBadValue
	}
	n, err := strconv.ParseInt(text, 0, 64)
	if err != nil || n < math.MinInt32 || n > math.MaxUint32 {
		return Optional[int32]{}, ErrBadValue
	}
	// hex ids above MaxInt32 keep their bit pattern
	return Some(int32(uint32(n))), nil
}

func splitCategories(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseTimestamp converts a microsecond value with up to three fractional
// digits into nanoseconds: "1234.5" is 1234500. Digits past the third are
// truncated. Exponent notation is accepted and rounded to the nanosecond.
func ParseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, ErrBadTimestamp
	}
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 || f*1000 > math.MaxInt64 {
			return 0, ErrBadTimestamp
		}
		return int64(math.Round(f * 1000)), nil
	}

	intPart, frac, hasDot := strings.Cut(s, ".")
	if intPart == "" && (!hasDot || frac == "") {
		return 0, ErrBadTimestamp
	}

	var us int64
	for i := 0; i < len(intPart); i++ {
		c := intPart[i]
		if c < '0' || c > '9' {
			return 0, ErrBadTimestamp
		}
		if us > (maxMicros-int64(c-'0'))/10 {
			return 0, ErrBadTimestamp
		}
		us = us*10 + int64(c-'0')
	}
	ns := us * 1000

	mult := int64(100)
	for i := 0; i < len(frac); i++ {
		c := frac[i]
		if c < '0' || c > '9' {
			return 0, ErrBadTimestamp
		}
		if i < 3 {
			ns += int64(c-'0') * mult
			mult /= 10
		}
	}
	return ns, nil
}
