// Package query turns store and trace lookups into flat views shared by the
// CLI, the HTTP service and the MCP tools.
package query

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"go.uber.org/multierr"

	"tracefold/internal/attr"
	"tracefold/internal/callstack"
	"tracefold/internal/event"
	"tracefold/internal/store"
	"tracefold/internal/tracefile"
)

// Interval is a stored interval with its slot decoded.
type Interval struct {
	Process  string `json:"process"`
	Thread   string `json:"thread"`
	Slot     int    `json:"slot"`
	Label    string `json:"label"`
	Start    int64  `json:"start_ns"`
	End      int64  `json:"end_ns"`
	Duration int64  `json:"duration_ns"`
}

func view(tab *attr.Table, iv callstack.Interval) Interval {
	out := Interval{Label: iv.Label, Start: iv.Start, End: iv.End, Duration: iv.Duration(), Slot: -1}
	if slot, ok := tab.SlotOf(iv.Quark); ok {
		out.Process, out.Thread, out.Slot = slot.Process, slot.Thread, slot.Index
	} else {
		out.Process = tab.String(iv.Quark)
	}
	return out
}

// Intersecting returns up to limit intervals overlapping [start, end), in
// start order. limit <= 0 means no limit. truncated reports whether more
// matches existed.
func Intersecting(st *store.Store, start, end int64, limit int) (out []Interval, truncated bool, err error) {
	c, err := st.Intersecting(start, end)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()
	tab := st.Quarks()
	for c.Next() {
		if limit > 0 && len(out) == limit {
			return out, true, nil
		}
		out = append(out, view(tab, c.Interval()))
	}
	return out, false, c.Err()
}

// Stack is the call stack of one thread at an instant, outermost first.
type Stack struct {
	Process string     `json:"process"`
	Thread  string     `json:"thread"`
	Frames  []Interval `json:"frames"`
}

// At groups the intervals executing at ts by thread, outermost frame first:
// earlier start, then later end, then lower slot. Slots alone do not give
// nesting order since a child that shares its parent's start is finalized
// first and takes the lower slot.
func At(st *store.Store, ts int64) ([]Stack, error) {
	c, err := st.At(ts)
	if err != nil {
		return nil, err
	}
	tab := st.Quarks()
	byThread := make(map[[2]string]*Stack)
	var order [][2]string
	for c.Next() {
		v := view(tab, c.Interval())
		key := [2]string{v.Process, v.Thread}
		s, ok := byThread[key]
		if !ok {
			s = &Stack{Process: v.Process, Thread: v.Thread}
			byThread[key] = s
			order = append(order, key)
		}
		s.Frames = append(s.Frames, v)
	}
	if err := multierr.Append(c.Err(), c.Close()); err != nil {
		return nil, err
	}
	slices.SortFunc(order, func(a, b [2]string) int {
		if c := strings.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return strings.Compare(a[1], b[1])
	})
	out := make([]Stack, 0, len(order))
	for _, k := range order {
		s := byThread[k]
		slices.SortStableFunc(s.Frames, func(a, b Interval) int {
			if c := cmp.Compare(a.Start, b.Start); c != 0 {
				return c
			}
			if c := cmp.Compare(b.End, a.End); c != 0 {
				return c
			}
			return cmp.Compare(a.Slot, b.Slot)
		})
		out = append(out, *s)
	}
	return out, nil
}

// Position selects where an event listing starts. Exactly one field should
// be set; the zero value starts at rank 0.
type Position struct {
	Rank  *int64
	Ratio *float64
	Time  *int64
}

// Event is one record of the sorted trace with its location.
type Event struct {
	Rank     int64    `json:"rank"`
	Location float64  `json:"location"`
	Name     string   `json:"name"`
	Phase    string   `json:"ph"`
	Process  string   `json:"process"`
	Thread   string   `json:"thread"`
	TS       int64    `json:"ts_ns"`
	Duration *int64   `json:"dur_ns,omitempty"`
	ID       *int32   `json:"id,omitempty"`
	Category []string `json:"cat,omitempty"`
}

// Events lists up to count events of the sorted trace from pos.
func Events(tr *tracefile.Trace, pos Position, count int) ([]Event, error) {
	var (
		c   *tracefile.Cursor
		err error
	)
	switch {
	case pos.Rank != nil:
		c, err = tr.Seek(*pos.Rank)
	case pos.Ratio != nil:
		c, err = tr.SeekRatio(*pos.Ratio)
	case pos.Time != nil:
		c, err = tr.SeekTime(*pos.Time)
	default:
		c, err = tr.Seek(0)
	}
	if err != nil {
		return nil, err
	}
	var out []Event
	for count <= 0 || len(out) < count {
		rank, loc := c.Rank(), tr.LocationRatio(c)
		ev, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, multierr.Append(err, c.Close())
		}
		out = append(out, eventView(rank, loc, ev))
	}
	return out, c.Close()
}

func eventView(rank int64, loc float64, ev event.TraceEvent) Event {
	out := Event{
		Rank:     rank,
		Location: loc,
		Name:     ev.Name,
		Phase:    string(ev.Phase.Char()),
		Process:  ev.ProcessName(),
		Thread:   ev.ThreadName(),
		TS:       ev.Timestamp,
		Category: ev.Categories,
	}
	if d, ok := ev.Duration.Get(); ok {
		out.Duration = &d
	}
	if id, ok := ev.ID.Get(); ok {
		out.ID = &id
	}
	return out
}

// ParseWindow parses CLI or request timestamps given in microseconds.
// An empty end means "to the end of the trace".
func ParseWindow(start, end string, maxEnd int64) (int64, int64, error) {
	s, err := ParseMicros(start, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("start: %w", err)
	}
	e, err := ParseMicros(end, maxEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("end: %w", err)
	}
	return s, e, nil
}

// ParseMicros parses a microsecond timestamp with the trace's fixed-point
// rules, returning def for an empty string.
func ParseMicros(s string, def int64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return event.ParseTimestamp(s)
}
