package tracefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.uber.org/multierr"

	"tracefold/internal/event"
)

// EstimatedEventSize is the assumed average record size, in bytes, used for
// ratio seeks when a trace has no records to measure.
const EstimatedEventSize = 90

// ErrClosed is returned by operations on a closed Trace or Cursor.
var ErrClosed = errors.New("trace closed")

// OpenOptions configures Open.
type OpenOptions struct {
	CheckpointInterval int
	Parser             event.Parser
	Logger             *slog.Logger
}

// Trace is a read-only view over a sorted trace file. Each Cursor it hands
// out reads through its own file handle.
type Trace struct {
	path   string
	idx    *Index
	parser event.Parser
	log    *slog.Logger

	mu      sync.Mutex
	cursors map[*Cursor]struct{}
	closed  bool
}

// Open opens a sorted trace, rebuilding its index sidecar when missing.
func Open(ctx context.Context, sorted string, opts OpenOptions) (*Trace, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	idx, err := ensureIndex(ctx, sorted, SortOptions{CheckpointInterval: opts.CheckpointInterval, Parser: opts.Parser})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", sorted, err)
	}
	return &Trace{
		path:    sorted,
		idx:     idx,
		parser:  opts.Parser,
		log:     log,
		cursors: make(map[*Cursor]struct{}),
	}, nil
}

// Validate reports whether path holds at least one parseable event.
func Validate(path string, parser event.Parser) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := event.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s: no trace events", path)
	}
	rec := sc.Record()
	_, err = parser.ParseAt(rec.Raw, rec.Offset)
	return err
}

// Properties returns static descriptive metadata.
func (t *Trace) Properties() map[string]string {
	return map[string]string{"Type": "Chromium"}
}

func (t *Trace) Path() string   { return t.path }
func (t *Trace) Records() int64 { return t.idx.Records }
func (t *Trace) Size() int64    { return t.idx.Size }

// AverageEventSize is the measured mean record size, or EstimatedEventSize
// for an empty trace.
func (t *Trace) AverageEventSize() float64 {
	if t.idx.Records == 0 || t.idx.Size == 0 {
		return EstimatedEventSize
	}
	return float64(t.idx.Size) / float64(t.idx.Records)
}

// Seek returns a cursor positioned before the record of the given rank.
// Ranks past the end yield a cursor at end of stream.
func (t *Trace) Seek(rank int64) (*Cursor, error) {
	if rank < 0 {
		rank = 0
	}
	if rank > t.idx.Records {
		rank = t.idx.Records
	}
	cp := t.idx.checkpointFor(rank)
	c, err := t.openAt(cp)
	if err != nil {
		return nil, err
	}
	for c.rank < rank {
		if _, err := c.advance(); err != nil {
			return nil, multierr.Append(err, c.Close())
		}
	}
	return c, nil
}

// SeekRatio positions a cursor at a fraction of the file, estimated from
// the average record size.
func (t *Trace) SeekRatio(ratio float64) (*Cursor, error) {
	ratio = clamp01(ratio)
	pos := float64(t.idx.Size) * ratio
	return t.Seek(int64(pos / t.AverageEventSize()))
}

// SeekTime positions a cursor before the first record with a timestamp at
// or after ts.
func (t *Trace) SeekTime(ts int64) (*Cursor, error) {
	cp := t.idx.checkpointBefore(ts)
	c, err := t.openAt(cp)
	if err != nil {
		return nil, err
	}
	rank := cp.Rank
	for {
		ev, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, multierr.Append(err, c.Close())
		}
		if ev.Timestamp >= ts {
			break
		}
		rank++
	}
	if err := c.Close(); err != nil {
		return nil, err
	}
	return t.Seek(rank)
}

// LocationRatio estimates how far through the file the cursor is, in [0, 1].
func (t *Trace) LocationRatio(c *Cursor) float64 {
	if t.idx.Size == 0 {
		return 0
	}
	return clamp01(float64(c.offset) / float64(t.idx.Size))
}

// Close closes every cursor still open.
func (t *Trace) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cursors := make([]*Cursor, 0, len(t.cursors))
	for c := range t.cursors {
		cursors = append(cursors, c)
	}
	t.mu.Unlock()

	var err error
	for _, c := range cursors {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (t *Trace) openAt(cp Checkpoint) (*Cursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(cp.Offset, io.SeekStart); err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	c := &Cursor{
		trace:  t,
		f:      f,
		sc:     event.NewScanner(f),
		base:   cp.Offset,
		rank:   cp.Rank,
		offset: cp.Offset,
	}
	t.cursors[c] = struct{}{}
	return c, nil
}

func (t *Trace) release(c *Cursor) {
	t.mu.Lock()
	delete(t.cursors, c)
	t.mu.Unlock()
}

// Cursor reads consecutive events from a sorted trace. A Cursor is not safe
// for concurrent use.
type Cursor struct {
	trace  *Trace
	f      *os.File
	sc     *event.Scanner
	base   int64
	rank   int64
	offset int64
}

// Rank is the rank of the next record Next will return.
func (c *Cursor) Rank() int64 { return c.rank }

// Offset is the byte position just past the last record read.
func (c *Cursor) Offset() int64 { return c.offset }

// Next returns the next event, or io.EOF at end of stream.
func (c *Cursor) Next() (event.TraceEvent, error) {
	rec, err := c.advance()
	if err != nil {
		return event.TraceEvent{}, err
	}
	return c.trace.parser.ParseAt(rec.Raw, c.base+rec.Offset)
}

func (c *Cursor) advance() (event.Record, error) {
	if c.f == nil {
		return event.Record{}, ErrClosed
	}
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return event.Record{}, err
		}
		return event.Record{}, io.EOF
	}
	c.rank++
	c.offset = c.base + c.sc.Offset()
	return c.sc.Record(), nil
}

// Close releases the file handle. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	c.trace.release(c)
	return err
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
