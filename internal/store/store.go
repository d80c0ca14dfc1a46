// Package store keeps reconstructed intervals in an immutable file ordered
// by start time and answers time-window queries over it.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"

	"tracefold/internal/attr"
	"tracefold/internal/callstack"
)

var (
	// ErrReadOnly is returned by Add and Remove.
	ErrReadOnly = errors.New("interval store is read-only")
	// ErrClosed is returned when iterating a closed store.
	ErrClosed = errors.New("interval store closed")
)

// Store is a read-only, time-queryable interval collection. Queries may run
// concurrently; each cursor reads through its own file handle.
type Store struct {
	path   string
	meta   *Meta
	quarks *attr.Table
	log    *slog.Logger

	mu      sync.Mutex
	cursors map[*Cursor]struct{}
	closed  bool
}

func newStore(path string, meta *Meta, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		path:    path,
		meta:    meta,
		quarks:  attr.Restore(meta.Attributes),
		log:     log,
		cursors: make(map[*Cursor]struct{}),
	}
}

// Open opens the store named name in dir. It reports false when no
// complete store exists there.
func Open(dir, name string, log *slog.Logger) (*Store, bool, error) {
	meta, ok, err := readMeta(MetaPath(dir, name))
	if err != nil || !ok {
		return nil, false, err
	}
	data := DataPath(dir, name)
	st, err := os.Stat(data)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if st.Size() != meta.Size {
		return nil, false, nil
	}
	return newStore(data, meta, log), true, nil
}

func (s *Store) Count() int64        { return s.meta.Count }
func (s *Store) IsEmpty() bool       { return s.meta.Count == 0 }
func (s *Store) Quarks() *attr.Table { return s.quarks }
func (s *Store) Meta() Meta          { return *s.meta }
func (s *Store) Path() string        { return s.path }

// Add always fails; the store is fixed once built.
func (s *Store) Add(callstack.Interval) error { return ErrReadOnly }

// Remove always fails; the store is fixed once built.
func (s *Store) Remove(callstack.Interval) error { return ErrReadOnly }

// IterateAll returns a cursor over every interval in start order.
func (s *Store) IterateAll() (*Cursor, error) {
	return s.open(Checkpoint{}, math.MinInt64, math.MaxInt64)
}

// Intersecting returns a cursor over intervals overlapping [start, end).
// The scan begins at a checkpoint picked by interpolating start, backed off
// far enough that the longest interval cannot be missed.
func (s *Store) Intersecting(start, end int64) (*Cursor, error) {
	if end <= start || s.meta.Count == 0 || start >= s.meta.MaxEnd || end <= s.meta.MinStart {
		return s.empty()
	}
	target := start - s.meta.MaxDuration
	if target > start {
		target = math.MinInt64
	}
	cp := s.meta.startCheckpoint(target, s.meta.estimateRank(target))
	return s.open(cp, start, end)
}

// At returns the intervals executing at instant ts.
func (s *Store) At(ts int64) (*Cursor, error) {
	if ts == math.MaxInt64 {
		return s.empty()
	}
	return s.Intersecting(ts, ts+1)
}

// Close closes every open cursor. Later queries fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cursors := make([]*Cursor, 0, len(s.cursors))
	for c := range s.cursors {
		cursors = append(cursors, c)
	}
	s.mu.Unlock()

	var err error
	for _, c := range cursors {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (s *Store) empty() (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &Cursor{done: true}, nil
}

func (s *Store) open(cp Checkpoint, start, end int64) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open interval store: %w", err)
	}
	if _, err := f.Seek(cp.Offset, io.SeekStart); err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	c := &Cursor{
		store: s,
		f:     f,
		dec:   msgpack.NewDecoder(bufio.NewReaderSize(f, 64<<10)),
		start: start,
		end:   end,
	}
	s.cursors[c] = struct{}{}
	return c, nil
}

func (s *Store) release(c *Cursor) {
	s.mu.Lock()
	delete(s.cursors, c)
	s.mu.Unlock()
}

// Cursor walks query results in start order. It is not safe for concurrent
// use.
type Cursor struct {
	store   *Store
	f       *os.File
	dec     *msgpack.Decoder
	start   int64
	end     int64
	cur     callstack.Interval
	err     error
	done    bool
	scanned int64
}

// Next advances to the next matching interval.
func (c *Cursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	if c.f == nil {
		c.err = ErrClosed
		return false
	}
	for {
		var iv callstack.Interval
		if err := c.dec.Decode(&iv); err != nil {
			if !errors.Is(err, io.EOF) {
				c.err = fmt.Errorf("read interval store: %w", err)
			}
			c.finish()
			return false
		}
		c.scanned++
		if iv.Start >= c.end {
			c.finish()
			return false
		}
		if iv.End <= c.start {
			continue
		}
		c.cur = iv
		return true
	}
}

// Interval returns the current interval.
func (c *Cursor) Interval() callstack.Interval { return c.cur }

// Err returns the first error met while iterating.
func (c *Cursor) Err() error { return c.err }

// Scanned reports how many stored intervals were decoded, matching or not.
func (c *Cursor) Scanned() int64 { return c.scanned }

func (c *Cursor) finish() {
	c.done = true
	if err := c.Close(); err != nil && c.err == nil {
		c.err = err
	}
}

// Close releases the file handle. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	c.store.release(c)
	return err
}

// Collect drains a cursor into a slice and closes it.
func Collect(c *Cursor) ([]callstack.Interval, error) {
	var out []callstack.Interval
	for c.Next() {
		out = append(out, c.Interval())
	}
	return out, multierr.Append(c.Err(), c.Close())
}
