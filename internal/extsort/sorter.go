// Package extsort sorts streams larger than memory: fixed-size chunks are
// sorted in memory and spilled to msgpack segment files, then merged with a
// k-way heap merge.
package extsort

import (
	"bufio"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"
)

// DefaultChunkSize is the number of records sorted in memory per segment.
const DefaultChunkSize = 65535

// Options configures a Sorter.
type Options struct {
	ChunkSize int
	// TempRoot is where the per-pass temporary directory is created.
	TempRoot string
	// Name prefixes the temporary directory, usually the trace file name.
	Name   string
	Logger *slog.Logger
}

// Stats describes a finished pass.
type Stats struct {
	Records  int64
	Segments int
}

// Sorter accumulates items and emits them ordered by cmp. Ties have no
// guaranteed relative order. A Sorter is not safe for concurrent use.
type Sorter[T any] struct {
	opts     Options
	cmp      func(a, b T) int
	log      *slog.Logger
	buf      []T
	dir      string
	segments []string
	spilled  int
	records  int64
	merged   bool
}

// New returns a Sorter ordering items by cmp.
func New[T any](opts Options, cmp func(a, b T) int) *Sorter[T] {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.TempRoot == "" {
		opts.TempRoot = os.TempDir()
	}
	if opts.Name == "" {
		opts.Name = "extsort"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sorter[T]{
		opts: opts,
		cmp:  cmp,
		log:  log,
		buf:  make([]T, 0, min(opts.ChunkSize, 4096)),
	}
}

// Stats reports how many records were added and segments spilled so far.
func (s *Sorter[T]) Stats() Stats {
	return Stats{Records: s.records, Segments: s.spilled}
}

// Add buffers one item, spilling a sorted segment when the chunk is full.
func (s *Sorter[T]) Add(ctx context.Context, item T) error {
	if s.merged {
		return errors.New("extsort: add after merge")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.buf = append(s.buf, item)
	s.records++
	if len(s.buf) >= s.opts.ChunkSize {
		return s.spill()
	}
	return nil
}

func (s *Sorter[T]) spill() (err error) {
	if len(s.buf) == 0 {
		return nil
	}
	if s.dir == "" {
		dir := filepath.Join(s.opts.TempRoot, s.opts.Name+".tmp-"+uuid.NewString())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sort temp dir: %w", err)
		}
		s.dir = dir
	}
	slices.SortFunc(s.buf, s.cmp)

	path := filepath.Join(s.dir, fmt.Sprintf("seg-%05d.mp", len(s.segments)))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	bw := bufio.NewWriterSize(f, 256<<10)
	enc := msgpack.NewEncoder(bw)
	for i := range s.buf {
		if err := enc.Encode(&s.buf[i]); err != nil {
			return fmt.Errorf("write segment %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write segment %s: %w", path, err)
	}
	s.segments = append(s.segments, path)
	s.spilled++
	s.log.Debug("spilled sort segment", "path", path, "records", len(s.buf))
	clear(s.buf)
	s.buf = s.buf[:0]
	return nil
}

// Merge emits every added item in order and removes all temporary files,
// on success, on error and on cancellation alike. An error returned by emit
// aborts the merge and is returned unchanged.
func (s *Sorter[T]) Merge(ctx context.Context, emit func(T) error) (err error) {
	if s.merged {
		return errors.New("extsort: merge called twice")
	}
	s.merged = true
	defer func() {
		err = multierr.Append(err, s.Close())
	}()

	if len(s.segments) == 0 {
		slices.SortFunc(s.buf, s.cmp)
		for _, item := range s.buf {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(item); err != nil {
				return err
			}
		}
		return nil
	}
	if err := s.spill(); err != nil {
		return err
	}
	return s.mergeSegments(ctx, emit)
}

func (s *Sorter[T]) mergeSegments(ctx context.Context, emit func(T) error) (err error) {
	readers := make([]*segmentReader[T], 0, len(s.segments))
	defer func() {
		for _, r := range readers {
			err = multierr.Append(err, r.close())
		}
	}()

	h := &mergeHeap[T]{cmp: s.cmp}
	for i, path := range s.segments {
		r, err := openSegment[T](path)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		item, ok, err := r.next()
		if err != nil {
			return err
		}
		if ok {
			h.items = append(h.items, mergeItem[T]{value: item, segment: i})
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		top := h.items[0]
		if err := emit(top.value); err != nil {
			return err
		}
		item, ok, err := readers[top.segment].next()
		if err != nil {
			return err
		}
		if ok {
			h.items[0] = mergeItem[T]{value: item, segment: top.segment}
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return nil
}

// Close discards buffered items and deletes the temporary directory. It is
// safe to call more than once.
func (s *Sorter[T]) Close() error {
	clear(s.buf)
	s.buf = s.buf[:0]
	if s.dir == "" {
		return nil
	}
	dir := s.dir
	s.dir = ""
	s.segments = nil
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove sort temp dir: %w", err)
	}
	return nil
}

type segmentReader[T any] struct {
	path string
	f    *os.File
	dec  *msgpack.Decoder
}

func openSegment[T any](path string) (*segmentReader[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	return &segmentReader[T]{path: path, f: f, dec: msgpack.NewDecoder(bufio.NewReaderSize(f, 64<<10))}, nil
}

func (r *segmentReader[T]) next() (T, bool, error) {
	var item T
	if err := r.dec.Decode(&item); err != nil {
		if errors.Is(err, io.EOF) {
			return item, false, nil
		}
		return item, false, fmt.Errorf("read segment %s: %w", r.path, err)
	}
	return item, true, nil
}

func (r *segmentReader[T]) close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
