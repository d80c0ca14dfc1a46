package store

import (
	"bufio"
	"cmp"
	"context"
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
	"tracefold/internal/extsort"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	Dir                string
	Name               string
	ChunkSize          int
	TempRoot           string
	CheckpointInterval int
	Logger             *slog.Logger
}

// Builder collects intervals in any order and writes them as a store
// sorted by start time. It implements callstack.Sink.
type Builder struct {
	opts     BuilderOptions
	log      *slog.Logger
	mu       sync.Mutex
	sorter   *extsort.Sorter[callstack.Interval]
	disposed bool
}

func compareIntervals(a, b callstack.Interval) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	return cmp.Compare(a.Quark, b.Quark)
}

// NewBuilder returns a Builder writing into opts.Dir.
func NewBuilder(opts BuilderOptions) *Builder {
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}
	if opts.TempRoot == "" {
		opts.TempRoot = opts.Dir
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		opts: opts,
		log:  log,
		sorter: extsort.New(extsort.Options{
			ChunkSize: opts.ChunkSize,
			TempRoot:  opts.TempRoot,
			Name:      opts.Name + ".intervals",
			Logger:    log,
		}, compareIntervals),
	}
}

// Write buffers one interval. After Dispose it fails with
// callstack.ErrStoreDisposed.
func (b *Builder) Write(iv callstack.Interval) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return callstack.ErrStoreDisposed
	}
	return b.sorter.Add(context.Background(), iv)
}

// Dispose abandons the build and removes temporary files.
func (b *Builder) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return nil
	}
	b.disposed = true
	return b.sorter.Close()
}

// Finish writes the data and meta files and opens the result. The meta file
// is written last; a store without one is treated as absent.
func (b *Builder) Finish(ctx context.Context, quarks *attr.Table) (st *Store, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return nil, callstack.ErrStoreDisposed
	}
	b.disposed = true

	if err := os.MkdirAll(b.opts.Dir, 0o755); err != nil {
		return nil, err
	}
	dataPath := DataPath(b.opts.Dir, b.opts.Name)
	tmp, err := os.CreateTemp(b.opts.Dir, b.opts.Name+".intervals-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(tmp.Name()))
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	cw := &countingWriter{w: bw}
	enc := msgpack.NewEncoder(cw)
	meta := &Meta{
		Schema:   metaSchemaVersion,
		Interval: b.opts.CheckpointInterval,
		MinStart: math.MaxInt64,
		MaxStart: math.MinInt64,
		MaxEnd:   math.MinInt64,
	}
	mergeErr := b.sorter.Merge(ctx, func(iv callstack.Interval) error {
		if meta.Count%int64(meta.Interval) == 0 {
			meta.Checkpoints = append(meta.Checkpoints, Checkpoint{Rank: meta.Count, Offset: cw.n, Start: iv.Start})
		}
		meta.Count++
		meta.MinStart = min(meta.MinStart, iv.Start)
		meta.MaxStart = max(meta.MaxStart, iv.Start)
		meta.MaxEnd = max(meta.MaxEnd, iv.End)
		meta.MaxDuration = max(meta.MaxDuration, iv.Duration())
		return enc.Encode(&iv)
	})
	if mergeErr == nil {
		mergeErr = bw.Flush()
	}
	if err = multierr.Append(mergeErr, tmp.Close()); err != nil {
		return nil, err
	}
	if meta.Count == 0 {
		meta.MinStart, meta.MaxStart, meta.MaxEnd = 0, 0, 0
	}
	meta.Size = cw.n
	if quarks != nil {
		meta.Attributes = quarks.Entries()
	}

	if err = os.Rename(tmp.Name(), dataPath); err != nil {
		return nil, err
	}
	metaPath := MetaPath(b.opts.Dir, b.opts.Name)
	if err = writeMeta(metaPath, meta); err != nil {
		return nil, fmt.Errorf("write %s: %w", metaPath, err)
	}
	b.log.Debug("interval store written", "path", dataPath, "intervals", meta.Count)
	return newStore(dataPath, meta, b.log), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
