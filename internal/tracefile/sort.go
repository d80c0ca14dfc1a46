package tracefile

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"tracefold/internal/event"
	"tracefold/internal/extsort"
	"tracefold/internal/trace"
)

// SortOptions configures Sort.
type SortOptions struct {
	ChunkSize int
	// TempRoot holds the per-pass segment directory; defaults to the
	// supplementary dir.
	TempRoot           string
	CheckpointInterval int
	Parser             event.Parser
	Logger             *slog.Logger
	// OnChunk, if set, is called after every spilled segment.
	OnChunk func(records int64)
}

// SortResult describes the normalized trace.
type SortResult struct {
	Path     string
	Records  int64
	Segments int
	Size     int64
	Cached   bool
}

// sortRecord is the unit handed to the external sorter: the compacted JSON
// line and its parsed timestamp.
type sortRecord struct {
	TS  int64  `msgpack:"t"`
	Raw []byte `msgpack:"r"`
}

// SortedPath returns where the normalized copy of src lives.
func SortedPath(src, suppDir string) string {
	return filepath.Join(suppDir, filepath.Base(src))
}

// Sort writes a timestamp-ordered, one-record-per-line copy of src into
// suppDir. An existing sorted copy is reused. Records that fail to parse
// abort the pass, and nothing is left at the output path on failure or
// cancellation.
func Sort(ctx context.Context, src, suppDir string, opts SortOptions) (SortResult, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	out := SortedPath(src, suppDir)
	if abs, err := filepath.Abs(src); err == nil {
		if absOut, err := filepath.Abs(out); err == nil && abs == absOut {
			return SortResult{}, fmt.Errorf("sort %s: supplementary dir must differ from the trace dir", src)
		}
	}

	if st, err := os.Stat(out); err == nil {
		idx, err := ensureIndex(ctx, out, opts)
		if err != nil {
			return SortResult{}, err
		}
		log.Debug("sorted trace cached", "path", out)
		return SortResult{Path: out, Records: idx.Records, Size: st.Size(), Cached: true}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return SortResult{}, err
	}

	if err := os.MkdirAll(suppDir, 0o755); err != nil {
		return SortResult{}, fmt.Errorf("create supplementary dir: %w", err)
	}

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "sort", trace.CurrentSpan(ctx).SpanID)
	res, err := sortInto(ctx, src, out, suppDir, opts, log)
	span.WithExtra("records", strconv.FormatInt(res.Records, 10)).End(errDetail(err))
	if err != nil {
		return SortResult{}, err
	}
	log.Info("sorted trace",
		"src", src,
		"records", res.Records,
		"segments", res.Segments,
		"size", humanize.IBytes(uint64(res.Size)))
	return res, nil
}

func sortInto(ctx context.Context, src, out, suppDir string, opts SortOptions, log *slog.Logger) (res SortResult, err error) {
	in, err := os.Open(src)
	if err != nil {
		return res, fmt.Errorf("open trace: %w", err)
	}
	defer in.Close()

	tempRoot := opts.TempRoot
	if tempRoot == "" {
		tempRoot = suppDir
	}
	sorter := extsort.New(extsort.Options{
		ChunkSize: opts.ChunkSize,
		TempRoot:  tempRoot,
		Name:      filepath.Base(src),
		Logger:    log,
	}, func(a, b sortRecord) int { return cmp.Compare(a.TS, b.TS) })
	defer func() {
		err = multierr.Append(err, sorter.Close())
	}()

	sc := event.NewScanner(in)
	segments := 0
	for sc.Scan() {
		rec := sc.Record()
		ev, err := opts.Parser.ParseAt(rec.Raw, rec.Offset)
		if err != nil {
			return res, fmt.Errorf("%s: %w", src, err)
		}
		// The cached copy always holds the strict schema, whichever
		// parser produced it.
		compact := event.CompactRecord
		if opts.Parser.Lenient {
			compact = event.StripRecord
		}
		line, err := compact(nil, rec.Raw)
		if err != nil {
			return res, fmt.Errorf("%s: %w", src, err)
		}
		if err := sorter.Add(ctx, sortRecord{TS: ev.Timestamp, Raw: line}); err != nil {
			return res, err
		}
		if st := sorter.Stats(); st.Segments != segments {
			segments = st.Segments
			if opts.OnChunk != nil {
				opts.OnChunk(st.Records)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("%s: %w", src, err)
	}

	tmp, err := os.CreateTemp(suppDir, filepath.Base(out)+".sorting-*")
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(tmp.Name()))
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	ib := newIndexBuilder(opts.CheckpointInterval)
	var offset int64
	mergeErr := sorter.Merge(ctx, func(r sortRecord) error {
		ib.add(offset, r.TS)
		if _, err := bw.Write(r.Raw); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		offset += int64(len(r.Raw)) + 1
		return nil
	})
	segments = sorter.Stats().Segments
	if mergeErr == nil {
		mergeErr = bw.Flush()
	}
	if err = multierr.Append(mergeErr, tmp.Close()); err != nil {
		return res, err
	}
	idx := ib.finish(offset)
	if err = os.Rename(tmp.Name(), out); err != nil {
		return res, err
	}
	if err = WriteIndex(IndexPath(out), idx); err != nil {
		return res, multierr.Append(err, os.Remove(out))
	}
	return SortResult{Path: out, Records: idx.Records, Segments: segments, Size: offset}, nil
}

func ensureIndex(ctx context.Context, sorted string, opts SortOptions) (*Index, error) {
	idx, ok, err := ReadIndex(IndexPath(sorted))
	if err != nil {
		return nil, err
	}
	if ok {
		return idx, nil
	}
	idx, err = BuildIndex(ctx, sorted, opts.CheckpointInterval, opts.Parser)
	if err != nil {
		return nil, err
	}
	return idx, WriteIndex(IndexPath(sorted), idx)
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
