package tracefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"

	"tracefold/internal/event"
)

// Current schema version - increment when Index format changes
const indexSchemaVersion uint16 = 1

// DefaultCheckpointInterval is the number of records between checkpoints.
const DefaultCheckpointInterval = 1000

// Checkpoint locates one record of a sorted trace.
type Checkpoint struct {
	Rank      int64
	Offset    int64
	Timestamp int64
}

// Index is the sidecar written next to a sorted trace.
type Index struct {
	Schema      uint16
	Records     int64
	Size        int64
	Interval    int
	Checkpoints []Checkpoint
}

// IndexPath returns the sidecar location for a sorted trace.
func IndexPath(sorted string) string { return sorted + ".idx" }

type indexBuilder struct {
	idx Index
}

func newIndexBuilder(interval int) *indexBuilder {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &indexBuilder{idx: Index{Schema: indexSchemaVersion, Interval: interval}}
}

func (b *indexBuilder) add(offset, ts int64) {
	if b.idx.Records%int64(b.idx.Interval) == 0 {
		b.idx.Checkpoints = append(b.idx.Checkpoints, Checkpoint{Rank: b.idx.Records, Offset: offset, Timestamp: ts})
	}
	b.idx.Records++
}

func (b *indexBuilder) finish(size int64) *Index {
	b.idx.Size = size
	return &b.idx
}

// WriteIndex stores idx atomically.
func WriteIndex(path string, idx *Index) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "idx-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(f.Name()))
		}
	}()
	if err = msgpack.NewEncoder(f).Encode(idx); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadIndex loads an index. A missing file or a stale schema is a miss.
func ReadIndex(path string) (*Index, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var idx Index
	if err := msgpack.NewDecoder(f).Decode(&idx); err != nil {
		return nil, false, fmt.Errorf("decode index %s: %w", path, err)
	}
	if idx.Schema != indexSchemaVersion {
		return nil, false, nil
	}
	return &idx, true, nil
}

// BuildIndex scans a sorted trace and computes its checkpoints.
func BuildIndex(ctx context.Context, sorted string, interval int, parser event.Parser) (*Index, error) {
	f, err := os.Open(sorted)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b := newIndexBuilder(interval)
	sc := event.NewScanner(f)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := sc.Record()
		ev, err := parser.ParseAt(rec.Raw, rec.Offset)
		if err != nil {
			return nil, err
		}
		b.add(rec.Offset, ev.Timestamp)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return b.finish(st.Size()), nil
}

// checkpointFor returns the last checkpoint at or before rank.
func (idx *Index) checkpointFor(rank int64) Checkpoint {
	i := sort.Search(len(idx.Checkpoints), func(i int) bool { return idx.Checkpoints[i].Rank > rank })
	if i == 0 {
		return Checkpoint{}
	}
	return idx.Checkpoints[i-1]
}

// checkpointBefore returns the last checkpoint whose timestamp is strictly
// below ts.
func (idx *Index) checkpointBefore(ts int64) Checkpoint {
	i := sort.Search(len(idx.Checkpoints), func(i int) bool { return idx.Checkpoints[i].Timestamp >= ts })
	if i == 0 {
		return Checkpoint{}
	}
	return idx.Checkpoints[i-1]
}
