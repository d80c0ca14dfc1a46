package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"

	"tracefold/internal/attr"
)

// Current schema version - increment when Meta or the data layout changes
const metaSchemaVersion uint16 = 1

// DefaultCheckpointInterval is the number of intervals between checkpoints.
const DefaultCheckpointInterval = 1000

// Checkpoint locates one interval in the data file.
type Checkpoint struct {
	Rank   int64
	Offset int64
	Start  int64
}

// Meta describes a finished store.
type Meta struct {
	Schema      uint16
	Count       int64
	MinStart    int64
	MaxStart    int64
	MaxEnd      int64
	MaxDuration int64
	Size        int64
	Interval    int
	Checkpoints []Checkpoint
	Attributes  []attr.Entry
}

// DataPath and MetaPath name the two files of a store.
func DataPath(dir, name string) string { return filepath.Join(dir, name+".intervals") }
func MetaPath(dir, name string) string { return filepath.Join(dir, name+".intervals.meta") }

func writeMeta(path string, m *Meta) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "meta-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(f.Name()))
		}
	}()
	if err = msgpack.NewEncoder(f).Encode(m); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func readMeta(path string) (*Meta, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()
	var m Meta
	if err := msgpack.NewDecoder(f).Decode(&m); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	if m.Schema != metaSchemaVersion {
		return nil, false, nil
	}
	return &m, true, nil
}

// startCheckpoint returns the checkpoint to scan from so that every
// interval which can end after target+MaxDuration is visited. guess is the
// interpolated rank estimate; the result is exact regardless of its quality.
func (m *Meta) startCheckpoint(target int64, guess int64) Checkpoint {
	if len(m.Checkpoints) == 0 {
		return Checkpoint{}
	}
	i := sort.Search(len(m.Checkpoints), func(i int) bool { return m.Checkpoints[i].Rank > guess }) - 1
	i = max(i, 0)
	for i+1 < len(m.Checkpoints) && m.Checkpoints[i+1].Start <= target {
		i++
	}
	for i > 0 && m.Checkpoints[i].Start > target {
		i--
	}
	return m.Checkpoints[i]
}

// estimateRank interpolates the rank of the first interval starting at ts.
func (m *Meta) estimateRank(ts int64) int64 {
	if m.Count <= 1 || m.MaxStart <= m.MinStart {
		return 0
	}
	frac := float64(ts-m.MinStart) / float64(m.MaxStart-m.MinStart)
	switch {
	case frac <= 0:
		return 0
	case frac >= 1:
		return m.Count - 1
	}
	return int64(frac * float64(m.Count-1))
}
