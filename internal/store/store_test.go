package store

import (
	"context"
	"math/rand"
	"os"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracefold/internal/attr"
	"tracefold/internal/callstack"
)

func build(t *testing.T, ivs []callstack.Interval, quarks *attr.Table) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	b := NewBuilder(BuilderOptions{Dir: dir, Name: "t", ChunkSize: 3, CheckpointInterval: 2})
	for _, iv := range ivs {
		require.NoError(t, b.Write(iv))
	}
	st, err := b.Finish(context.Background(), quarks)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func query(t *testing.T, st *Store, start, end int64) []callstack.Interval {
	t.Helper()
	c, err := st.Intersecting(start, end)
	require.NoError(t, err)
	out, err := Collect(c)
	require.NoError(t, err)
	return out
}

func TestRangeBoundaries(t *testing.T) {
	st, _ := build(t, []callstack.Interval{{Quark: 1, Start: 100, End: 200, Label: "f"}}, nil)

	tests := []struct {
		start, end int64
		want       int
	}{
		{150, 160, 1},
		{199, 300, 1},
		{50, 100, 0},
		{200, 300, 0},
		{0, 101, 1},
		{160, 150, 0},
		{150, 150, 0},
	}
	for _, tt := range tests {
		got := query(t, st, tt.start, tt.end)
		if len(got) != tt.want {
			t.Fatalf("[%d,%d): got %d intervals, want %d", tt.start, tt.end, len(got), tt.want)
		}
	}
}

func TestIterateAllIsSortedByStart(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var ivs []callstack.Interval
	for i := 0; i < 50; i++ {
		s := rng.Int63n(1000)
		ivs = append(ivs, callstack.Interval{Quark: attr.Quark(i%4 + 1), Start: s, End: s + 1 + rng.Int63n(50)})
	}
	st, _ := build(t, ivs, nil)
	c, err := st.IterateAll()
	require.NoError(t, err)
	got, err := Collect(c)
	require.NoError(t, err)
	require.Len(t, got, len(ivs))
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Start < got[j].Start }))
	assert.EqualValues(t, 50, st.Count())
}

// A long interval starting far before the window must still be found even
// though the scan starts from a checkpoint.
func TestLongIntervalFound(t *testing.T) {
	ivs := []callstack.Interval{{Quark: 1, Start: 0, End: 10_000, Label: "main"}}
	for i := int64(1); i <= 40; i++ {
		ivs = append(ivs, callstack.Interval{Quark: 2, Start: i * 100, End: i*100 + 10})
	}
	st, _ := build(t, ivs, nil)
	got := query(t, st, 3_000, 3_001)
	require.Len(t, got, 1)
	assert.Equal(t, "main", got[0].Label)
}

func TestIntersectingMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var ivs []callstack.Interval
	for i := 0; i < 200; i++ {
		s := rng.Int63n(5000)
		ivs = append(ivs, callstack.Interval{Quark: attr.Quark(i%7 + 1), Start: s, End: s + 1 + rng.Int63n(400)})
	}
	st, _ := build(t, ivs, nil)
	for i := 0; i < 30; i++ {
		a := rng.Int63n(5500)
		b := a + 1 + rng.Int63n(300)
		var want []callstack.Interval
		for _, iv := range ivs {
			if iv.Overlaps(a, b) {
				want = append(want, iv)
			}
		}
		got := query(t, st, a, b)
		less := func(x []callstack.Interval) {
			sort.Slice(x, func(i, j int) bool {
				if x[i].Start != x[j].Start {
					return x[i].Start < x[j].Start
				}
				if x[i].Quark != x[j].Quark {
					return x[i].Quark < x[j].Quark
				}
				return x[i].End < x[j].End
			})
		}
		less(want)
		less(got)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("[%d,%d) mismatch (-want +got):\n%s", a, b, diff)
		}
	}
}

func TestAt(t *testing.T) {
	st, _ := build(t, []callstack.Interval{
		{Quark: 1, Start: 0, End: 100},
		{Quark: 2, Start: 10, End: 20},
		{Quark: 2, Start: 20, End: 30},
	}, nil)
	c, err := st.At(20)
	require.NoError(t, err)
	got, err := Collect(c)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 0, got[0].Start)
	assert.EqualValues(t, 20, got[1].Start)
}

func TestEmptyStore(t *testing.T) {
	st, dir := build(t, nil, nil)
	assert.True(t, st.IsEmpty())
	assert.Empty(t, query(t, st, 0, 100))

	reopened, ok, err := Open(dir, "t", nil)
	require.NoError(t, err)
	require.True(t, ok)
	defer reopened.Close()
	assert.True(t, reopened.IsEmpty())
}

func TestReadOnly(t *testing.T) {
	st, _ := build(t, []callstack.Interval{{Quark: 1, Start: 0, End: 1}}, nil)
	assert.ErrorIs(t, st.Add(callstack.Interval{}), ErrReadOnly)
	assert.ErrorIs(t, st.Remove(callstack.Interval{}), ErrReadOnly)
}

func TestOpenRestoresQuarks(t *testing.T) {
	tab := attr.NewTable()
	q := tab.GetOrCreate(attr.Root, attr.Processes, "p", "1", attr.CallStack, "0")
	_, dir := build(t, []callstack.Interval{{Quark: q, Start: 5, End: 9, Label: "x"}}, tab)

	st, ok, err := Open(dir, "t", nil)
	require.NoError(t, err)
	require.True(t, ok)
	defer st.Close()
	slot, ok := st.Quarks().SlotOf(q)
	require.True(t, ok)
	assert.Equal(t, attr.Slot{Process: "p", Thread: "1", Index: 0}, slot)
	assert.EqualValues(t, 4, st.Meta().MaxDuration)
}

func TestOpenMissingOrPartial(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := Open(dir, "nope", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, dir = build(t, []callstack.Interval{{Quark: 1, Start: 0, End: 1}}, nil)
	require.NoError(t, os.Remove(MetaPath(dir, "t")))
	_, ok, err = Open(dir, "t", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseInvalidatesCursors(t *testing.T) {
	st, _ := build(t, []callstack.Interval{{Quark: 1, Start: 0, End: 1}, {Quark: 1, Start: 1, End: 2}}, nil)
	c, err := st.IterateAll()
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.False(t, c.Next())
	assert.ErrorIs(t, c.Err(), ErrClosed)
	_, err = st.IterateAll()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDisposedBuilder(t *testing.T) {
	b := NewBuilder(BuilderOptions{Dir: t.TempDir(), Name: "t"})
	require.NoError(t, b.Dispose())
	assert.ErrorIs(t, b.Write(callstack.Interval{Start: 0, End: 1}), callstack.ErrStoreDisposed)
	_, err := b.Finish(context.Background(), nil)
	assert.ErrorIs(t, err, callstack.ErrStoreDisposed)
}

func TestStartCheckpoint(t *testing.T) {
	m := &Meta{Count: 6, MinStart: 0, MaxStart: 50, Checkpoints: []Checkpoint{
		{Rank: 0, Start: 0}, {Rank: 2, Start: 20}, {Rank: 4, Start: 40},
	}}
	for _, tt := range []struct {
		target, guess int64
		want          int64
	}{
		{25, 0, 2},
		{25, 5, 2},
		{-10, 5, 0},
		{45, 0, 4},
		{20, 2, 2},
	} {
		if got := m.startCheckpoint(tt.target, tt.guess).Rank; got != tt.want {
			t.Fatalf("startCheckpoint(%d, %d) = %d, want %d", tt.target, tt.guess, got, tt.want)
		}
	}
}
