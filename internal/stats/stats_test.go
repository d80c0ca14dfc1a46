package stats

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracefold/internal/callstack"
	"tracefold/internal/store"
)

func TestAggregatorWelford(t *testing.T) {
	agg := New()
	for _, d := range []int64{2, 4, 4, 4, 5, 5, 7, 9} {
		agg.Add(callstack.Interval{Label: "f", Start: 0, End: d})
	}
	agg.Add(callstack.Interval{Label: "g", Start: 10, End: 11})

	r := agg.Report()
	require.Len(t, r.Rows, 2)
	f := r.Rows[0]
	assert.Equal(t, "f", f.Label)
	assert.EqualValues(t, 8, f.Count)
	assert.EqualValues(t, 2, f.Min)
	assert.EqualValues(t, 9, f.Max)
	assert.InDelta(t, 5.0, f.Mean, 1e-9)
	assert.InDelta(t, 2.0, f.StdDev, 1e-9)
	assert.EqualValues(t, 40, f.Total)

	assert.EqualValues(t, 9, r.Total.Count)
	assert.EqualValues(t, 41, r.Total.Total)
	assert.EqualValues(t, 1, r.Total.Min)
}

func TestComputeWindow(t *testing.T) {
	b := store.NewBuilder(store.BuilderOptions{Dir: t.TempDir(), Name: "s"})
	for _, iv := range []callstack.Interval{
		{Quark: 1, Start: 0, End: 1000, Label: "main"},
		{Quark: 2, Start: 100, End: 200, Label: "work"},
		{Quark: 2, Start: 5000, End: 6000, Label: "work"},
	} {
		require.NoError(t, b.Write(iv))
	}
	st, err := b.Finish(context.Background(), nil)
	require.NoError(t, err)
	defer st.Close()

	all, err := Compute(st, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total.Count)

	win, err := Compute(st, &Window{Start: 150, End: 160})
	require.NoError(t, err)
	assert.EqualValues(t, 2, win.Total.Count)
}

func TestWriteTable(t *testing.T) {
	agg := New()
	agg.Add(callstack.Interval{Label: "render", Start: 0, End: 1_234_567_000})
	var b strings.Builder
	require.NoError(t, WriteTable(&b, agg.Report()))
	out := b.String()
	assert.Contains(t, out, "1,234,567.000")
	assert.Contains(t, out, "render")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[3], TotalLabel))
}
