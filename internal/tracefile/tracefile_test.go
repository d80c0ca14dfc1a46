package tracefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracefold/internal/event"
)

func writeShuffled(t *testing.T, n int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"name":"e%d","ph":"i","pid":1,"tid":1,"ts":%d}`, i, i*10)
	}
	rng.Shuffle(len(lines), func(i, j int) { lines[i], lines[j] = lines[j], lines[i] })
	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, os.WriteFile(path, []byte("[\n"+strings.Join(lines, ",\n")+"\n]\n"), 0o644))
	return path
}

func sortOpts() SortOptions {
	return SortOptions{ChunkSize: 4, CheckpointInterval: 3}
}

func readTimestamps(t *testing.T, path string) []int64 {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []int64
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		ev, err := event.ParseEvent([]byte(line))
		require.NoError(t, err)
		out = append(out, ev.Timestamp)
	}
	return out
}

func TestSortOrdersAndCaches(t *testing.T) {
	src := writeShuffled(t, 23)
	supp := filepath.Join(t.TempDir(), "supp")
	ctx := context.Background()

	res, err := Sort(ctx, src, supp, sortOpts())
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int64(23), res.Records)
	assert.Equal(t, 6, res.Segments)
	assert.Equal(t, SortedPath(src, supp), res.Path)

	ts := readTimestamps(t, res.Path)
	require.Len(t, ts, 23)
	for i, v := range ts {
		assert.Equal(t, int64(i*10_000), v)
	}

	entries, err := os.ReadDir(supp)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"trace.json", "trace.json.idx"}, names)

	again, err := Sort(ctx, src, supp, sortOpts())
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int64(23), again.Records)
}

func TestLenientSortWritesStrictSchema(t *testing.T) {
	src := filepath.Join(t.TempDir(), "extras.json")
	lines := []string{
		`{"name":"b","ph":"X","pid":1,"tid":1,"ts":20,"dur":5,"args":{"k":"v\n"},"tts":3}`,
		`{"cat":"x,y","name":"a \"q\"","ph":"B","pid":"p","tid":1,"ts":"10.5","bind_id":"0x1"}`,
	}
	require.NoError(t, os.WriteFile(src, []byte(strings.Join(lines, "\n")), 0o644))

	opts := sortOpts()
	opts.Parser = event.Parser{Lenient: true}
	res, err := Sort(context.Background(), src, filepath.Join(t.TempDir(), "supp"), opts)
	require.NoError(t, err)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t,
		`{"cat":"x,y","name":"a \"q\"","ph":"B","pid":"p","tid":1,"ts":"10.5"}`+"\n"+
			`{"name":"b","ph":"X","pid":1,"tid":1,"ts":20,"dur":5}`+"\n",
		string(data))
	assert.Equal(t, []int64{10_500, 20_000}, readTimestamps(t, res.Path))
}

func TestSortRebuildsMissingIndex(t *testing.T) {
	src := writeShuffled(t, 10)
	supp := t.TempDir()
	res, err := Sort(context.Background(), src, supp, sortOpts())
	require.NoError(t, err)
	require.NoError(t, os.Remove(IndexPath(res.Path)))

	again, err := Sort(context.Background(), src, supp, sortOpts())
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int64(10), again.Records)
	assert.FileExists(t, IndexPath(res.Path))
}

func TestSortParseErrorLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.json")
	body := strings.Repeat(`{"ph":"i","ts":1}`+"\n", 9) + `{"ph":"i","ts":1,"bogus":1}` + "\n"
	require.NoError(t, os.WriteFile(src, []byte(body), 0o644))
	supp := filepath.Join(dir, "supp")

	_, err := Sort(context.Background(), src, supp, sortOpts())
	var perr *event.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, int64(9*18), perr.Offset)

	entries, err := os.ReadDir(supp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSortCanceled(t *testing.T) {
	src := writeShuffled(t, 40)
	supp := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	opts := sortOpts()
	opts.OnChunk = func(records int64) {
		if records >= 8 {
			cancel()
		}
	}
	_, err := Sort(ctx, src, supp, opts)
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(supp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func openSorted(t *testing.T, n int) *Trace {
	t.Helper()
	src := writeShuffled(t, n)
	res, err := Sort(context.Background(), src, t.TempDir(), sortOpts())
	require.NoError(t, err)
	tr, err := Open(context.Background(), res.Path, OpenOptions{CheckpointInterval: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestSeekRank(t *testing.T) {
	tr := openSorted(t, 20)
	assert.Equal(t, map[string]string{"Type": "Chromium"}, tr.Properties())
	assert.Equal(t, int64(20), tr.Records())

	for _, rank := range []int64{0, 1, 3, 7, 19} {
		c, err := tr.Seek(rank)
		require.NoError(t, err)
		assert.Equal(t, rank, c.Rank())
		ev, err := c.Next()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("e%d", rank), ev.Name)
		require.NoError(t, c.Close())
	}

	c, err := tr.Seek(25)
	require.NoError(t, err)
	_, err = c.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSeekRatioAndLocation(t *testing.T) {
	tr := openSorted(t, 20)

	c, err := tr.SeekRatio(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Rank())
	assert.Equal(t, 0.0, tr.LocationRatio(c))

	prev := 0.0
	for {
		_, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		r := tr.LocationRatio(c)
		assert.Greater(t, r, prev)
		prev = r
	}
	assert.InDelta(t, 1.0, prev, 0.01)

	mid, err := tr.SeekRatio(0.5)
	require.NoError(t, err)
	assert.InDelta(t, 10, mid.Rank(), 1)

	end, err := tr.SeekRatio(1.5)
	require.NoError(t, err)
	_, err = end.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSeekTime(t *testing.T) {
	tr := openSorted(t, 20)
	c, err := tr.SeekTime(75_000)
	require.NoError(t, err)
	ev, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(80_000), ev.Timestamp)
	assert.Equal(t, "e8", ev.Name)
}

func TestCloseReleasesCursors(t *testing.T) {
	tr := openSorted(t, 5)
	c, err := tr.Seek(0)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	_, err = c.Next()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.Seek(0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"ph":"B","ts":1}]`), 0o644))
	assert.NoError(t, Validate(good, event.Parser{}))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))
	assert.Error(t, Validate(empty, event.Parser{}))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"ts":1}`), 0o644))
	assert.ErrorIs(t, Validate(bad, event.Parser{}), event.ErrMissingPhase)
}
