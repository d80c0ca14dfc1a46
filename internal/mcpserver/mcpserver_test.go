package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracefold/internal/pipeline"
	"tracefold/internal/query"
)

func newTools(t *testing.T) *Tools {
	t.Helper()
	lines := []string{
		`{"name":"outer","ph":"X","pid":1,"tid":1,"ts":100,"dur":50}`,
		`{"name":"inner","ph":"X","pid":1,"tid":1,"ts":110,"dur":20}`,
		`{"name":"inner","ph":"X","pid":1,"tid":1,"ts":135,"dur":10}`,
	}
	src := filepath.Join(t.TempDir(), "app.json")
	require.NoError(t, os.WriteFile(src, []byte(strings.Join(lines, "\n")), 0o644))
	res, err := pipeline.Open(context.Background(), src, pipeline.Options{CacheDir: t.TempDir(), Strict: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })
	return NewTools([]Trace{{Name: "app", Trace: res.Trace, Store: res.Store}})
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text, res.IsError
}

func TestListTraces(t *testing.T) {
	tools := newTools(t)
	out, isErr := call(t, tools.ListTraces, nil)
	assert.False(t, isErr)
	assert.Contains(t, out, "app: 3 events, 3 intervals")
}

func TestQueryIntervals(t *testing.T) {
	tools := newTools(t)
	out, isErr := call(t, tools.QueryIntervals, map[string]any{"trace": "app", "start_us": 120.0, "end_us": 121.0})
	require.False(t, isErr, out)
	var body struct {
		Intervals []query.Interval `json:"intervals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Intervals, 2)
	assert.Equal(t, "outer", body.Intervals[0].Label)

	_, isErr = call(t, tools.QueryIntervals, map[string]any{"trace": "missing"})
	assert.True(t, isErr)
	_, isErr = call(t, tools.QueryIntervals, map[string]any{})
	assert.True(t, isErr)
}

func TestCallStacksAt(t *testing.T) {
	tools := newTools(t)
	out, isErr := call(t, tools.CallStacksAt, map[string]any{"trace": "app", "time_us": 115.0})
	require.False(t, isErr, out)
	assert.Contains(t, out, "process 1 thread 1")
	assert.Less(t, strings.Index(out, "outer"), strings.Index(out, "inner"))

	out, _ = call(t, tools.CallStacksAt, map[string]any{"trace": "app", "time_us": 5.0})
	assert.Contains(t, out, "nothing executing")

	_, isErr = call(t, tools.CallStacksAt, map[string]any{"trace": "app"})
	assert.True(t, isErr)
}

func TestLabelStatistics(t *testing.T) {
	tools := newTools(t)
	out, isErr := call(t, tools.LabelStatistics, map[string]any{"trace": "app"})
	require.False(t, isErr, out)
	assert.Contains(t, out, "inner")
	assert.Contains(t, out, "Total")
}

func TestListEvents(t *testing.T) {
	tools := newTools(t)
	out, isErr := call(t, tools.ListEvents, map[string]any{"trace": "app", "rank": 1.0, "count": 1.0})
	require.False(t, isErr, out)
	var evs []query.Event
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	require.Len(t, evs, 1)
	assert.EqualValues(t, 1, evs[0].Rank)
	assert.Equal(t, "inner", evs[0].Name)
}

func TestNewRegistersTools(t *testing.T) {
	s := New(nil)
	require.NotNil(t, s)
}
