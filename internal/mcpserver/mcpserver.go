// Package mcpserver exposes loaded traces as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"tracefold/internal/query"
	"tracefold/internal/stats"
	"tracefold/internal/store"
	"tracefold/internal/tracefile"
	"tracefold/internal/version"
)

// Trace is one trace available to the tools.
type Trace struct {
	Name  string
	Trace *tracefile.Trace
	Store *store.Store
}

// Tools implements the tool handlers.
type Tools struct {
	traces map[string]Trace
}

func NewTools(traces []Trace) *Tools {
	t := &Tools{traces: make(map[string]Trace, len(traces))}
	for _, tr := range traces {
		t.traces[tr.Name] = tr
	}
	return t
}

// New returns an MCP server with every tool registered.
func New(traces []Trace) *server.MCPServer {
	s := server.NewMCPServer(
		"tracefold",
		version.Current().Version,
		server.WithLogging(),
	)
	NewTools(traces).Register(s)
	return s
}

// Serve runs s on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func traceArg() mcp.ToolOption {
	return mcp.WithString("trace",
		mcp.Required(),
		mcp.Description("Trace name as listed by list_traces"),
	)
}

// Register adds the tools to s.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("list_traces",
		mcp.WithDescription("List the loaded traces with their event and interval counts."),
	), t.ListTraces)

	s.AddTool(mcp.NewTool("query_intervals",
		mcp.WithDescription("Return call-stack intervals overlapping the window [start_us, end_us). Times are microseconds, like the trace's ts field."),
		traceArg(),
		mcp.WithNumber("start_us", mcp.Description("Window start in microseconds (default: 0)")),
		mcp.WithNumber("end_us", mcp.Description("Window end in microseconds (default: end of trace)")),
		mcp.WithNumber("limit", mcp.Description("Maximum intervals to return (default: 200)")),
	), t.QueryIntervals)

	s.AddTool(mcp.NewTool("call_stacks_at",
		mcp.WithDescription("Show what every thread was executing at one instant, outermost frame first."),
		traceArg(),
		mcp.WithNumber("time_us", mcp.Required(), mcp.Description("Instant in microseconds")),
	), t.CallStacksAt)

	s.AddTool(mcp.NewTool("label_statistics",
		mcp.WithDescription("Aggregate interval durations per label: count, min, max, mean, stddev and total."),
		traceArg(),
		mcp.WithNumber("start_us", mcp.Description("Optional window start in microseconds")),
		mcp.WithNumber("end_us", mcp.Description("Optional window end in microseconds")),
		mcp.WithNumber("top_n", mcp.Description("Number of labels to show (default: 20)")),
	), t.LabelStatistics)

	s.AddTool(mcp.NewTool("list_events",
		mcp.WithDescription("List raw events of the sorted trace starting at a rank, a file ratio or a time."),
		traceArg(),
		mcp.WithNumber("rank", mcp.Description("Start at this event rank")),
		mcp.WithNumber("ratio", mcp.Description("Start at this fraction of the file, 0 to 1")),
		mcp.WithNumber("time_us", mcp.Description("Start at the first event at or after this time")),
		mcp.WithNumber("count", mcp.Description("Number of events (default: 50)")),
	), t.ListEvents)
}

func (t *Tools) lookup(req mcp.CallToolRequest) (Trace, *mcp.CallToolResult) {
	name, err := req.RequireString("trace")
	if err != nil {
		return Trace{}, mcp.NewToolResultError(err.Error())
	}
	tr, ok := t.traces[name]
	if !ok {
		return Trace{}, mcp.NewToolResultError(fmt.Sprintf("unknown trace %q; use list_traces", name))
	}
	return tr, nil
}

func micros(req mcp.CallToolRequest, key string, def int64) int64 {
	args := req.GetArguments()
	if _, ok := args[key]; !ok {
		return def
	}
	return int64(math.Round(req.GetFloat(key, 0) * 1000))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *Tools) ListTraces(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := make([]string, 0, len(t.traces))
	for name := range t.traces {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		tr := t.traces[name]
		meta := tr.Store.Meta()
		fmt.Fprintf(&sb, "%s: %d events, %d intervals, %.3f..%.3f us\n",
			name, tr.Trace.Records(), meta.Count, float64(meta.MinStart)/1000, float64(meta.MaxEnd)/1000)
	}
	if sb.Len() == 0 {
		sb.WriteString("no traces loaded\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *Tools) QueryIntervals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, errRes := t.lookup(req)
	if errRes != nil {
		return errRes, nil
	}
	start := micros(req, "start_us", 0)
	end := micros(req, "end_us", tr.Store.Meta().MaxEnd)
	limit := int(req.GetFloat("limit", 200))
	ivs, truncated, err := query.Intersecting(tr.Store, start, end, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"truncated": truncated, "intervals": ivs})
}

func (t *Tools) CallStacksAt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, errRes := t.lookup(req)
	if errRes != nil {
		return errRes, nil
	}
	if _, ok := req.GetArguments()["time_us"]; !ok {
		return mcp.NewToolResultError("time_us is required"), nil
	}
	ts := micros(req, "time_us", 0)
	stacks, err := query.At(tr.Store, ts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(stacks) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("nothing executing at %.3f us\n", float64(ts)/1000)), nil
	}
	var sb strings.Builder
	for _, s := range stacks {
		fmt.Fprintf(&sb, "process %s thread %s\n", s.Process, s.Thread)
		for depth, f := range s.Frames {
			fmt.Fprintf(&sb, "%s%s [%.3f, %.3f) us\n", strings.Repeat("  ", depth+1), f.Label, float64(f.Start)/1000, float64(f.End)/1000)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *Tools) LabelStatistics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, errRes := t.lookup(req)
	if errRes != nil {
		return errRes, nil
	}
	var win *stats.Window
	args := req.GetArguments()
	_, hasStart := args["start_us"]
	_, hasEnd := args["end_us"]
	if hasStart || hasEnd {
		win = &stats.Window{
			Start: micros(req, "start_us", 0),
			End:   micros(req, "end_us", tr.Store.Meta().MaxEnd),
		}
	}
	report, err := stats.Compute(tr.Store, win)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if n := int(req.GetFloat("top_n", 20)); n > 0 && len(report.Rows) > n {
		report.Rows = report.Rows[:n]
	}
	var sb strings.Builder
	if err := stats.WriteTable(&sb, report); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *Tools) ListEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, errRes := t.lookup(req)
	if errRes != nil {
		return errRes, nil
	}
	args := req.GetArguments()
	var pos query.Position
	switch {
	case args["rank"] != nil:
		rank := int64(req.GetFloat("rank", 0))
		pos.Rank = &rank
	case args["ratio"] != nil:
		ratio := req.GetFloat("ratio", 0)
		pos.Ratio = &ratio
	case args["time_us"] != nil:
		ts := micros(req, "time_us", 0)
		pos.Time = &ts
	}
	evs, err := query.Events(tr.Trace, pos, int(req.GetFloat("count", 50)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(evs)
}
