package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracefold/internal/pipeline"
	"tracefold/internal/query"
	"tracefold/internal/stats"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	lines := []string{
		`{"name":"outer","ph":"X","pid":1,"tid":1,"ts":100,"dur":50}`,
		`{"name":"inner","ph":"X","pid":1,"tid":1,"ts":110,"dur":20}`,
		`{"name":"f","ph":"B","pid":1,"tid":2,"ts":"1000"}`,
		`{"ph":"E","pid":1,"tid":2,"ts":"2000"}`,
	}
	src := filepath.Join(t.TempDir(), "app.json")
	require.NoError(t, os.WriteFile(src, []byte(strings.Join(lines, "\n")), 0o644))
	res, err := pipeline.Open(context.Background(), src, pipeline.Options{CacheDir: t.TempDir(), Strict: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })

	srv := New(Options{
		Traces:   []Trace{{Name: "app", Trace: res.Trace, Store: res.Store}},
		Registry: prometheus.NewRegistry(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string, wantCode int, out any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantCode, resp.StatusCode, "body: %s", body)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), "body: %s", body)
	}
}

func TestHealthAndTraces(t *testing.T) {
	ts := newTestServer(t)
	var health map[string]any
	get(t, ts, "/health", http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])

	var traces []traceSummary
	get(t, ts, "/traces", http.StatusOK, &traces)
	require.Len(t, traces, 1)
	assert.Equal(t, "app", traces[0].Name)
	assert.EqualValues(t, 4, traces[0].Records)
	assert.EqualValues(t, 3, traces[0].Intervals)
	assert.Equal(t, "Chromium", traces[0].Properties["Type"])
}

func TestIntervalsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var body struct {
		Truncated bool             `json:"truncated"`
		Intervals []query.Interval `json:"intervals"`
	}
	get(t, ts, "/traces/app/intervals?start=0&end=200", http.StatusOK, &body)
	assert.Len(t, body.Intervals, 2)
	assert.False(t, body.Truncated)

	get(t, ts, "/traces/app/intervals?start=0&limit=1", http.StatusOK, &body)
	assert.Len(t, body.Intervals, 1)
	assert.True(t, body.Truncated)

	get(t, ts, "/traces/app/intervals?start=abc", http.StatusBadRequest, nil)
	get(t, ts, "/traces/nope/intervals", http.StatusNotFound, nil)
}

func TestAtEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var body struct {
		Stacks []query.Stack `json:"stacks"`
	}
	get(t, ts, "/traces/app/at?time=1500", http.StatusOK, &body)
	require.Len(t, body.Stacks, 1)
	assert.Equal(t, "2", body.Stacks[0].Thread)
	assert.Equal(t, "f", body.Stacks[0].Frames[0].Label)

	get(t, ts, "/traces/app/at", http.StatusBadRequest, nil)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var report stats.Report
	get(t, ts, "/traces/app/stats", http.StatusOK, &report)
	assert.EqualValues(t, 3, report.Total.Count)

	get(t, ts, "/traces/app/stats?start=0&end=500", http.StatusOK, &report)
	assert.EqualValues(t, 2, report.Total.Count)
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var evs []query.Event
	get(t, ts, "/traces/app/events?rank=1&count=2", http.StatusOK, &evs)
	require.Len(t, evs, 2)
	assert.Equal(t, "inner", evs[0].Name)

	get(t, ts, "/traces/app/events?time=1000&count=1", http.StatusOK, &evs)
	require.Len(t, evs, 1)
	assert.Equal(t, "B", evs[0].Phase)

	get(t, ts, "/traces/app/events?ratio=2", http.StatusBadRequest, nil)
	get(t, ts, "/traces/app/events?count=0", http.StatusBadRequest, nil)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	get(t, ts, "/health", http.StatusOK, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tracefold_http_requests_total{code="200",route="/health"} 1`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv := New(Options{Registry: prometheus.NewRegistry()})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
