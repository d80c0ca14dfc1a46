package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tracefold/internal/query"
	"tracefold/internal/stats"
	"tracefold/internal/store"
	"tracefold/internal/tracefile"
)

// DefaultLimit caps interval listings when the request sets no limit.
const DefaultLimit = 10000

// Trace is one loaded trace served under /traces/{name}.
type Trace struct {
	Name  string
	Trace *tracefile.Trace
	Store *store.Store
}

// Handler holds the served traces.
type Handler struct {
	traces map[string]Trace
	order  []string
	log    *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(traces []Trace, log *slog.Logger) *Handler {
	h := &Handler{traces: make(map[string]Trace, len(traces)), log: log}
	for _, t := range traces {
		h.traces[t.Name] = t
		h.order = append(h.order, t.Name)
	}
	return h
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/traces", h.HandleTraces)
	r.Route("/traces/{name}", func(r chi.Router) {
		r.Get("/intervals", h.HandleIntervals)
		r.Get("/at", h.HandleAt)
		r.Get("/stats", h.HandleStats)
		r.Get("/events", h.HandleEvents)
	})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "traces": len(h.order)})
}

type traceSummary struct {
	Name       string            `json:"name"`
	Records    int64             `json:"records"`
	Size       int64             `json:"size"`
	Intervals  int64             `json:"intervals"`
	Properties map[string]string `json:"properties"`
}

// HandleTraces lists the loaded traces.
func (h *Handler) HandleTraces(w http.ResponseWriter, r *http.Request) {
	out := make([]traceSummary, 0, len(h.order))
	for _, name := range h.order {
		t := h.traces[name]
		out = append(out, traceSummary{
			Name:       name,
			Records:    t.Trace.Records(),
			Size:       t.Trace.Size(),
			Intervals:  t.Store.Count(),
			Properties: t.Trace.Properties(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleIntervals answers ?start=&end=&limit= with the overlapping
// intervals. Times are microseconds.
func (h *Handler) HandleIntervals(w http.ResponseWriter, r *http.Request) {
	t, ok := h.trace(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, end, err := query.ParseWindow(q.Get("start"), q.Get("end"), t.Store.Meta().MaxEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := DefaultLimit
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
	}
	ivs, truncated, err := query.Intersecting(t.Store, start, end, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start_ns":  start,
		"end_ns":    end,
		"truncated": truncated,
		"intervals": ivs,
	})
}

// HandleAt answers ?time= with the per-thread call stacks at that instant.
func (h *Handler) HandleAt(w http.ResponseWriter, r *http.Request) {
	t, ok := h.trace(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("time")
	if raw == "" {
		writeError(w, http.StatusBadRequest, errors.New("time is required"))
		return
	}
	ts, err := query.ParseMicros(raw, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stacks, err := query.At(t.Store, ts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"time_ns": ts, "stacks": stacks})
}

// HandleStats aggregates durations per label, optionally within
// ?start=&end=.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	t, ok := h.trace(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var win *stats.Window
	if q.Has("start") || q.Has("end") {
		start, end, err := query.ParseWindow(q.Get("start"), q.Get("end"), t.Store.Meta().MaxEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		win = &stats.Window{Start: start, End: end}
	}
	report, err := stats.Compute(t.Store, win)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleEvents lists sorted events from ?rank=, ?ratio= or ?time=, up to
// ?count= (default 100).
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	t, ok := h.trace(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var pos query.Position
	switch {
	case q.Has("rank"):
		rank, err := strconv.ParseInt(q.Get("rank"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("rank must be an integer"))
			return
		}
		pos.Rank = &rank
	case q.Has("ratio"):
		ratio, err := strconv.ParseFloat(q.Get("ratio"), 64)
		if err != nil || ratio < 0 || ratio > 1 {
			writeError(w, http.StatusBadRequest, errors.New("ratio must be within [0, 1]"))
			return
		}
		pos.Ratio = &ratio
	case q.Has("time"):
		ts, err := query.ParseMicros(q.Get("time"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		pos.Time = &ts
	}
	count := 100
	if s := q.Get("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("count must be a positive integer"))
			return
		}
		count = n
	}
	evs, err := query.Events(t.Trace, pos, count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (h *Handler) trace(w http.ResponseWriter, r *http.Request) (Trace, bool) {
	name := chi.URLParam(r, "name")
	t, ok := h.traces[name]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown trace "+strconv.Quote(name)))
	}
	return t, ok
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, store.ErrClosed) || errors.Is(err, tracefile.ErrClosed) {
		code = http.StatusServiceUnavailable
	}
	h.log.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
