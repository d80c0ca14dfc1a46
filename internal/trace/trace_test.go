package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"tracefold/internal/event"
)

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestChromeOutputIsIngestible(t *testing.T) {
	var buf closeBuffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatChrome)

	root := Begin(tr, ScopeCommand, "build", 0)
	child := Begin(tr, ScopeStage, "sort", root.ID())
	child.WithExtra("records", "12").End("")
	Point(tr, ScopeChunk, "spill", "seg-00001")
	root.End("ok")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !buf.closed {
		t.Fatalf("Close did not close the writer")
	}

	sc := event.NewScanner(strings.NewReader(buf.String()))
	parser := event.Parser{Lenient: true}
	var phases, names []string
	var last int64
	for sc.Scan() {
		rec := sc.Record()
		ev, err := parser.Parse(rec.Raw)
		if err != nil {
			t.Fatalf("parse %s: %v", rec.Raw, err)
		}
		if ev.Timestamp < last {
			t.Fatalf("timestamps go backwards: %d < %d", ev.Timestamp, last)
		}
		last = ev.Timestamp
		phases = append(phases, string(ev.Phase.Char()))
		names = append(names, ev.Name)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got, want := strings.Join(phases, ""), "BBEiE"; got != want {
		t.Fatalf("phases = %q, want %q", got, want)
	}
	if got, want := strings.Join(names, ","), "build,sort,sort,spill,build"; got != want {
		t.Fatalf("names = %q, want %q", got, want)
	}
}

func TestLevelFiltersScopes(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeCommand, false},
		{LevelPhase, ScopeCommand, true},
		{LevelPhase, ScopeTrace, false},
		{LevelPhase, ScopeStage, true},
		{LevelDetail, ScopeTrace, true},
		{LevelDetail, ScopeChunk, false},
		{LevelDebug, ScopeChunk, true},
		{LevelError, ScopeChunk, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(tc.scope); got != tc.want {
			t.Fatalf("%s.ShouldEmit(%s) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"off", "error", "phase", "detail", "DEBUG"} {
		if _, err := ParseLevel(s); err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", s, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("ParseLevel(loud) succeeded")
	}
}

func TestRingKeepsNewest(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		r.Emit(&Event{Time: time.Now(), Kind: KindPoint, Scope: ScopeChunk, Name: name})
	}
	snap := r.Snapshot()
	var got []string
	for _, ev := range snap {
		got = append(got, ev.Name)
	}
	if strings.Join(got, "") != "cde" {
		t.Fatalf("Snapshot names = %v, want [c d e]", got)
	}

	var out bytes.Buffer
	if err := r.Dump(&out, FormatText); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if n := strings.Count(out.String(), "\n"); n != 3 {
		t.Fatalf("Dump wrote %d lines, want 3", n)
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatalf("empty context should yield Nop")
	}
	r := NewRingTracer(8, LevelDebug)
	ctx := WithTracer(context.Background(), r)
	span := Begin(FromContext(ctx), ScopeCommand, "cmd", 0)
	ctx = WithSpan(ctx, span)
	if got := CurrentSpan(ctx).SpanID; got != span.ID() || got == 0 {
		t.Fatalf("CurrentSpan = %d, want %d", got, span.ID())
	}
}

func TestDisabledSpanIsInert(t *testing.T) {
	s := Begin(Nop, ScopeCommand, "x", 0)
	if s.ID() != 0 {
		t.Fatalf("disabled span has id %d", s.ID())
	}
	if d := s.WithExtra("k", "v").End(""); d != 0 {
		t.Fatalf("disabled span duration = %v", d)
	}
}
