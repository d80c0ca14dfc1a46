package event

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1234.5", 1_234_500},
		{"1234", 1_234_000},
		{"0", 0},
		{"0.001", 1},
		{"7.123456", 7_123},
		{"1000", 1_000_000},
		{".5", 500},
		{"12.", 12_000},
		{"1.5e3", 1_500_000},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTimestamp(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseTimestampRejects(t *testing.T) {
	for _, in := range []string{"", "-5", "abc", "1.2.3", ".", "99999999999999999999"} {
		if _, err := ParseTimestamp(in); !errors.Is(err, ErrBadTimestamp) {
			t.Fatalf("ParseTimestamp(%q) error = %v, want ErrBadTimestamp", in, err)
		}
	}
}

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want TraceEvent
	}{
		{
			name: "begin",
			raw:  `{"name":"f","cat":"a,b","pid":1,"tid":2,"ph":"B","ts":"1000"}`,
			want: TraceEvent{Name: "f", Categories: []string{"a", "b"}, PID: 1, TID: 2, Phase: PhaseBegin, Timestamp: 1_000_000},
		},
		{
			name: "complete",
			raw:  `{"name":"g","ph":"X","ts":100,"dur":50.5,"pid":"renderer","tid":"7"}`,
			want: TraceEvent{Name: "g", Process: "renderer", PID: Unset, TID: 7, Phase: PhaseComplete, Timestamp: 100_000, Duration: Some(int64(50_500))},
		},
		{
			name: "negative dur is unset",
			raw:  `{"ph":"X","ts":1,"dur":-1}`,
			want: TraceEvent{PID: Unset, TID: Unset, Phase: PhaseComplete, Timestamp: 1_000},
		},
		{
			name: "hex id",
			raw:  `{"ph":"s","ts":1,"id":"0x1f","tid":"io"}`,
			want: TraceEvent{PID: Unset, TID: Unset, Thread: "io", Phase: PhaseStart, Timestamp: 1_000, ID: Some(int32(31))},
		},
		{
			name: "metadata without ts",
			raw:  `{"ph":"M","name":"thread_name","pid":3}`,
			want: TraceEvent{Name: "thread_name", PID: 3, TID: Unset, Phase: PhaseMetadata},
		},
		{
			name: "capital instant",
			raw:  `{"ph":"I","ts":"2"}`,
			want: TraceEvent{PID: Unset, TID: Unset, Phase: PhaseInstant, Timestamp: 2_000},
		},
	}
	opt := cmp.AllowUnexported(Optional[int64]{}, Optional[int32]{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEvent([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseEvent(%s) error: %v", tc.raw, err)
			}
			if diff := cmp.Diff(tc.want, got, opt); diff != "" {
				t.Fatalf("ParseEvent(%s) mismatch (-want +got):\n%s", tc.raw, diff)
			}
		})
	}
}

func TestParseEventErrors(t *testing.T) {
	cases := []struct {
		raw   string
		want  error
		field string
	}{
		{`{"name":"f"}`, ErrMissingPhase, "ph"},
		{`{"ph":"B"}`, ErrMissingTimestamp, "ts"},
		{`{"ph":"B","ts":1,"args":{}}`, ErrUnknownField, "args"},
		{`{"ph":"Q","ts":1}`, ErrBadPhase, "ph"},
		{`{"ph":"B","ts":"x"}`, ErrBadTimestamp, "ts"},
		{`{"ph":"B","ts":1,"pid":true}`, ErrBadValue, "pid"},
		{`{"ph":"X","ts":1,"dur":"-abc"}`, ErrBadTimestamp, "dur"},
		{`{"ph":"X","ts":1,"dur":"-"}`, ErrBadTimestamp, "dur"},
	}
	for _, tc := range cases {
		_, err := ParseEvent([]byte(tc.raw))
		if !errors.Is(err, tc.want) {
			t.Fatalf("ParseEvent(%s) error = %v, want %v", tc.raw, err, tc.want)
		}
		var perr *ParseError
		if !errors.As(err, &perr) || perr.Field != tc.field {
			t.Fatalf("ParseEvent(%s) error = %#v, want field %q", tc.raw, err, tc.field)
		}
	}
}

func TestParseEventTruncated(t *testing.T) {
	var perr *ParseError
	if _, err := (Parser{}).ParseAt([]byte(`{"ph":"B","ts":`), 42); !errors.As(err, &perr) || perr.Offset != 42 {
		t.Fatalf("ParseAt truncated error = %v, want ParseError at 42", err)
	}
}

func TestLenientParserSkipsExtras(t *testing.T) {
	raw := []byte(`{"ph":"X","ts":1,"dur":2,"args":{"k":[1,2]},"tts":9}`)
	ev, err := Parser{Lenient: true}.Parse(raw)
	if err != nil {
		t.Fatalf("lenient Parse error: %v", err)
	}
	if d, ok := ev.Duration.Get(); !ok || d != 2_000 {
		t.Fatalf("Duration = %d,%v, want 2000,true", d, ok)
	}
}

func TestNegativeDurationIsUnset(t *testing.T) {
	for _, raw := range []string{`{"ph":"X","ts":1,"dur":-1}`, `{"ph":"X","ts":1,"dur":"-2.5"}`} {
		ev, err := ParseEvent([]byte(raw))
		if err != nil {
			t.Fatalf("ParseEvent(%s) error: %v", raw, err)
		}
		if _, ok := ev.Duration.Get(); ok {
			t.Fatalf("ParseEvent(%s) Duration set, want unset", raw)
		}
	}
}

func TestStripRecord(t *testing.T) {
	raw := []byte("{\"ph\":\"X\", \"args\":{\"k\":[1,\n2]},\"name\":\"a\\\"b\",\n\"ts\":1,\"dur\":null,\"tts\":9}")
	got, err := StripRecord([]byte("prefix:"), raw)
	if err != nil {
		t.Fatalf("StripRecord error: %v", err)
	}
	want := `prefix:{"ph":"X","name":"a\"b","ts":1,"dur":null}`
	if string(got) != want {
		t.Fatalf("StripRecord = %s, want %s", got, want)
	}
	if _, err := ParseEvent(got[len("prefix:"):]); err != nil {
		t.Fatalf("stripped record does not parse strictly: %v", err)
	}
}

func TestNames(t *testing.T) {
	ev := TraceEvent{PID: Unset, TID: Unset}
	if got := ev.ProcessName(); got != UnknownName {
		t.Fatalf("ProcessName() = %q, want %q", got, UnknownName)
	}
	ev.PID = 12
	if got := ev.ProcessName(); got != "12" {
		t.Fatalf("ProcessName() = %q, want %q", got, "12")
	}
	ev.Process = "gpu"
	if got := ev.ProcessName(); got != "gpu" {
		t.Fatalf("ProcessName() = %q, want %q", got, "gpu")
	}
	ev.TID = 5
	if got := ev.ThreadName(); got != "5" {
		t.Fatalf("ThreadName() = %q, want %q", got, "5")
	}
}

func TestParsePhaseRoundTrip(t *testing.T) {
	for p := PhaseBegin; p <= PhaseClockSync; p++ {
		got, ok := ParsePhase(string(p.Char()))
		if !ok || got != p {
			t.Fatalf("ParsePhase(%q) = %v,%v, want %v", p.Char(), got, ok, p)
		}
	}
}
