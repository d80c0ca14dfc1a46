package fuzztests

import (
	"bytes"
	"strconv"
	"testing"

	"tracefold/internal/event"
)

func FuzzParseEvent(f *testing.F) {
	addRecordSeeds(f)
	f.Fuzz(func(t *testing.T, input []byte) {
		input = clip(input)
		for _, p := range []event.Parser{{}, {Lenient: true}} {
			ev, err := p.Parse(input)
			if err != nil {
				continue
			}
			if ev.Timestamp < 0 {
				t.Fatalf("negative timestamp %d from %q", ev.Timestamp, input)
			}
			if d, ok := ev.Duration.Get(); ok && d < 0 {
				t.Fatalf("negative duration %d from %q", d, input)
			}
		}
	})
}

func FuzzScanner(f *testing.F) {
	addStreamSeeds(f)
	f.Fuzz(func(t *testing.T, input []byte) {
		input = clip(input)
		sc := event.NewScanner(bytes.NewReader(input))
		last := int64(-1)
		for sc.Scan() {
			rec := sc.Record()
			if rec.Offset <= last {
				t.Fatalf("offsets not increasing: %d after %d", rec.Offset, last)
			}
			last = rec.Offset
			compact, err := event.CompactRecord(nil, rec.Raw)
			if err != nil {
				continue
			}
			if bytes.IndexByte(compact, '\n') >= 0 {
				t.Fatalf("compacted record spans lines: %q", compact)
			}
		}
	})
}

func FuzzParseTimestamp(f *testing.F) {
	for _, s := range []string{"0", "1", "1234.5", "1.0001", ".5", "5.", "1e3", "9223372036854", "-1", "x"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		ns, err := event.ParseTimestamp(s)
		if err != nil {
			return
		}
		if ns < 0 {
			t.Fatalf("ParseTimestamp(%q) = %d", s, ns)
		}
		if us, err := strconv.ParseInt(s, 10, 64); err == nil && us >= 0 && ns != us*1000 {
			t.Fatalf("ParseTimestamp(%q) = %d, want %d", s, ns, us*1000)
		}
	})
}
