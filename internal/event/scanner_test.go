package event

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func scanAll(t *testing.T, input string) ([]Record, error) {
	t.Helper()
	sc := NewScanner(strings.NewReader(input))
	var out []Record
	for sc.Scan() {
		rec := sc.Record()
		out = append(out, Record{Offset: rec.Offset, Raw: append([]byte(nil), rec.Raw...)})
	}
	return out, sc.Err()
}

func TestScannerFormats(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"ndjson", "{\"ph\":\"B\",\"ts\":1}\n{\"ph\":\"E\",\"ts\":2}\n", []string{`{"ph":"B","ts":1}`, `{"ph":"E","ts":2}`}},
		{"array", `[{"ph":"B","ts":1},{"ph":"E","ts":2}]`, []string{`{"ph":"B","ts":1}`, `{"ph":"E","ts":2}`}},
		{"unterminated array", "[\n{\"ph\":\"B\",\"ts\":1},\n", []string{`{"ph":"B","ts":1}`}},
		{"wrapper", `{"traceEvents":[{"ph":"B","ts":1,"name":"}{"}],"displayTimeUnit":"ns"}`, []string{`{"ph":"B","ts":1,"name":"}{"}`}},
		{"wrapper with leading keys", `{"displayTimeUnit":"ns","otherData":{"v":["]"]},"n":1.5,"ok":true,"traceEvents":[{"ph":"B","ts":1}]}`, []string{`{"ph":"B","ts":1}`}},
		{"ndjson first record with nested value", "{\"args\":{\"a\":[1]},\"ph\":\"B\",\"ts\":1}\n{\"ph\":\"E\",\"ts\":2}", []string{`{"args":{"a":[1]},"ph":"B","ts":1}`, `{"ph":"E","ts":2}`}},
		{"escaped quote", `{"name":"a\"}","ph":"i","ts":3}`, []string{`{"name":"a\"}","ph":"i","ts":3}`}},
		{"empty", "  \n", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := scanAll(t, tc.input)
			if err != nil {
				t.Fatalf("scan error: %v", err)
			}
			if len(recs) != len(tc.want) {
				t.Fatalf("got %d records, want %d", len(recs), len(tc.want))
			}
			for i, rec := range recs {
				if string(rec.Raw) != tc.want[i] {
					t.Fatalf("record %d = %s, want %s", i, rec.Raw, tc.want[i])
				}
				if got := tc.input[rec.Offset : rec.Offset+int64(len(rec.Raw))]; got != tc.want[i] {
					t.Fatalf("record %d offset %d points at %q", i, rec.Offset, got)
				}
			}
		})
	}
}

func TestScannerTruncated(t *testing.T) {
	_, err := scanAll(t, `{"ph":"B","ts":1}`+"\n"+`{"ph":"E"`)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestScannerBadWrapper(t *testing.T) {
	_, err := scanAll(t, `{"displayTimeUnit":"ns","traceEvents":{}}`)
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Field != "traceEvents" {
		t.Fatalf("err = %v, want ParseError on traceEvents", err)
	}
}

func TestScannerGarbage(t *testing.T) {
	_, err := scanAll(t, `{"ph":"B","ts":1} x`)
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Offset != 18 {
		t.Fatalf("err = %v, want ParseError at 18", err)
	}
}

func TestCompactRecord(t *testing.T) {
	got, err := CompactRecord(nil, []byte("{\n  \"ph\": \"B\",\n  \"ts\": 1\n}"))
	if err != nil {
		t.Fatalf("CompactRecord error: %v", err)
	}
	if string(got) != `{"ph":"B","ts":1}` {
		t.Fatalf("CompactRecord = %s", got)
	}
}
