package fuzztests

import (
	"strings"
	"testing"
)

const maxFuzzInput = 1 << 16

// recordSeeds are single trace-event objects covering every accepted
// field shape.
var recordSeeds = []string{
	`{"name":"outer","ph":"X","pid":1,"tid":1,"ts":100,"dur":50}`,
	`{"name":"f","ph":"B","pid":"browser","tid":"main","ts":"1000.5"}`,
	`{"ph":"E","pid":1,"tid":2,"ts":2000}`,
	`{"name":"req","cat":"net,io","ph":"b","pid":1,"tid":1,"ts":1e3,"id":"0x1f"}`,
	`{"name":"req","ph":"e","pid":1,"tid":1,"ts":1.0001,"id":31}`,
	`{"name":"tick","ph":"i","pid":1,"tid":1,"ts":0}`,
	`{"name":"bad","ph":"Q","pid":1,"tid":1,"ts":1}`,
	`{"name":"x","ph":"X","ts":-1}`,
	`{"name":"esc\"aped é","ph":"X","pid":1,"tid":1,"ts":1,"dur":1}`,
}

func addRecordSeeds(f *testing.F) {
	for _, s := range recordSeeds {
		f.Add([]byte(s))
	}
}

// addStreamSeeds adds whole files: bare arrays, the traceEvents wrapper
// and newline-separated records.
func addStreamSeeds(f *testing.F) {
	joined := strings.Join(recordSeeds, ",\n")
	f.Add([]byte("[" + joined + "]"))
	f.Add([]byte(`{"traceEvents":[` + joined + `],"displayTimeUnit":"ns"}`))
	f.Add([]byte(`{"displayTimeUnit":"ns","otherData":{"v":"]"},"traceEvents":[` + joined + `]}`))
	f.Add([]byte(strings.Join(recordSeeds, "\n")))
	f.Add([]byte("[" + joined))
	f.Add([]byte(`[{"name":"a}"]`))
	f.Add([]byte{})
}

func clip(input []byte) []byte {
	if len(input) > maxFuzzInput {
		input = input[:maxFuzzInput]
	}
	return append([]byte(nil), input...)
}
