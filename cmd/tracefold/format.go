package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// micros renders a nanosecond timestamp as microseconds with three
// decimals, the unit traces are written in.
func micros(ns int64) string {
	sign := ""
	u := uint64(ns)
	if ns < 0 {
		sign = "-"
		u = -u
	}
	return sign + strconv.FormatUint(u/1000, 10) + "." + fmt.Sprintf("%03d", u%1000)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
