package main

import (
	"math"
	"testing"
)

func TestMicros(t *testing.T) {
	cases := map[int64]string{
		0:             "0.000",
		1:             "0.001",
		1500:          "1.500",
		-2500:         "-2.500",
		1234567890:    "1234567.890",
		math.MinInt64: "-9223372036854775.808",
	}
	for ns, want := range cases {
		if got := micros(ns); got != want {
			t.Fatalf("micros(%d) = %q, want %q", ns, got, want)
		}
	}
}
