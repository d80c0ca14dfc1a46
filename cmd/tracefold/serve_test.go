package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tracefold/internal/pipeline"
)

func TestTraceNamesDisambiguates(t *testing.T) {
	results := []*pipeline.Result{
		{Source: "/a/run.json"},
		{Source: "/b/run.json"},
		{Source: "/b/other.json"},
		{Source: "/c/run.json"},
	}
	want := []string{"run.json", "run.json~2", "other.json", "run.json~3"}
	if diff := cmp.Diff(want, traceNames(results)); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}
