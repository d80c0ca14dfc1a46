package main

import (
	"fmt"
	"io"
	"path/filepath"

	"tracefold/internal/pipeline"
)

func printStageTimings(out io.Writer, results []*pipeline.Result) {
	if out == nil {
		return
	}
	for _, r := range results {
		if r == nil || len(r.Timings.Phases) == 0 {
			continue
		}
		if _, err := fmt.Fprint(out, r.Timings.Summary(filepath.Base(r.Source))); err != nil {
			panic(err)
		}
	}
}
