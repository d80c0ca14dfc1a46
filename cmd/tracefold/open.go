package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"tracefold/internal/pipeline"
)

// openTraces runs the pipeline for every source, with the progress view
// when it is enabled and plain status lines otherwise.
func openTraces(cmd *cobra.Command, s *session, srcs []string, opts pipeline.Options) ([]*pipeline.Result, error) {
	ctx := cmd.Context()
	var (
		results []*pipeline.Result
		err     error
	)
	if s.useTUI() {
		results, err = runOpenWithUI(ctx, cmd.Name(), srcs, s.jobs, opts)
	} else {
		if !s.quiet {
			opts.Sink = plainSink(cmd.ErrOrStderr())
		}
		results, err = pipeline.OpenAll(ctx, srcs, s.jobs, opts)
	}
	if err != nil {
		return nil, err
	}
	if s.timings {
		printStageTimings(cmd.ErrOrStderr(), results)
	}
	return results, nil
}

// openOne is openTraces for commands that work on a single trace.
func openOne(cmd *cobra.Command, s *session, src string) (*pipeline.Result, error) {
	results, err := openTraces(cmd, s, []string{src}, s.pipelineOptions())
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func closeAll(results []*pipeline.Result) error {
	var err error
	for _, r := range results {
		err = multierr.Append(err, r.Close())
	}
	return err
}

// plainSink prints one line per finished stage. Each line is a single
// write, so concurrent traces interleave by line.
func plainSink(w io.Writer) pipeline.ProgressSink {
	return pipeline.FuncSink(func(ev pipeline.Event) {
		name := filepath.Base(ev.File)
		switch ev.Status {
		case pipeline.StatusDone:
			fmt.Fprintf(w, "%s %-11s %s (%s records, %s)\n",
				color.GreenString("done  "), ev.Stage, name, humanize.Comma(ev.Records), ev.Elapsed.Round(time.Millisecond))
		case pipeline.StatusCached:
			fmt.Fprintf(w, "%s %-11s %s\n", color.CyanString("cached"), ev.Stage, name)
		case pipeline.StatusError:
			fmt.Fprintf(w, "%s %-11s %s: %s\n", color.RedString("failed"), ev.Stage, name, ev.Err)
		}
	})
}
