package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var buildCmd = &cobra.Command{
	Use:   "build <trace.json>...",
	Short: "Sort traces and build their interval stores",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) (err error) {
	s := current
	results, err := openTraces(cmd, s, args, s.pipelineOptions())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeAll(results)) }()

	out := cmd.OutOrStdout()
	for _, r := range results {
		meta := r.Store.Meta()
		fmt.Fprintf(out, "%s\n", color.New(color.Bold).Sprint(filepath.Base(r.Source)))
		fmt.Fprintf(out, "  events     %s\n", humanize.Comma(r.Sorted.Records))
		fmt.Fprintf(out, "  intervals  %s\n", humanize.Comma(meta.Count))
		if meta.Count > 0 {
			fmt.Fprintf(out, "  span       %s .. %s us\n", micros(meta.MinStart), micros(meta.MaxEnd))
		}
		if r.StoreCached {
			fmt.Fprintf(out, "  store      %s\n", color.CyanString("cached"))
			continue
		}
		fmt.Fprintf(out, "  threads    %d (max depth %d)\n", r.Recon.Threads, r.Recon.MaxSlots)
		if n := r.Recon.UnmatchedEnds + r.Recon.Unclosed; n > 0 {
			fmt.Fprintf(out, "  %s %d unmatched ends, %d unclosed begins\n",
				color.YellowString("warning:"), r.Recon.UnmatchedEnds, r.Recon.Unclosed)
		}
		if r.Recon.Dropped > 0 {
			fmt.Fprintf(out, "  dropped    %d empty intervals\n", r.Recon.Dropped)
		}
	}
	return nil
}
