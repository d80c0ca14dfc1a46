package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tracefold/internal/pipeline"
	"tracefold/internal/tracefile"
)

var sortCmd = &cobra.Command{
	Use:   "sort <trace.json>...",
	Short: "Write timestamp-ordered copies of traces into the cache",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSort,
}

func runSort(cmd *cobra.Command, args []string) error {
	s := current
	opts := s.pipelineOptions()
	out := cmd.OutOrStdout()
	for _, src := range args {
		suppDir, err := pipeline.SuppDir(opts.CacheDir, src)
		if err != nil {
			return err
		}
		res, err := tracefile.Sort(cmd.Context(), src, suppDir, tracefile.SortOptions{
			ChunkSize:          opts.ChunkSize,
			TempRoot:           opts.TempDir,
			CheckpointInterval: opts.SortCheckpointInterval,
			Parser:             opts.Parser(),
			Logger:             s.log,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(src), err)
		}
		state := ""
		if res.Cached {
			state = color.CyanString(" (cached)")
		}
		fmt.Fprintf(out, "%s: %s records, %s%s\n  %s\n",
			filepath.Base(src), humanize.Comma(res.Records), humanize.IBytes(uint64(max(res.Size, 0))), state, res.Path)
	}
	return nil
}
