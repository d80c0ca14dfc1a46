package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"tracefold/internal/query"
	"tracefold/internal/stats"
)

var queryCmd = &cobra.Command{
	Use:   "query <trace.json>",
	Short: "List the intervals overlapping a time window",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var atCmd = &cobra.Command{
	Use:   "at <trace.json>",
	Short: "Show every thread's call stack at an instant",
	Args:  cobra.ExactArgs(1),
	RunE:  runAt,
}

var statsCmd = &cobra.Command{
	Use:   "stats <trace.json>",
	Short: "Summarize interval durations per label",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var eventsCmd = &cobra.Command{
	Use:   "events <trace.json>",
	Short: "Print raw events of the sorted trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, statsCmd} {
		c.Flags().String("start", "", "window start in microseconds (default: beginning)")
		c.Flags().String("end", "", "window end in microseconds (default: end of trace)")
		c.Flags().Bool("json", false, "print JSON")
	}
	queryCmd.Flags().Int("limit", 1000, "maximum number of intervals (0 = no limit)")

	atCmd.Flags().String("time", "", "instant in microseconds")
	_ = atCmd.MarkFlagRequired("time")
	atCmd.Flags().Bool("json", false, "print JSON")

	eventsCmd.Flags().Int64("rank", 0, "start at this record number")
	eventsCmd.Flags().Float64("ratio", 0, "start at this fraction of the file (0..1)")
	eventsCmd.Flags().String("time", "", "start at the first event at or after this microsecond timestamp")
	eventsCmd.MarkFlagsMutuallyExclusive("rank", "ratio", "time")
	eventsCmd.Flags().Int("count", 20, "number of events (0 = all)")
	eventsCmd.Flags().Bool("json", false, "print JSON")
}

func runQuery(cmd *cobra.Command, args []string) (err error) {
	s := current
	res, err := openOne(cmd, s, args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, res.Close()) }()

	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	start, end, err := query.ParseWindow(startStr, endStr, res.Store.Meta().MaxEnd)
	if err != nil {
		return err
	}
	ivs, truncated, err := query.Intersecting(res.Store, start, end, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, struct {
			Intervals []query.Interval `json:"intervals"`
			Truncated bool             `json:"truncated"`
		}{ivs, truncated})
	}
	for _, iv := range ivs {
		fmt.Fprintf(out, "%s/%s #%d  %s  [%s, %s)  %s us\n",
			iv.Process, iv.Thread, iv.Slot, iv.Label, micros(iv.Start), micros(iv.End), micros(iv.Duration))
	}
	if truncated {
		fmt.Fprintf(cmd.ErrOrStderr(), "output truncated at %d intervals (use --limit)\n", limit)
	}
	return nil
}

func runAt(cmd *cobra.Command, args []string) (err error) {
	s := current
	res, err := openOne(cmd, s, args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, res.Close()) }()

	timeStr, _ := cmd.Flags().GetString("time")
	asJSON, _ := cmd.Flags().GetBool("json")
	ts, err := query.ParseMicros(timeStr, 0)
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	stacks, err := query.At(res.Store, ts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, stacks)
	}
	if len(stacks) == 0 {
		fmt.Fprintf(out, "nothing executing at %s us\n", micros(ts))
		return nil
	}
	for _, st := range stacks {
		fmt.Fprintf(out, "%s/%s\n", st.Process, st.Thread)
		for depth, f := range st.Frames {
			fmt.Fprintf(out, "  %*s%s  [%s, %s)\n", depth*2, "", f.Label, micros(f.Start), micros(f.End))
		}
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) (err error) {
	s := current
	res, err := openOne(cmd, s, args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, res.Close()) }()

	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	asJSON, _ := cmd.Flags().GetBool("json")

	var window *stats.Window
	if startStr != "" || endStr != "" {
		start, end, err := query.ParseWindow(startStr, endStr, res.Store.Meta().MaxEnd)
		if err != nil {
			return err
		}
		window = &stats.Window{Start: start, End: end}
	}
	report, err := stats.Compute(res.Store, window)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return stats.WriteTable(cmd.OutOrStdout(), report)
}

func runEvents(cmd *cobra.Command, args []string) (err error) {
	s := current
	res, err := openOne(cmd, s, args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, res.Close()) }()

	flags := cmd.Flags()
	count, _ := flags.GetInt("count")
	asJSON, _ := flags.GetBool("json")

	var pos query.Position
	switch {
	case flags.Changed("rank"):
		rank, _ := flags.GetInt64("rank")
		pos.Rank = &rank
	case flags.Changed("ratio"):
		ratio, _ := flags.GetFloat64("ratio")
		if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
			return fmt.Errorf("--ratio must be within [0, 1], got %v", ratio)
		}
		pos.Ratio = &ratio
	case flags.Changed("time"):
		timeStr, _ := flags.GetString("time")
		ts, err := query.ParseMicros(timeStr, 0)
		if err != nil {
			return fmt.Errorf("time: %w", err)
		}
		pos.Time = &ts
	}

	events, err := query.Events(res.Trace, pos, count)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, events)
	}
	for _, ev := range events {
		fmt.Fprintf(out, "%10d %5.1f%%  %s  %s %s/%s %s\n",
			ev.Rank, ev.Location*100, micros(ev.TS), ev.Phase, ev.Process, ev.Thread, ev.Name)
	}
	return nil
}
