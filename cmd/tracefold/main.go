package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tracefold/internal/version"
)

// exitCanceled is the conventional status for a run stopped by SIGINT.
const exitCanceled = 130

var rootCmd = &cobra.Command{
	Use:   "tracefold",
	Short: "Sort Chromium trace-event logs and query their call stacks",
	Long: `tracefold normalizes Chromium trace-event JSON into timestamp order,
reconstructs per-thread call stacks and answers time-range queries over them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupSession,
}

func init() {
	rootCmd.Version = version.Current().Version

	rootCmd.AddCommand(sortCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(atCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to tracefold.toml (default: search upward from the working directory)")
	flags.String("cache-dir", "", "directory for sorted traces and interval stores")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Bool("quiet", false, "suppress non-essential output")
	flags.Bool("timings", false, "show per-stage timings")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("ui", "auto", "progress UI (auto|on|off)")
	flags.Int("jobs", 0, "traces processed in parallel (0 = config or GOMAXPROCS)")
	flags.Bool("strict", true, "reject events with fields outside name, cat, pid, tid, ph, ts, dur, id")

	flags.String("trace", "", "write tracefold's own trace events to this file (- for stderr)")
	flags.String("trace-level", "off", "self-trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "stream", "self-trace storage (stream|ring|both)")
	flags.String("trace-format", "auto", "self-trace format (auto|text|ndjson|chrome)")
	flags.Int("trace-ring-size", 4096, "self-trace ring buffer capacity")
	flags.Duration("trace-heartbeat", 0, "emit a self-trace heartbeat at this interval")

	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if current != nil {
		err = current.close(err)
	}
	os.Exit(exitCode(os.Stderr, err))
}

func exitCode(w io.Writer, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, color.YellowString("canceled"))
		return exitCanceled
	default:
		fmt.Fprintf(w, "%s %v\n", color.RedString("error:"), err)
		return 1
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
