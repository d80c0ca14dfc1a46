package main

import (
	"github.com/spf13/cobra"

	"tracefold/internal/prof"
)

// setupProfiling starts the profilers requested by the persistent flags.
func setupProfiling(cmd *cobra.Command) (*prof.Session, error) {
	flags := cmd.Root().PersistentFlags()
	var opts prof.Options
	opts.CPU, _ = flags.GetString("cpu-profile")
	opts.Mem, _ = flags.GetString("mem-profile")
	opts.RuntimeTrace, _ = flags.GetString("runtime-trace")
	return prof.Start(opts)
}
