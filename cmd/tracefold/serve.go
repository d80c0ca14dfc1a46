package main

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"tracefold/internal/mcpserver"
	"tracefold/internal/pipeline"
	"tracefold/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve <trace.json>...",
	Short: "Serve interval queries over HTTP",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp <trace.json>...",
	Short: "Expose traces as MCP tools over stdio",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMCP,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: [serve] addr from config)")
}

// traceNames assigns each result its base name, suffixed when two sources
// share one.
func traceNames(results []*pipeline.Result) []string {
	names := make([]string, len(results))
	seen := make(map[string]int, len(results))
	for i, r := range results {
		name := filepath.Base(r.Source)
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s~%d", name, n)
		}
		names[i] = name
	}
	return names
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	s := current
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = s.cfg.Serve.Addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := s.pipelineOptions()
	opts.Metrics = pipeline.NewMetrics(reg)

	results, err := openTraces(cmd, s, args, opts)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeAll(results)) }()

	names := traceNames(results)
	traces := make([]server.Trace, len(results))
	for i, r := range results {
		traces[i] = server.Trace{Name: names[i], Trace: r.Trace, Store: r.Store}
	}
	srv := server.New(server.Options{Addr: addr, Traces: traces, Registry: reg, Logger: s.log})
	if !s.quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "serving %d trace(s) on http://%s\n", len(traces), addr)
	}
	return srv.ListenAndServe(cmd.Context())
}

// runMCP owns stdout for the protocol, so progress output is forced off.
func runMCP(cmd *cobra.Command, args []string) (err error) {
	s := current
	s.ui = switchOff
	s.quiet = true

	results, err := openTraces(cmd, s, args, s.pipelineOptions())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeAll(results)) }()

	names := traceNames(results)
	traces := make([]mcpserver.Trace, len(results))
	for i, r := range results {
		traces[i] = mcpserver.Trace{Name: names[i], Trace: r.Trace, Store: r.Store}
	}
	return mcpserver.Serve(mcpserver.New(traces))
}
