package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"tracefold/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <trace.json>...",
	Short: "Copy interval stores into a SQLite database",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().String("db", "tracefold.db", "SQLite database path")
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	s := current
	dbPath, _ := cmd.Flags().GetString("db")

	results, err := openTraces(cmd, s, args, s.pipelineOptions())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeAll(results)) }()

	exp, err := export.NewSQLiteExporter(dbPath, s.log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, exp.Close()) }()

	names := traceNames(results)
	for i, r := range results {
		n, err := exp.Export(cmd.Context(), names[i], r.Store)
		if err != nil {
			return fmt.Errorf("%s: %w", names[i], err)
		}
		if !s.quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s intervals -> %s\n", names[i], humanize.Comma(n), dbPath)
		}
	}
	return nil
}
