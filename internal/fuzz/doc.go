// Package fuzztests holds native Go fuzz targets for the trace readers.
//
// Run with, for example:
//
//	go test ./internal/fuzz -run=^$ -fuzz=FuzzScanner -fuzztime=30s
package fuzztests
