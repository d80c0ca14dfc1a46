package stats

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var local = message.NewPrinter(language.English)

// MaxLabelWidth bounds the label column.
const MaxLabelWidth = 48

// WriteTable renders r as an aligned text table. Durations are printed in
// microseconds with thousands separators.
func WriteTable(w io.Writer, r Report) error {
	header := []string{"Label", "Count", "Min (µs)", "Max (µs)", "Mean (µs)", "StdDev (µs)", "Total (µs)"}
	lines := make([][]string, 0, len(r.Rows)+1)
	for _, row := range r.Rows {
		lines = append(lines, cells(row))
	}
	lines = append(lines, cells(r.Total))

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, l := range lines {
		for i, c := range l {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}

	var b strings.Builder
	writeRow(&b, header, widths)
	sep := make([]string, len(widths))
	for i, wd := range widths {
		sep[i] = strings.Repeat("-", wd)
	}
	for i, l := range lines {
		if i == len(lines)-1 {
			writeRow(&b, sep, widths)
		}
		writeRow(&b, l, widths)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func cells(r Row) []string {
	label := r.Label
	if runewidth.StringWidth(label) > MaxLabelWidth {
		label = runewidth.Truncate(label, MaxLabelWidth, "...")
	}
	return []string{
		label,
		local.Sprintf("%d", r.Count),
		micros(float64(r.Min)),
		micros(float64(r.Max)),
		micros(r.Mean),
		micros(r.StdDev),
		micros(float64(r.Total)),
	}
}

func micros(ns float64) string {
	return local.Sprintf("%.3f", ns/1000)
}

func writeRow(b *strings.Builder, cols []string, widths []int) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString("  ")
		}
		pad := strings.Repeat(" ", widths[i]-runewidth.StringWidth(c))
		if i == 0 {
			b.WriteString(c)
			if i < len(cols)-1 {
				b.WriteString(pad)
			}
			continue
		}
		b.WriteString(pad)
		b.WriteString(c)
	}
	fmt.Fprintln(b)
}
