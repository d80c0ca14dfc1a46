// Package stats aggregates interval durations per label.
package stats

import (
	"math"
	"slices"

	"tracefold/internal/callstack"
	"tracefold/internal/store"
)

// TotalLabel names the grand-total row.
const TotalLabel = "Total"

// Row holds duration statistics for one label, in nanoseconds.
type Row struct {
	Label  string  `json:"label"`
	Count  int64   `json:"count"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Total  int64   `json:"total"`

	m2 float64
}

func (r *Row) add(d int64) {
	if r.Count == 0 {
		r.Min, r.Max = d, d
	} else {
		r.Min = min(r.Min, d)
		r.Max = max(r.Max, d)
	}
	r.Count++
	r.Total += d
	delta := float64(d) - r.Mean
	r.Mean += delta / float64(r.Count)
	r.m2 += delta * (float64(d) - r.Mean)
	r.StdDev = math.Sqrt(r.m2 / float64(r.Count))
}

// Report is the result of one aggregation.
type Report struct {
	Rows  []Row `json:"rows"`
	Total Row   `json:"total"`
}

// Aggregator accumulates intervals. The zero value is not usable; call New.
type Aggregator struct {
	rows  map[string]*Row
	total Row
}

func New() *Aggregator {
	return &Aggregator{rows: make(map[string]*Row), total: Row{Label: TotalLabel}}
}

// Add records one interval under its label.
func (a *Aggregator) Add(iv callstack.Interval) {
	r, ok := a.rows[iv.Label]
	if !ok {
		r = &Row{Label: iv.Label}
		a.rows[iv.Label] = r
	}
	d := iv.Duration()
	r.add(d)
	a.total.add(d)
}

// Report returns rows sorted by total duration, longest first, ties by
// label.
func (a *Aggregator) Report() Report {
	rows := make([]Row, 0, len(a.rows))
	for _, r := range a.rows {
		rows = append(rows, *r)
	}
	slices.SortFunc(rows, func(x, y Row) int {
		if x.Total != y.Total {
			if x.Total > y.Total {
				return -1
			}
			return 1
		}
		switch {
		case x.Label < y.Label:
			return -1
		case x.Label > y.Label:
			return 1
		}
		return 0
	})
	return Report{Rows: rows, Total: a.total}
}

// Window restricts Compute to intervals overlapping [Start, End).
type Window struct {
	Start, End int64
}

// Compute aggregates the whole store, or only the intervals overlapping w
// when w is non-nil.
func Compute(st *store.Store, w *Window) (Report, error) {
	var (
		c   *store.Cursor
		err error
	)
	if w == nil {
		c, err = st.IterateAll()
	} else {
		c, err = st.Intersecting(w.Start, w.End)
	}
	if err != nil {
		return Report{}, err
	}
	agg := New()
	for c.Next() {
		agg.Add(c.Interval())
	}
	if err := c.Err(); err != nil {
		_ = c.Close()
		return Report{}, err
	}
	return agg.Report(), c.Close()
}
