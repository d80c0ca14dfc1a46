// Package callstack rebuilds per-thread call stacks from a time-ordered
// stream of trace events.
//
// Begin/End pairs nest LIFO. Complete events carry their own duration and
// are buffered by end time until the thread's watermark, the latest
// timestamp seen on it, passes their end; only then is a slot chosen, so a
// parent observed after its children still lands on a free lane. Each
// interval goes to the first slot, in index order, with nothing overlapping
// it, which keeps the slot count at the true maximum nesting depth.
package callstack

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"tracefold/internal/attr"
	"tracefold/internal/event"
)

// pruneEvery is how many occupancy inserts a thread makes between prunes.
const pruneEvery = 1024

// Options configures a Reconstructor.
type Options struct {
	Logger *slog.Logger
	// Quarks receives attribute paths; a fresh table is used when nil.
	Quarks *attr.Table
}

type threadKey struct {
	process string
	thread  string
}

type asyncKey struct {
	process string
	id      int32
}

type openBegin struct {
	slot  int
	start int64
	label string
}

type asyncOpen struct {
	thread *threadState
	token  uint64
	start  int64
	label  string
}

type threadState struct {
	key       threadKey
	stack     attr.Quark
	slots     []*slot
	open      []openBegin
	pending   pendingHeap
	async     map[uint64]int64 // open async starts owned by this thread
	watermark int64
	inserts   int
}

// Reconstructor consumes events in timestamp order and writes intervals to
// a Sink. It is not safe for concurrent use; run one per trace.
type Reconstructor struct {
	sink    Sink
	quarks  *attr.Table
	log     *slog.Logger
	threads map[threadKey]*threadState
	order   []*threadState
	async   map[asyncKey][]*asyncOpen
	seq     uint64
	stats   Stats
	done    bool
}

// New returns a Reconstructor writing to sink.
func New(sink Sink, opts Options) *Reconstructor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	quarks := opts.Quarks
	if quarks == nil {
		quarks = attr.NewTable()
	}
	return &Reconstructor{
		sink:    sink,
		quarks:  quarks,
		log:     log,
		threads: make(map[threadKey]*threadState),
		async:   make(map[asyncKey][]*asyncOpen),
	}
}

// Quarks returns the session's attribute table.
func (r *Reconstructor) Quarks() *attr.Table { return r.quarks }

// Stats returns counters accumulated so far.
func (r *Reconstructor) Stats() Stats {
	st := r.stats
	st.Threads = len(r.order)
	return st
}

// Run feeds every event from next into a new Reconstructor until next
// returns io.EOF, then flushes it.
func Run(ctx context.Context, next func() (event.TraceEvent, error), sink Sink, opts Options) (*Reconstructor, error) {
	r := New(sink, opts)
	for {
		ev, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r, err
		}
		if err := r.Handle(ctx, &ev); err != nil {
			return r, err
		}
	}
	return r, r.Done()
}

// Handle consumes one event. Events must arrive in non-decreasing
// timestamp order.
func (r *Reconstructor) Handle(ctx context.Context, ev *event.TraceEvent) error {
	if r.done {
		return errors.New("callstack: event after Done")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev == nil || ev.Phase == event.PhaseUnknown {
		return nil
	}
	r.stats.Events++

	th := r.thread(ev)
	ts := ev.Timestamp
	if ts > th.watermark {
		th.watermark = ts
	}
	if err := r.drain(th, false); err != nil {
		return err
	}

	switch ev.Phase {
	case event.PhaseBegin:
		r.push(th, ts, ev.Name)
	case event.PhaseStart:
		if id, ok := ev.ID.Get(); ok {
			r.openAsync(th, asyncKey{process: th.key.process, id: id}, ts, ev.Name)
		} else {
			r.push(th, ts, ev.Name)
		}
	case event.PhaseEnd:
		return r.pop(th, ts)
	case event.PhaseNestableEnd:
		if id, ok := ev.ID.Get(); ok {
			if handled, err := r.closeAsync(asyncKey{process: th.key.process, id: id}, ts); handled || err != nil {
				return err
			}
		}
		return r.pop(th, ts)
	case event.PhaseComplete:
		end, ok := ev.End()
		if !ok {
			r.stats.Dropped++
			return nil
		}
		r.enqueue(th, ts, end, ev.Name)
		return r.drain(th, false)
	}
	return nil
}

// Done flushes every buffered complete in end order, regardless of the
// watermark. Begins that never closed are discarded.
func (r *Reconstructor) Done() error {
	if r.done {
		return nil
	}
	r.done = true
	for _, th := range r.order {
		if err := r.drain(th, true); err != nil {
			return err
		}
		if n := len(th.open); n > 0 {
			r.stats.Unclosed += int64(n)
			r.log.Debug("begins left open at end of trace",
				"process", th.key.process, "thread", th.key.thread, "count", n)
			th.open = nil
		}
	}
	for _, opens := range r.async {
		r.stats.Unclosed += int64(len(opens))
	}
	clear(r.async)
	return nil
}

// thread returns the state for ev's (process, thread), creating its
// Processes/<p>/<t>/CallStack path on first sight.
func (r *Reconstructor) thread(ev *event.TraceEvent) *threadState {
	key := threadKey{process: ev.ProcessName(), thread: ev.ThreadName()}
	if th, ok := r.threads[key]; ok {
		return th
	}
	th := &threadState{
		key:       key,
		stack:     r.quarks.GetOrCreate(attr.Root, attr.Processes, key.process, key.thread, attr.CallStack),
		watermark: ev.Timestamp,
	}
	r.threads[key] = th
	r.order = append(r.order, th)
	return th
}

func (r *Reconstructor) push(th *threadState, ts int64, label string) {
	idx := r.freeSlot(th, ts, openEnd)
	s := th.slots[idx]
	s.open = true
	s.openFrom = ts
	th.open = append(th.open, openBegin{slot: idx, start: ts, label: label})
}

// pop closes the innermost open begin. An end with nothing open is a no-op.
func (r *Reconstructor) pop(th *threadState, ts int64) error {
	n := len(th.open)
	if n == 0 {
		r.stats.UnmatchedEnds++
		return nil
	}
	top := th.open[n-1]
	th.open = th.open[:n-1]
	th.slots[top.slot].open = false
	if ts <= top.start {
		r.stats.Dropped++
		return nil
	}
	return r.write(th, top.slot, top.start, ts, top.label)
}

func (r *Reconstructor) enqueue(th *threadState, start, end int64, label string) {
	r.seq++
	heap.Push(&th.pending, pending{start: start, end: end, label: label, seq: r.seq})
}

// drain finalizes buffered completes whose end has been passed by the
// watermark, or all of them when flush is set.
func (r *Reconstructor) drain(th *threadState, flush bool) error {
	for th.pending.Len() > 0 {
		if !flush && th.pending[0].end > th.watermark {
			break
		}
		p := heap.Pop(&th.pending).(pending)
		if p.end <= p.start {
			r.stats.Dropped++
			continue
		}
		idx := r.freeSlot(th, p.start, p.end)
		if err := r.write(th, idx, p.start, p.end, p.label); err != nil {
			return err
		}
	}
	if th.inserts >= pruneEvery {
		r.prune(th)
	}
	return nil
}

func (r *Reconstructor) prune(th *threadState) {
	th.inserts = 0
	floor := th.watermark
	if m, ok := th.pending.minStart(); ok {
		floor = min(floor, m)
	}
	for _, start := range th.async {
		floor = min(floor, start)
	}
	for _, s := range th.slots {
		s.prune(floor)
	}
}

// freeSlot returns the first slot with nothing overlapping [start, end),
// allocating a new one when every slot is busy.
func (r *Reconstructor) freeSlot(th *threadState, start, end int64) int {
	for i, s := range th.slots {
		if !s.overlaps(start, end) {
			return i
		}
	}
	idx := len(th.slots)
	q := r.quarks.GetOrCreate(th.stack, strconv.Itoa(idx))
	th.slots = append(th.slots, newSlot(q))
	if len(th.slots) > r.stats.MaxSlots {
		r.stats.MaxSlots = len(th.slots)
	}
	return idx
}

func (r *Reconstructor) write(th *threadState, idx int, start, end int64, label string) error {
	s := th.slots[idx]
	s.occupy(start, end)
	th.inserts++
	err := r.sink.Write(Interval{Quark: s.quark, Start: start, End: end, Label: label})
	switch {
	case err == nil:
		r.stats.Intervals++
		return nil
	case errors.Is(err, ErrStoreDisposed):
		r.stats.Disposed++
		r.log.Warn("interval store disposed, dropping interval",
			"process", th.key.process, "thread", th.key.thread, "label", label)
		return nil
	default:
		return fmt.Errorf("write interval %s [%d,%d): %w", r.quarks.String(s.quark), start, end, err)
	}
}

func (r *Reconstructor) openAsync(th *threadState, key asyncKey, ts int64, label string) {
	r.seq++
	if th.async == nil {
		th.async = make(map[uint64]int64)
	}
	th.async[r.seq] = ts
	r.async[key] = append(r.async[key], &asyncOpen{thread: th, token: r.seq, start: ts, label: label})
}

// closeAsync ends the latest open async start with key. The interval is
// queued on the thread that started it.
func (r *Reconstructor) closeAsync(key asyncKey, ts int64) (bool, error) {
	opens := r.async[key]
	if len(opens) == 0 {
		return false, nil
	}
	a := opens[len(opens)-1]
	opens = slices.Delete(opens, len(opens)-1, len(opens))
	if len(opens) == 0 {
		delete(r.async, key)
	} else {
		r.async[key] = opens
	}
	delete(a.thread.async, a.token)

	r.enqueue(a.thread, a.start, ts, a.label)
	return true, r.drain(a.thread, false)
}
