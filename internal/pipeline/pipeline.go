// Package pipeline runs a trace through sort, reconstruction and store
// building, reusing whatever the cache already holds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"tracefold/internal/callstack"
	"tracefold/internal/event"
	"tracefold/internal/observ"
	"tracefold/internal/store"
	"tracefold/internal/trace"
	"tracefold/internal/tracefile"
)

// Options are shared by every trace in a run.
type Options struct {
	CacheDir string
	// TempDir overrides where sort segments are spilled.
	TempDir                 string
	ChunkSize               int
	SortCheckpointInterval  int
	StoreCheckpointInterval int
	Strict                  bool
	Logger                  *slog.Logger
	Sink                    ProgressSink
	Metrics                 *Metrics
}

// Parser returns the event parser matching Strict.
func (o Options) Parser() event.Parser { return event.Parser{Lenient: !o.Strict} }

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Result is one fully loaded trace. Close releases the trace and store.
type Result struct {
	Source  string
	SuppDir string
	Sorted  tracefile.SortResult
	Trace   *tracefile.Trace
	Store   *store.Store
	// Recon is zero when the store came from the cache.
	Recon       callstack.Stats
	StoreCached bool
	Timings     observ.Report

	metrics *Metrics
}

// Close releases the sorted trace and the interval store.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var err error
	if r.Trace != nil {
		err = multierr.Append(err, r.Trace.Close())
	}
	if r.Store != nil {
		err = multierr.Append(err, r.Store.Close())
	}
	r.metrics.close()
	r.metrics = nil
	return err
}

// Open sorts src, reconstructs its call stacks and opens the interval store.
// Cached outputs in the supplementary directory are reused.
func Open(ctx context.Context, src string, opts Options) (res *Result, err error) {
	log := opts.logger().With("trace", filepath.Base(src))
	parser := opts.Parser()
	timer := observ.NewTimer()

	suppDir, err := SuppDir(opts.CacheDir, src)
	if err != nil {
		return nil, err
	}
	res = &Result{Source: src, SuppDir: suppDir, metrics: opts.Metrics}
	partial := res
	defer func() {
		if err != nil {
			err = multierr.Append(err, partial.Close())
			res = nil
		}
	}()
	opts.Metrics.open()

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeTrace, filepath.Base(src), trace.CurrentSpan(ctx).SpanID)
	defer func() { span.End(errString(err)) }()
	ctx = trace.WithSpan(ctx, span)

	// sort
	idx := timer.Begin(string(StageSort))
	emit(opts.Sink, Event{File: src, Stage: StageSort, Status: StatusWorking})
	start := time.Now()
	sorted, err := tracefile.Sort(ctx, src, suppDir, tracefile.SortOptions{
		ChunkSize:          opts.ChunkSize,
		TempRoot:           opts.TempDir,
		CheckpointInterval: opts.SortCheckpointInterval,
		Parser:             parser,
		Logger:             log,
		OnChunk: func(records int64) {
			emit(opts.Sink, Event{File: src, Stage: StageSort, Status: StatusWorking, Records: records})
		},
	})
	if err != nil {
		return nil, stageFailed(opts.Sink, src, StageSort, err)
	}
	res.Sorted = sorted
	finishStage(opts, timer, idx, src, StageSort, start, sorted.Cached, sorted.Records)

	res.Trace, err = tracefile.Open(ctx, sorted.Path, tracefile.OpenOptions{
		CheckpointInterval: opts.SortCheckpointInterval,
		Parser:             parser,
		Logger:             log,
	})
	if err != nil {
		return nil, err
	}

	name := filepath.Base(src)
	if sorted.Cached {
		st, ok, err := store.Open(suppDir, name, log)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Store = st
			res.StoreCached = true
			for _, stage := range []Stage{StageReconstruct, StageStore} {
				opts.Metrics.cacheHit(stage)
				emit(opts.Sink, Event{File: src, Stage: stage, Status: StatusCached, Records: st.Count()})
			}
			res.Timings = timer.Report()
			log.Debug("interval store cached", "dir", suppDir, "intervals", st.Count())
			return res, nil
		}
	}

	if err := removeStale(suppDir, name); err != nil {
		return nil, err
	}
	builder := store.NewBuilder(store.BuilderOptions{
		Dir:                suppDir,
		Name:               name,
		ChunkSize:          opts.ChunkSize,
		TempRoot:           opts.TempDir,
		CheckpointInterval: opts.StoreCheckpointInterval,
		Logger:             log,
	})

	// reconstruct
	idx = timer.Begin(string(StageReconstruct))
	emit(opts.Sink, Event{File: src, Stage: StageReconstruct, Status: StatusWorking, Total: sorted.Records})
	start = time.Now()
	recon, err := reconstruct(ctx, res.Trace, builder, opts, src, sorted.Records, log)
	if err != nil {
		return nil, multierr.Append(stageFailed(opts.Sink, src, StageReconstruct, err), builder.Dispose())
	}
	res.Recon = recon.Stats()
	opts.Metrics.reconstructed(res.Recon.Events, res.Recon.Intervals)
	finishStage(opts, timer, idx, src, StageReconstruct, start, false, res.Recon.Events)

	// store
	idx = timer.Begin(string(StageStore))
	emit(opts.Sink, Event{File: src, Stage: StageStore, Status: StatusWorking})
	start = time.Now()
	stSpan := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, string(StageStore), span.ID())
	st, err := builder.Finish(ctx, recon.Quarks())
	stSpan.End(errString(err))
	if err != nil {
		return nil, stageFailed(opts.Sink, src, StageStore, err)
	}
	res.Store = st
	finishStage(opts, timer, idx, src, StageStore, start, false, st.Count())
	res.Timings = timer.Report()
	log.Info("reconstructed call stacks",
		"events", res.Recon.Events,
		"intervals", res.Recon.Intervals,
		"threads", res.Recon.Threads,
		"max_slots", res.Recon.MaxSlots)
	return res, nil
}

// progressEvery is how many events pass between reconstruct progress events.
const progressEvery = 1 << 16

func reconstruct(ctx context.Context, tr *tracefile.Trace, sink callstack.Sink, opts Options, src string, total int64, log *slog.Logger) (*callstack.Reconstructor, error) {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, string(StageReconstruct), trace.CurrentSpan(ctx).SpanID)
	cur, err := tr.Seek(0)
	if err != nil {
		span.End(errString(err))
		return nil, err
	}
	defer cur.Close()

	var n int64
	next := func() (event.TraceEvent, error) {
		ev, err := cur.Next()
		if err == nil {
			n++
			if n%progressEvery == 0 {
				emit(opts.Sink, Event{File: src, Stage: StageReconstruct, Status: StatusWorking, Records: n, Total: total})
				trace.Point(trace.FromContext(ctx), trace.ScopeChunk, "reconstruct.progress", strconv.FormatInt(n, 10)+" events")
			}
		}
		return ev, err
	}
	recon, err := callstack.Run(ctx, next, sink, callstack.Options{Logger: log})
	span.WithExtra("events", strconv.FormatInt(n, 10)).End(errString(err))
	return recon, err
}

// removeStale deletes store files left behind by an interrupted build so a
// partial data file is never paired with a new meta file.
func removeStale(dir, name string) error {
	var err error
	for _, p := range []string{store.MetaPath(dir, name), store.DataPath(dir, name)} {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
	}
	return err
}

func finishStage(opts Options, timer *observ.Timer, idx int, src string, stage Stage, start time.Time, cached bool, records int64) {
	elapsed := time.Since(start)
	status := StatusDone
	note := ""
	if cached {
		status = StatusCached
		note = "cached"
		opts.Metrics.cacheHit(stage)
	}
	timer.End(idx, note)
	opts.Metrics.observeStage(stage, elapsed.Seconds())
	emit(opts.Sink, Event{File: src, Stage: stage, Status: status, Elapsed: elapsed, Records: records, Total: records})
}

func stageFailed(sink ProgressSink, src string, stage Stage, err error) error {
	emit(sink, Event{File: src, Stage: stage, Status: StatusError, Err: err})
	return fmt.Errorf("%s: %s: %w", src, stage, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// OpenAll opens every trace with at most jobs running at once. On failure
// the traces already opened are closed and the first error is returned.
func OpenAll(ctx context.Context, srcs []string, jobs int, opts Options) ([]*Result, error) {
	if len(srcs) == 0 {
		return nil, nil
	}
	if jobs <= 0 {
		jobs = 1
	}
	results := make([]*Result, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(srcs)))
	for i, src := range srcs {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			res, err := Open(gctx, src, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range results {
			err = multierr.Append(err, r.Close())
		}
		return nil, err
	}
	return results, nil
}
