// Package trace records what tracefold itself is doing.
//
// Spans cover commands, per-trace work, pipeline stages and sort chunks.
// The Chrome output format produces a trace that tracefold can ingest, so a
// slow build can be inspected with the same tool:
//
//	tracefold build --trace=self.json --trace-level=detail big.json
//	tracefold stats --lenient self.json
//
// # Architecture
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: writes every event as it happens
//   - RingTracer: keeps the last N events for dumping after a failure
//   - MultiTracer: fans out to several tracers
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "sort", 0)
//	defer span.End("")
package trace
