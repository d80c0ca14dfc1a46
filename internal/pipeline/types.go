package pipeline

import "time"

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageSort normalizes the trace into timestamp order.
	StageSort Stage = "sort"
	// StageReconstruct rebuilds call stacks from the sorted events.
	StageReconstruct Stage = "reconstruct"
	// StageStore writes the interval store.
	StageStore Stage = "store"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageSort, StageReconstruct, StageStore}

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	// StatusCached means the stage's output was already on disk.
	StatusCached Status = "cached"
	StatusDone   Status = "done"
	StatusError  Status = "error"
)

// Event reports progress for one trace (or for the whole run when File is
// empty).
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
	// Records processed so far within the stage, when known.
	Records int64
	// Total is the expected record count, or 0 when unknown.
	Total int64
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}
