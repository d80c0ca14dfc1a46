package trace

import (
	"bufio"
	"io"
	"sync"
)

// StreamTracer writes events as they are emitted.
type StreamTracer struct {
	mu     sync.Mutex
	w      io.Writer
	bw     *bufio.Writer
	level  Level
	format Format
	first  bool
}

// NewStreamTracer creates a new StreamTracer.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	st := &StreamTracer{
		w:      w,
		bw:     bufio.NewWriter(w),
		level:  level,
		format: format,
		first:  true,
	}
	if format == FormatChrome {
		_, _ = st.bw.WriteString("{\"traceEvents\":[\n")
	}
	return st
}

// Emit writes an event. Write errors are dropped so tracing never fails
// the traced operation.
func (t *StreamTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) && ev.Kind != KindHeartbeat {
		return
	}
	ev.Seq = NextSeq()
	data := FormatEvent(ev, t.format)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.format == FormatChrome {
		if !t.first {
			_, _ = t.bw.WriteString(",\n")
		}
		t.first = false
	}
	_, _ = t.bw.Write(data)
}

// Flush writes buffered events through.
func (t *StreamTracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.bw.Flush(); err != nil {
		return err
	}
	if flusher, ok := t.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close writes the Chrome footer, flushes and closes the writer.
func (t *StreamTracer) Close() error {
	t.mu.Lock()
	if t.format == FormatChrome {
		_, _ = t.bw.WriteString("\n]}\n")
	}
	t.mu.Unlock()

	if err := t.Flush(); err != nil {
		return err
	}
	if closer, ok := t.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (t *StreamTracer) Level() Level  { return t.level }
func (t *StreamTracer) Enabled() bool { return t.level > LevelOff }
