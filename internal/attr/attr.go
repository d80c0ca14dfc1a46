// Package attr interns hierarchical attribute paths such as
// Processes/<process>/<thread>/CallStack/<slot> into small integer quarks.
// A Table belongs to one reconstruction session.
package attr

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"fortio.org/safecast"
)

// Quark identifies one interned path. The root path has quark 0.
type Quark int32

const (
	Root Quark = 0
	// None is returned for lookups of paths never interned.
	None Quark = -1
)

const (
	Processes = "Processes"
	CallStack = "CallStack"
)

type node struct {
	name     string
	parent   Quark
	children map[string]Quark
}

// Table maps paths to quarks. It is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	nodes []node
}

// NewTable returns a table holding only the root.
func NewTable() *Table {
	return &Table{nodes: []node{{parent: None}}}
}

// GetOrCreate returns the quark of path below parent, creating missing
// elements.
func (t *Table) GetOrCreate(parent Quark, path ...string) Quark {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := parent
	for _, name := range path {
		n := &t.nodes[q]
		if child, ok := n.children[name]; ok {
			q = child
			continue
		}
		id, err := safecast.Conv[int32](len(t.nodes))
		if err != nil {
			panic(fmt.Errorf("attribute table overflow: %w", err))
		}
		child := Quark(id)
		if n.children == nil {
			n.children = make(map[string]Quark)
		}
		n.children[name] = child
		t.nodes = append(t.nodes, node{name: name, parent: q})
		q = child
	}
	return q
}

// Lookup returns the quark of path below parent, or None.
func (t *Table) Lookup(parent Quark, path ...string) Quark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q := parent
	for _, name := range path {
		child, ok := t.nodes[q].children[name]
		if !ok {
			return None
		}
		q = child
	}
	return q
}

// Path returns the elements from the root down to q.
func (t *Table) Path(q Quark) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if q <= Root || int(q) >= len(t.nodes) {
		return nil
	}
	var out []string
	for ; q > Root; q = t.nodes[q].parent {
		out = append(out, t.nodes[q].name)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Name returns the last element of q's path.
func (t *Table) Name(q Quark) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if q <= Root || int(q) >= len(t.nodes) {
		return ""
	}
	return t.nodes[q].name
}

// Parent returns q's parent quark, None for the root.
func (t *Table) Parent(q Quark) Quark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if q < Root || int(q) >= len(t.nodes) {
		return None
	}
	return t.nodes[q].parent
}

// Len returns the number of interned quarks including the root.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// String joins q's path with '/'.
func (t *Table) String(q Quark) string {
	return strings.Join(t.Path(q), "/")
}

// Entry is one exported path, used to persist a table.
type Entry struct {
	Quark Quark    `msgpack:"q"`
	Path  []string `msgpack:"p"`
}

// Entries lists every non-root quark in creation order.
func (t *Table) Entries() []Entry {
	n := t.Len()
	out := make([]Entry, 0, n-1)
	for q := Quark(1); int(q) < n; q++ {
		out = append(out, Entry{Quark: q, Path: t.Path(q)})
	}
	return out
}

// Restore rebuilds a table from Entries. Quarks keep their values as long
// as the entries are in creation order.
func Restore(entries []Entry) *Table {
	t := NewTable()
	for _, e := range entries {
		t.GetOrCreate(Root, e.Path...)
	}
	return t
}

// Slot describes a call-stack slot quark.
type Slot struct {
	Process string
	Thread  string
	Index   int
}

// SlotOf decodes a Processes/<p>/<t>/CallStack/<n> quark.
func (t *Table) SlotOf(q Quark) (Slot, bool) {
	p := t.Path(q)
	if len(p) != 5 || p[0] != Processes || p[3] != CallStack {
		return Slot{}, false
	}
	idx, err := strconv.Atoi(p[4])
	if err != nil {
		return Slot{}, false
	}
	return Slot{Process: p[1], Thread: p[2], Index: idx}, true
}
