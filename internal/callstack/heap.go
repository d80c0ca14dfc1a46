package callstack

type pending struct {
	start, end int64
	label      string
	seq        uint64
}

// pendingHeap orders buffered completes by end time, then arrival.
type pendingHeap []pending

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].end == h[j].end {
		return h[i].seq < h[j].seq
	}
	return h[i].end < h[j].end
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) {
	p, ok := x.(pending)
	if !ok {
		return
	}
	*h = append(*h, p)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	if n == 0 {
		return pending{}
	}
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h pendingHeap) minStart() (int64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	m := h[0].start
	for _, p := range h[1:] {
		m = min(m, p.start)
	}
	return m, true
}
