package extsort

type mergeItem[T any] struct {
	value   T
	segment int
}

// mergeHeap orders the current head of every segment; ties go to the lower
// segment index so equal keys come out in spill order.
type mergeHeap[T any] struct {
	items []mergeItem[T]
	cmp   func(a, b T) int
}

func (h *mergeHeap[T]) Len() int { return len(h.items) }

func (h *mergeHeap[T]) Less(i, j int) bool {
	if c := h.cmp(h.items[i].value, h.items[j].value); c != 0 {
		return c < 0
	}
	return h.items[i].segment < h.items[j].segment
}

func (h *mergeHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap[T]) Push(x any) {
	item, ok := x.(mergeItem[T])
	if !ok {
		return
	}
	h.items = append(h.items, item)
}

func (h *mergeHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	if n == 0 {
		return nil
	}
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
